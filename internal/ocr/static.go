package ocr

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/hyperjump/shashin/internal/embedding"
)

// StaticExtractor returns preset text per path. Paths without an entry have
// no text; paths in Fail fail. Useful in tests.
type StaticExtractor struct {
	Texts map[string]string
	Fail  map[string]bool
	calls [][]string
}

// NewStaticExtractor returns an extractor answering from texts.
func NewStaticExtractor(texts map[string]string) *StaticExtractor {
	return &StaticExtractor{Texts: texts, Fail: map[string]bool{}}
}

func (s *StaticExtractor) ExtractText(ctx context.Context, paths []string) ([]*string, error) {
	s.calls = append(s.calls, append([]string(nil), paths...))
	out := make([]*string, len(paths))
	var failed map[int]error
	for i, p := range paths {
		if s.Fail[p] {
			if failed == nil {
				failed = make(map[int]error)
			}
			failed[i] = errors.New("static ocr failure")
			continue
		}
		if t, ok := s.Texts[p]; ok {
			t := t
			out[i] = &t
		}
	}
	if failed != nil {
		return out, &embedding.BatchError{Failed: failed}
	}
	return out, nil
}

// Calls returns the path batches seen so far.
func (s *StaticExtractor) Calls() [][]string { return s.calls }

// SidecarExtractor reads text from a "<image>.txt" file next to each image,
// for images whose text was recognized by an external tool.
type SidecarExtractor struct {
	minConfidence float64
}

// NewSidecarExtractor returns a sidecar reader. Sidecar lines may carry a
// trailing tab-separated confidence, which is filtered like OCR output.
func NewSidecarExtractor(minConfidence float64) *SidecarExtractor {
	return &SidecarExtractor{minConfidence: minConfidence}
}

func (s *SidecarExtractor) ExtractText(ctx context.Context, paths []string) ([]*string, error) {
	out := make([]*string, len(paths))
	for i, p := range paths {
		data, err := os.ReadFile(p + ".txt")
		if err != nil {
			continue
		}
		out[i] = JoinWords(parseSidecar(string(data)), s.minConfidence)
	}
	return out, nil
}

func parseSidecar(data string) []Word {
	var words []Word
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		conf := 1.0
		if text, c, ok := strings.Cut(line, "\t"); ok {
			line = text
			if v, err := strconv.ParseFloat(strings.TrimSpace(c), 64); err == nil {
				conf = v
			}
		}
		for _, w := range strings.Fields(line) {
			words = append(words, Word{Text: w, Confidence: conf})
		}
	}
	return words
}
