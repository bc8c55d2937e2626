package ocr

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/internal/embedding"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"  Hello, world  ", "Hello world", true},
		{"ab", "", false},
		{"1234 5678", "", false},
		{"a b c d", "", false},
		{",,,", "", false},
		{"A 12 bc", "A 12 bc", true},
		{"x1 y2 z3", "", false},
		{"Total: 42", "", false},
		{"Total 42", "Total 42", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := CleanText(tt.in)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("CleanText(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestJoinWords(t *testing.T) {
	words := []Word{{"STOP", 0.9}, {"sign", 0.51}, {"noise", 0.5}, {"junk", 0.1}}
	got := JoinWords(words, 0.5)
	if got == nil || *got != "STOP sign" {
		t.Errorf("JoinWords = %v", got)
	}
	if JoinWords([]Word{{"hi", 0.2}}, 0.5) != nil {
		t.Error("all words below threshold should give nil")
	}
}

func TestDisabled(t *testing.T) {
	out, err := Disabled{}.ExtractText(context.Background(), []string{"/a", "/b"})
	if err != nil || len(out) != 2 || out[0] != nil || out[1] != nil {
		t.Errorf("Disabled = %v, %v", out, err)
	}
}

func TestHTTPExtractor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("image")
		if err != nil {
			t.Errorf("missing image field: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		w.Header().Set("Content-Type", "application/json")
		switch header.Filename {
		case "sign.png":
			_, _ = w.Write([]byte(`{"words":[{"text":"Main","confidence":0.93},{"text":"Street","confidence":0.88},{"text":"~","confidence":0.1}]}`))
		case "blank.png":
			_, _ = w.Write([]byte(`{"words":[]}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"model crashed"}`))
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	paths := []string{
		filepath.Join(dir, "sign.png"),
		filepath.Join(dir, "blank.png"),
		filepath.Join(dir, "bad.png"),
		filepath.Join(dir, "missing.png"),
	}
	for _, p := range paths[:3] {
		if err := os.WriteFile(p, []byte("img"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	e := NewHTTPExtractor(srv.URL, WithWorkers(2), WithMinConfidence(0.5))
	out, err := e.ExtractText(context.Background(), paths)
	var be *embedding.BatchError
	if !errors.As(err, &be) {
		t.Fatalf("expected *embedding.BatchError, got %v", err)
	}
	if len(be.Failed) != 2 || be.Failed[2] == nil || be.Failed[3] == nil {
		t.Errorf("failed = %v", be.Failed)
	}
	if !strings.Contains(be.Failed[2].Error(), "model crashed") {
		t.Errorf("service error not surfaced: %v", be.Failed[2])
	}
	if out[0] == nil || *out[0] != "Main Street" {
		t.Errorf("sign text = %v", out[0])
	}
	if out[1] != nil {
		t.Errorf("blank image should have no text, got %q", *out[1])
	}
}

func TestStaticExtractor(t *testing.T) {
	s := NewStaticExtractor(map[string]string{"/a.png": "hello"})
	s.Fail["/c.png"] = true
	out, err := s.ExtractText(context.Background(), []string{"/a.png", "/b.png", "/c.png"})
	var be *embedding.BatchError
	if !errors.As(err, &be) || be.Failed[2] == nil {
		t.Fatalf("expected failure for /c.png, got %v", err)
	}
	if out[0] == nil || *out[0] != "hello" || out[1] != nil {
		t.Errorf("out = %v", out)
	}
	if len(s.Calls()) != 1 {
		t.Errorf("calls = %v", s.Calls())
	}
}

func TestSidecarExtractor(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "menu.jpg")
	if err := os.WriteFile(img+".txt", []byte("Coffee, Tea\t0.9\nblur\t0.2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	out, err := NewSidecarExtractor(0.5).ExtractText(context.Background(), []string{img, filepath.Join(dir, "none.jpg")})
	if err != nil {
		t.Fatal(err)
	}
	if out[0] == nil || *out[0] != "Coffee Tea" {
		t.Errorf("sidecar text = %v", out[0])
	}
	if out[1] != nil {
		t.Error("missing sidecar should give nil")
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		cfg     config.OCRConfig
		wantErr bool
	}{
		{config.OCRConfig{Provider: "none"}, false},
		{config.OCRConfig{Provider: ""}, false},
		{config.OCRConfig{Provider: "http", Endpoint: "http://localhost:9000/ocr", Workers: 2}, false},
		{config.OCRConfig{Provider: "http"}, true},
		{config.OCRConfig{Provider: "sidecar"}, false},
		{config.OCRConfig{Provider: "tesseract"}, true},
	}
	for _, tt := range tests {
		_, err := New(tt.cfg, nil)
		if (err != nil) != tt.wantErr {
			t.Errorf("New(%+v) err = %v, wantErr %v", tt.cfg, err, tt.wantErr)
		}
	}
}
