package embedding

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// OllamaEmbedder calls a local Ollama server's embeddings API.
type OllamaEmbedder struct {
	client     *resty.Client
	model      string
	mu         sync.Mutex
	dimensions int
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// NewOllamaEmbedder returns an embedder for model served at baseURL.
func NewOllamaEmbedder(baseURL, model string, timeout time.Duration) *OllamaEmbedder {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	return &OllamaEmbedder{client: client, model: model}
}

// EmbedText returns the embedding of text.
func (e *OllamaEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	var resp ollamaResponse
	httpResp, err := e.client.R().
		SetContext(ctx).
		SetBody(ollamaRequest{Model: e.model, Prompt: text}).
		SetResult(&resp).
		SetError(&resp).
		ForceContentType("application/json").
		Post("/api/embeddings")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to call Ollama: %v", ErrUnavailable, err)
	}
	if httpResp.IsError() {
		if resp.Error != "" {
			return nil, fmt.Errorf("Ollama error: %s", resp.Error)
		}
		return nil, fmt.Errorf("Ollama error: status %d", httpResp.StatusCode())
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}

	e.mu.Lock()
	if e.dimensions == 0 {
		e.dimensions = len(resp.Embedding)
	}
	e.mu.Unlock()
	return resp.Embedding, nil
}

// Dimensions returns the embedding size seen so far, or 0 before the first call.
func (e *OllamaEmbedder) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dimensions
}

// Close is a no-op for OllamaEmbedder.
func (e *OllamaEmbedder) Close() error { return nil }
