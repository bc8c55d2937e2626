package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultOpenAIEndpoint = "https://api.openai.com/v1"

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	client     *resty.Client
	model      string
	dimensions int
}

type openAIRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewOpenAIEmbedder returns an embedder for model. An empty endpoint uses the OpenAI API.
func NewOpenAIEmbedder(endpoint, apiKey, model string, dimensions int, timeout time.Duration) *OpenAIEmbedder {
	if endpoint == "" {
		endpoint = defaultOpenAIEndpoint
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(endpoint, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &OpenAIEmbedder{client: client, model: model, dimensions: dimensions}
}

// EmbedText returns the embedding of text.
func (e *OpenAIEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	var resp openAIResponse
	httpResp, err := e.client.R().
		SetContext(ctx).
		SetBody(openAIRequest{Model: e.model, Input: []string{text}, Dimensions: e.dimensions}).
		SetResult(&resp).
		SetError(&resp).
		ForceContentType("application/json").
		Post("/embeddings")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to call embeddings API: %v", ErrUnavailable, err)
	}
	if httpResp.IsError() {
		if resp.Error != nil && resp.Error.Message != "" {
			return nil, fmt.Errorf("embeddings API error: %s", resp.Error.Message)
		}
		return nil, fmt.Errorf("embeddings API error: status %d", httpResp.StatusCode())
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return resp.Data[0].Embedding, nil
}

// Dimensions returns the configured size, or 0 when the model default applies.
func (e *OpenAIEmbedder) Dimensions() int { return e.dimensions }

// Close is a no-op for OpenAIEmbedder.
func (e *OpenAIEmbedder) Close() error { return nil }
