package imaging

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// MaxFetchBytes bounds the size of a remote query image.
const MaxFetchBytes = 32 << 20

// IsURL reports whether s is an http(s) URL.
func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Fetcher downloads remote images into memory.
type Fetcher struct {
	client *resty.Client
}

// NewFetcher returns a Fetcher with the given request timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "image/*")
	return &Fetcher{client: client}
}

// Fetch downloads url and returns the body. Non-2xx responses are errors.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("failed to fetch image: status %d", resp.StatusCode())
	}
	body := resp.Body()
	if len(body) == 0 {
		return nil, fmt.Errorf("failed to fetch image: empty body")
	}
	if len(body) > MaxFetchBytes {
		return nil, fmt.Errorf("failed to fetch image: %d bytes exceeds limit", len(body))
	}
	return body, nil
}
