package cli

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hyperjump/shashin/internal/models"
)

// ErrServerUnavailable is returned when no server answers at the base URL.
var ErrServerUnavailable = errors.New("server unavailable")

// Client talks to a running shashin server. The CLI uses it so that the
// server keeps exclusive ownership of the SQLite and Bleve files.
type Client struct {
	client *resty.Client
}

type apiError struct {
	Error string `json:"error"`
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Client{client: client}
}

// Ping reports whether the server answers /health.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.client.R().SetContext(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServerUnavailable, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: status %d", ErrServerUnavailable, resp.StatusCode())
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	var apiErr apiError
	req := c.client.R().SetContext(ctx).SetError(&apiErr)
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		if apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode(), apiErr.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}

// Search runs a similarity search. kind is text, image or ocr.
func (c *Client) Search(ctx context.Context, kind string, req *models.SearchRequest) (*models.SearchResult, error) {
	var result models.SearchResult
	if err := c.do(ctx, resty.MethodPost, "/api/v1/search/"+kind, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SearchKeyword runs a keyword search over recognized text.
func (c *Client) SearchKeyword(ctx context.Context, q *models.KeywordQuery) (*models.KeywordResponse, error) {
	var result models.KeywordResponse
	if err := c.do(ctx, resty.MethodPost, "/api/v1/search/keyword", q, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// StartIndex asks the server to run the pipeline in the background.
func (c *Client) StartIndex(ctx context.Context, deepScan *bool, batchSize int) error {
	body := map[string]interface{}{}
	if deepScan != nil {
		body["deep_scan"] = *deepScan
	}
	if batchSize > 0 {
		body["batch_size"] = batchSize
	}
	return c.do(ctx, resty.MethodPost, "/api/v1/index", body, nil)
}

// ListIndex returns every catalog entry with its index state.
func (c *Client) ListIndex(ctx context.Context) ([]models.IndexEntry, error) {
	var result struct {
		Entries []models.IndexEntry `json:"entries"`
	}
	if err := c.do(ctx, resty.MethodGet, "/api/v1/index", nil, &result); err != nil {
		return nil, err
	}
	return result.Entries, nil
}

// DeleteIndex clears the catalog and all indices.
func (c *Client) DeleteIndex(ctx context.Context) error {
	return c.do(ctx, resty.MethodDelete, "/api/v1/index", nil, nil)
}

// Status returns engine status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var status Status
	if err := c.do(ctx, resty.MethodGet, "/api/v1/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Directories returns the configured include and exclude directories.
func (c *Client) Directories(ctx context.Context) (*Directories, error) {
	var dirs Directories
	if err := c.do(ctx, resty.MethodGet, "/api/v1/directories", nil, &dirs); err != nil {
		return nil, err
	}
	return &dirs, nil
}

// AddDirectory adds path to the include list, or to the exclude list when exclude is set.
func (c *Client) AddDirectory(ctx context.Context, path string, exclude bool) error {
	return c.do(ctx, resty.MethodPost, "/api/v1/directories",
		map[string]interface{}{"path": path, "exclude": exclude}, nil)
}

// RemoveDirectory removes path from the include or exclude list.
func (c *Client) RemoveDirectory(ctx context.Context, path string, exclude bool) error {
	q := url.Values{"path": {path}}
	if exclude {
		q.Set("exclude", "true")
	}
	return c.do(ctx, resty.MethodDelete, "/api/v1/directories?"+q.Encode(), nil, nil)
}
