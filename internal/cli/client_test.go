package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/shashin/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewClient(ts.URL, 5*time.Second)
}

func TestClient_Search(t *testing.T) {
	var gotPath string
	var gotReq models.SearchRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"paths":["/a.png"],"similarities":[0.8],"took_ms":1}`))
	})
	res, err := c.Search(context.Background(), "text", &models.SearchRequest{Query: "a cat", TopK: 3})
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/api/v1/search/text" {
		t.Errorf("path = %s", gotPath)
	}
	if gotReq.Query != "a cat" || gotReq.TopK != 3 {
		t.Errorf("request body = %+v", gotReq)
	}
	if len(res.Paths) != 1 || res.Paths[0] != "/a.png" {
		t.Errorf("result = %+v", res)
	}
}

func TestClient_ErrorBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"indexing already running"}`))
	})
	err := c.StartIndex(context.Background(), nil, 0)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "409") || !strings.Contains(err.Error(), "indexing already running") {
		t.Errorf("error = %v", err)
	}
}

func TestClient_StartIndexBody(t *testing.T) {
	var body map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusAccepted)
	})
	deep := true
	if err := c.StartIndex(context.Background(), &deep, 8); err != nil {
		t.Fatal(err)
	}
	if body["deep_scan"] != true || body["batch_size"] != float64(8) {
		t.Errorf("body = %v", body)
	}
}

func TestClient_RemoveDirectoryQuery(t *testing.T) {
	var query string
	var method string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		query = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	})
	if err := c.RemoveDirectory(context.Background(), "/photos/old", true); err != nil {
		t.Fatal(err)
	}
	if method != http.MethodDelete {
		t.Errorf("method = %s", method)
	}
	if !strings.Contains(query, "exclude=true") || !strings.Contains(query, "path=%2Fphotos%2Fold") {
		t.Errorf("query = %s", query)
	}
}

func TestClient_PingUnavailable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", time.Second)
	err := c.Ping(context.Background())
	if !errors.Is(err, ErrServerUnavailable) {
		t.Errorf("Ping() = %v, want ErrServerUnavailable", err)
	}
}

func TestClient_Status(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"catalog":2,"images":2,"texts":1,"indexing":false,"keyword_documents":1,"config":{"vector_backend":"sqlite"}}`))
	})
	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Catalog != 2 || st.Texts != 1 || st.KeywordDocuments == nil || *st.KeywordDocuments != 1 {
		t.Errorf("status = %+v", st)
	}
	if st.Config["vector_backend"] != "sqlite" {
		t.Errorf("config = %v", st.Config)
	}
}
