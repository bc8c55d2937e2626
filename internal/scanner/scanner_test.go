package scanner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"github.com/hyperjump/shashin/internal/config"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDirScanner_Scan(t *testing.T) {
	root := t.TempDir()
	photos := filepath.Join(root, "photos")
	other := filepath.Join(root, "other")
	touch(t, filepath.Join(photos, "a.JPG"))
	touch(t, filepath.Join(photos, "b.png"))
	touch(t, filepath.Join(photos, "notes.txt"))
	touch(t, filepath.Join(photos, "._b.png"))
	touch(t, filepath.Join(photos, "trip", "c.jpeg"))
	touch(t, filepath.Join(photos, "private", "d.png"))
	touch(t, filepath.Join(photos, "private2", "e.gif"))
	touch(t, filepath.Join(other, "f.bmp"))

	s := NewDirScanner(nil, 2, nil)
	got, err := s.Scan(context.Background(),
		[]string{photos, other},
		[]string{filepath.Join(photos, "private")})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		filepath.Join(photos, "a.JPG"),
		filepath.Join(photos, "b.png"),
		filepath.Join(photos, "private2", "e.gif"),
		filepath.Join(photos, "trip", "c.jpeg"),
		filepath.Join(other, "f.bmp"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Scan =\n%v\nwant\n%v", got, want)
	}
}

func TestDirScanner_MissingDirectory(t *testing.T) {
	got, err := NewDirScanner(nil, 1, nil).Scan(context.Background(), []string{filepath.Join(t.TempDir(), "gone")}, nil)
	if err != nil {
		t.Fatalf("missing directory should be skipped, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %v", got)
	}
}

func TestDirScanner_CustomExtensions(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.webp"))
	touch(t, filepath.Join(root, "b.png"))
	got, err := NewDirScanner([]string{"webp"}, 1, nil).Scan(context.Background(), []string{root}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || filepath.Base(got[0]) != "a.webp" {
		t.Errorf("got %v", got)
	}
}

func TestDirScanner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewDirScanner(nil, 1, nil).Scan(ctx, []string{t.TempDir()}, nil); err == nil {
		t.Error("expected context error")
	}
}

func TestEverythingScanner_Scan(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("json") != "1" || q.Get("path_column") != "1" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		if q.Get("search") != "ext:bmp;gif;jpeg;jpg;png" {
			t.Errorf("search = %q", q.Get("search"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"totalResults":5,"results":[
			{"type":"file","name":"a.jpg","path":"C:\\Users\\me\\Pictures"},
			{"type":"file","name":"._a.jpg","path":"C:\\Users\\me\\Pictures"},
			{"type":"file","name":"b.png","path":"C:\\Users\\me\\Pictures\\Private"},
			{"type":"folder","name":"x.png","path":"C:\\Users\\me\\Pictures"},
			{"type":"file","name":"c.png","path":"D:\\Elsewhere"}
		]}`))
	}))
	defer srv.Close()

	s := NewEverythingScanner(srv.URL, nil, 0, nil)
	got, err := s.Scan(context.Background(),
		[]string{`C:\Users\me\Pictures`},
		[]string{`C:\Users\me\Pictures\Private`})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{`C:\Users\me\Pictures\a.jpg`}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Scan = %v, want %v", got, want)
	}

	all, err := s.Scan(context.Background(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(all)
	if len(all) != 3 {
		t.Errorf("without includes expected 3 paths, got %v", all)
	}
}

func TestEverythingScanner_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	if _, err := NewEverythingScanner(srv.URL, nil, 0, nil).Scan(context.Background(), nil, nil); err == nil {
		t.Error("expected error")
	}
}

func TestNew(t *testing.T) {
	if s, err := New(config.ScanConfig{Method: "default"}, 2, nil); err != nil {
		t.Fatal(err)
	} else if _, ok := s.(*DirScanner); !ok {
		t.Errorf("got %T", s)
	}
	if s, err := New(config.ScanConfig{Method: "everything", EverythingURL: "http://localhost:8080"}, 2, nil); err != nil {
		t.Fatal(err)
	} else if _, ok := s.(*EverythingScanner); !ok {
		t.Errorf("got %T", s)
	}
	if _, err := New(config.ScanConfig{Method: "magic"}, 2, nil); err == nil {
		t.Error("expected error for unknown method")
	}
}

func TestIsUnder(t *testing.T) {
	tests := []struct {
		p, dir string
		want   bool
	}{
		{"/a/b", "/a", true},
		{"/a", "/a", true},
		{"/ab", "/a", false},
		{"C:/x/y.png", "C:/x", true},
	}
	for _, tt := range tests {
		if got := isUnder(tt.p, tt.dir); got != tt.want {
			t.Errorf("isUnder(%q, %q) = %v", tt.p, tt.dir, got)
		}
	}
}
