package utils

import (
	"testing"
)

func TestShortenPath(t *testing.T) {
	tests := []struct {
		in     string
		maxLen int
		want   string
	}{
		{"/a/b.png", 20, "/a/b.png"},
		{"/very/long/directory/name/cat.png", 12, "...e/cat.png"},
		{"/x/y.png", 2, "/x/y.png"},
	}
	for _, tt := range tests {
		if got := ShortenPath(tt.in, tt.maxLen); got != tt.want {
			t.Errorf("ShortenPath(%q, %d) = %q, want %q", tt.in, tt.maxLen, got, tt.want)
		}
	}
}
