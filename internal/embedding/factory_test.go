package embedding

import (
	"errors"
	"testing"

	"github.com/hyperjump/shashin/internal/config"
)

func TestNewCLIP(t *testing.T) {
	clip, err := NewCLIP(config.CLIPConfig{Provider: "mock", Dimensions: 16}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := clip.(*MockCLIP); !ok || clip.Dimensions() != 16 {
		t.Errorf("got %T with %d dims", clip, clip.Dimensions())
	}

	// Missing model files must fail startup instead of indexing mock vectors.
	clip, err = NewCLIP(config.CLIPConfig{
		Provider:        "onnx",
		VisionModelPath: "/nonexistent/vision.onnx",
		TextModelPath:   "/nonexistent/text.onnx",
		Dimensions:      8,
		ImageSize:       224,
		MaxTokens:       77,
	}, nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable for missing models, got %v", err)
	}
	if clip != nil {
		t.Errorf("expected no provider for missing models, got %T", clip)
	}

	// The empty provider defaults to onnx and must not fall back either.
	if _, err := NewCLIP(config.CLIPConfig{VisionModelPath: "/nonexistent/vision.onnx", Dimensions: 8}, nil); !errors.Is(err, ErrUnavailable) {
		t.Errorf("default provider: expected ErrUnavailable, got %v", err)
	}

	if _, err := NewCLIP(config.CLIPConfig{Provider: "nope"}, nil); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestNewTextEmbedder(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.TextEmbedConfig
		wantType string
	}{
		{"ollama", config.TextEmbedConfig{Provider: "ollama", OllamaURL: "http://localhost:11434"}, "*embedding.OllamaEmbedder"},
		{"openai", config.TextEmbedConfig{Provider: "openai"}, "*embedding.OpenAIEmbedder"},
		{"clip", config.TextEmbedConfig{Provider: "clip"}, "embedding.clipText"},
		{"mock", config.TextEmbedConfig{Provider: "mock"}, "*embedding.MockTextEmbedder"},
		{"cached", config.TextEmbedConfig{Provider: "mock", CacheSize: 5}, "*embedding.CachedTextEmbedder"},
	}
	clip := NewMockCLIP(8)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewTextEmbedder(tt.cfg, clip, nil)
			if err != nil {
				t.Fatal(err)
			}
			if got := typeName(m); got != tt.wantType {
				t.Errorf("type = %s, want %s", got, tt.wantType)
			}
		})
	}
	if _, err := NewTextEmbedder(config.TextEmbedConfig{Provider: "clip"}, nil, nil); err == nil {
		t.Error("clip provider without a model should fail")
	}
	if _, err := NewTextEmbedder(config.TextEmbedConfig{Provider: "nope"}, clip, nil); err == nil {
		t.Error("expected error for unknown provider")
	}
}
