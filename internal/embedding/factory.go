package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/config"
)

const remoteTimeout = 60 * time.Second

// NewCLIP returns the configured CLIP provider. Missing or unloadable ONNX
// models are an ErrUnavailable error; mock vectors are only used when the
// provider is "mock", since they would otherwise persist in the index.
func NewCLIP(cfg config.CLIPConfig, logger *zap.Logger) (CLIP, error) {
	switch cfg.Provider {
	case "mock":
		return NewMockCLIP(cfg.Dimensions), nil
	case "onnx", "":
		clip, err := NewONNXCLIP(ONNXOptions{
			VisionModelPath: cfg.VisionModelPath,
			TextModelPath:   cfg.TextModelPath,
			Dimensions:      cfg.Dimensions,
			ImageSize:       cfg.ImageSize,
			MaxTokens:       cfg.MaxTokens,
		})
		if err != nil {
			if !errors.Is(err, ErrUnavailable) {
				err = fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			return nil, err
		}
		if logger != nil {
			logger.Debug("ONNX CLIP loaded", zap.String("vision_model", cfg.VisionModelPath), zap.Int("dimensions", clip.Dimensions()))
		}
		return clip, nil
	default:
		return nil, fmt.Errorf("unknown clip provider: %s (supported: onnx, mock)", cfg.Provider)
	}
}

// NewTextEmbedder returns the configured OCR text embedder, wrapped in an LRU
// cache when cache_size > 0. The "clip" provider reuses clip's text encoder.
func NewTextEmbedder(cfg config.TextEmbedConfig, clip CLIP, logger *zap.Logger) (TextModel, error) {
	var model TextModel
	switch cfg.Provider {
	case "ollama", "":
		model = NewOllamaEmbedder(cfg.OllamaURL, cfg.OllamaModel, remoteTimeout)
	case "openai":
		model = NewOpenAIEmbedder(cfg.OpenAIEndpoint, cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.Dimensions, remoteTimeout)
	case "clip":
		if clip == nil {
			return nil, fmt.Errorf("text_embed provider clip needs a CLIP model")
		}
		model = clipText{clip}
	case "mock":
		model = NewMockTextEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown text_embed provider: %s (supported: ollama, openai, clip, mock)", cfg.Provider)
	}
	if logger != nil {
		logger.Debug("text embedder initialized", zap.String("provider", cfg.Provider), zap.Int("cache_size", cfg.CacheSize))
	}
	if cfg.CacheSize > 0 {
		return NewCachedTextEmbedder(model, cfg.CacheSize), nil
	}
	return model, nil
}

// clipText exposes a CLIP model's text encoder as a TextModel. Close is a
// no-op because the CLIP model is owned and closed by its creator.
type clipText struct {
	clip CLIP
}

func (c clipText) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return c.clip.EmbedText(ctx, text)
}

func (c clipText) Dimensions() int { return c.clip.Dimensions() }

func (c clipText) Close() error { return nil }
