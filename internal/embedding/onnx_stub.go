//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"fmt"
)

// ONNXOptions locates the CLIP encoders and fixes their tensor shapes.
type ONNXOptions struct {
	VisionModelPath string
	TextModelPath   string
	Dimensions      int
	ImageSize       int
	MaxTokens       int
}

// ONNXCLIP stub type when built without CGO (see onnx.go for real implementation).
type ONNXCLIP struct{}

// NewONNXCLIP returns an error when built without CGO (ONNX not available).
func NewONNXCLIP(_ ONNXOptions) (*ONNXCLIP, error) {
	return nil, fmt.Errorf("%w: ONNX CLIP requires CGO; build with CGO_ENABLED=1 and onnxruntime", ErrUnavailable)
}

func (c *ONNXCLIP) EmbedImages(ctx context.Context, paths []string) ([][]float32, error) {
	return nil, ErrUnavailable
}

func (c *ONNXCLIP) EmbedImageData(ctx context.Context, data []byte) ([]float32, error) {
	return nil, ErrUnavailable
}

func (c *ONNXCLIP) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return nil, ErrUnavailable
}

func (c *ONNXCLIP) Dimensions() int { return 0 }

func (c *ONNXCLIP) Close() error { return nil }
