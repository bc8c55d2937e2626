//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"image"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/shashin/internal/imaging"
	"github.com/hyperjump/shashin/pkg/utils"
)

// ONNXOptions locates the CLIP encoders and fixes their tensor shapes.
type ONNXOptions struct {
	VisionModelPath string
	TextModelPath   string
	Dimensions      int
	ImageSize       int
	MaxTokens       int
}

// ONNXCLIP runs CLIP vision and text encoders with ONNX Runtime. It requires
// CGO and the onnxruntime shared library. Each encoder has its own session
// with pre-allocated tensors, so calls to one encoder are serialized.
type ONNXCLIP struct {
	opts      ONNXOptions
	tokenizer Tokenizer

	visionMu     sync.Mutex
	vision       *ort.AdvancedSession
	pixelTensor  *ort.Tensor[float32]
	imageOutput  *ort.Tensor[float32]
	textMu       sync.Mutex
	text         *ort.AdvancedSession
	idsTensor    *ort.Tensor[int64]
	maskTensor   *ort.Tensor[int64]
	textOutput   *ort.Tensor[float32]
	destroyables []interface{ Destroy() error }
}

// NewONNXCLIP loads both encoders. InitializeEnvironment is called if not already done.
func NewONNXCLIP(opts ONNXOptions) (*ONNXCLIP, error) {
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("%w: failed to initialize ONNX runtime: %v", ErrUnavailable, err)
		}
	}
	c := &ONNXCLIP{opts: opts, tokenizer: &HashTokenizer{}}
	if err := c.initVision(); err != nil {
		_ = c.Close()
		return nil, err
	}
	if err := c.initText(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *ONNXCLIP) initVision() error {
	size := int64(c.opts.ImageSize)
	pixels, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return fmt.Errorf("failed to create pixel_values tensor: %w", err)
	}
	c.pixelTensor = pixels
	c.destroyables = append(c.destroyables, pixels)

	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(c.opts.Dimensions)))
	if err != nil {
		return fmt.Errorf("failed to create image_embeds tensor: %w", err)
	}
	c.imageOutput = out
	c.destroyables = append(c.destroyables, out)

	session, err := ort.NewAdvancedSession(
		c.opts.VisionModelPath,
		[]string{"pixel_values"},
		[]string{"image_embeds"},
		[]ort.ArbitraryTensor{pixels},
		[]ort.ArbitraryTensor{out},
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to create vision session: %w", err)
	}
	c.vision = session
	return nil
}

func (c *ONNXCLIP) initText() error {
	shape := ort.NewShape(1, int64(c.opts.MaxTokens))
	ids, err := ort.NewEmptyTensor[int64](shape)
	if err != nil {
		return fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	c.idsTensor = ids
	c.destroyables = append(c.destroyables, ids)

	mask, err := ort.NewEmptyTensor[int64](shape)
	if err != nil {
		return fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	c.maskTensor = mask
	c.destroyables = append(c.destroyables, mask)

	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(c.opts.Dimensions)))
	if err != nil {
		return fmt.Errorf("failed to create text_embeds tensor: %w", err)
	}
	c.textOutput = out
	c.destroyables = append(c.destroyables, out)

	session, err := ort.NewAdvancedSession(
		c.opts.TextModelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"text_embeds"},
		[]ort.ArbitraryTensor{ids, mask},
		[]ort.ArbitraryTensor{out},
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to create text session: %w", err)
	}
	c.text = session
	return nil
}

// EmbedImages decodes and embeds each path. Per-image failures are collected in a *BatchError.
func (c *ONNXCLIP) EmbedImages(ctx context.Context, paths []string) ([][]float32, error) {
	out := make([][]float32, len(paths))
	var be BatchError
	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := imaging.Load(p)
		if err != nil {
			be.add(i, err)
			continue
		}
		emb, err := c.embedImage(img)
		if err != nil {
			be.add(i, err)
			continue
		}
		out[i] = emb
	}
	return out, be.errOrNil()
}

// EmbedImageData decodes an in-memory image and embeds it.
func (c *ONNXCLIP) EmbedImageData(ctx context.Context, data []byte) ([]float32, error) {
	img, err := imaging.DecodeBytes(data)
	if err != nil {
		return nil, err
	}
	return c.embedImage(img)
}

func (c *ONNXCLIP) embedImage(img image.Image) ([]float32, error) {
	pixels := imaging.Preprocess(img, c.opts.ImageSize)

	c.visionMu.Lock()
	defer c.visionMu.Unlock()
	copy(c.pixelTensor.GetData(), pixels)
	if err := c.vision.Run(); err != nil {
		return nil, fmt.Errorf("vision inference failed: %w", err)
	}
	emb := make([]float32, c.opts.Dimensions)
	copy(emb, c.imageOutput.GetData())
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedText embeds text with the CLIP text encoder.
func (c *ONNXCLIP) EmbedText(ctx context.Context, text string) ([]float32, error) {
	ids, mask := c.tokenizer.Tokenize(text, c.opts.MaxTokens)

	c.textMu.Lock()
	defer c.textMu.Unlock()
	copy(c.idsTensor.GetData(), ids)
	copy(c.maskTensor.GetData(), mask)
	if err := c.text.Run(); err != nil {
		return nil, fmt.Errorf("text inference failed: %w", err)
	}
	emb := make([]float32, c.opts.Dimensions)
	copy(emb, c.textOutput.GetData())
	utils.NormalizeL2(emb)
	return emb, nil
}

// Dimensions returns the embedding dimension.
func (c *ONNXCLIP) Dimensions() int {
	return c.opts.Dimensions
}

// Close destroys the sessions and tensors.
func (c *ONNXCLIP) Close() error {
	var err error
	if c.vision != nil {
		err = c.vision.Destroy()
		c.vision = nil
	}
	if c.text != nil {
		if e := c.text.Destroy(); err == nil {
			err = e
		}
		c.text = nil
	}
	for _, d := range c.destroyables {
		_ = d.Destroy()
	}
	c.destroyables = nil
	return err
}
