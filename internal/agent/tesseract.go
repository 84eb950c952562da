//go:build tesseract

package agent

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	"github.com/feichai0017/mutulens/internal/models"
	"github.com/feichai0017/mutulens/pkg/logger"
)

type TesseractConfig struct {
	Languages   []string
	PageSegMode gosseract.PageSegMode
}

// TesseractExtractor runs OCR locally. Instructions are ignored and no credential is needed.
type TesseractExtractor struct {
	config        TesseractConfig
	preprocessors []ImagePreprocessor
	logger        logger.Logger
}

func NewTesseractExtractor(cfg TesseractConfig, log logger.Logger) *TesseractExtractor {
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"eng"}
	}
	if cfg.PageSegMode == 0 {
		cfg.PageSegMode = gosseract.PSM_AUTO
	}
	return &TesseractExtractor{
		config:        cfg,
		preprocessors: DefaultPreprocessors(),
		logger:        log,
	}
}

func newTesseractExtractor(languages []string, log logger.Logger) (Extractor, error) {
	return NewTesseractExtractor(TesseractConfig{Languages: languages}, log), nil
}

func (t *TesseractExtractor) Name() string { return "tesseract" }

func (t *TesseractExtractor) RequiresCredential() bool { return false }

func (t *TesseractExtractor) Extract(ctx context.Context, asset models.Asset, _, _ string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	img, err := imaging.Decode(bytes.NewReader(asset.Data))
	if err != nil {
		return Result{}, fmt.Errorf("failed to decode image: %w", err)
	}
	img, err = preprocess(img, t.preprocessors)
	if err != nil {
		return Result{}, fmt.Errorf("failed to preprocess image: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Result{}, fmt.Errorf("failed to encode image: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.config.Languages...); err != nil {
		return Result{}, fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetPageSegMode(t.config.PageSegMode); err != nil {
		return Result{}, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return Result{}, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return Result{}, fmt.Errorf("failed to perform OCR: %w", err)
	}
	return Result{Kind: Fallback, Text: strings.TrimSpace(text)}, nil
}
