package agent

import (
	"image"

	"github.com/disintegration/imaging"
)

// ImagePreprocessor prepares an image for local OCR.
type ImagePreprocessor interface {
	Process(img image.Image) (image.Image, error)
}

type GrayscaleProcessor struct{}

func (GrayscaleProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.Grayscale(img), nil
}

type ContrastProcessor struct {
	Percentage float64
}

func (p ContrastProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.AdjustContrast(img, p.Percentage), nil
}

type SharpenProcessor struct {
	Sigma float64
}

func (p SharpenProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.Sharpen(img, p.Sigma), nil
}

// DefaultPreprocessors is the chain applied before tesseract.
func DefaultPreprocessors() []ImagePreprocessor {
	return []ImagePreprocessor{
		GrayscaleProcessor{},
		ContrastProcessor{Percentage: 20},
		SharpenProcessor{Sigma: 1.0},
	}
}

func preprocess(img image.Image, chain []ImagePreprocessor) (image.Image, error) {
	var err error
	for _, p := range chain {
		if img, err = p.Process(img); err != nil {
			return nil, err
		}
	}
	return img, nil
}
