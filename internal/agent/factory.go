package agent

import (
	"context"
	"fmt"

	cfg "github.com/feichai0017/mutulens/config"
	"github.com/feichai0017/mutulens/pkg/logger"
)

// NewExtractor builds the provider named by the extraction config.
func NewExtractor(ctx context.Context, ec cfg.ExtractionConfig, log logger.Logger) (Extractor, error) {
	log.Info("Creating extractor",
		logger.String("provider", ec.Provider),
		logger.String("model", ec.Model),
	)

	switch ec.Provider {
	case "gemini", "":
		return NewGeminiExtractor(GeminiConfig{Model: ec.Model}, log.Named("gemini")), nil

	case "ollama":
		model := ec.Model
		if model == "" || model == DefaultGeminiModel {
			model = DefaultOllamaModel
		}
		return NewOllamaExtractor(&OllamaConfig{
			Endpoint:    ec.Endpoint,
			Model:       model,
			Temperature: 0.1,
			MaxPoolSize: ec.PoolSize,
		}, log.Named("ollama")), nil

	case "textract":
		tc := cfg.GetTextractConfig()
		extractor, err := NewTextractExtractor(ctx, &TextractConfig{
			Region:        tc.Region,
			Endpoint:      tc.Endpoint,
			AccessKey:     tc.AccessKey,
			SecretKey:     tc.SecretKey,
			MinConfidence: float32(tc.MinConfidence),
		}, log.Named("textract"))
		if err != nil {
			return nil, fmt.Errorf("failed to create textract extractor: %w", err)
		}
		return extractor, nil

	case "tesseract":
		extractor, err := newTesseractExtractor(ec.Languages, log.Named("tesseract"))
		if err != nil {
			return nil, fmt.Errorf("failed to create tesseract extractor: %w", err)
		}
		return extractor, nil

	default:
		log.Error("Unsupported extraction provider", logger.String("provider", ec.Provider))
		return nil, fmt.Errorf("unsupported extraction provider: %s", ec.Provider)
	}
}
