package agent

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/feichai0017/mutulens/internal/models"
	"github.com/feichai0017/mutulens/pkg/logger"
)

const DefaultGeminiModel = "gemini-2.5-flash"

var errEmptyCredential = errors.New("credential is required")

type GeminiConfig struct {
	Model string
	// BaseURL overrides the API endpoint; empty uses the SDK default.
	BaseURL string
}

// GeminiExtractor calls the Gemini API with the caller's API key. A client is built per
// call since the key can change between drains.
type GeminiExtractor struct {
	config GeminiConfig
	logger logger.Logger
}

func NewGeminiExtractor(cfg GeminiConfig, log logger.Logger) *GeminiExtractor {
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	return &GeminiExtractor{config: cfg, logger: log}
}

func (g *GeminiExtractor) Name() string { return "gemini" }

func (g *GeminiExtractor) RequiresCredential() bool { return true }

func (g *GeminiExtractor) Extract(ctx context.Context, asset models.Asset, credential, instructions string) (Result, error) {
	if credential == "" {
		return Result{}, errEmptyCredential
	}

	cc := &genai.ClientConfig{
		APIKey:  credential,
		Backend: genai.BackendGeminiAPI,
	}
	if g.config.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: g.config.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create gemini client: %w", err)
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(asset.Data, asset.MIMEType),
			genai.NewPartFromText(BuildPrompt(instructions)),
		}, genai.RoleUser),
	}

	resp, err := client.Models.GenerateContent(ctx, g.config.Model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to generate content: %w", err)
	}

	text := resp.Text()
	g.logger.Debug("Gemini response received",
		logger.String("model", g.config.Model),
		logger.Int("chars", len(text)),
	)
	return ParseResponse(text), nil
}
