package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/feichai0017/mutulens/internal/models"
	"github.com/feichai0017/mutulens/pkg/logger"
)

type TextractConfig struct {
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	MinConfidence float32
}

type textractAPI interface {
	DetectDocumentText(ctx context.Context, params *textract.DetectDocumentTextInput, optFns ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error)
}

// TextractExtractor uses AWS Textract line detection. It never produces an explanation
// and ignores instructions.
type TextractExtractor struct {
	client textractAPI
	config *TextractConfig
	logger logger.Logger
}

func NewTextractExtractor(ctx context.Context, cfg *TextractConfig, log logger.Logger) (*TextractExtractor, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	client := textract.NewFromConfig(awsCfg, func(o *textract.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &TextractExtractor{client: client, config: cfg, logger: log}, nil
}

func (p *TextractExtractor) Name() string { return "textract" }

// RequiresCredential is false: AWS credentials come from configuration or the default chain.
func (p *TextractExtractor) RequiresCredential() bool { return false }

func (p *TextractExtractor) Extract(ctx context.Context, asset models.Asset, _, _ string) (Result, error) {
	out, err := p.client.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{
		Document: &types.Document{Bytes: asset.Data},
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to detect document text: %w", err)
	}

	lines := p.processBlocks(out.Blocks)
	p.logger.Debug("Textract lines detected", logger.Int("lines", len(lines)))
	return Result{Kind: Fallback, Text: strings.Join(lines, "\n")}, nil
}

func (p *TextractExtractor) processBlocks(blocks []types.Block) []string {
	var texts []string
	for _, block := range blocks {
		if block.BlockType == types.BlockTypeLine &&
			block.Text != nil &&
			block.Confidence != nil &&
			*block.Confidence >= p.config.MinConfidence {
			texts = append(texts, *block.Text)
		}
	}
	return texts
}
