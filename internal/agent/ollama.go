package agent

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/feichai0017/mutulens/internal/models"
	"github.com/feichai0017/mutulens/pkg/logger"
)

const DefaultOllamaModel = "llava"

// OllamaResponse mirrors the non-streaming /api/generate reply.
type OllamaResponse struct {
	Response        string `json:"response"`
	Model           string `json:"model"`
	Done            bool   `json:"done"`
	TotalDuration   int64  `json:"total_duration,omitempty"`
	LoadDuration    int64  `json:"load_duration,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
	EvalDuration    int64  `json:"eval_duration,omitempty"`
	Error           string `json:"error,omitempty"`
}

type OllamaConfig struct {
	Endpoint    string
	Model       string
	Temperature float64
	MaxPoolSize int
	PoolTimeout time.Duration
	HTTPTimeout time.Duration
}

type OllamaClient struct {
	endpoint    string
	model       string
	temperature float64
	httpClient  *http.Client
}

func NewOllamaClient(config *OllamaConfig) *OllamaClient {
	timeout := config.HTTPTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OllamaClient{
		endpoint:    strings.TrimRight(config.Endpoint, "/"),
		model:       config.Model,
		temperature: config.Temperature,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// AnalyzeImage posts one image with prompt and returns the model's raw reply.
func (c *OllamaClient) AnalyzeImage(ctx context.Context, asset models.Asset, prompt, credential string) (string, error) {
	reqBody := map[string]interface{}{
		"model":  c.model,
		"prompt": prompt,
		"images": []string{base64.StdEncoding.EncodeToString(asset.Data)},
		"stream": false,
		"format": "json",
		"options": map[string]interface{}{
			"temperature": c.temperature,
		},
	}

	reqData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/generate", bytes.NewReader(reqData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	var result OllamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if result.Error != "" {
		return "", fmt.Errorf("ollama error: %s", result.Error)
	}

	return result.Response, nil
}

func (c *OllamaClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

type OllamaClientPool struct {
	clients chan *OllamaClient
	config  *OllamaConfig
}

func NewOllamaClientPool(config *OllamaConfig) *OllamaClientPool {
	if config.MaxPoolSize < 1 {
		config.MaxPoolSize = 1
	}
	if config.PoolTimeout <= 0 {
		config.PoolTimeout = 30 * time.Second
	}
	pool := &OllamaClientPool{
		clients: make(chan *OllamaClient, config.MaxPoolSize),
		config:  config,
	}

	for i := 0; i < config.MaxPoolSize; i++ {
		pool.clients <- NewOllamaClient(config)
	}

	return pool
}

func (p *OllamaClientPool) Get(ctx context.Context) (*OllamaClient, error) {
	select {
	case client := <-p.clients:
		return client, nil
	case <-time.After(p.config.PoolTimeout):
		return nil, fmt.Errorf("timeout waiting for available client")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *OllamaClientPool) Put(client *OllamaClient) {
	select {
	case p.clients <- client:
	default:
		// pool full, drop it
	}
}

func (p *OllamaClientPool) Close() error {
	close(p.clients)
	for client := range p.clients {
		client.Close()
	}
	return nil
}

// OllamaExtractor runs extraction against a local or remote Ollama vision model.
type OllamaExtractor struct {
	pool   *OllamaClientPool
	logger logger.Logger
}

func NewOllamaExtractor(cfg *OllamaConfig, log logger.Logger) *OllamaExtractor {
	return &OllamaExtractor{pool: NewOllamaClientPool(cfg), logger: log}
}

func (o *OllamaExtractor) Name() string { return "ollama" }

func (o *OllamaExtractor) RequiresCredential() bool { return false }

func (o *OllamaExtractor) Extract(ctx context.Context, asset models.Asset, credential, instructions string) (Result, error) {
	client, err := o.pool.Get(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to get ollama client: %w", err)
	}
	defer o.pool.Put(client)

	raw, err := client.AnalyzeImage(ctx, asset, BuildPrompt(instructions), credential)
	if err != nil {
		return Result{}, err
	}
	return ParseResponse(raw), nil
}

func (o *OllamaExtractor) Close() error {
	return o.pool.Close()
}
