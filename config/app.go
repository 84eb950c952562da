package config

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	appOnce   sync.Once
	appConfig *AppConfig
	appErr    error
)

// AppConfig is read once at startup and handed to constructors; nothing mutates it afterwards.
type AppConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Workspace  WorkspaceConfig  `yaml:"workspace"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Queue      QueueConfig      `yaml:"queue"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Normalizer NormalizerConfig `yaml:"normalizer"`
	Watch      WatchConfig      `yaml:"watch"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	MaxUploadBytes  int64         `yaml:"maxUploadBytes" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type LogConfig struct {
	Level       string   `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Encoding    string   `yaml:"encoding" validate:"omitempty,oneof=json console"`
	OutputPaths []string `yaml:"outputPaths"`
}

type WorkspaceConfig struct {
	Backend  string `yaml:"backend" validate:"oneof=redis file"`
	Path     string `yaml:"path" validate:"required_if=Backend file"`
	RedisKey string `yaml:"redisKey"`
}

type ArchiveConfig struct {
	Backend   string        `yaml:"backend" validate:"oneof=sqlite s3 minio http"`
	SQLPath   string        `yaml:"sqlPath" validate:"required_if=Backend sqlite"`
	RemoteURL string        `yaml:"remoteUrl" validate:"required_if=Backend http"`
	Queued    bool          `yaml:"queued"`
	Retention time.Duration `yaml:"retention"`
}

type QueueConfig struct {
	RedisAddr   string `yaml:"redisAddr" validate:"required"`
	RedisDB     int    `yaml:"redisDb" validate:"gte=0"`
	Concurrency int    `yaml:"concurrency" validate:"gte=1"`
	MaxRetry    int    `yaml:"maxRetry" validate:"gte=0"`
}

type ExtractionConfig struct {
	Provider     string        `yaml:"provider" validate:"oneof=gemini ollama textract tesseract"`
	Model        string        `yaml:"model"`
	APIKey       string        `yaml:"apiKey"`
	Endpoint     string        `yaml:"endpoint"`
	Instructions string        `yaml:"instructions"`
	Timeout      time.Duration `yaml:"timeout" validate:"gte=0"`
	PoolSize     int           `yaml:"poolSize" validate:"gte=1"`
	Languages    []string      `yaml:"languages"`
}

type NormalizerConfig struct {
	MaxBytes     int `yaml:"maxBytes" validate:"gt=0"`
	MaxDimension int `yaml:"maxDimension" validate:"gt=0"`
	Quality      int `yaml:"quality" validate:"gte=10,lte=100"`
}

type WatchConfig struct {
	Dir      string        `yaml:"dir"`
	Debounce time.Duration `yaml:"debounce"`
}

// Defaults returns the configuration used when no file or environment overrides exist.
func Defaults() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Addr:            ":8080",
			MaxUploadBytes:  50 * 1024 * 1024,
			ShutdownTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:       "info",
			Encoding:    "json",
			OutputPaths: []string{"stdout", "logs/app.log"},
		},
		Workspace: WorkspaceConfig{
			Backend:  "file",
			Path:     "data/workspace.json",
			RedisKey: "mutulens:workspace",
		},
		Archive: ArchiveConfig{
			Backend: "sqlite",
			SQLPath: "data/mutulens.db",
		},
		Queue: QueueConfig{
			RedisAddr:   "localhost:6379",
			Concurrency: 2,
			MaxRetry:    3,
		},
		Extraction: ExtractionConfig{
			Provider:  "gemini",
			Model:     "gemini-2.5-flash",
			Endpoint:  "http://localhost:11434",
			PoolSize:  1,
			Languages: []string{"eng"},
		},
		Normalizer: NormalizerConfig{
			MaxBytes:     1024 * 1024,
			MaxDimension: 2048,
			Quality:      85,
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
	}
}

// GetAppConfig loads the configuration once per process.
func GetAppConfig() (*AppConfig, error) {
	appOnce.Do(func() {
		loadDotEnv()
		appConfig, appErr = Load(getEnv("MUTULENS_CONFIG", "config.yaml"))
	})
	return appConfig, appErr
}

// Load reads path (a missing file is not an error), applies environment overrides and validates.
func Load(path string) (*AppConfig, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) applyEnv() {
	c.Server.Addr = getEnv("MUTULENS_ADDR", c.Server.Addr)
	c.Log.Level = getEnv("MUTULENS_LOG_LEVEL", c.Log.Level)
	c.Workspace.Backend = getEnv("MUTULENS_WORKSPACE_BACKEND", c.Workspace.Backend)
	c.Workspace.Path = getEnv("MUTULENS_WORKSPACE_PATH", c.Workspace.Path)
	c.Archive.Backend = getEnv("MUTULENS_ARCHIVE_BACKEND", c.Archive.Backend)
	c.Archive.SQLPath = getEnv("MUTULENS_ARCHIVE_DB", c.Archive.SQLPath)
	c.Archive.RemoteURL = getEnv("MUTULENS_ARCHIVE_URL", c.Archive.RemoteURL)
	c.Archive.Queued = getEnvAsBool("MUTULENS_ARCHIVE_QUEUED", c.Archive.Queued)
	c.Archive.Retention = getEnvAsDuration("MUTULENS_ARCHIVE_RETENTION", c.Archive.Retention)
	c.Queue.RedisAddr = getEnv("REDIS_ADDR", c.Queue.RedisAddr)
	c.Queue.RedisDB = getEnvAsInt("REDIS_DB", c.Queue.RedisDB)
	c.Extraction.Provider = getEnv("MUTULENS_PROVIDER", c.Extraction.Provider)
	c.Extraction.Model = getEnv("MUTULENS_MODEL", c.Extraction.Model)
	c.Extraction.APIKey = getEnv("GEMINI_API_KEY", c.Extraction.APIKey)
	c.Extraction.Endpoint = getEnv("OLLAMA_ENDPOINT", c.Extraction.Endpoint)
	c.Extraction.Timeout = getEnvAsDuration("MUTULENS_EXTRACT_TIMEOUT", c.Extraction.Timeout)
	c.Watch.Dir = getEnv("MUTULENS_WATCH_DIR", c.Watch.Dir)
}

// Validate checks struct constraints.
func (c *AppConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
