// Package config loads the policyrag YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/perbu/policyrag/pkg/answer"
	"github.com/perbu/policyrag/pkg/loader"
	"github.com/perbu/policyrag/pkg/policyrag"
	"github.com/perbu/policyrag/pkg/retriever"
)

// DefaultPath is used when no --config flag is given.
const DefaultPath = "policyrag.yaml"

// Embedder types.
const (
	EmbedderOpenAI = "openai"
	EmbedderHash   = "hash"
)

type SnapshotConfig struct {
	Dir string `yaml:"dir"`
}

type ChunkerConfig struct {
	Size   int `yaml:"size"`
	Stride int `yaml:"stride"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	Dimension   int    `yaml:"dimension"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	BatchSize   int    `yaml:"batch_size"`
	Concurrency int    `yaml:"concurrency"`
	MaxRetries  *int   `yaml:"max_retries"` // nil means 3, 0 disables retries
}

type HashEmbedderConfig struct {
	Dimension int `yaml:"dimension"`
}

// EmbedderConfig selects and configures the embedder. Ingest and query must
// use the same settings.
type EmbedderConfig struct {
	Type   string               `yaml:"type"`
	OpenAI OpenAIEmbedderConfig `yaml:"openai"`
	Hash   HashEmbedderConfig   `yaml:"hash"`
}

// CompletionConfig configures an OpenAI-compatible chat endpoint.
type CompletionConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

// SuggestionsConfig configures the question suggestion service. When
// disabled the default questions are always shown.
type SuggestionsConfig struct {
	Enabled          bool `yaml:"enabled"`
	CompletionConfig `yaml:",inline"`
}

type RetrievalConfig struct {
	K           int     `yaml:"k"`
	MaxDistance float32 `yaml:"max_distance"`
}

type ServerConfig struct {
	Addr                string `yaml:"addr"`
	ShutdownTimeoutSecs int    `yaml:"shutdown_timeout_secs"`
}

// Config is the root configuration.
type Config struct {
	Snapshot    SnapshotConfig     `yaml:"snapshot"`
	Source      string             `yaml:"source"`
	Chunker     ChunkerConfig      `yaml:"chunker"`
	Embedder    EmbedderConfig     `yaml:"embedder"`
	Completion  CompletionConfig   `yaml:"completion"`
	Suggestions SuggestionsConfig  `yaml:"suggestions"`
	Case        answer.CaseContext `yaml:"case"`
	Retrieval   RetrievalConfig    `yaml:"retrieval"`
	Server      ServerConfig       `yaml:"server"`
}

// Load reads a config from path. If the file does not exist, it returns
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Default returns the built-in configuration: OpenAI embeddings and chat,
// the flood-claim case record, and k=8.
func Default() *Config {
	cfg := &Config{
		Snapshot: SnapshotConfig{Dir: "vectorstore"},
		Source:   "data/policy.pdf",
		Chunker:  ChunkerConfig{Size: loader.DefaultChunkSize, Stride: loader.DefaultChunkStride},
		Embedder: EmbedderConfig{Type: EmbedderOpenAI},
		Case: answer.CaseContext{
			ClaimType: "Flood",
			State:     "Florida",
			Policy:    "NFIP Flood Insurance",
		},
		Retrieval: RetrievalConfig{K: retriever.DefaultK},
		Server:    ServerConfig{Addr: ":8080"},
	}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Snapshot.Dir == "" {
		cfg.Snapshot.Dir = "vectorstore"
	}
	if cfg.Chunker.Size == 0 {
		cfg.Chunker.Size = loader.DefaultChunkSize
	}
	if cfg.Chunker.Stride == 0 {
		cfg.Chunker.Stride = loader.DefaultChunkStride
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = EmbedderOpenAI
	}
	oe := &cfg.Embedder.OpenAI
	if oe.APIKeyEnv == "" {
		oe.APIKeyEnv = "OPENAI_API_KEY"
	}
	if oe.Model == "" {
		oe.Model = "text-embedding-3-small"
	}
	if oe.TimeoutSecs == 0 {
		oe.TimeoutSecs = 30
	}
	if oe.BatchSize == 0 {
		oe.BatchSize = 64
	}
	if oe.Concurrency == 0 {
		oe.Concurrency = 4
	}
	if oe.MaxRetries == nil {
		oe.MaxRetries = ptr(3)
	}
	if cfg.Embedder.Hash.Dimension == 0 {
		cfg.Embedder.Hash.Dimension = 384
	}
	completionDefaults(&cfg.Completion)
	completionDefaults(&cfg.Suggestions.CompletionConfig)
	if cfg.Retrieval.K == 0 {
		cfg.Retrieval.K = retriever.DefaultK
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ShutdownTimeoutSecs == 0 {
		cfg.Server.ShutdownTimeoutSecs = 10
	}
}

func completionDefaults(c *CompletionConfig) {
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 300
	}
	if c.Temperature == 0 {
		c.Temperature = 0.2
	}
	if c.TimeoutSecs == 0 {
		c.TimeoutSecs = 60
	}
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	if c.Chunker.Size <= 0 || c.Chunker.Stride <= 0 || c.Chunker.Stride >= c.Chunker.Size {
		return fmt.Errorf("chunker size %d, stride %d: stride must be positive and smaller than size: %w",
			c.Chunker.Size, c.Chunker.Stride, policyrag.ErrConfiguration)
	}
	switch c.Embedder.Type {
	case EmbedderOpenAI, EmbedderHash:
	default:
		return fmt.Errorf("unknown embedder type %q: %w", c.Embedder.Type, policyrag.ErrConfiguration)
	}
	if r := c.Embedder.OpenAI.MaxRetries; r != nil && *r < 0 {
		return fmt.Errorf("embedder max_retries %d: %w", *r, policyrag.ErrConfiguration)
	}
	if c.Retrieval.K <= 0 {
		return fmt.Errorf("retrieval k %d: %w", c.Retrieval.K, policyrag.ErrConfiguration)
	}
	if c.Retrieval.MaxDistance < 0 {
		return fmt.Errorf("retrieval max_distance %v: %w", c.Retrieval.MaxDistance, policyrag.ErrConfiguration)
	}
	if c.Snapshot.Dir == "" {
		return fmt.Errorf("snapshot dir is empty: %w", policyrag.ErrConfiguration)
	}
	return nil
}

func ptr[T any](v T) *T { return &v }

// Timeout converts a seconds setting to a duration.
func Timeout(secs int) time.Duration {
	return time.Duration(secs) * time.Second
}

// APIKey reads the secret named by env, which .env may have populated.
func APIKey(env string) string {
	return os.Getenv(env)
}
