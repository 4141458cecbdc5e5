// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.coach/config.yaml or ./config.yaml)
//  3. Default values
//
// Main categories:
//   - AI: chat model, embedding model and dimension, max tool rounds
//   - Ingestion: chunk sizing, split thresholds, wall-clock budget
//   - Extraction: parse service endpoint, fallback toggle
//   - Retrieval: default top-K
//   - Storage: PostgreSQL connection
//
// Sensitive values (API keys, passwords) are masked in MarshalJSON/String and
// validation fails fast on load.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidChunking indicates invalid chunk size/overlap settings.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidTopK indicates the default top-K is out of range.
	ErrInvalidTopK = errors.New("invalid top-k")

	// ErrInvalidDimension indicates an unsupported embedding dimension.
	ErrInvalidDimension = errors.New("invalid embedding dimension")

	// ErrInvalidBudget indicates a non-positive ingestion budget.
	ErrInvalidBudget = errors.New("invalid ingestion budget")

	// ErrInvalidPostgres indicates incomplete PostgreSQL settings.
	ErrInvalidPostgres = errors.New("invalid PostgreSQL configuration")
)

// Defaults for the ingestion and retrieval pipeline.
const (
	// DefaultChunkWords is the target chunk size in words.
	DefaultChunkWords = 500

	// DefaultChunkOverlap is the sliding-window overlap in words.
	DefaultChunkOverlap = 0

	// DefaultTopK is the default number of retrieval results.
	DefaultTopK = 5

	// DefaultEmbeddingModel truncates to 768 dimensions via
	// OutputDimensionality; the pgvector schema is vector(768).
	DefaultEmbeddingModel = "gemini-embedding-001"

	// DefaultEmbeddingDimension matches the chunks.embedding column.
	DefaultEmbeddingDimension = 768

	// DefaultSplitPageLimit is the PDF page count above which the
	// document is split before extraction.
	DefaultSplitPageLimit = 15

	// DefaultSplitByteLimit is the PDF byte size above which the
	// document is split before extraction (4 MB).
	DefaultSplitByteLimit = 4 * 1024 * 1024

	// DefaultIngestBudgetSeconds bounds a single ingestion run; runs
	// that exceed it checkpoint and return a partial result.
	DefaultIngestBudgetSeconds = 300

	// DefaultMaxRounds bounds tool round-trips per conversation.
	DefaultMaxRounds = 5
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// AI model configuration
	ModelName          string `mapstructure:"model_name" json:"model_name"`
	GeminiAPIKey       string `mapstructure:"gemini_api_key" json:"gemini_api_key"` // SENSITIVE: masked in MarshalJSON
	EmbeddingModel     string `mapstructure:"embedding_model" json:"embedding_model"`
	EmbeddingDimension int    `mapstructure:"embedding_dimension" json:"embedding_dimension"`
	MaxRounds          int    `mapstructure:"max_rounds" json:"max_rounds"`
	GroundingTopK      int    `mapstructure:"grounding_top_k" json:"grounding_top_k"`

	// Chunking configuration
	ChunkWords   int `mapstructure:"chunk_words" json:"chunk_words"`
	ChunkOverlap int `mapstructure:"chunk_overlap" json:"chunk_overlap"`

	// Retrieval configuration
	TopK int `mapstructure:"top_k" json:"top_k"`

	// Extraction configuration
	ExtractorBaseURL  string `mapstructure:"extractor_base_url" json:"extractor_base_url"`
	ExtractorAPIKey   string `mapstructure:"extractor_api_key" json:"extractor_api_key"` // SENSITIVE: masked in MarshalJSON
	FallbackEnabled   bool   `mapstructure:"fallback_enabled" json:"fallback_enabled"`
	SplitPageLimit    int    `mapstructure:"split_page_limit" json:"split_page_limit"`
	SplitByteLimit    int64  `mapstructure:"split_byte_limit" json:"split_byte_limit"`
	IngestBudgetSecs  int    `mapstructure:"ingest_budget_seconds" json:"ingest_budget_seconds"`
	EmbedRatePerSec   int    `mapstructure:"embed_rate_per_sec" json:"embed_rate_per_sec"`
	EmbedBatchSize    int    `mapstructure:"embed_batch_size" json:"embed_batch_size"`

	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// HTTP server configuration
	ServeAddr string `mapstructure:"serve_addr" json:"serve_addr"`

	// Logging configuration
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
	LogLevel string `mapstructure:"log_level" json:"log_level"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".coach"))
	}
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("model_name", "gemini-2.5-flash")
	v.SetDefault("embedding_model", DefaultEmbeddingModel)
	v.SetDefault("embedding_dimension", DefaultEmbeddingDimension)
	v.SetDefault("max_rounds", DefaultMaxRounds)
	v.SetDefault("grounding_top_k", 0)

	v.SetDefault("chunk_words", DefaultChunkWords)
	v.SetDefault("chunk_overlap", DefaultChunkOverlap)
	v.SetDefault("top_k", DefaultTopK)

	v.SetDefault("fallback_enabled", true)
	v.SetDefault("split_page_limit", DefaultSplitPageLimit)
	v.SetDefault("split_byte_limit", DefaultSplitByteLimit)
	v.SetDefault("ingest_budget_seconds", DefaultIngestBudgetSeconds)
	v.SetDefault("embed_rate_per_sec", 10)
	v.SetDefault("embed_batch_size", 16)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "coach")
	v.SetDefault("postgres_password", "coach_dev_password")
	v.SetDefault("postgres_db_name", "coach")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("serve_addr", "127.0.0.1:3500")

	v.SetDefault("log_json", false)
	v.SetDefault("log_level", "info")
}

// bindEnvVariables binds environment variables explicitly.
// Secrets come only from the environment, never from the config file search
// path of a shared machine.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("gemini_api_key", "GEMINI_API_KEY")
	mustBind("extractor_api_key", "EXTRACTOR_API_KEY")
	mustBind("extractor_base_url", "EXTRACTOR_BASE_URL")
	mustBind("postgres_password", "COACH_POSTGRES_PASSWORD")
	mustBind("postgres_host", "COACH_POSTGRES_HOST")
	mustBind("model_name", "COACH_MODEL_NAME")
	mustBind("embedding_model", "COACH_EMBEDDING_MODEL")
	mustBind("serve_addr", "COACH_SERVE_ADDR")
	mustBind("ingest_budget_seconds", "COACH_INGEST_BUDGET_SECONDS")
	mustBind("fallback_enabled", "COACH_FALLBACK_ENABLED")
}

// Validate performs fail-fast range checks.
func (c *Config) Validate() error {
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY is required", ErrMissingAPIKey)
	}
	if c.ChunkWords <= 0 {
		return fmt.Errorf("%w: chunk_words must be positive, got %d", ErrInvalidChunking, c.ChunkWords)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkWords {
		return fmt.Errorf("%w: chunk_overlap %d must be in [0, chunk_words)", ErrInvalidChunking, c.ChunkOverlap)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidTopK, c.TopK)
	}
	if c.EmbeddingDimension != DefaultEmbeddingDimension {
		// The chunks.embedding column is fixed at vector(768); changing the
		// dimension requires re-embedding the entire store.
		return fmt.Errorf("%w: got %d, schema requires %d",
			ErrInvalidDimension, c.EmbeddingDimension, DefaultEmbeddingDimension)
	}
	if c.IngestBudgetSecs <= 0 {
		return fmt.Errorf("%w: ingest_budget_seconds must be positive, got %d", ErrInvalidBudget, c.IngestBudgetSecs)
	}
	if c.PostgresHost == "" || c.PostgresDBName == "" || c.PostgresUser == "" {
		return fmt.Errorf("%w: host, user and db_name are required", ErrInvalidPostgres)
	}
	if c.PostgresPort <= 0 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidPostgres, c.PostgresPort)
	}
	return nil
}

// IngestBudget returns the wall-clock budget as a duration.
func (c *Config) IngestBudget() time.Duration {
	return time.Duration(c.IngestBudgetSecs) * time.Second
}

// DatabaseURL renders the PostgreSQL connection URL.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPassword, c.PostgresHost, c.PostgresPort,
		c.PostgresDBName, c.PostgresSSLMode)
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Short secrets are fully
// masked; longer ones keep the first and last two characters for debugging.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.GeminiAPIKey = maskSecret(a.GeminiAPIKey)
	a.ExtractorAPIKey = maskSecret(a.ExtractorAPIKey)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
