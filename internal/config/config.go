// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (QUILL_ prefix)
//  2. Config file (quill.yaml in the working directory or /etc/quill)
//  3. Default values
//
// Error handling uses sentinel errors so callers can classify failures
// with errors.Is().
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrMissingAPIKey indicates the Gemini API key is not configured.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrNoModels indicates the generation model list is empty.
	ErrNoModels = errors.New("no generation models configured")

	// ErrInvalidChunking indicates chunk size/overlap are inconsistent.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidPostgres indicates the PostgreSQL settings are incomplete.
	ErrInvalidPostgres = errors.New("invalid PostgreSQL configuration")
)

// Config is the root application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	AI       AIConfig       `mapstructure:"ai"`
	RAG      RAGConfig      `mapstructure:"rag"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// PostgresConfig holds database connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig holds the invalidation listener settings.
// An empty Addr disables the listener.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// AIConfig holds provider settings for embeddings and generation.
type AIConfig struct {
	APIKey     string `mapstructure:"api_key"`
	EmbedModel string `mapstructure:"embed_model"`
	// EmbedDimension is the fixed embedding vector length. Must match the
	// vector column width in the chunk store schema.
	EmbedDimension int `mapstructure:"embed_dimension"`
	// Models is the ordered fallback list of generation models.
	Models []string `mapstructure:"models"`
	// MaxAttempts is the number of attempts per model on rate limiting.
	MaxAttempts int `mapstructure:"max_attempts"`
	// RetryBaseDelay is multiplied by the attempt index for backoff.
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	// RequestTimeout bounds every provider call.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// RAGConfig holds the retrieval pipeline tunables. These are
// configuration constants, not load-bearing invariants.
type RAGConfig struct {
	ChunkSize         int     `mapstructure:"chunk_size"`
	ChunkOverlap      int     `mapstructure:"chunk_overlap"`
	EmbedBatchSize    int     `mapstructure:"embed_batch_size"`
	TopK              int     `mapstructure:"top_k"`
	Threshold         float64 `mapstructure:"threshold"`
	FallbackScanLimit int     `mapstructure:"fallback_scan_limit"`
	HistoryLimit      int     `mapstructure:"history_limit"`
	MaxFileBytes      int64   `mapstructure:"max_file_bytes"`
}

// Load reads configuration from file, environment and defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("quill")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/quill")

	v.SetEnvPrefix("QUILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// No config file is fine; env and defaults apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "quill")
	v.SetDefault("postgres.dbname", "quill")
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("redis.channel", "quill.invalidations")

	v.SetDefault("ai.embed_model", "text-embedding-004")
	v.SetDefault("ai.embed_dimension", 768)
	v.SetDefault("ai.models", []string{"gemini-2.5-flash", "gemini-2.0-flash"})
	v.SetDefault("ai.max_attempts", 2)
	v.SetDefault("ai.retry_base_delay", 500*time.Millisecond)
	v.SetDefault("ai.request_timeout", 2*time.Minute)

	v.SetDefault("rag.chunk_size", 1500)
	v.SetDefault("rag.chunk_overlap", 200)
	v.SetDefault("rag.embed_batch_size", 10)
	v.SetDefault("rag.top_k", 5)
	v.SetDefault("rag.threshold", 0.35)
	v.SetDefault("rag.fallback_scan_limit", 200)
	v.SetDefault("rag.history_limit", 20)
	v.SetDefault("rag.max_file_bytes", 512*1024)
}

// Validate checks settings required to serve requests.
func (c *Config) Validate() error {
	if c.AI.APIKey == "" {
		return fmt.Errorf("%w: set QUILL_AI_API_KEY", ErrMissingAPIKey)
	}
	if len(c.AI.Models) == 0 {
		return ErrNoModels
	}
	if c.RAG.ChunkSize <= 0 || c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("%w: size=%d overlap=%d", ErrInvalidChunking, c.RAG.ChunkSize, c.RAG.ChunkOverlap)
	}
	if c.Postgres.Host == "" || c.Postgres.DBName == "" {
		return ErrInvalidPostgres
	}
	return nil
}

// PostgresDSN returns the key=value DSN for pgx. The password is
// single-quoted to survive spaces and special characters.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.User,
		quoteDSNValue(c.Postgres.Password),
		c.Postgres.DBName,
		c.Postgres.SSLMode,
	)
}

// PostgresURL returns the URL form used by golang-migrate.
func (c *Config) PostgresURL() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Postgres.User, c.Postgres.Password),
		Host:     fmt.Sprintf("%s:%d", c.Postgres.Host, c.Postgres.Port),
		Path:     c.Postgres.DBName,
		RawQuery: fmt.Sprintf("sslmode=%s", c.Postgres.SSLMode),
	}
	return u.String()
}

func quoteDSNValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}
