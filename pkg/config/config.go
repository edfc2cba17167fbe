// Package config loads runtime configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the whole application configuration.
type Config struct {
	Database DatabaseConfig
	OpenAI   OpenAIConfig
	Webhook  WebhookConfig
	Queue    QueueConfig
	Archive  ArchiveConfig
	Git      GitConfig
	Ingest   IngestConfig
	Server   ServerConfig
	Log      LogConfig
}

// DatabaseConfig is the Postgres connection configuration.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// OpenAIConfig covers embeddings and answer generation. The per-side
// API keys default to OPENAI_API_KEY when not set separately.
type OpenAIConfig struct {
	EmbeddingAPIKey    string
	LLMAPIKey          string
	EmbeddingModel     string
	EmbeddingDimension int
	HybridEmbedding    bool
	LLMModel           string
}

// WebhookConfig is the push event receiver configuration.
type WebhookConfig struct {
	Secret string
	Branch string
}

// QueueConfig points at the SQS ingestion queue.
type QueueConfig struct {
	URL    string
	Region string
}

// ArchiveConfig points at the S3 bucket for commit archives. An empty
// bucket disables archiving.
type ArchiveConfig struct {
	Bucket string
}

// GitConfig is the clone authentication configuration.
type GitConfig struct {
	SSHKeyPath  string
	SSHPassword string
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	Workers       int
	OverlapTokens int
	JournalDir    string
}

// ServerConfig is the HTTP listener configuration.
type ServerConfig struct {
	Addr string
}

// LogConfig selects log output.
type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment. When envFilePath names
// an existing file it is loaded first; a missing file is not an error.
func Load(envFilePath string) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "reposage"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "reposage"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		OpenAI: OpenAIConfig{
			EmbeddingAPIKey:    getEnv("EMBEDDING_API_KEY", getEnv("OPENAI_API_KEY", "")),
			LLMAPIKey:          getEnv("LLM_API_KEY", getEnv("OPENAI_API_KEY", "")),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 1536),
			HybridEmbedding:    getEnvAsBool("OPENAI_HYBRID_EMBEDDING", false),
			LLMModel:           getEnv("OPENAI_LLM_MODEL", "gpt-4o-mini"),
		},
		Webhook: WebhookConfig{
			Secret: getEnv("WEBHOOK_SECRET", ""),
			Branch: getEnv("WEBHOOK_BRANCH", "refs/heads/main"),
		},
		Queue: QueueConfig{
			URL:    getEnv("QUEUE_URL", ""),
			Region: getEnv("AWS_REGION", ""),
		},
		Archive: ArchiveConfig{
			Bucket: getEnv("ARCHIVE_BUCKET", ""),
		},
		Git: GitConfig{
			SSHKeyPath:  getEnv("GIT_SSH_KEY_PATH", ""),
			SSHPassword: getEnv("GIT_SSH_PASSWORD", ""),
		},
		Ingest: IngestConfig{
			Workers:       getEnvAsInt("INGEST_WORKERS", 4),
			OverlapTokens: getEnvAsInt("INGEST_OVERLAP_TOKENS", 0),
			JournalDir:    getEnv("INGEST_JOURNAL_DIR", ""),
		},
		Server: ServerConfig{
			Addr: getEnv("SERVER_ADDR", ":8080"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// getEnv returns the variable's value, or defaultValue when unset.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt parses the variable as an integer, falling back on the
// default when unset or unparseable.
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool parses the variable as a boolean, falling back on the
// default when unset or unparseable.
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
