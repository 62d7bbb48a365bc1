package config

import (
	"log/slog"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds runtime configuration for the API, worker, and CLI.
type Config struct {
	// Server
	Port       int    `env:"PORT" envDefault:"8080"`
	HealthPort int    `env:"HEALTH_PORT" envDefault:"8081"` // worker /healthz
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat  string `env:"LOG_FORMAT" envDefault:"json"` // "json" or "text"

	// Upload limits
	MaxUploadSize int64 `env:"MAX_UPLOAD_SIZE" envDefault:"52428800"` // 50MB in bytes

	// Store
	StoreProvider string `env:"STORE_PROVIDER" envDefault:"postgres"` // "postgres" or "memory" (documents, chunks, chat history)
	DBURL         string `env:"DB_URL"`

	// Blob storage for raw uploads, re-read on re-ingestion
	BlobDir string `env:"BLOB_DIR" envDefault:"./data/uploads"`

	// Vector index
	IndexProvider   string `env:"INDEX_PROVIDER" envDefault:"qdrant"` // "qdrant", "pgvector" or "sqlite"
	QdrantURL       string `env:"QDRANT_URL" envDefault:"http://localhost:6333"`
	QdrantAPIKey    string `env:"QDRANT_API_KEY"`
	IndexCollection string `env:"INDEX_COLLECTION" envDefault:"normas"`
	IndexDimension  int    `env:"INDEX_DIMENSION" envDefault:"1536"`
	SQLitePath      string `env:"SQLITE_PATH" envDefault:"./data/vectors.db"`

	// Queue
	QueueProvider string `env:"QUEUE_PROVIDER" envDefault:"nats"` // "nats" or "none" (no background re-ingestion)
	QueueURL      string `env:"QUEUE_URL"`

	// Cache
	CacheProvider string `env:"CACHE_PROVIDER" envDefault:"redis"` // "redis" or "none"
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	CacheTTL      int    `env:"CACHE_TTL" envDefault:"3600"` // seconds

	// LLM & Embeddings
	LLMProvider      string  `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIKey        string  `env:"OPENAI_API_KEY"`
	LLMModel         string  `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	EmbeddingModel   string  `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	EmbedRatePerSec  float64 `env:"EMBED_RATE_PER_SEC" envDefault:"0"` // 0 disables limiting
	EmbedConcurrency int     `env:"EMBED_CONCURRENCY" envDefault:"4"`
	AnswerLanguage   string  `env:"ANSWER_LANGUAGE" envDefault:"português brasileiro"`

	// Segmentation & retrieval
	ChunkSize    int     `env:"CHUNK_SIZE" envDefault:"1000"`
	ChunkOverlap int     `env:"CHUNK_OVERLAP" envDefault:"200"`
	TopK         int     `env:"TOP_K" envDefault:"5"`
	MinScore     float32 `env:"MIN_SCORE" envDefault:"0"` // 0 disables filtering

	// Access control
	AccessProvider string   `env:"ACCESS_PROVIDER" envDefault:"subscription"` // "subscription" or "static"
	AccessAllow    []string `env:"ACCESS_ALLOW" envSeparator:","`             // user ids for "static"; "*" allows everyone

	// Per-call timeouts for external providers
	ExtractTimeout    time.Duration `env:"EXTRACT_TIMEOUT" envDefault:"60s"`
	EmbedTimeout      time.Duration `env:"EMBED_TIMEOUT" envDefault:"30s"`
	IndexTimeout      time.Duration `env:"INDEX_TIMEOUT" envDefault:"15s"`
	CompletionTimeout time.Duration `env:"COMPLETION_TIMEOUT" envDefault:"45s"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		slog.Warn("failed to parse env; using defaults where set", "err", err)
	}
	return cfg
}
