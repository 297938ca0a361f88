package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	LLM       LLMConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Ingest    IngestConfig
	Retrieval RetrievalConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type LLMConfig struct {
	// Provider selects the backend once at startup: "ollama" or "mock".
	Provider   string
	BaseURL    string
	ChatModel  string
	EmbedModel string
}

type RedisConfig struct {
	// Addr empty means no Redis: cache and memory fall back to the
	// in-process KV store (degraded persistence, same behavior).
	Addr     string
	Password string
	DB       int
}

type StorageConfig struct {
	DataDir string
}

type IngestConfig struct {
	DocumentsFolder string
	ChunkSize       int
	ChunkOverlap    int
	MinChunkSize    int
	MaxUploadBytes  int64
}

type RetrievalConfig struct {
	TopK          int
	HistoryLength int
	AnswerTTL     time.Duration
	EmbeddingTTL  time.Duration
	SearchTTL     time.Duration
	SessionTTL    time.Duration
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8000,
		},
		LLM: LLMConfig{
			Provider:   "ollama",
			BaseURL:    "http://localhost:11434",
			ChatModel:  "mistral-nemo",
			EmbedModel: "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Ingest: IngestConfig{
			DocumentsFolder: "./documents",
			ChunkSize:       1000,
			ChunkOverlap:    200,
			MinChunkSize:    20,
			MaxUploadBytes:  50 << 20,
		},
		Retrieval: RetrievalConfig{
			TopK:          5,
			HistoryLength: 10,
			AnswerTTL:     30 * time.Minute,
			EmbeddingTTL:  24 * time.Hour,
			SearchTTL:     30 * time.Minute,
			SessionTTL:    time.Hour,
		},
		RateLimit: RateLimitConfig{
			Requests: 60,
			Window:   time.Minute,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".docrag"
	}
	return filepath.Join(home, ".docrag")
}

// Load reads configuration from a local .env file (if present) and
// DOCRAG_* environment variables layered over built-in defaults.
// Environment variables always win over the .env file.
func Load() (Config, error) {
	// Ignore a missing .env; env vars alone are a valid configuration.
	_ = godotenv.Load()
	return loadFromEnv(os.Getenv)
}

func loadFromEnv(getenv func(string) string) (Config, error) {
	cfg := defaults()

	setInt(getenv, "DOCRAG_PORT", &cfg.Server.Port)
	setString(getenv, "DOCRAG_API_TOKEN", &cfg.Server.APIToken)

	setString(getenv, "DOCRAG_LLM_PROVIDER", &cfg.LLM.Provider)
	setString(getenv, "DOCRAG_LLM_BASE_URL", &cfg.LLM.BaseURL)
	setString(getenv, "DOCRAG_CHAT_MODEL", &cfg.LLM.ChatModel)
	setString(getenv, "DOCRAG_EMBED_MODEL", &cfg.LLM.EmbedModel)

	setString(getenv, "DOCRAG_REDIS_ADDR", &cfg.Redis.Addr)
	setString(getenv, "DOCRAG_REDIS_PASSWORD", &cfg.Redis.Password)
	setInt(getenv, "DOCRAG_REDIS_DB", &cfg.Redis.DB)

	setString(getenv, "DOCRAG_DATA_DIR", &cfg.Storage.DataDir)

	setString(getenv, "DOCRAG_DOCUMENTS_FOLDER", &cfg.Ingest.DocumentsFolder)
	setInt(getenv, "DOCRAG_CHUNK_SIZE", &cfg.Ingest.ChunkSize)
	setInt(getenv, "DOCRAG_CHUNK_OVERLAP", &cfg.Ingest.ChunkOverlap)
	setInt(getenv, "DOCRAG_MIN_CHUNK_SIZE", &cfg.Ingest.MinChunkSize)

	setInt(getenv, "DOCRAG_TOP_K", &cfg.Retrieval.TopK)
	setInt(getenv, "DOCRAG_HISTORY_LENGTH", &cfg.Retrieval.HistoryLength)
	setDuration(getenv, "DOCRAG_ANSWER_TTL", &cfg.Retrieval.AnswerTTL)
	setDuration(getenv, "DOCRAG_EMBEDDING_TTL", &cfg.Retrieval.EmbeddingTTL)
	setDuration(getenv, "DOCRAG_SEARCH_TTL", &cfg.Retrieval.SearchTTL)
	setDuration(getenv, "DOCRAG_SESSION_TTL", &cfg.Retrieval.SessionTTL)

	setInt(getenv, "DOCRAG_RATE_LIMIT", &cfg.RateLimit.Requests)
	setDuration(getenv, "DOCRAG_RATE_WINDOW", &cfg.RateLimit.Window)

	setString(getenv, "DOCRAG_LOG_LEVEL", &cfg.Log.Level)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.LLM.Provider {
	case "ollama", "mock":
	default:
		return fmt.Errorf("unsupported LLM provider %q (want ollama or mock)", cfg.LLM.Provider)
	}
	if cfg.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", cfg.Ingest.ChunkSize)
	}
	if cfg.Ingest.ChunkOverlap < 0 || cfg.Ingest.ChunkOverlap >= cfg.Ingest.ChunkSize {
		return fmt.Errorf("chunk overlap %d must be in [0, chunk size)", cfg.Ingest.ChunkOverlap)
	}
	if cfg.Retrieval.TopK <= 0 {
		return fmt.Errorf("top-k must be positive, got %d", cfg.Retrieval.TopK)
	}
	if cfg.Retrieval.HistoryLength <= 0 {
		return fmt.Errorf("history length must be positive, got %d", cfg.Retrieval.HistoryLength)
	}
	return nil
}

func setString(getenv func(string) string, key string, dst *string) {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(getenv func(string) string, key string, dst *int) {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(getenv func(string) string, key string, dst *time.Duration) {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
