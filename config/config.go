package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Port         string `yaml:"port"`
	APITokenHash string `yaml:"api_token_hash"` // bcrypt hash; empty disables the ingest guard
}

// DatabaseConfig selects the relational store
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "pgx" or "sqlite"
	URL    string `yaml:"url"`
}

// StorageConfig selects where uploaded documents are kept
type StorageConfig struct {
	Type      string `yaml:"type"` // "local", "s3" or "gcs"
	LocalPath string `yaml:"local_path"`
	S3Bucket  string `yaml:"s3_bucket"`
	S3Region  string `yaml:"s3_region"`
	GCSBucket string `yaml:"gcs_bucket"`

	// AllowAnyLocalPath lets local sources point outside LocalPath. Only
	// set in code by trusted commands, never from a file or the environment.
	AllowAnyLocalPath bool `yaml:"-"`
}

// LLMConfig configures completion and embedding providers
type LLMConfig struct {
	Provider          string  `yaml:"provider"`           // completion: "gemini" or "ollama"
	EmbeddingProvider string  `yaml:"embedding_provider"` // "gemini", "ollama" or "hashing"
	GeminiAPIKey      string  `yaml:"-"`
	GeminiModel       string  `yaml:"gemini_model"`
	GeminiEmbedModel  string  `yaml:"gemini_embed_model"`
	OllamaURL         string  `yaml:"ollama_url"`
	OllamaModel       string  `yaml:"ollama_model"`
	OllamaEmbedModel  string  `yaml:"ollama_embed_model"`
	Dimension         int     `yaml:"dimension"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// VectorIndexConfig selects the vector index backend
type VectorIndexConfig struct {
	Type             string `yaml:"type"` // "memory", "pgvector" or "qdrant"
	QdrantHost       string `yaml:"qdrant_host"`
	QdrantPort       int    `yaml:"qdrant_port"`
	QdrantCollection string `yaml:"qdrant_collection"`
	QdrantAPIKey     string `yaml:"-"`
}

// ChunkerConfig bounds chunk sizes in bytes
type ChunkerConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
	MinSize int `yaml:"min_size"`
}

// IngestionConfig bounds ingestion concurrency and call latency
type IngestionConfig struct {
	Concurrency           int `yaml:"concurrency"`
	ExtractionTimeoutSecs int `yaml:"extraction_timeout_secs"`
	EmbeddingTimeoutSecs  int `yaml:"embedding_timeout_secs"`
}

// MatchingConfig holds the retrieval thresholds
type MatchingConfig struct {
	TopK                   int     `yaml:"top_k"`
	SimilarityThreshold    float64 `yaml:"similarity_threshold"`
	ConfidenceThreshold    float64 `yaml:"confidence_threshold"`
	TieEpsilon             float64 `yaml:"tie_epsilon"`
	RiskMargin             float64 `yaml:"risk_margin"`
	MaxClarificationRounds int     `yaml:"max_clarification_rounds"`
	ExhaustionPenalty      float64 `yaml:"exhaustion_penalty"`
}

// SessionConfig selects where pending clarifications are kept
type SessionConfig struct {
	Type          string `yaml:"type"` // "memory" or "redis"
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"-"`
	RedisDB       int    `yaml:"redis_db"`
	TTLMinutes    int    `yaml:"ttl_minutes"`
}

// TelemetryConfig enables OTLP export when an endpoint is set
type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Jurisdiction is a region the matcher can recognise in feature text
type Jurisdiction struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

// Config is the root application configuration
type Config struct {
	Server        ServerConfig      `yaml:"server"`
	Database      DatabaseConfig    `yaml:"database"`
	Storage       StorageConfig     `yaml:"storage"`
	LLM           LLMConfig         `yaml:"llm"`
	VectorIndex   VectorIndexConfig `yaml:"vector_index"`
	Chunker       ChunkerConfig     `yaml:"chunker"`
	Ingestion     IngestionConfig   `yaml:"ingestion"`
	Matching      MatchingConfig    `yaml:"matching"`
	Session       SessionConfig     `yaml:"session"`
	Telemetry     TelemetryConfig   `yaml:"telemetry"`
	Jurisdictions []Jurisdiction    `yaml:"jurisdictions"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: "8080"},
		Database: DatabaseConfig{Driver: "sqlite", URL: "file:geocompliance.db?_pragma=busy_timeout(5000)"},
		Storage:  StorageConfig{Type: "local", LocalPath: "./storage/files", S3Region: "us-east-1"},
		LLM: LLMConfig{
			Provider:          "gemini",
			EmbeddingProvider: "gemini",
			GeminiModel:       "gemini-2.5-flash",
			GeminiEmbedModel:  "gemini-embedding-001",
			OllamaURL:         "http://localhost:11434",
			OllamaModel:       "llama3.1",
			OllamaEmbedModel:  "nomic-embed-text",
			Dimension:         768,
			RequestsPerSecond: 5,
			Burst:             5,
		},
		VectorIndex: VectorIndexConfig{
			Type:             "memory",
			QdrantHost:       "localhost",
			QdrantPort:       6334,
			QdrantCollection: "regulations",
		},
		Chunker:   ChunkerConfig{Size: 2000, Overlap: 200, MinSize: 200},
		Ingestion: IngestionConfig{Concurrency: 4, ExtractionTimeoutSecs: 60, EmbeddingTimeoutSecs: 30},
		Matching: MatchingConfig{
			TopK:                   20,
			SimilarityThreshold:    0.7,
			ConfidenceThreshold:    0.8,
			TieEpsilon:             0.05,
			RiskMargin:             0.05,
			MaxClarificationRounds: 3,
			ExhaustionPenalty:      0.75,
		},
		Session:   SessionConfig{Type: "memory", RedisAddr: "localhost:6379", TTLMinutes: 15},
		Telemetry: TelemetryConfig{ServiceName: "geocompliance-backend"},
		Jurisdictions: []Jurisdiction{
			{Code: "UT", Name: "Utah"},
			{Code: "CA", Name: "California"},
			{Code: "FL", Name: "Florida"},
			{Code: "TX", Name: "Texas"},
			{Code: "NY", Name: "New York"},
			{Code: "VA", Name: "Virginia"},
			{Code: "EU", Name: "European Union"},
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (optional,
// a missing file is not an error) and finally environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}
	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// LoadFromEnv reads CONFIG_FILE (default ./config.yaml) and applies the environment
func LoadFromEnv() (*Config, error) {
	return Load(envOrDefault("CONFIG_FILE", "config.yaml"))
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = envOrDefault("PORT", cfg.Server.Port)
	cfg.Server.APITokenHash = envOrDefault("API_TOKEN_HASH", cfg.Server.APITokenHash)

	cfg.Database.URL = envOrDefault("DATABASE_URL", cfg.Database.URL)
	cfg.Database.Driver = envOrDefault("DATABASE_DRIVER", cfg.Database.Driver)
	if os.Getenv("DATABASE_DRIVER") == "" && strings.HasPrefix(cfg.Database.URL, "postgres") {
		cfg.Database.Driver = "pgx"
	}

	cfg.Storage.Type = envOrDefault("STORAGE_TYPE", cfg.Storage.Type)
	cfg.Storage.LocalPath = envOrDefault("STORAGE_LOCAL_PATH", cfg.Storage.LocalPath)
	cfg.Storage.S3Bucket = envOrDefault("AWS_S3_BUCKET", cfg.Storage.S3Bucket)
	cfg.Storage.S3Region = envOrDefault("AWS_REGION", cfg.Storage.S3Region)
	cfg.Storage.GCSBucket = envOrDefault("GCS_BUCKET", cfg.Storage.GCSBucket)

	cfg.LLM.Provider = envOrDefault("LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.EmbeddingProvider = envOrDefault("EMBEDDING_PROVIDER", cfg.LLM.EmbeddingProvider)
	cfg.LLM.GeminiAPIKey = envOrDefault("GEMINI_API_KEY", cfg.LLM.GeminiAPIKey)
	cfg.LLM.GeminiModel = envOrDefault("GEMINI_MODEL", cfg.LLM.GeminiModel)
	cfg.LLM.GeminiEmbedModel = envOrDefault("GEMINI_EMBED_MODEL", cfg.LLM.GeminiEmbedModel)
	cfg.LLM.OllamaURL = envOrDefault("OLLAMA_BASE_URL", cfg.LLM.OllamaURL)
	cfg.LLM.OllamaModel = envOrDefault("OLLAMA_CHAT_MODEL", cfg.LLM.OllamaModel)
	cfg.LLM.OllamaEmbedModel = envOrDefault("OLLAMA_EMBED_MODEL", cfg.LLM.OllamaEmbedModel)
	cfg.LLM.Dimension = envOrDefaultInt("EMBEDDING_DIMENSION", cfg.LLM.Dimension)
	cfg.LLM.RequestsPerSecond = envOrDefaultFloat("LLM_REQUESTS_PER_SECOND", cfg.LLM.RequestsPerSecond)

	cfg.VectorIndex.Type = envOrDefault("VECTOR_INDEX", cfg.VectorIndex.Type)
	cfg.VectorIndex.QdrantHost = envOrDefault("QDRANT_HOST", cfg.VectorIndex.QdrantHost)
	cfg.VectorIndex.QdrantPort = envOrDefaultInt("QDRANT_PORT", cfg.VectorIndex.QdrantPort)
	cfg.VectorIndex.QdrantCollection = envOrDefault("QDRANT_COLLECTION", cfg.VectorIndex.QdrantCollection)
	cfg.VectorIndex.QdrantAPIKey = envOrDefault("QDRANT_API_KEY", cfg.VectorIndex.QdrantAPIKey)

	cfg.Ingestion.Concurrency = envOrDefaultInt("INGEST_CONCURRENCY", cfg.Ingestion.Concurrency)

	cfg.Session.Type = envOrDefault("SESSION_STORE", cfg.Session.Type)
	cfg.Session.RedisAddr = envOrDefault("REDIS_ADDR", cfg.Session.RedisAddr)
	cfg.Session.RedisPassword = envOrDefault("REDIS_PASSWORD", cfg.Session.RedisPassword)
	cfg.Session.RedisDB = envOrDefaultInt("REDIS_DB", cfg.Session.RedisDB)

	cfg.Telemetry.OTLPEndpoint = envOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
	cfg.Telemetry.ServiceName = envOrDefault("OTEL_SERVICE_NAME", cfg.Telemetry.ServiceName)
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Chunker.Size <= 0 {
		cfg.Chunker.Size = def.Chunker.Size
	}
	if cfg.Chunker.Overlap < 0 {
		cfg.Chunker.Overlap = 0
	}
	if cfg.Chunker.Overlap > cfg.Chunker.Size/2 {
		cfg.Chunker.Overlap = cfg.Chunker.Size / 2
	}
	if cfg.Ingestion.Concurrency <= 0 {
		cfg.Ingestion.Concurrency = def.Ingestion.Concurrency
	}
	if cfg.Ingestion.ExtractionTimeoutSecs <= 0 {
		cfg.Ingestion.ExtractionTimeoutSecs = def.Ingestion.ExtractionTimeoutSecs
	}
	if cfg.Ingestion.EmbeddingTimeoutSecs <= 0 {
		cfg.Ingestion.EmbeddingTimeoutSecs = def.Ingestion.EmbeddingTimeoutSecs
	}
	if cfg.Matching.TopK <= 0 {
		cfg.Matching.TopK = def.Matching.TopK
	}
	if cfg.Matching.MaxClarificationRounds <= 0 {
		cfg.Matching.MaxClarificationRounds = def.Matching.MaxClarificationRounds
	}
	if cfg.Matching.ExhaustionPenalty <= 0 || cfg.Matching.ExhaustionPenalty > 1 {
		cfg.Matching.ExhaustionPenalty = def.Matching.ExhaustionPenalty
	}
	if cfg.Session.TTLMinutes <= 0 {
		cfg.Session.TTLMinutes = def.Session.TTLMinutes
	}
	if cfg.LLM.Dimension <= 0 {
		cfg.LLM.Dimension = def.LLM.Dimension
	}
	if len(cfg.Jurisdictions) == 0 {
		cfg.Jurisdictions = def.Jurisdictions
	}
}

// ExtractionTimeout is the per-call deadline for extraction completions
func (c *Config) ExtractionTimeout() time.Duration {
	return time.Duration(c.Ingestion.ExtractionTimeoutSecs) * time.Second
}

// EmbeddingTimeout is the per-call deadline for embedding requests
func (c *Config) EmbeddingTimeout() time.Duration {
	return time.Duration(c.Ingestion.EmbeddingTimeoutSecs) * time.Second
}

// SessionTTL is how long a pending clarification stays resumable
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLMinutes) * time.Minute
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}
