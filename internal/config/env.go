package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Port           string        `validate:"required"`
	LogLevel       string        `validate:"oneof=trace debug info warn error"`
	LogFormat      string        `validate:"oneof=console json"`
	RequestTimeout time.Duration `validate:"gt=0"`
	MaxUploadMB    int           `validate:"gt=0"`
	CORSOrigins    []string

	StorageBackend string `validate:"oneof=local s3"`
	DataDir        string `validate:"required"`
	AwsAccessKey   string `validate:"required_if=StorageBackend s3"`
	AwsSecretKey   string `validate:"required_if=StorageBackend s3"`
	AwsRegion      string
	BucketName     string `validate:"required_if=StorageBackend s3"`
	S3Endpoint     string

	IndexBackend     string `validate:"oneof=memory chromem pgvector"`
	IndexPath        string
	SimilarityMetric string `validate:"oneof=cosine l2"`
	SnapshotKey      string
	DatabaseURL      string `validate:"required_if=IndexBackend pgvector"`
	SslCertPath      string

	EmbedProvider  string  `validate:"oneof=gemini openai ollama"`
	EmbedModel     string
	EmbedDim       int     `validate:"gt=0"`
	EmbedBatchSize int     `validate:"gt=0,lte=100"`
	EmbedRPS       float64 `validate:"gte=0"`
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	OllamaURL      string

	LLMProvider     string        `validate:"oneof=gemini anthropic openai ollama"`
	GenModel        string
	AIAPIKey        string
	AnthropicAPIKey string
	LLMTimeout      time.Duration `validate:"gt=0"`
	LLMTemperature  float64       `validate:"gte=0,lte=2"`
	LLMMaxTokens    int           `validate:"gt=0"`

	OCREngine              string        `validate:"oneof=tesseract gemini none"`
	OCRLanguages           []string
	OCRConfidenceThreshold float64       `validate:"gte=0,lte=1"`
	OCRTimeout             time.Duration `validate:"gt=0"`
	OCRWorkers             int           `validate:"gt=0"`

	ChunkSize    int `validate:"gt=0"`
	ChunkOverlap int `validate:"gte=0,ltfield=ChunkSize"`
	ChunkSlack   int `validate:"gte=0"`

	RetrievalK  int     `validate:"gt=0"`
	ContextK    int     `validate:"gt=0,ltefield=RetrievalK"`
	MinScore    float64
	TableWeight float64 `validate:"gt=0"`
	ImageWeight float64 `validate:"gt=0"`

	RedisURL      string
	EmbedCacheTTL time.Duration

	JWTSecret    string
	APIKeyHashes []string

	WatchDir      string
	IngestWorkers int `validate:"gt=0"`

	// Warnings lists values that were ignored in favor of a default.
	Warnings []string
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Port:           "8080",
		LogLevel:       "info",
		LogFormat:      "console",
		RequestTimeout: 5 * time.Minute,
		MaxUploadMB:    50,
		CORSOrigins:    []string{"*"},

		StorageBackend: "local",
		DataDir:        "./data",
		AwsRegion:      "us-east-2",
		BucketName:     "citedoc-docs",

		IndexBackend:     "memory",
		SimilarityMetric: "cosine",

		EmbedProvider:  "gemini",
		EmbedModel:     "text-embedding-004",
		EmbedDim:       768,
		EmbedBatchSize: 16,
		OllamaURL:      "http://localhost:11434",

		LLMProvider:    "gemini",
		GenModel:       "gemini-1.5-flash",
		LLMTimeout:     60 * time.Second,
		LLMTemperature: 0.1,
		LLMMaxTokens:   1024,

		OCREngine:              "tesseract",
		OCRLanguages:           []string{"eng"},
		OCRConfidenceThreshold: 0.6,
		OCRTimeout:             30 * time.Second,
		OCRWorkers:             4,

		ChunkSize:    1000,
		ChunkOverlap: 200,
		ChunkSlack:   200,

		RetrievalK:  8,
		ContextK:    4,
		TableWeight: 1.1,
		ImageWeight: 1.0,

		EmbedCacheTTL: 24 * time.Hour,
		IngestWorkers: 1,
	}
}

// LoadConfig resolves every key from the environment first, then from CONFIG_FILE
// (a flat yaml or toml map of the same keys), then from Defaults.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	var file map[string]string
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		var err error
		if file, err = readFile(path); err != nil {
			return nil, err
		}
	}

	cfg := Defaults()
	l := newLookup(file)
	applyEnv(cfg, l)
	cfg.Warnings = l.warnings

	if cfg.IndexPath == "" {
		cfg.IndexPath = cfg.DataDir + "/index/index.snapshot"
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, l *lookup) {
	cfg.Port = l.getEnv("PORT", cfg.Port)
	cfg.LogLevel = strings.ToLower(l.getEnv("LOG_LEVEL", cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(l.getEnv("LOG_FORMAT", cfg.LogFormat))
	cfg.RequestTimeout = l.getEnvDuration("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.MaxUploadMB = l.getEnvInt("MAX_UPLOAD_MB", cfg.MaxUploadMB)
	cfg.CORSOrigins = l.getEnvList("CORS_ORIGINS", cfg.CORSOrigins)

	cfg.StorageBackend = strings.ToLower(l.getEnv("STORAGE_BACKEND", cfg.StorageBackend))
	cfg.DataDir = l.getEnv("DATA_DIR", cfg.DataDir)
	cfg.AwsAccessKey = l.getEnv("AWS_ACCESS_KEY", cfg.AwsAccessKey)
	cfg.AwsSecretKey = l.getEnv("AWS_SECRET_KEY", cfg.AwsSecretKey)
	cfg.AwsRegion = l.getEnv("AWS_REGION", cfg.AwsRegion)
	cfg.BucketName = l.getEnv("BUCKET_NAME", cfg.BucketName)
	cfg.S3Endpoint = l.getEnv("S3_ENDPOINT", cfg.S3Endpoint)

	cfg.IndexBackend = strings.ToLower(l.getEnv("INDEX_BACKEND", cfg.IndexBackend))
	cfg.IndexPath = l.getEnv("INDEX_PATH", cfg.IndexPath)
	cfg.SimilarityMetric = strings.ToLower(l.getEnv("SIMILARITY_METRIC", cfg.SimilarityMetric))
	cfg.SnapshotKey = l.getEnv("SNAPSHOT_KEY", cfg.SnapshotKey)
	cfg.DatabaseURL = l.getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.SslCertPath = l.getEnv("SSL_CERT_PATH", cfg.SslCertPath)

	cfg.EmbedProvider = strings.ToLower(l.getEnv("EMBED_PROVIDER", cfg.EmbedProvider))
	cfg.EmbedModel = l.getEnv("EMBED_MODEL", cfg.EmbedModel)
	cfg.EmbedDim = l.getEnvInt("EMBED_DIM", cfg.EmbedDim)
	cfg.EmbedBatchSize = l.getEnvInt("EMBED_BATCH_SIZE", cfg.EmbedBatchSize)
	cfg.EmbedRPS = l.getEnvFloat("EMBED_RPS", cfg.EmbedRPS)
	cfg.OpenAIAPIKey = l.getEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = l.getEnv("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.OllamaURL = l.getEnv("OLLAMA_URL", cfg.OllamaURL)

	cfg.LLMProvider = strings.ToLower(l.getEnv("LLM_PROVIDER", cfg.LLMProvider))
	cfg.GenModel = l.getEnv("GEN_MODEL", cfg.GenModel)
	cfg.AIAPIKey = l.getEnv("GEMINI_API_KEY", cfg.AIAPIKey)
	cfg.AnthropicAPIKey = l.getEnv("ANTHROPIC_API_KEY", cfg.AnthropicAPIKey)
	cfg.LLMTimeout = l.getEnvDuration("LLM_TIMEOUT", cfg.LLMTimeout)
	cfg.LLMTemperature = l.getEnvFloat("LLM_TEMPERATURE", cfg.LLMTemperature)
	cfg.LLMMaxTokens = l.getEnvInt("LLM_MAX_TOKENS", cfg.LLMMaxTokens)

	cfg.OCREngine = strings.ToLower(l.getEnv("OCR_ENGINE", cfg.OCREngine))
	cfg.OCRLanguages = l.getEnvList("OCR_LANGUAGES", cfg.OCRLanguages)
	cfg.OCRConfidenceThreshold = l.getEnvFloat("OCR_CONFIDENCE_THRESHOLD", cfg.OCRConfidenceThreshold)
	cfg.OCRTimeout = l.getEnvDuration("OCR_TIMEOUT", cfg.OCRTimeout)
	cfg.OCRWorkers = l.getEnvInt("OCR_WORKERS", cfg.OCRWorkers)

	cfg.ChunkSize = l.getEnvInt("CHUNK_SIZE", cfg.ChunkSize)
	cfg.ChunkOverlap = l.getEnvInt("CHUNK_OVERLAP", cfg.ChunkOverlap)
	cfg.ChunkSlack = l.getEnvInt("CHUNK_SLACK", cfg.ChunkSlack)

	cfg.RetrievalK = l.getEnvInt("RETRIEVAL_K", cfg.RetrievalK)
	cfg.ContextK = l.getEnvInt("CONTEXT_K", cfg.ContextK)
	cfg.MinScore = l.getEnvFloat("MIN_SCORE", cfg.MinScore)
	cfg.TableWeight = l.getEnvFloat("TABLE_WEIGHT", cfg.TableWeight)
	cfg.ImageWeight = l.getEnvFloat("IMAGE_WEIGHT", cfg.ImageWeight)

	cfg.RedisURL = l.getEnv("REDIS_URL", cfg.RedisURL)
	cfg.EmbedCacheTTL = l.getEnvDuration("EMBED_CACHE_TTL", cfg.EmbedCacheTTL)

	cfg.JWTSecret = l.getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.APIKeyHashes = l.getEnvList("API_KEY_HASHES", cfg.APIKeyHashes)

	cfg.WatchDir = l.getEnv("WATCH_DIR", cfg.WatchDir)
	cfg.IngestWorkers = l.getEnvInt("INGEST_WORKERS", cfg.IngestWorkers)
}

// Validate checks field constraints and cross-field rules.
func Validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.IndexBackend == "chromem" && cfg.SimilarityMetric != "cosine" {
		return fmt.Errorf("invalid config: chromem index supports only cosine similarity")
	}
	return nil
}

// lookup reads a key from the environment, then from the config file values,
// and records every value it had to discard.
type lookup struct {
	file     map[string]string
	warnings []string
}

func newLookup(file map[string]string) *lookup {
	return &lookup{file: file}
}

func (l *lookup) get(key string) (string, bool) {
	if value, exists := os.LookupEnv(key); exists {
		return value, true
	}
	value, exists := l.file[key]
	return value, exists
}

// Helper to read a key with a default fallback
func (l *lookup) getEnv(key, fallback string) string {
	if value, exists := l.get(key); exists {
		return value
	}
	return fallback
}

func (l *lookup) getEnvInt(key string, def int) int {
	v := l.getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.warn(key, v, def)
		return def
	}
	return n
}

func (l *lookup) getEnvFloat(key string, def float64) float64 {
	v := l.getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		l.warn(key, v, def)
		return def
	}
	return f
}

func (l *lookup) getEnvDuration(key string, def time.Duration) time.Duration {
	v := l.getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.warn(key, v, def)
		return def
	}
	return d
}

func (l *lookup) getEnvList(key string, def []string) []string {
	v, ok := l.get(key)
	if !ok {
		return def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (l *lookup) warn(key, value string, def any) {
	l.warnings = append(l.warnings, fmt.Sprintf("%s=%q is invalid, using default %v", key, value, def))
}
