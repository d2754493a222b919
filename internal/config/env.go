package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MaxEmbedBatch is the largest batch the embedding providers accept in one call.
const MaxEmbedBatch = 50

type Config struct {
	DatabaseURL string
	SslCertPath string

	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string
	S3Endpoint   string

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	IngestStream   string
	ResponseStream string
	ConsumerGroup  string
	ConsumerName   string

	EmbedProvider string // "http" or "gemini"
	EmbedURL      string
	EmbedAPIKey   string
	AIAPIKey      string
	EmbedModel    string
	EmbedDim      int
	EmbedMaxBatch int

	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
	BatchTimeout time.Duration
	JobTimeout   time.Duration

	RetryAttempts     int
	RetryInitialDelay time.Duration
	RetryMultiplier   float64
	RetryMaxDelay     time.Duration
	ClaimMinIdle      time.Duration

	StaleProcessingAfter time.Duration
	SweepInterval        time.Duration

	RetrievalTopK int

	JWTSecret         string
	Port              string
	AllowedOrigins    []string
	WorkerMetricsAddr string
}

// LoadConfig loads the environment variables and returns a validated config.
func LoadConfig() (*Config, error) {

	_ = godotenv.Load()

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "docpipe-worker"
	}

	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		SslCertPath: getEnv("SSL_CERT_PATH", ""),

		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "docpipe-documents"),
		S3Endpoint:   getEnv("S3_ENDPOINT", ""),

		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		IngestStream:   getEnv("INGEST_STREAM", "ingest.jobs"),
		ResponseStream: getEnv("RESPONSE_STREAM", "response.jobs"),
		ConsumerGroup:  getEnv("CONSUMER_GROUP", "ingestion-workers"),
		ConsumerName:   getEnv("CONSUMER_NAME", hostname),

		EmbedProvider: strings.ToLower(getEnv("EMBED_PROVIDER", "http")),
		EmbedURL:      getEnv("EMBED_URL", "http://localhost:8081/embed"),
		EmbedAPIKey:   getEnv("EMBED_API_KEY", ""),
		AIAPIKey:      getEnv("GEMINI_API_KEY", ""),
		EmbedModel:    getEnv("EMBED_MODEL", "sentence-transformers/all-MiniLM-L6-v2"),
		EmbedDim:      getEnvInt("EMBED_DIM", 384),
		EmbedMaxBatch: getEnvInt("EMBED_MAX_BATCH", MaxEmbedBatch),

		ChunkSize:    getEnvInt("CHUNK_SIZE", 250),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 30),
		BatchSize:    getEnvInt("BATCH_SIZE", 5),
		BatchTimeout: getEnvDuration("BATCH_TIMEOUT", 2*time.Minute),
		JobTimeout:   getEnvDuration("JOB_TIMEOUT", 30*time.Minute),

		RetryAttempts:     getEnvInt("RETRY_ATTEMPTS", 3),
		RetryInitialDelay: getEnvDuration("RETRY_INITIAL_DELAY", 2*time.Second),
		RetryMultiplier:   getEnvFloat("RETRY_MULTIPLIER", 2),
		RetryMaxDelay:     getEnvDuration("RETRY_MAX_DELAY", time.Minute),
		ClaimMinIdle:      getEnvDuration("CLAIM_MIN_IDLE", 5*time.Minute),

		StaleProcessingAfter: getEnvDuration("STALE_PROCESSING_AFTER", 45*time.Minute),
		SweepInterval:        getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),

		RetrievalTopK: getEnvInt("RETRIEVAL_TOP_K", 5),

		JWTSecret:         getEnv("JWT_SECRET", ""),
		Port:              getEnv("PORT", "8080"),
		AllowedOrigins:    getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		WorkerMetricsAddr: getEnv("WORKER_METRICS_ADDR", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL not set"))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE must be > 0, got %d", c.ChunkSize))
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		errs = append(errs, fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", c.ChunkOverlap))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("BATCH_SIZE must be > 0, got %d", c.BatchSize))
	}
	if c.EmbedMaxBatch > MaxEmbedBatch || c.EmbedMaxBatch < c.BatchSize {
		errs = append(errs, fmt.Errorf("EMBED_MAX_BATCH must be in [BATCH_SIZE, %d], got %d", MaxEmbedBatch, c.EmbedMaxBatch))
	}
	if c.EmbedDim <= 0 {
		errs = append(errs, fmt.Errorf("EMBED_DIM must be > 0, got %d", c.EmbedDim))
	}
	switch c.EmbedProvider {
	case "http", "gemini":
	default:
		errs = append(errs, fmt.Errorf("EMBED_PROVIDER %q is not one of http, gemini", c.EmbedProvider))
	}
	if c.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("RETRY_ATTEMPTS must be >= 1, got %d", c.RetryAttempts))
	}
	if c.RetryMultiplier < 1 {
		errs = append(errs, fmt.Errorf("RETRY_MULTIPLIER must be >= 1, got %g", c.RetryMultiplier))
	}
	if c.JobTimeout <= 0 || c.BatchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("JOB_TIMEOUT and BATCH_TIMEOUT must be > 0, got %s and %s", c.JobTimeout, c.BatchTimeout))
	}
	// The last batch may run BATCH_TIMEOUT past JOB_TIMEOUT on a detached context.
	if longest := c.JobTimeout + c.BatchTimeout; c.StaleProcessingAfter <= longest {
		errs = append(errs, fmt.Errorf("STALE_PROCESSING_AFTER must exceed JOB_TIMEOUT + BATCH_TIMEOUT (%s), got %s", longest, c.StaleProcessingAfter))
	}
	if c.ClaimMinIdle <= 0 {
		errs = append(errs, fmt.Errorf("CLAIM_MIN_IDLE must be > 0, got %s", c.ClaimMinIdle))
	}
	if c.RetrievalTopK <= 0 {
		errs = append(errs, fmt.Errorf("RETRIEVAL_TOP_K must be > 0, got %d", c.RetrievalTopK))
	}
	return errors.Join(errs...)
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("WARN: %s=%q not a number, using default %g", key, v, def)
		return def
	}
	return f
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a duration, using default %s", key, v, def)
		return def
	}
	return d
}

func getEnvList(key string, def []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
