package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ErrInvalidNamespace is returned when a namespace is not "<database>.<collection>".
var ErrInvalidNamespace = errors.New("namespace must be <database>.<collection>")

type Config struct {
	// Document database connection
	MongoURI      string
	DocDBUsername string
	DocDBPassword string
	DocDBHost     string
	DocDBPort     int

	// SSH tunnel to the document database
	SSHHost         string
	SSHPort         int
	SSHUsername     string
	SSHPassword     string
	SSHKnownHosts   string
	TunnelLocalAddr string

	// Namespaces
	SourceNamespace      string
	DestinationNamespace string
	OversizedCollection  string

	// Chunking and indexing
	TokenLimit        int
	BatchSize         int
	PageSize          int
	VectorDimensions  int
	Similarity        string
	IndexName         string
	AbortOnBatchError bool

	// Embeddings configuration
	EmbeddingsProvider    string // "bedrock" (default), "google"
	BedrockModelID        string
	AWSRegion             string
	AWSAccessKey          string
	AWSSecretKey          string
	GeminiAPIKey          string
	GoogleEmbeddingsModel string
	EmbeddingsRPS         float64

	// Redis run lock (optional)
	RedisURL       string
	RedisPassword  string
	RedisDB        int
	LockTTLMinutes int

	// Scheduling
	IngestSchedule string

	// Logging and telemetry
	LogLevel     string
	LogFile      string
	OTelEndpoint string
	ServiceName  string
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		MongoURI:      getEnv("MONGO_URI", ""),
		DocDBUsername: getEnv("DOC_DB_USERNAME", ""),
		DocDBPassword: getEnv("DOC_DB_PASSWORD", ""),
		DocDBHost:     getEnv("DOC_DB_HOST", "localhost"),
		DocDBPort:     getEnvInt("DOC_DB_PORT", 27017),

		SSHHost:         getEnv("DOC_DB_SSH_HOST", ""),
		SSHPort:         getEnvInt("DOC_DB_SSH_PORT", 22),
		SSHUsername:     getEnv("DOC_DB_SSH_USERNAME", ""),
		SSHPassword:     getEnv("DOC_DB_SSH_PASSWORD", ""),
		SSHKnownHosts:   getEnv("SSH_KNOWN_HOSTS", ""),
		TunnelLocalAddr: getEnv("TUNNEL_LOCAL_ADDR", "localhost:27017"),

		SourceNamespace:      getEnv("SOURCE_NAMESPACE", "metadata_vector_index.curated_assets"),
		DestinationNamespace: getEnv("DESTINATION_NAMESPACE", "metadata_vector_index.bigger_LANGCHAIN_curated_chunks"),
		OversizedCollection:  getEnv("OVERSIZED_COLLECTION", ""),

		TokenLimit:        getEnvInt("TOKEN_LIMIT", 8192),
		BatchSize:         getEnvInt("BATCH_SIZE", 100),
		PageSize:          getEnvInt("PAGE_SIZE", 500),
		VectorDimensions:  getEnvInt("VECTOR_DIM", 1024),
		Similarity:        getEnv("SIMILARITY", "cosine"),
		IndexName:         getEnv("INDEX_NAME", "TOKEN_LIMIT_curated_embeddings_index"),
		AbortOnBatchError: getEnvBool("ABORT_ON_BATCH_ERROR", false),

		EmbeddingsProvider:    getEnv("EMBEDDINGS_PROVIDER", "bedrock"),
		BedrockModelID:        getEnv("BEDROCK_MODEL_ID", "amazon.titan-embed-text-v2:0"),
		AWSRegion:             getEnv("AWS_REGION", "us-west-2"),
		AWSAccessKey:          getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:          getEnv("AWS_SECRET_ACCESS_KEY", ""),
		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		GoogleEmbeddingsModel: getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),
		EmbeddingsRPS:         getEnvFloat64("EMBEDDINGS_RPS", 10),

		RedisURL:       getEnv("REDIS_URL", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		LockTTLMinutes: getEnvInt("LOCK_TTL_MINUTES", 120),

		IngestSchedule: getEnv("INGEST_SCHEDULE", ""),

		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFile:      getEnv("LOG_FILE", ""),
		OTelEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:  getEnv("OTEL_SERVICE_NAME", "metadata-embeddings"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the values LoadConfig cannot default sensibly.
func (c *Config) Validate() error {
	if c.MongoURI == "" && (c.DocDBUsername == "" || c.DocDBPassword == "") {
		return fmt.Errorf("MONGO_URI or DOC_DB_USERNAME and DOC_DB_PASSWORD are required")
	}

	if c.SSHHost != "" && c.SSHUsername == "" {
		return fmt.Errorf("DOC_DB_SSH_USERNAME is required when DOC_DB_SSH_HOST is set")
	}

	if _, _, err := ParseNamespace(c.SourceNamespace); err != nil {
		return fmt.Errorf("SOURCE_NAMESPACE: %w", err)
	}
	if _, _, err := ParseNamespace(c.DestinationNamespace); err != nil {
		return fmt.Errorf("DESTINATION_NAMESPACE: %w", err)
	}

	if c.TokenLimit <= 0 {
		return fmt.Errorf("TOKEN_LIMIT must be positive, got %d", c.TokenLimit)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("PAGE_SIZE must be positive, got %d", c.PageSize)
	}
	if c.VectorDimensions <= 0 {
		return fmt.Errorf("VECTOR_DIM must be positive, got %d", c.VectorDimensions)
	}

	switch c.Similarity {
	case "cosine", "euclidean", "dotProduct":
	default:
		return fmt.Errorf("unknown SIMILARITY %q (want cosine, euclidean or dotProduct)", c.Similarity)
	}

	switch c.EmbeddingsProvider {
	case "bedrock", "":
	case "google":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for the google embeddings provider")
		}
	default:
		return fmt.Errorf("unknown EMBEDDINGS_PROVIDER %q", c.EmbeddingsProvider)
	}

	return nil
}

// ConnectionString returns MONGO_URI when set; otherwise it builds a
// DocumentDB URI from the DOC_DB_* credentials. When a tunnel is configured
// the URI points at the local end of the tunnel.
func (c *Config) ConnectionString() string {
	if c.MongoURI != "" {
		return c.MongoURI
	}

	host := net.JoinHostPort(c.DocDBHost, strconv.Itoa(c.DocDBPort))
	if c.SSHHost != "" {
		host = c.TunnelLocalAddr
	}

	u := url.URL{
		Scheme:   "mongodb",
		User:     url.UserPassword(c.DocDBUsername, c.DocDBPassword),
		Host:     host,
		Path:     "/",
		RawQuery: "directConnection=true&authMechanism=SCRAM-SHA-1&retryWrites=false",
	}
	return u.String()
}

// ParseNamespace splits "<database>.<collection>". The collection part may
// itself contain dots.
func ParseNamespace(ns string) (string, string, error) {
	db, coll, ok := strings.Cut(ns, ".")
	if !ok || db == "" || coll == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidNamespace, ns)
	}
	return db, coll, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
