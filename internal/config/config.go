package config

import (
	"context"
	"time"
)

// ListenerConfig holds the network settings for the HTTP listener.
type ListenerConfig struct {
	Port              int
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// ScoringWeights are the hybrid ranking weights. They are not required
// to sum to 1; any non-negative values are accepted.
type ScoringWeights struct {
	Similarity float64
	Recency    float64
	Importance float64
}

// PruneConfig holds the default thresholds for the pruning policy.
type PruneConfig struct {
	MaxAgeDays          int
	InactiveDays        int
	ImportanceThreshold float64
	Take                int
}

// Config holds all configuration for the recall service.
type Config struct {
	// Database
	DBURL string

	// Datastore backend type: "postgres" or "sqlite".
	DatastoreType string

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Cache backend type: "redis" or "none".
	CacheType string

	// Redis
	RedisURL string

	// Session summary cache TTL.
	SessionCacheTTL time.Duration

	// Embedding type: "none", "openai", or "ollama".
	EmbedType string

	// When true, retrieval and storage fail hard if the embedding
	// provider is disabled or failing instead of degrading to the
	// lexical fallback.
	RequireEmbeddings bool

	// Per-call timeout for embedding provider requests.
	EmbedTimeout time.Duration

	// OpenAI-compatible provider
	OpenAIAPIKey     string
	OpenAIModelName  string
	OpenAIBaseURL    string
	OpenAIDimensions int

	// Ollama provider
	OllamaURL   string
	OllamaModel string

	// Hybrid ranking weights.
	Weights ScoringWeights

	// RecencyHalfLife is the exponential-decay half-life for the recency score.
	RecencyHalfLife time.Duration

	// MinSimilarity is the default similarity floor for retrieval.
	MinSimilarity float64

	// MaxTextLength is the hard cap applied to stored text and queries.
	MaxTextLength int

	// CompressLength is the max length of the stored display summary.
	CompressLength int

	// Duplicate guard: only memories created within DuplicateWindow and
	// with similarity above DuplicateThreshold are merged.
	DuplicateWindow    time.Duration
	DuplicateThreshold float64

	// CandidateLimit is the retrieval over-fetch size.
	CandidateLimit int

	// DefaultResultLimit caps the number of results per retrieval.
	DefaultResultLimit int

	// DefaultTokenBudget is the estimated-token budget per retrieval.
	DefaultTokenBudget int

	// Pruning defaults.
	Prune PruneConfig

	// Server
	Listener    ListenerConfig
	CORSEnabled bool
	CORSOrigins string
	MaxBodySize int64

	// Graceful shutdown drain timeout (seconds).
	DrainTimeout int

	// Security
	// APIKeys maps API key values to client IDs (RECALL_API_KEYS_<CLIENT_ID>=<key>).
	APIKeys       map[string]string
	OIDCIssuer    string
	AdminOIDCRole string

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR}
	// expansion. Defaults to "service=recall-service".
	MetricsLabels string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DatastoreType:           "postgres",
		DatastoreMigrateAtStart: true,
		DBMaxOpenConns:          25,
		DBMaxIdleConns:          5,
		CacheType:               "none",
		SessionCacheTTL:         time.Minute,
		EmbedType:               "none",
		EmbedTimeout:            10 * time.Second,
		OpenAIModelName:         "text-embedding-3-small",
		OpenAIBaseURL:           "https://api.openai.com/v1",
		OllamaURL:               "http://127.0.0.1:11434",
		OllamaModel:             "nomic-embed-text",
		Weights: ScoringWeights{
			Similarity: 0.5,
			Recency:    0.2,
			Importance: 0.3,
		},
		RecencyHalfLife:    24 * time.Hour,
		MinSimilarity:      0.5,
		MaxTextLength:      4000,
		CompressLength:     220,
		DuplicateWindow:    24 * time.Hour,
		DuplicateThreshold: 0.95,
		CandidateLimit:     200,
		DefaultResultLimit: 10,
		DefaultTokenBudget: 1000,
		Prune: PruneConfig{
			MaxAgeDays:          90,
			InactiveDays:        30,
			ImportanceThreshold: 0.3,
			Take:                500,
		},
		Listener: ListenerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
		},
		MaxBodySize:   1 * 1024 * 1024,
		DrainTimeout:  30,
		AdminOIDCRole: "admin",
		MetricsLabels: "service=recall-service",
	}
}
