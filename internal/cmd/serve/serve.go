package serve

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/recall-service/internal/config"
	registrycache "github.com/chirino/recall-service/internal/registry/cache"
	registryembed "github.com/chirino/recall-service/internal/registry/embed"
	registrystore "github.com/chirino/recall-service/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/chirino/recall-service/internal/plugin/cache/noop"
	_ "github.com/chirino/recall-service/internal/plugin/cache/redis"
	_ "github.com/chirino/recall-service/internal/plugin/embed/disabled"
	_ "github.com/chirino/recall-service/internal/plugin/embed/ollama"
	_ "github.com/chirino/recall-service/internal/plugin/embed/openai"
	_ "github.com/chirino/recall-service/internal/plugin/route/system"
	_ "github.com/chirino/recall-service/internal/plugin/store/postgres"
	_ "github.com/chirino/recall-service/internal/plugin/store/sqlite"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var readHeaderTimeoutSecs int = 5
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the recall service HTTP server",
		Flags: flags(&cfg, &readHeaderTimeoutSecs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := cfg.ApplyCompatFromEnv(); err != nil {
				return err
			}
			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs *int) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Server:",
			Sources:     cli.EnvVars("RECALL_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("RECALL_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.IntFlag{
			Name:        "drain-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("RECALL_DRAIN_TIMEOUT_SECONDS"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Graceful shutdown drain timeout in seconds",
		},
		&cli.BoolFlag{
			Name:        "cors",
			Category:    "Server:",
			Sources:     cli.EnvVars("RECALL_CORS"),
			Destination: &cfg.CORSEnabled,
			Usage:       "Enable CORS handling",
		},
		&cli.StringFlag{
			Name:        "cors-origins",
			Category:    "Server:",
			Sources:     cli.EnvVars("RECALL_CORS_ORIGINS"),
			Destination: &cfg.CORSOrigins,
			Usage:       "Comma-separated allowed CORS origins (default: any)",
		},

		// ── Database ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Database:",
			Sources:     cli.EnvVars("RECALL_DB_KIND"),
			Destination: &cfg.DatastoreType,
			Value:       cfg.DatastoreType,
			Usage:       "Backend store (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("RECALL_DB_URL", "DATABASE_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Database connection URL",
			Required:    true,
		},
		&cli.BoolFlag{
			Name:        "db-migrate",
			Category:    "Database:",
			Sources:     cli.EnvVars("RECALL_DB_MIGRATE"),
			Destination: &cfg.DatastoreMigrateAtStart,
			Value:       cfg.DatastoreMigrateAtStart,
			Usage:       "Run schema migrations at startup",
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("RECALL_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum number of open database connections",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("RECALL_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum number of idle database connections",
		},

		// ── Cache ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "cache-kind",
			Category:    "Cache:",
			Sources:     cli.EnvVars("RECALL_CACHE_KIND"),
			Destination: &cfg.CacheType,
			Value:       cfg.CacheType,
			Usage:       "Session summary cache backend (" + strings.Join(registrycache.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Cache:",
			Sources:     cli.EnvVars("RECALL_REDIS_URL", "REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL",
		},
		&cli.DurationFlag{
			Name:        "session-cache-ttl",
			Category:    "Cache:",
			Sources:     cli.EnvVars("RECALL_SESSION_CACHE_TTL"),
			Destination: &cfg.SessionCacheTTL,
			Value:       cfg.SessionCacheTTL,
			Usage:       "TTL for cached session summaries",
		},

		// ── Embedding ─────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "embedding-kind",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("RECALL_EMBEDDING_KIND"),
			Destination: &cfg.EmbedType,
			Value:       cfg.EmbedType,
			Usage:       "Embedding provider (" + strings.Join(registryembed.Names(), "|") + ")",
		},
		&cli.BoolFlag{
			Name:        "require-embeddings",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("RECALL_REQUIRE_EMBEDDINGS"),
			Destination: &cfg.RequireEmbeddings,
			Usage:       "Fail requests when the embedding provider is unavailable instead of degrading to lexical matching",
		},
		&cli.DurationFlag{
			Name:        "embedding-timeout",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("RECALL_EMBEDDING_TIMEOUT"),
			Destination: &cfg.EmbedTimeout,
			Value:       cfg.EmbedTimeout,
			Usage:       "Per-call timeout for embedding provider requests",
		},
		&cli.StringFlag{
			Name:        "embedding-openai-api-key",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("RECALL_OPENAI_API_KEY", "OPENAI_API_KEY"),
			Destination: &cfg.OpenAIAPIKey,
			Usage:       "OpenAI API key",
		},
		&cli.StringFlag{
			Name:        "embedding-openai-model",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("RECALL_OPENAI_MODEL"),
			Destination: &cfg.OpenAIModelName,
			Value:       cfg.OpenAIModelName,
			Usage:       "OpenAI embedding model name",
		},
		&cli.StringFlag{
			Name:        "embedding-openai-base-url",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("RECALL_OPENAI_BASE_URL"),
			Destination: &cfg.OpenAIBaseURL,
			Value:       cfg.OpenAIBaseURL,
			Usage:       "Base URL for OpenAI-compatible embedding APIs",
		},
		&cli.StringFlag{
			Name:        "embedding-ollama-url",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("RECALL_OLLAMA_URL"),
			Destination: &cfg.OllamaURL,
			Value:       cfg.OllamaURL,
			Usage:       "Ollama server URL",
		},
		&cli.StringFlag{
			Name:        "embedding-ollama-model",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("RECALL_OLLAMA_MODEL"),
			Destination: &cfg.OllamaModel,
			Value:       cfg.OllamaModel,
			Usage:       "Ollama embedding model name",
		},

		// ── Retrieval ─────────────────────────────────────────────
		&cli.FloatFlag{
			Name:        "min-similarity",
			Category:    "Retrieval:",
			Sources:     cli.EnvVars("RECALL_MIN_SIMILARITY"),
			Destination: &cfg.MinSimilarity,
			Value:       cfg.MinSimilarity,
			Usage:       "Default similarity floor for retrieval",
		},
		&cli.IntFlag{
			Name:        "result-limit",
			Category:    "Retrieval:",
			Sources:     cli.EnvVars("RECALL_RESULT_LIMIT"),
			Destination: &cfg.DefaultResultLimit,
			Value:       cfg.DefaultResultLimit,
			Usage:       "Default maximum results per retrieval",
		},
		&cli.IntFlag{
			Name:        "token-budget",
			Category:    "Retrieval:",
			Sources:     cli.EnvVars("RECALL_TOKEN_BUDGET"),
			Destination: &cfg.DefaultTokenBudget,
			Value:       cfg.DefaultTokenBudget,
			Usage:       "Default estimated-token budget per retrieval",
		},

		// ── Pruning ───────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "prune-max-age-days",
			Category:    "Pruning:",
			Sources:     cli.EnvVars("RECALL_PRUNE_MAX_AGE_DAYS"),
			Destination: &cfg.Prune.MaxAgeDays,
			Value:       cfg.Prune.MaxAgeDays,
			Usage:       "Prune memories older than this many days",
		},
		&cli.IntFlag{
			Name:        "prune-inactive-days",
			Category:    "Pruning:",
			Sources:     cli.EnvVars("RECALL_PRUNE_INACTIVE_DAYS"),
			Destination: &cfg.Prune.InactiveDays,
			Value:       cfg.Prune.InactiveDays,
			Usage:       "Prune memories untouched for this many days",
		},
		&cli.FloatFlag{
			Name:        "prune-importance-threshold",
			Category:    "Pruning:",
			Sources:     cli.EnvVars("RECALL_PRUNE_IMPORTANCE_THRESHOLD"),
			Destination: &cfg.Prune.ImportanceThreshold,
			Value:       cfg.Prune.ImportanceThreshold,
			Usage:       "Only prune memories at or below this importance",
		},
		&cli.IntFlag{
			Name:        "prune-take",
			Category:    "Pruning:",
			Sources:     cli.EnvVars("RECALL_PRUNE_TAKE"),
			Destination: &cfg.Prune.Take,
			Value:       cfg.Prune.Take,
			Usage:       "Maximum memories pruned per pass",
		},

		// ── Authorization ─────────────────────────────────────────
		&cli.StringFlag{
			Name:        "oidc-issuer",
			Category:    "Authorization:",
			Sources:     cli.EnvVars("RECALL_OIDC_ISSUER"),
			Destination: &cfg.OIDCIssuer,
			Usage:       "OIDC issuer URL (enables OIDC auth)",
		},
		&cli.StringFlag{
			Name:        "roles-admin-oidc-role",
			Category:    "Authorization:",
			Sources:     cli.EnvVars("RECALL_ROLES_ADMIN_OIDC_ROLE"),
			Destination: &cfg.AdminOIDCRole,
			Value:       cfg.AdminOIDCRole,
			Usage:       "OIDC role name that maps to admin permissions",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("RECALL_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       cfg.MetricsLabels,
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		c.Next()
	}
}
