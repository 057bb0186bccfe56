package prune

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/chirino/recall-service/internal/config"
	registrymigrate "github.com/chirino/recall-service/internal/registry/migrate"
	registrystore "github.com/chirino/recall-service/internal/registry/store"
	"github.com/chirino/recall-service/internal/service"
	"github.com/urfave/cli/v3"

	_ "github.com/chirino/recall-service/internal/plugin/store/postgres"
	_ "github.com/chirino/recall-service/internal/plugin/store/sqlite"
)

// Command returns the prune sub-command. It runs a single pruning pass
// and exits, for use from cron or a Kubernetes CronJob.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "prune",
		Usage: "Soft-delete stale low-importance memories and exit",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "db-url",
				Sources:     cli.EnvVars("RECALL_DB_URL", "DATABASE_URL"),
				Destination: &cfg.DBURL,
				Usage:       "Database connection URL",
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "db-kind",
				Sources:     cli.EnvVars("RECALL_DB_KIND"),
				Destination: &cfg.DatastoreType,
				Value:       cfg.DatastoreType,
				Usage:       "Store backend (postgres|sqlite)",
			},
			&cli.IntFlag{
				Name:        "max-age-days",
				Sources:     cli.EnvVars("RECALL_PRUNE_MAX_AGE_DAYS"),
				Destination: &cfg.Prune.MaxAgeDays,
				Value:       cfg.Prune.MaxAgeDays,
				Usage:       "Prune memories older than this many days",
			},
			&cli.IntFlag{
				Name:        "inactive-days",
				Sources:     cli.EnvVars("RECALL_PRUNE_INACTIVE_DAYS"),
				Destination: &cfg.Prune.InactiveDays,
				Value:       cfg.Prune.InactiveDays,
				Usage:       "Prune memories untouched for this many days",
			},
			&cli.FloatFlag{
				Name:        "importance-threshold",
				Sources:     cli.EnvVars("RECALL_PRUNE_IMPORTANCE_THRESHOLD"),
				Destination: &cfg.Prune.ImportanceThreshold,
				Value:       cfg.Prune.ImportanceThreshold,
				Usage:       "Only prune memories at or below this importance",
			},
			&cli.IntFlag{
				Name:        "take",
				Sources:     cli.EnvVars("RECALL_PRUNE_TAKE"),
				Destination: &cfg.Prune.Take,
				Value:       cfg.Prune.Take,
				Usage:       "Maximum memories pruned per pass",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := cfg.ApplyCompatFromEnv(); err != nil {
				return err
			}
			cfg.DatastoreMigrateAtStart = false
			ctx = config.WithContext(ctx, &cfg)

			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			storeLoader, err := registrystore.Select(cfg.DatastoreType)
			if err != nil {
				return err
			}
			store, err := storeLoader(ctx)
			if err != nil {
				return err
			}

			engine := service.NewEngine(store, nil, nil, &cfg)
			result, err := engine.Prune(ctx, service.PruneOptions{})
			if err != nil {
				return err
			}
			log.Info("Prune pass completed", "candidates", result.Candidates, "pruned", result.Pruned)
			return nil
		},
	}
}
