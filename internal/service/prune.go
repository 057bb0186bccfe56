package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/recall-service/internal/registry/store"
	"github.com/google/uuid"
)

// PruneOptions override the configured pruning defaults. Nil fields
// fall back to configuration; pointers let callers pass an explicit
// zero, e.g. an importance threshold of 0.
type PruneOptions struct {
	MaxAgeDays          *int
	InactiveDays        *int
	ImportanceThreshold *float64
	Take                *int
}

// PruneResult reports how many candidates were considered and how many
// were actually soft-deleted. Pruned may be less than Candidates when a
// concurrent clear removed rows between selection and deletion.
type PruneResult struct {
	Candidates int   `json:"candidates"`
	Pruned     int64 `json:"pruned"`
}

// Prune soft-deletes stale, unimportant memories: rows older than
// maxAgeDays, untouched for inactiveDays, with importance at or below
// the threshold, least important and least recently touched first,
// capped at take. Re-running immediately prunes zero additional rows
// since deleted rows are excluded from selection.
func (e *Engine) Prune(ctx context.Context, opts PruneOptions) (*PruneResult, error) {
	maxAgeDays := e.cfg.Prune.MaxAgeDays
	if opts.MaxAgeDays != nil {
		maxAgeDays = *opts.MaxAgeDays
	}
	inactiveDays := e.cfg.Prune.InactiveDays
	if opts.InactiveDays != nil {
		inactiveDays = *opts.InactiveDays
	}
	threshold := e.cfg.Prune.ImportanceThreshold
	if opts.ImportanceThreshold != nil {
		threshold = *opts.ImportanceThreshold
	}
	take := e.cfg.Prune.Take
	if opts.Take != nil {
		take = *opts.Take
	}

	now := e.now()
	candidates, err := e.store.FindPrunable(ctx, store.PrunableQuery{
		CreatedBefore:      now.Add(-time.Duration(maxAgeDays) * 24 * time.Hour),
		LastAccessedBefore: now.Add(-time.Duration(inactiveDays) * 24 * time.Hour),
		MaxImportance:      threshold,
		Take:               take,
	})
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, len(candidates))
	for i, m := range candidates {
		ids[i] = m.ID
	}
	pruned, err := e.store.SoftDeleteByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	log.Info("Pruned memories",
		"candidates", len(candidates),
		"pruned", pruned,
		"maxAgeDays", maxAgeDays,
		"inactiveDays", inactiveDays,
		"importanceThreshold", threshold,
	)
	return &PruneResult{Candidates: len(candidates), Pruned: pruned}, nil
}
