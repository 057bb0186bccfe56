package store

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/recall-service/internal/model"
	"github.com/google/uuid"
)

// MemoryCreateInput is the record handed to CreateMemory. Text has
// already been normalized and bounded; ImportanceScore is final.
type MemoryCreateInput struct {
	SessionID       string
	Text            string
	CompressedText  string
	Embedding       []float32
	ImportanceScore float64
	Metadata        map[string]interface{}
}

// MemoryWithSimilarity pairs a memory with the store-reported vector
// similarity used to rank it.
type MemoryWithSimilarity struct {
	model.Memory
	Similarity float64
}

// PrunableQuery selects soft-deletable candidates: non-deleted memories
// older than CreatedBefore, untouched since LastAccessedBefore, and at
// or below MaxImportance, ordered ascending by (importance,
// lastAccessedAt), capped at Take.
type PrunableQuery struct {
	CreatedBefore      time.Time
	LastAccessedBefore time.Time
	MaxImportance      float64
	Take               int
}

// MemoryStore is the durable-store port the recall engine depends on.
// Implementations must exclude soft-deleted rows from every read,
// search, and count operation, and must apply bulk mutations
// (UpdateLastAccessed, the soft deletes) atomically per batch.
type MemoryStore interface {
	// CreateMemory persists a new memory and its vector atomically;
	// a failed insert leaves no partial write behind.
	CreateMemory(ctx context.Context, input MemoryCreateInput) (*model.Memory, error)

	// FindMemory returns a non-deleted memory by ID, or NotFoundError.
	FindMemory(ctx context.Context, id uuid.UUID) (*model.Memory, error)

	// FindSimilar returns up to limit non-deleted memories of the session
	// ranked by vector similarity to embedding, keeping only those with
	// similarity >= minScore.
	FindSimilar(ctx context.Context, sessionID string, embedding []float32, limit int, minScore float64) ([]MemoryWithSimilarity, error)

	// FindDuplicate returns the ID of the most similar non-deleted memory
	// of the session created within window whose similarity to embedding
	// exceeds threshold, or nil when there is none.
	FindDuplicate(ctx context.Context, sessionID string, embedding []float32, window time.Duration, threshold float64) (*uuid.UUID, error)

	// ListActiveBySession returns up to limit non-deleted memories of the
	// session ordered by importance then recency, for lexical-fallback
	// candidate fetches.
	ListActiveBySession(ctx context.Context, sessionID string, limit int) ([]model.Memory, error)

	// UpdateLastAccessed stamps ts as lastAccessedAt on all ids in one
	// bulk update.
	UpdateLastAccessed(ctx context.Context, ids []uuid.UUID, ts time.Time) error

	// SoftDelete marks the session's memories deleted; when ids is
	// non-empty only those are affected. Returns the number of rows
	// transitioned.
	SoftDelete(ctx context.Context, sessionID string, ids []uuid.UUID) (int64, error)

	// SoftDeleteByIDs marks the given memories deleted in one bulk
	// operation, skipping rows already deleted. Returns the number of
	// rows transitioned.
	SoftDeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error)

	// FindPrunable returns pruning candidates per the query, least
	// important and least recently touched first.
	FindPrunable(ctx context.Context, q PrunableQuery) ([]model.Memory, error)

	// CountActive returns the number of non-deleted memories in the session.
	CountActive(ctx context.Context, sessionID string) (int64, error)

	// LatestAccessed returns the most recent lastAccessedAt among the
	// session's non-deleted memories, or nil when it has none.
	LatestAccessed(ctx context.Context, sessionID string) (*time.Time, error)

	// FindSession returns the session, or nil when it does not exist.
	FindSession(ctx context.Context, id string) (*model.Session, error)

	// UpsertSession creates the session if missing and returns it.
	UpsertSession(ctx context.Context, id string, externalID *string) (*model.Session, error)

	// Ping verifies store connectivity.
	Ping(ctx context.Context) error
}

// Loader creates a MemoryStore from config.
type Loader func(ctx context.Context) (MemoryStore, error)

// Plugin represents a datastore plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a datastore plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered datastore plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named datastore plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown datastore %q; valid: %v", name, Names())
}
