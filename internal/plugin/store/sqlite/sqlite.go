// Package sqlite implements the memory store on SQLite for single-node
// and development deployments. Vectors are stored as JSON and cosine
// similarity is computed in-process, so similarity search degrades from
// an index scan to a session-bounded linear scan.
package sqlite

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/recall-service/internal/config"
	"github.com/chirino/recall-service/internal/model"
	registrymigrate "github.com/chirino/recall-service/internal/registry/migrate"
	registrystore "github.com/chirino/recall-service/internal/registry/store"
	"github.com/chirino/recall-service/internal/scoring"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context) (registrystore.MemoryStore, error) {
			cfg := config.FromContext(ctx)
			db, err := gorm.Open(sqlite.Open(cfg.DBURL), &gorm.Config{})
			if err != nil {
				return nil, fmt.Errorf("failed to open sqlite db: %w", err)
			}
			// SQLite serializes writers; a single connection avoids
			// SQLITE_BUSY under concurrent handlers.
			sqlDB, err := db.DB()
			if err != nil {
				return nil, err
			}
			sqlDB.SetMaxOpenConns(1)
			return &SQLiteStore{db: db}, nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &sqliteMigrator{}})
}

type sqliteMigrator struct{}

func (m *sqliteMigrator) Name() string { return "sqlite-schema" }
func (m *sqliteMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg != nil && !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DatastoreType != "sqlite" {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := gorm.Open(sqlite.Open(cfg.DBURL), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("migration: failed to open sqlite db: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&sessionRow{}, &memoryRow{}); err != nil {
		return fmt.Errorf("migration: failed to migrate schema: %w", err)
	}
	log.Info("SQLite schema migration complete")
	return nil
}

// SQLiteStore implements MemoryStore using GORM + SQLite.
type SQLiteStore struct {
	db *gorm.DB
}

type memoryRow struct {
	ID              uuid.UUID              `gorm:"primaryKey;column:id"`
	SessionID       string                 `gorm:"not null;index;column:session_id"`
	Text            string                 `gorm:"not null;column:text"`
	CompressedText  string                 `gorm:"not null;column:compressed_text"`
	Embedding       []float32              `gorm:"serializer:json;column:embedding"`
	ImportanceScore float64                `gorm:"not null;column:importance_score"`
	Metadata        map[string]interface{} `gorm:"serializer:json;column:metadata"`
	CreatedAt       time.Time              `gorm:"not null;column:created_at"`
	LastAccessedAt  time.Time              `gorm:"not null;index;column:last_accessed_at"`
	DeletedAt       *time.Time             `gorm:"index;column:deleted_at"`
}

func (memoryRow) TableName() string { return "memories" }

type sessionRow struct {
	ID         string    `gorm:"primaryKey;column:id"`
	ExternalID *string   `gorm:"column:external_id"`
	CreatedAt  time.Time `gorm:"not null;column:created_at"`
	UpdatedAt  time.Time `gorm:"not null;column:updated_at"`
}

func (sessionRow) TableName() string { return "sessions" }

func rowToMemory(r memoryRow) model.Memory {
	return model.Memory{
		ID:              r.ID,
		SessionID:       r.SessionID,
		Text:            r.Text,
		CompressedText:  r.CompressedText,
		Embedding:       r.Embedding,
		ImportanceScore: r.ImportanceScore,
		Metadata:        r.Metadata,
		CreatedAt:       r.CreatedAt,
		LastAccessedAt:  r.LastAccessedAt,
		IsDeleted:       r.DeletedAt != nil,
	}
}

func (s *SQLiteStore) CreateMemory(ctx context.Context, input registrystore.MemoryCreateInput) (*model.Memory, error) {
	now := time.Now()
	row := memoryRow{
		ID:              uuid.New(),
		SessionID:       input.SessionID,
		Text:            input.Text,
		CompressedText:  input.CompressedText,
		Embedding:       input.Embedding,
		ImportanceScore: input.ImportanceScore,
		Metadata:        input.Metadata,
		CreatedAt:       now,
		LastAccessedAt:  now,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, &registrystore.UnavailableError{Op: "create memory", Err: err}
	}
	m := rowToMemory(row)
	return &m, nil
}

func (s *SQLiteStore) FindMemory(ctx context.Context, id uuid.UUID) (*model.Memory, error) {
	var row memoryRow
	result := s.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", id).
		Limit(1).Find(&row)
	if result.Error != nil {
		return nil, &registrystore.UnavailableError{Op: "find memory", Err: result.Error}
	}
	if result.RowsAffected == 0 {
		return nil, &registrystore.NotFoundError{Resource: "memory", ID: id.String()}
	}
	m := rowToMemory(row)
	return &m, nil
}

// activeWithVectors loads the session's non-deleted rows that carry an
// embedding, for in-process similarity scans.
func (s *SQLiteStore) activeWithVectors(ctx context.Context, sessionID string) ([]memoryRow, error) {
	var rows []memoryRow
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND deleted_at IS NULL AND embedding IS NOT NULL", sessionID).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *SQLiteStore) FindSimilar(ctx context.Context, sessionID string, embedding []float32, limit int, minScore float64) ([]registrystore.MemoryWithSimilarity, error) {
	if limit <= 0 || len(embedding) == 0 {
		return nil, nil
	}
	rows, err := s.activeWithVectors(ctx, sessionID)
	if err != nil {
		return nil, &registrystore.UnavailableError{Op: "similarity search", Err: err}
	}

	var out []registrystore.MemoryWithSimilarity
	for _, r := range rows {
		if len(r.Embedding) != len(embedding) {
			continue
		}
		sim := scoring.Cosine(embedding, r.Embedding)
		if sim >= minScore {
			out = append(out, registrystore.MemoryWithSimilarity{Memory: rowToMemory(r), Similarity: sim})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *SQLiteStore) FindDuplicate(ctx context.Context, sessionID string, embedding []float32, window time.Duration, threshold float64) (*uuid.UUID, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	rows, err := s.activeWithVectors(ctx, sessionID)
	if err != nil {
		return nil, &registrystore.UnavailableError{Op: "duplicate check", Err: err}
	}

	cutoff := time.Now().Add(-window)
	var best *uuid.UUID
	bestSim := threshold
	for _, r := range rows {
		if r.CreatedAt.Before(cutoff) || len(r.Embedding) != len(embedding) {
			continue
		}
		if sim := scoring.Cosine(embedding, r.Embedding); sim > bestSim {
			id := r.ID
			best = &id
			bestSim = sim
		}
	}
	return best, nil
}

func (s *SQLiteStore) ListActiveBySession(ctx context.Context, sessionID string, limit int) ([]model.Memory, error) {
	var rows []memoryRow
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND deleted_at IS NULL", sessionID).
		Order("importance_score DESC, created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, &registrystore.UnavailableError{Op: "list memories", Err: err}
	}
	out := make([]model.Memory, len(rows))
	for i, r := range rows {
		out[i] = rowToMemory(r)
	}
	return out, nil
}

func (s *SQLiteStore) UpdateLastAccessed(ctx context.Context, ids []uuid.UUID, ts time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Model(&memoryRow{}).
		Where("id IN ? AND deleted_at IS NULL", ids).
		Update("last_accessed_at", ts).Error
	if err != nil {
		return &registrystore.UnavailableError{Op: "update last accessed", Err: err}
	}
	return nil
}

func (s *SQLiteStore) SoftDelete(ctx context.Context, sessionID string, ids []uuid.UUID) (int64, error) {
	tx := s.db.WithContext(ctx).
		Model(&memoryRow{}).
		Where("session_id = ? AND deleted_at IS NULL", sessionID)
	if len(ids) > 0 {
		tx = tx.Where("id IN ?", ids)
	}
	result := tx.Update("deleted_at", time.Now())
	if result.Error != nil {
		return 0, &registrystore.UnavailableError{Op: "clear memories", Err: result.Error}
	}
	return result.RowsAffected, nil
}

func (s *SQLiteStore) SoftDeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := s.db.WithContext(ctx).
		Model(&memoryRow{}).
		Where("id IN ? AND deleted_at IS NULL", ids).
		Update("deleted_at", time.Now())
	if result.Error != nil {
		return 0, &registrystore.UnavailableError{Op: "prune memories", Err: result.Error}
	}
	return result.RowsAffected, nil
}

func (s *SQLiteStore) FindPrunable(ctx context.Context, q registrystore.PrunableQuery) ([]model.Memory, error) {
	var rows []memoryRow
	err := s.db.WithContext(ctx).
		Where("deleted_at IS NULL AND created_at < ? AND last_accessed_at < ? AND importance_score <= ?",
			q.CreatedBefore, q.LastAccessedBefore, q.MaxImportance).
		Order("importance_score ASC, last_accessed_at ASC").
		Limit(q.Take).
		Find(&rows).Error
	if err != nil {
		return nil, &registrystore.UnavailableError{Op: "find prunable", Err: err}
	}
	out := make([]model.Memory, len(rows))
	for i, r := range rows {
		out[i] = rowToMemory(r)
	}
	return out, nil
}

func (s *SQLiteStore) CountActive(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&memoryRow{}).
		Where("session_id = ? AND deleted_at IS NULL", sessionID).
		Count(&count).Error
	if err != nil {
		return 0, &registrystore.UnavailableError{Op: "count memories", Err: err}
	}
	return count, nil
}

func (s *SQLiteStore) LatestAccessed(ctx context.Context, sessionID string) (*time.Time, error) {
	var latest *time.Time
	err := s.db.WithContext(ctx).Raw(`
		SELECT MAX(last_accessed_at)
		FROM memories
		WHERE session_id = ? AND deleted_at IS NULL`,
		sessionID,
	).Scan(&latest).Error
	if err != nil {
		return nil, &registrystore.UnavailableError{Op: "latest accessed", Err: err}
	}
	return latest, nil
}

func (s *SQLiteStore) FindSession(ctx context.Context, id string) (*model.Session, error) {
	var row sessionRow
	result := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&row)
	if result.Error != nil {
		return nil, &registrystore.UnavailableError{Op: "find session", Err: result.Error}
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &model.Session{
		ID:         row.ID,
		ExternalID: row.ExternalID,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}, nil
}

func (s *SQLiteStore) UpsertSession(ctx context.Context, id string, externalID *string) (*model.Session, error) {
	now := time.Now()
	err := s.db.WithContext(ctx).Exec(`
		INSERT INTO sessions (id, external_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		id, externalID, now, now,
	).Error
	if err != nil {
		return nil, &registrystore.UnavailableError{Op: "upsert session", Err: err}
	}
	return s.FindSession(ctx, id)
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return &registrystore.UnavailableError{Op: "ping", Err: err}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return &registrystore.UnavailableError{Op: "ping", Err: err}
	}
	return nil
}
