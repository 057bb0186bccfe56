// Package postgres implements the memory store on PostgreSQL with the
// pgvector extension providing cosine similarity search.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/recall-service/internal/config"
	"github.com/chirino/recall-service/internal/model"
	registrymigrate "github.com/chirino/recall-service/internal/registry/migrate"
	registrystore "github.com/chirino/recall-service/internal/registry/store"
	"github.com/chirino/recall-service/internal/security"
	"github.com/google/uuid"
	pgvec "github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "postgres",
		Loader: func(ctx context.Context) (registrystore.MemoryStore, error) {
			cfg := config.FromContext(ctx)
			db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
			if err != nil {
				return nil, fmt.Errorf("failed to connect to postgres: %w", err)
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, fmt.Errorf("failed to get underlying db: %w", err)
			}
			sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
			sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
			if security.DBPoolMaxConnections != nil {
				security.DBPoolMaxConnections.Set(float64(cfg.DBMaxOpenConns))
			}

			// Periodically update the open connections gauge.
			go func() {
				ticker := time.NewTicker(15 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if security.DBPoolOpenConnections != nil {
							security.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
						}
					}
				}
			}()

			return &PostgresStore{db: db}, nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &postgresMigrator{}})
}

type postgresMigrator struct{}

func (m *postgresMigrator) Name() string { return "postgres-schema" }
func (m *postgresMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg != nil && !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DatastoreType != "" && cfg.DatastoreType != "postgres" {
		return nil // skip if not using postgres
	}
	log.Info("Running migration", "name", m.Name())
	db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("migration: failed to connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if _, err := sqlDB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migration: failed to execute schema: %w", err)
	}
	log.Info("Postgres schema migration complete")
	return nil
}

// PostgresStore implements MemoryStore using GORM + PostgreSQL + pgvector.
type PostgresStore struct {
	db *gorm.DB
}

// memoryRow is the GORM-level row for the memories table.
type memoryRow struct {
	ID              uuid.UUID              `gorm:"primaryKey;type:uuid;column:id"`
	SessionID       string                 `gorm:"not null;column:session_id"`
	Text            string                 `gorm:"not null;column:text"`
	CompressedText  string                 `gorm:"not null;column:compressed_text"`
	Embedding       *pgvec.Vector          `gorm:"type:vector;column:embedding"`
	ImportanceScore float64                `gorm:"not null;column:importance_score"`
	Metadata        map[string]interface{} `gorm:"type:jsonb;serializer:json;column:metadata"`
	CreatedAt       time.Time              `gorm:"not null;column:created_at"`
	LastAccessedAt  time.Time              `gorm:"not null;column:last_accessed_at"`
	DeletedAt       *time.Time             `gorm:"column:deleted_at"`
}

func (memoryRow) TableName() string { return "memories" }

// sessionRow is the GORM-level row for the sessions table.
type sessionRow struct {
	ID         string    `gorm:"primaryKey;column:id"`
	ExternalID *string   `gorm:"column:external_id"`
	CreatedAt  time.Time `gorm:"not null;column:created_at"`
	UpdatedAt  time.Time `gorm:"not null;column:updated_at"`
}

func (sessionRow) TableName() string { return "sessions" }

func rowToMemory(r memoryRow) model.Memory {
	m := model.Memory{
		ID:              r.ID,
		SessionID:       r.SessionID,
		Text:            r.Text,
		CompressedText:  r.CompressedText,
		ImportanceScore: r.ImportanceScore,
		Metadata:        r.Metadata,
		CreatedAt:       r.CreatedAt,
		LastAccessedAt:  r.LastAccessedAt,
		IsDeleted:       r.DeletedAt != nil,
	}
	if r.Embedding != nil {
		m.Embedding = r.Embedding.Slice()
	}
	return m
}

func (s *PostgresStore) CreateMemory(ctx context.Context, input registrystore.MemoryCreateInput) (*model.Memory, error) {
	now := time.Now()
	row := memoryRow{
		ID:              uuid.New(),
		SessionID:       input.SessionID,
		Text:            input.Text,
		CompressedText:  input.CompressedText,
		ImportanceScore: input.ImportanceScore,
		Metadata:        input.Metadata,
		CreatedAt:       now,
		LastAccessedAt:  now,
	}
	if len(input.Embedding) > 0 {
		vec := pgvec.NewVector(input.Embedding)
		row.Embedding = &vec
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, &registrystore.UnavailableError{Op: "create memory", Err: err}
	}
	m := rowToMemory(row)
	return &m, nil
}

func (s *PostgresStore) FindMemory(ctx context.Context, id uuid.UUID) (*model.Memory, error) {
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

func (s *PostgresStore) FindSimilar(ctx context.Context, sessionID string, embedding []float32, limit int, minScore float64) ([]registrystore.MemoryWithSimilarity, error) {
	if limit <= 0 || len(embedding) == 0 {
		return nil, nil
	}
	vec := pgvec.NewVector(embedding)

	type scanRow struct {
		ID              uuid.UUID              `gorm:"column:id"`
		SessionID       string                 `gorm:"column:session_id"`
		Text            string                 `gorm:"column:text"`
		CompressedText  string                 `gorm:"column:compressed_text"`
		ImportanceScore float64                `gorm:"column:importance_score"`
		Metadata        map[string]interface{} `gorm:"column:metadata;serializer:json"`
		CreatedAt       time.Time              `gorm:"column:created_at"`
		LastAccessedAt  time.Time              `gorm:"column:last_accessed_at"`
		Similarity      float64                `gorm:"column:similarity"`
	}
	var rows []scanRow
	err := s.db.WithContext(ctx).Raw(`
		SELECT m.id, m.session_id, m.text, m.compressed_text, m.importance_score,
		       m.metadata, m.created_at, m.last_accessed_at,
		       1 - (m.embedding <=> ?::vector) AS similarity
		FROM memories m
		WHERE m.session_id = ?
		  AND m.deleted_at IS NULL
		  AND m.embedding IS NOT NULL
		  AND vector_dims(m.embedding) = ?
		  AND 1 - (m.embedding <=> ?::vector) >= ?
		ORDER BY m.embedding <=> ?::vector ASC
		LIMIT ?`,
		vec, sessionID, len(embedding), vec, minScore, vec, limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, &registrystore.UnavailableError{Op: "similarity search", Err: err}
	}

	out := make([]registrystore.MemoryWithSimilarity, len(rows))
	for i, r := range rows {
		out[i] = registrystore.MemoryWithSimilarity{
			Memory: model.Memory{
				ID:              r.ID,
				SessionID:       r.SessionID,
				Text:            r.Text,
				CompressedText:  r.CompressedText,
				ImportanceScore: r.ImportanceScore,
				Metadata:        r.Metadata,
				CreatedAt:       r.CreatedAt,
				LastAccessedAt:  r.LastAccessedAt,
			},
			Similarity: r.Similarity,
		}
	}
	return out, nil
}

func (s *PostgresStore) FindDuplicate(ctx context.Context, sessionID string, embedding []float32, window time.Duration, threshold float64) (*uuid.UUID, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	vec := pgvec.NewVector(embedding)
	cutoff := time.Now().Add(-window)

	var ids []uuid.UUID
	err := s.db.WithContext(ctx).Raw(`
		SELECT id
		FROM memories
		WHERE session_id = ?
		  AND deleted_at IS NULL
		  AND embedding IS NOT NULL
		  AND vector_dims(embedding) = ?
		  AND created_at >= ?
		  AND 1 - (embedding <=> ?::vector) > ?
		ORDER BY embedding <=> ?::vector ASC
		LIMIT 1`,
		sessionID, len(embedding), cutoff, vec, threshold, vec,
	).Scan(&ids).Error
	if err != nil {
		return nil, &registrystore.UnavailableError{Op: "duplicate check", Err: err}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return &ids[0], nil
}

func (s *PostgresStore) ListActiveBySession(ctx context.Context, sessionID string, limit int) ([]model.Memory, error) {
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

func (s *PostgresStore) UpdateLastAccessed(ctx context.Context, ids []uuid.UUID, ts time.Time) error {
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

func (s *PostgresStore) SoftDelete(ctx context.Context, sessionID string, ids []uuid.UUID) (int64, error) {
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

func (s *PostgresStore) SoftDeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
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

func (s *PostgresStore) FindPrunable(ctx context.Context, q registrystore.PrunableQuery) ([]model.Memory, error) {
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

func (s *PostgresStore) CountActive(ctx context.Context, sessionID string) (int64, error) {
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

func (s *PostgresStore) LatestAccessed(ctx context.Context, sessionID string) (*time.Time, error) {
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

func (s *PostgresStore) FindSession(ctx context.Context, id string) (*model.Session, error) {
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

func (s *PostgresStore) UpsertSession(ctx context.Context, id string, externalID *string) (*model.Session, error) {
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

func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return &registrystore.UnavailableError{Op: "ping", Err: err}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return &registrystore.UnavailableError{Op: "ping", Err: err}
	}
	return nil
}
