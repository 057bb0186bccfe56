package model

import (
	"time"

	"github.com/google/uuid"
)

// Memory is a single stored text fact scoped to a session.
// Rows are soft-deleted, never physically removed by the service.
type Memory struct {
	// ID is the primary key (UUID).
	ID uuid.UUID `json:"id"`

	// SessionID references the owning session.
	SessionID string `json:"sessionId"`

	// Text is the normalized, length-bounded original content.
	Text string `json:"text"`

	// CompressedText is a short head...tail display summary derived from
	// Text at write time. Not reversible.
	CompressedText string `json:"compressedText"`

	// Embedding is the fixed-length vector for semantic search. Nil when
	// the embedding provider was disabled or failing at write time.
	// Vectors of differing dimensionality are never compared.
	Embedding []float32 `json:"-"`

	// ImportanceScore is in [0,1], fixed at creation and never recomputed.
	ImportanceScore float64 `json:"importanceScore"`

	// Metadata is an opaque key/value map used only for caller-supplied
	// equality filtering at retrieval time.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the memory was written.
	CreatedAt time.Time `json:"createdAt"`

	// LastAccessedAt advances on every retrieval hit and on duplicate-merge.
	// Invariant for active rows: CreatedAt <= LastAccessedAt.
	LastAccessedAt time.Time `json:"lastAccessedAt"`

	// IsDeleted is the soft-delete flag. Once true the row is excluded from
	// all reads and search; it is never reset to false.
	IsDeleted bool `json:"-"`
}

// Session is a conversation or agent context owning zero or more memories.
// Sessions are upserted lazily the first time a memory is stored for them
// and have no deletion path.
type Session struct {
	ID         string    `json:"id"`
	ExternalID *string   `json:"externalId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
