package store

import "fmt"

// Stable machine-readable error codes surfaced in API responses.
const (
	CodeSessionNotFound       = "SESSION_NOT_FOUND"
	CodeNotFound              = "NOT_FOUND"
	CodeValidation            = "VALIDATION_ERROR"
	CodeEmbeddingsUnavailable = "EMBEDDINGS_UNAVAILABLE"
	CodeStoreUnavailable      = "STORE_UNAVAILABLE"
)

// NotFoundError indicates the resource does not exist (or is soft-deleted).
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// Code returns the machine-readable error code.
func (e *NotFoundError) Code() string {
	if e.Resource == "session" {
		return CodeSessionNotFound
	}
	return CodeNotFound
}

// ValidationError indicates a client-side validation failure with
// field-level detail.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// EmbeddingsUnavailableError indicates the deployment requires an
// embedding provider that is disabled or failing.
type EmbeddingsUnavailableError struct {
	Reason string
}

func (e *EmbeddingsUnavailableError) Error() string {
	return fmt.Sprintf("embedding provider unavailable: %s", e.Reason)
}

// UnavailableError wraps a persistence failure. The engine performs no
// internal retries; the underlying error propagates unchanged inside.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }
