package types

import "errors"

var (
	// ErrInvalidRequest marks input rejected before any work is done.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotFound marks a missing session, agent or record.
	ErrNotFound = errors.New("not found")
	// ErrEmbeddingNotConfigured is the business error for an agent without an embedding model.
	ErrEmbeddingNotConfigured = errors.New("embedding model not configured")
	// ErrDuplicate marks an insert that collided with an existing unique record.
	ErrDuplicate = errors.New("duplicate record")
)
