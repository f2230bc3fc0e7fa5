package vector

import (
	"context"
	"errors"
)

// ErrDimensionMismatch is returned when an embedding's length does not match
// the index's configured vector width.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Record is a stored (uuid, embedding) pair. The uuid refers to a question
// record owned elsewhere; the engine never stores question content.
type Record struct {
	UUID      string
	Embedding []float32
}

// Match is one nearest-neighbor search result. Distance is the engine's raw
// metric (cosine distance here): lower means more similar.
type Match struct {
	UUID     string
	Distance float32
}

// Engine is the contract for the underlying vector storage/search backend.
// The default implementation is a brute-force SQLite store; an ANN-capable
// service can replace it without touching the Index wrapper.
//
// Engine errors propagate unchanged to callers. There are no retries at
// this layer.
type Engine interface {
	// EnsureTable makes the named table exist with the given vector width.
	// Idempotent.
	EnsureTable(ctx context.Context, name string, dims int) error

	// Add appends records to the table. Duplicate uuids are tolerated.
	Add(ctx context.Context, table string, records []Record) error

	// Delete removes every record matching the uuid. Deleting a uuid that
	// is not present is not an error.
	Delete(ctx context.Context, table string, uuid string) error

	// Search returns up to k records nearest to the query vector, ordered
	// by increasing distance.
	Search(ctx context.Context, table string, vector []float32, k int) ([]Match, error)
}
