package vector

import (
	"context"
	"fmt"
	"sync"
)

// seedUUID marks the placeholder row written at table creation to establish
// the schema. It never resolves to a real question.
const seedUUID = "00000000-0000-0000-0000-000000000000"

// DefaultDims is the vector width of the configured embedding model.
const DefaultDims = 1536

// Index scopes an Engine to a single logical table of (uuid, embedding)
// pairs. Table creation is lazy: the first operation creates the table with
// the fixed vector width if it does not exist yet.
//
// Index instances are constructed explicitly and injected; there are no
// package-level table handles.
type Index struct {
	engine Engine
	table  string
	dims   int

	mu    sync.Mutex
	ready bool
}

// NewIndex creates an Index over the given engine and table name.
// dims <= 0 defaults to DefaultDims.
func NewIndex(engine Engine, table string, dims int) *Index {
	if dims <= 0 {
		dims = DefaultDims
	}
	return &Index{engine: engine, table: table, dims: dims}
}

func (i *Index) ensure(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.ready {
		return nil
	}
	if err := i.engine.EnsureTable(ctx, i.table, i.dims); err != nil {
		return fmt.Errorf("ensuring table %s: %w", i.table, err)
	}
	i.ready = true
	return nil
}

// Add appends a (uuid, embedding) record. The append is idempotent in the
// sense that duplicate uuids are tolerated by the engine; Delete removes
// every copy.
func (i *Index) Add(ctx context.Context, uuid string, embedding []float32) error {
	if len(embedding) != i.dims {
		return fmt.Errorf("%w: got %d, index is %d wide", ErrDimensionMismatch, len(embedding), i.dims)
	}
	if err := i.ensure(ctx); err != nil {
		return err
	}
	return i.engine.Add(ctx, i.table, []Record{{UUID: uuid, Embedding: embedding}})
}

// Delete removes all records matching the uuid.
func (i *Index) Delete(ctx context.Context, uuid string) error {
	if err := i.ensure(ctx); err != nil {
		return err
	}
	return i.engine.Delete(ctx, i.table, uuid)
}

// Search returns up to k matches ordered by increasing distance. The
// distance is the engine's raw score; callers normalize for display.
func (i *Index) Search(ctx context.Context, embedding []float32, k int) ([]Match, error) {
	if len(embedding) != i.dims {
		return nil, fmt.Errorf("%w: got %d, index is %d wide", ErrDimensionMismatch, len(embedding), i.dims)
	}
	if err := i.ensure(ctx); err != nil {
		return nil, err
	}
	return i.engine.Search(ctx, i.table, embedding, k)
}
