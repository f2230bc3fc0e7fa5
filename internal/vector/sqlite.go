package vector

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Compile-time check that SQLiteEngine implements Engine.
var _ Engine = (*SQLiteEngine)(nil)

// SQLiteEngine provides vector storage and brute-force cosine-distance search
// backed by SQLite. This is the default Engine implementation.
//
// When the vector count exceeds ~100K and query latency becomes noticeable,
// consider an ANN-backed Engine; the table layout carries only (uuid,
// embedding) so an export is a single scan.
type SQLiteEngine struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the vector database in dataDir.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func OpenSQLite(dataDir string) (*SQLiteEngine, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "vectors.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening vector database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging vector database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	return &SQLiteEngine{db: db}, nil
}

// Close closes the underlying database connection.
func (e *SQLiteEngine) Close() error {
	return e.db.Close()
}

// DB exposes the underlying connection for tests.
func (e *SQLiteEngine) DB() *sql.DB {
	return e.db
}

// EnsureTable creates the table if missing. New tables get a placeholder
// seed row so the schema (vector width included) is established even before
// the first real record arrives; the seed never appears in search results.
func (e *SQLiteEngine) EnsureTable(ctx context.Context, name string, dims int) error {
	if _, err := e.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
		uuid TEXT NOT NULL,
		embedding BLOB NOT NULL
	)`, name)); err != nil {
		return fmt.Errorf("creating table %s: %w", name, err)
	}
	if _, err := e.db.ExecContext(ctx, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q (uuid)`, name+"_uuid", name)); err != nil {
		return fmt.Errorf("creating uuid index on %s: %w", name, err)
	}

	var count int
	if err := e.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %q WHERE uuid = ?`, name), seedUUID).Scan(&count); err != nil {
		return fmt.Errorf("checking seed row in %s: %w", name, err)
	}
	if count == 0 {
		seed := make([]float32, dims)
		if _, err := e.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %q (uuid, embedding) VALUES (?, ?)`, name),
			seedUUID, encodeFloat32s(seed)); err != nil {
			return fmt.Errorf("writing seed row to %s: %w", name, err)
		}
	}
	return nil
}

// Add appends records. Duplicates are tolerated: no uniqueness constraint
// exists on uuid, matching the append-only contract.
func (e *SQLiteEngine) Add(ctx context.Context, table string, records []Record) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %q (uuid, embedding) VALUES (?, ?)`, table))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.UUID, encodeFloat32s(r.Embedding)); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting record %s: %w", r.UUID, err)
		}
	}

	return tx.Commit()
}

// Delete removes all records matching the uuid predicate. Zero affected rows
// is not an error, so a retried delete converges.
func (e *SQLiteEngine) Delete(ctx context.Context, table string, uuid string) error {
	if _, err := e.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %q WHERE uuid = ?`, table), uuid); err != nil {
		return fmt.Errorf("deleting record %s: %w", uuid, err)
	}
	return nil
}

// distMatchHeap is a max-heap of Match ordered by Distance, used to keep the
// k smallest distances during the scan phase.
type distMatchHeap []Match

func (h distMatchHeap) Len() int           { return len(h) }
func (h distMatchHeap) Less(i, j int) bool { return h[i].Distance > h[j].Distance }
func (h distMatchHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *distMatchHeap) Push(x any)        { *h = append(*h, x.(Match)) }
func (h *distMatchHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Search performs a brute-force scan computing cosine distance against every
// stored vector, returning the k nearest ordered by increasing distance.
// The schema seed row is excluded.
func (e *SQLiteEngine) Search(ctx context.Context, table string, vector []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}

	rows, err := e.db.QueryContext(ctx, fmt.Sprintf(`SELECT uuid, embedding FROM %q WHERE uuid != ?`, table), seedUUID)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	h := &distMatchHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var uuid string
		var blob []byte
		if err := rows.Scan(&uuid, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", uuid, err)
		}

		dist := cosineDistance(vector, buf, queryNorm)
		if h.Len() < k {
			heap.Push(h, Match{UUID: uuid, Distance: dist})
		} else if dist < (*h)[0].Distance {
			(*h)[0] = Match{UUID: uuid, Distance: dist}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	// Pop from the max-heap back to front to produce ascending distance order.
	matches := make([]Match, h.Len())
	for i := len(matches) - 1; i >= 0; i-- {
		matches[i] = heap.Pop(h).(Match)
	}
	return matches, nil
}

// Count returns the number of real records (the seed row excluded).
func (e *SQLiteEngine) Count(ctx context.Context, table string) (int, error) {
	var count int
	err := e.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %q WHERE uuid != ?`, table), seedUUID).Scan(&count)
	return count, err
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosineDistance computes 1 - dot(a,b)/(aNorm*bNorm). aNorm is the
// precomputed L2 norm of vector a. Mismatched lengths and zero vectors
// yield the maximum distance of 1.
func cosineDistance(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 1
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 1
	}
	return float32(1 - dot/(float64(aNorm)*bNorm))
}
