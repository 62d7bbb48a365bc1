package vectorindex

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	_ "modernc.org/sqlite"

	"github.com/ecobiomax/normaIA/internal/embeddings"
)

// Compile-time check that SQLite implements Index.
var _ Index = (*SQLite)(nil)

// SQLite is an embedded index with brute-force cosine search. It suits
// development and small corpora; vectors are little-endian float32 BLOBs.
type SQLite struct {
	db    *sql.DB
	table string
	dim   int
}

// OpenSQLite opens (or creates) the database at path. ":memory:" is accepted.
func OpenSQLite(path, collection string, dim int) (*SQLite, error) {
	if err := validateCollection(collection, dim); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite index: %w", err)
	}
	// One connection keeps ":memory:" databases alive and avoids "database is locked".
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	return &SQLite{db: db, table: collection, dim: dim}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) unavailable(op string, err error) error {
	return &UnavailableError{Backend: "sqlite", Op: op, Err: err}
}

func (s *SQLite) EnsureCollection(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS vector_collections (
			name TEXT PRIMARY KEY,
			dimension INTEGER NOT NULL,
			distance TEXT NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
			id TEXT PRIMARY KEY,
			embedding BLOB NOT NULL,
			payload TEXT NOT NULL
		)`, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return s.unavailable("ensure collection", err)
		}
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO vector_collections(name, dimension, distance) VALUES(?, ?, 'cosine') ON CONFLICT(name) DO NOTHING`,
		s.table, s.dim); err != nil {
		return s.unavailable("ensure collection", err)
	}
	var dim int
	if err := s.db.QueryRowContext(ctx, `SELECT dimension FROM vector_collections WHERE name = ?`, s.table).Scan(&dim); err != nil {
		return s.unavailable("ensure collection", err)
	}
	if dim != s.dim {
		return fmt.Errorf("collection %s exists with dimension %d, want %d", s.table, dim, s.dim)
	}
	return nil
}

func (s *SQLite) Upsert(ctx context.Context, p Point) error {
	if err := checkDimension(p.Vector, s.dim); err != nil {
		return err
	}
	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return fmt.Errorf("encoding payload for %s: %w", p.ID, err)
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %q (id, embedding, payload) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET embedding = excluded.embedding, payload = excluded.payload`, s.table),
		p.ID, encodeFloat32s(p.Vector), string(payload))
	if err != nil {
		return s.unavailable("upsert", err)
	}
	return nil
}

func (s *SQLite) Search(ctx context.Context, vector embeddings.Vector, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	exists, err := s.tableExists(ctx)
	if err != nil {
		return nil, s.unavailable("search", err)
	}
	if !exists {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT id, embedding, payload FROM %q`, s.table))
	if err != nil {
		return nil, s.unavailable("search", err)
	}
	defer rows.Close()

	h := &hitHeap{}
	for rows.Next() {
		var (
			id      string
			blob    []byte
			payload string
		)
		if err := rows.Scan(&id, &blob, &payload); err != nil {
			return nil, s.unavailable("search", err)
		}
		vec, err := decodeFloat32s(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}
		hit := Hit{ID: id, Score: embeddings.CosineSimilarity(vector, vec)}
		if h.Len() < k {
			hit.Payload, err = decodePayload(payload)
			if err != nil {
				return nil, err
			}
			heap.Push(h, hit)
		} else if ranksBefore(hit, (*h)[0]) {
			hit.Payload, err = decodePayload(payload)
			if err != nil {
				return nil, err
			}
			(*h)[0] = hit
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, s.unavailable("search", err)
	}

	hits := []Hit(*h)
	sortHits(hits)
	return hits, nil
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	exists, err := s.tableExists(ctx)
	if err != nil {
		return s.unavailable("delete", err)
	}
	if !exists {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %q WHERE id = ?`, s.table), id); err != nil {
		return s.unavailable("delete", err)
	}
	return nil
}

// Count returns the number of points in the collection.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %q`, s.table)).Scan(&n)
	return n, err
}

func (s *SQLite) tableExists(ctx context.Context) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, s.table).Scan(&n)
	return n > 0, err
}

func decodePayload(raw string) (Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Payload{}, fmt.Errorf("decoding payload: %w", err)
	}
	return p, nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
func decodeFloat32s(b []byte) (embeddings.Vector, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	v := make(embeddings.Vector, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
