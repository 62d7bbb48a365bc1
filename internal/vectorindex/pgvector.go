package vectorindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/ecobiomax/normaIA/internal/embeddings"
)

// Compile-time check that PGVector implements Index.
var _ Index = (*PGVector)(nil)

// PGVector stores points in a Postgres table using the pgvector extension.
type PGVector struct {
	db    *sql.DB
	table string
	dim   int
}

// NewPGVector uses db, typically the same pool as the metadata store.
func NewPGVector(db *sql.DB, collection string, dim int) (*PGVector, error) {
	if err := validateCollection(collection, dim); err != nil {
		return nil, err
	}
	return &PGVector{db: db, table: collection, dim: dim}, nil
}

// transientSQLStates are SQLSTATE classes worth retrying: connection
// exceptions, transaction rollbacks, insufficient resources, operator
// intervention and system errors.
var transientSQLStates = map[string]bool{
	"08": true,
	"40": true,
	"53": true,
	"57": true,
	"58": true,
}

// classify wraps err as UnavailableError unless the server rejected the
// statement itself, e.g. a malformed id or a constraint violation.
func (p *PGVector) classify(op string, err error) error {
	code := ""
	var pgErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgErr):
		code = pgErr.Code
	case errors.As(err, &pqErr):
		code = string(pqErr.Code)
	}
	if len(code) == 5 && !transientSQLStates[code[:2]] {
		return fmt.Errorf("pgvector %s: %w", op, err)
	}
	return &UnavailableError{Backend: "pgvector", Op: op, Err: err}
}

func (p *PGVector) ensureStatements() []string {
	table := pq.QuoteIdentifier(p.table)
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			payload JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, table, p.dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)`,
			pq.QuoteIdentifier(p.table+"_embedding_idx"), table),
	}
}

func (p *PGVector) upsertQuery() string {
	return fmt.Sprintf(`
		INSERT INTO %s (id, embedding, payload) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding, payload = EXCLUDED.payload, updated_at = NOW()`,
		pq.QuoteIdentifier(p.table))
}

func (p *PGVector) searchQuery() string {
	return fmt.Sprintf(`
		SELECT id::text, 1 - (embedding <=> $1), payload
		FROM %s
		ORDER BY embedding <=> $1, id
		LIMIT $2`, pq.QuoteIdentifier(p.table))
}

func (p *PGVector) deleteQuery() string {
	return fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, pq.QuoteIdentifier(p.table))
}

func (p *PGVector) EnsureCollection(ctx context.Context) error {
	for _, stmt := range p.ensureStatements() {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return p.classify("ensure collection", err)
		}
	}
	return nil
}

func (p *PGVector) Upsert(ctx context.Context, pt Point) error {
	if err := checkDimension(pt.Vector, p.dim); err != nil {
		return err
	}
	payload, err := json.Marshal(pt.Payload)
	if err != nil {
		return fmt.Errorf("encoding payload for %s: %w", pt.ID, err)
	}
	_, err = p.db.ExecContext(ctx, p.upsertQuery(), pt.ID, pgvector.NewVector(pt.Vector), string(payload))
	if err != nil {
		return p.classify("upsert", err)
	}
	return nil
}

func (p *PGVector) Search(ctx context.Context, vector embeddings.Vector, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	exists, err := p.tableExists(ctx)
	if err != nil {
		return nil, p.classify("search", err)
	}
	if !exists {
		return nil, nil
	}

	rows, err := p.db.QueryContext(ctx, p.searchQuery(), pgvector.NewVector(vector), k)
	if err != nil {
		return nil, p.classify("search", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			h       Hit
			score   float64
			payload []byte
		)
		if err := rows.Scan(&h.ID, &score, &payload); err != nil {
			return nil, p.classify("search", err)
		}
		h.Score = float32(score)
		if err := json.Unmarshal(payload, &h.Payload); err != nil {
			return nil, fmt.Errorf("decoding payload for %s: %w", h.ID, err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, p.classify("search", err)
	}
	sortHits(hits)
	return hits, nil
}

func (p *PGVector) Delete(ctx context.Context, id string) error {
	exists, err := p.tableExists(ctx)
	if err != nil {
		return p.classify("delete", err)
	}
	if !exists {
		return nil
	}
	if _, err := p.db.ExecContext(ctx, p.deleteQuery(), id); err != nil {
		return p.classify("delete", err)
	}
	return nil
}

func (p *PGVector) tableExists(ctx context.Context) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `SELECT to_regclass($1) IS NOT NULL`, pq.QuoteIdentifier(p.table)).Scan(&exists)
	return exists, err
}
