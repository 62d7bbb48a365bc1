package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	s := &PostgresStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the pool so the pgvector index can share it.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	// Serialise migrations when the API and worker start together.
	const lockID = 541900031

	var acquired bool
	err := s.db.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&acquired)
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !acquired {
		time.Sleep(2 * time.Second)
		return nil
	}
	defer func() {
		_, _ = s.db.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
	}()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			size BIGINT NOT NULL DEFAULT 0,
			storage_key TEXT NOT NULL DEFAULT '',
			mime_type TEXT NOT NULL DEFAULT '',
			page_count INT NOT NULL DEFAULT 0,
			chunk_count INT NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			uploaded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			processed_at TIMESTAMPTZ
		);`,
		`CREATE INDEX IF NOT EXISTS documents_user_idx ON documents(user_id, uploaded_at DESC);`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id UUID PRIMARY KEY,
			document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			chunk_index INT NOT NULL,
			text TEXT NOT NULL,
			section TEXT NOT NULL DEFAULT '',
			page INT NOT NULL DEFAULT 0,
			vector_id TEXT,
			metadata JSONB NOT NULL DEFAULT '{}'
		);`,
		`CREATE INDEX IF NOT EXISTS chunks_document_idx ON chunks(document_id, chunk_index);`,
		`CREATE TABLE IF NOT EXISTS chat_history (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			question TEXT NOT NULL,
			answer TEXT NOT NULL,
			sources JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS chat_history_user_idx ON chat_history(user_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			user_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			trial_end TIMESTAMPTZ
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const documentColumns = `id, user_id, filename, size, storage_key, mime_type, page_count, chunk_count,
	status, error_message, uploaded_at, processed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var (
		d         Document
		processed sql.NullTime
	)
	err := row.Scan(&d.ID, &d.UserID, &d.Filename, &d.Size, &d.StorageKey, &d.MimeType,
		&d.PageCount, &d.ChunkCount, &d.Status, &d.ErrorMessage, &d.UploadedAt, &processed)
	if err != nil {
		return Document{}, err
	}
	if processed.Valid {
		t := processed.Time
		d.ProcessedAt = &t
	}
	return d, nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc Document) (Document, error) {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.Status == "" {
		doc.Status = StatusPending
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO documents(id, user_id, filename, size, storage_key, mime_type, status)
		VALUES($1,$2,$3,$4,$5,$6,$7)
		RETURNING uploaded_at`,
		doc.ID, doc.UserID, doc.Filename, doc.Size, doc.StorageKey, doc.MimeType, doc.Status)
	if err := row.Scan(&doc.UploadedAt); err != nil {
		return Document{}, fmt.Errorf("failed to create document %s: %w", doc.Filename, err)
	}
	return doc, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id uuid.UUID) (Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	return d, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, userID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE user_id=$1 ORDER BY uploaded_at DESC, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status DocumentStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status=$1, error_message=$2 WHERE id=$3`, status, errMsg, id)
	return expectOne(res, err)
}

func (s *PostgresStore) CompleteDocument(ctx context.Context, id uuid.UUID, pageCount, chunkCount int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET status=$1, error_message='', page_count=$2, chunk_count=$3, processed_at=now()
		WHERE id=$4`,
		StatusCompleted, pageCount, chunkCount, id)
	return expectOne(res, err)
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, id)
	return expectOne(res, err)
}

func (s *PostgresStore) SaveChunks(ctx context.Context, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, c := range chunks {
		meta, err := json.Marshal(nonNilMetadata(c.Metadata))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chunks(id, document_id, chunk_index, text, section, page, vector_id, metadata)
			VALUES($1,$2,$3,$4,$5,$6,NULLIF($7,''),$8)
			ON CONFLICT (id) DO UPDATE SET
				chunk_index=excluded.chunk_index, text=excluded.text, section=excluded.section,
				page=excluded.page, vector_id=excluded.vector_id, metadata=excluded.metadata`,
			c.ID, c.DocumentID, c.Index, c.Text, c.Section, c.Page, c.VectorID, string(meta))
		if err != nil {
			return fmt.Errorf("failed to save chunk %d of doc %s: %w", c.Index, c.DocumentID, err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) ListChunks(ctx context.Context, docID uuid.UUID) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chunk_index, text, section, page, COALESCE(vector_id, ''), metadata
		FROM chunks WHERE document_id=$1 ORDER BY chunk_index`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var (
			c    Chunk
			meta []byte
		)
		if err := rows.Scan(&c.ID, &c.Index, &c.Text, &c.Section, &c.Page, &c.VectorID, &meta); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(meta, &c.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata of chunk %s: %w", c.ID, err)
		}
		c.DocumentID = docID
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetChunkVectorID(ctx context.Context, chunkID uuid.UUID, vectorID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chunks SET vector_id=$1 WHERE id=$2`, vectorID, chunkID)
	return expectOne(res, err)
}

func (s *PostgresStore) DeleteChunks(ctx context.Context, docID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id=$1`, docID)
	return err
}

func (s *PostgresStore) SaveChatRecord(ctx context.Context, rec ChatRecord) (ChatRecord, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Sources == nil {
		rec.Sources = []Source{}
	}
	sources, err := json.Marshal(rec.Sources)
	if err != nil {
		return ChatRecord{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO chat_history(id, user_id, question, answer, sources)
		VALUES($1,$2,$3,$4,$5)
		RETURNING created_at`,
		rec.ID, rec.UserID, rec.Question, rec.Answer, string(sources))
	if err := row.Scan(&rec.CreatedAt); err != nil {
		return ChatRecord{}, fmt.Errorf("failed to save chat record for %s: %w", rec.UserID, err)
	}
	return rec, nil
}

func (s *PostgresStore) ListChatRecords(ctx context.Context, userID string, limit int) ([]ChatRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, question, answer, sources, created_at
		FROM chat_history WHERE user_id=$1
		ORDER BY created_at DESC, id
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChatRecord
	for rows.Next() {
		var (
			r       ChatRecord
			sources []byte
		)
		if err := rows.Scan(&r.ID, &r.Question, &r.Answer, &sources, &r.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(sources, &r.Sources); err != nil {
			return nil, fmt.Errorf("failed to decode sources of chat record %s: %w", r.ID, err)
		}
		r.UserID = userID
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetSubscription(ctx context.Context, userID string) (Subscription, error) {
	var (
		sub      Subscription
		trialEnd sql.NullTime
	)
	row := s.db.QueryRowContext(ctx, `SELECT status, trial_end FROM subscriptions WHERE user_id=$1`, userID)
	if err := row.Scan(&sub.Status, &trialEnd); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Subscription{}, ErrNotFound
		}
		return Subscription{}, fmt.Errorf("failed to get subscription for %s: %w", userID, err)
	}
	sub.UserID = userID
	if trialEnd.Valid {
		t := trialEnd.Time
		sub.TrialEnd = &t
	}
	return sub, nil
}

func expectOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nonNilMetadata(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
