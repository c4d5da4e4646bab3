package store

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/andresmejia3/checkmates/internal/blob"
	"github.com/andresmejia3/checkmates/internal/faceid"
	"github.com/andresmejia3/checkmates/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

var (
	_ blob.Store            = (*Store)(nil)
	_ faceid.Ledger         = (*Store)(nil)
	_ faceid.EmbeddingCache = (*Store)(nil)
)

// Store manages the PostgreSQL pool backing the attendance ledger, the
// gallery blob table and the pgvector embedding cache.
type Store struct {
	pool *pgxpool.Pool
}

// New establishes a connection pool and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	// Schema first: the vector type must exist before pool connections register it.
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	conn.Close(ctx)

	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// initSchema creates the necessary tables and vector extension if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS gallery_blobs (
			name TEXT PRIMARY KEY,
			data BYTEA NOT NULL,
			content_type TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS gallery_embeddings (
			email TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			embedding VECTOR NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS attendance_events (
			id UUID PRIMARY KEY,
			email TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT clock_timestamp()
		);
		CREATE INDEX IF NOT EXISTS attendance_events_email_idx ON attendance_events (email);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the connection pool.
func (s *Store) Close(ctx context.Context) {
	s.pool.Close()
}

// --- Attendance ledger ---

// AppendEvent inserts one attendance event. Events are never updated.
func (s *Store) AppendEvent(ctx context.Context, ev types.AttendanceEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO attendance_events (id, email, timestamp, status)
		VALUES ($1, $2, $3, $4)
	`, ev.ID, ev.IdentityKey, ev.Timestamp, string(ev.Status))
	return err
}

// ListEvents returns events newest first. An empty key returns all identities;
// limit <= 0 means no limit.
func (s *Store) ListEvents(ctx context.Context, key string, limit int) ([]types.AttendanceEvent, error) {
	query := `
		SELECT id::text, email, timestamp, status
		FROM attendance_events
		WHERE ($1 = '' OR email = $1)
		ORDER BY created_at DESC
	`
	args := []any{key}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []types.AttendanceEvent
	for rows.Next() {
		var ev types.AttendanceEvent
		var status string
		if err := rows.Scan(&ev.ID, &ev.IdentityKey, &ev.Timestamp, &status); err != nil {
			return nil, err
		}
		ev.Status = types.Status(status)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- Gallery blobs ---

// Put upserts an object, replacing any previous bytes under name. The returned
// reference is opaque: unlike the fs and azure backends it is not a fetchable URL.
func (s *Store) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO gallery_blobs (name, data, content_type, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, content_type = EXCLUDED.content_type, updated_at = NOW()
	`, name, data, contentType)
	if err != nil {
		return "", err
	}
	return "postgres:gallery_blobs/" + name, nil
}

func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, "SELECT data FROM gallery_blobs WHERE name = $1", name).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, blob.ErrNotFound
	}
	return data, err
}

// List reads the matching names up front and yields them one by one; object
// bytes are only fetched when the caller asks for them.
func (s *Store) List(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		rows, err := s.pool.Query(ctx, "SELECT name FROM gallery_blobs WHERE starts_with(name, $1) ORDER BY name", prefix)
		if err != nil {
			yield("", err)
			return
		}
		names, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			yield("", err)
			return
		}
		for _, name := range names {
			if !yield(name, nil) {
				return
			}
		}
	}
}

// --- Embedding cache ---

// GetEmbedding returns the cached vector for key if it was computed from the image with digest.
func (s *Store) GetEmbedding(ctx context.Context, key, digest string) (types.Embedding, bool, error) {
	var vec pgvector.Vector
	err := s.pool.QueryRow(ctx,
		"SELECT embedding FROM gallery_embeddings WHERE email = $1 AND digest = $2", key, digest,
	).Scan(&vec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	src := vec.Slice()
	out := make(types.Embedding, len(src))
	for i, v := range src {
		out[i] = float64(v)
	}
	return out, true, nil
}

// PutEmbedding replaces the cached vector for key.
func (s *Store) PutEmbedding(ctx context.Context, key, digest string, emb types.Embedding) error {
	vec := make([]float32, len(emb))
	for i, v := range emb {
		vec[i] = float32(v)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO gallery_embeddings (email, digest, embedding, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (email) DO UPDATE SET digest = EXCLUDED.digest, embedding = EXCLUDED.embedding, updated_at = NOW()
	`, key, digest, pgvector.NewVector(vec))
	return err
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS attendance_events CASCADE;
		DROP TABLE IF EXISTS gallery_embeddings CASCADE;
		DROP TABLE IF EXISTS gallery_blobs CASCADE;
	`)
	return err
}
