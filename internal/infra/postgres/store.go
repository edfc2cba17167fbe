// Package postgres implements the vector store and webhook delivery
// ledger on PostgreSQL with pgvector.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/reposage/reposage/internal/core/chunk"
	"github.com/reposage/reposage/internal/core/vector"
)

const (
	// DefaultDimension matches the default embedding model.
	DefaultDimension = 1536

	// upsertBatchSize bounds one round trip during bulk upserts.
	upsertBatchSize = 100
)

// Store implements vector.Store on a pgxpool connection.
type Store struct {
	pool      *pgxpool.Pool
	dimension int
	logger    *slog.Logger
}

var _ vector.Store = (*Store)(nil)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithDimension sets the vector column width. Must match the embedder.
func WithDimension(dimension int) StoreOption {
	return func(s *Store) {
		s.dimension = dimension
	}
}

// WithStoreLogger sets the logger.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a Store. Call Migrate before first use.
func NewStore(pool *pgxpool.Pool, opts ...StoreOption) *Store {
	s := &Store{
		pool:      pool,
		dimension: DefaultDimension,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the pgvector extension and the chunks table.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
			namespace  text NOT NULL,
			id         text NOT NULL,
			embedding  vector(%d) NOT NULL,
			metadata   jsonb NOT NULL,
			live       boolean NOT NULL DEFAULT false,
			updated_at timestamptz NOT NULL DEFAULT now(),
			PRIMARY KEY (namespace, id)
		)`, s.dimension),
		`CREATE INDEX IF NOT EXISTS chunks_namespace_live_idx ON chunks (namespace, live)`,
		`CREATE INDEX IF NOT EXISTS chunks_file_path_idx ON chunks (namespace, (metadata->>'file_path'))`,
		`CREATE INDEX IF NOT EXISTS chunks_embedding_idx ON chunks USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}

// Upsert writes vectors in batches, replacing any existing row with the
// same ID. Re-running the same ingestion is a no-op beyond updated_at.
func (s *Store) Upsert(ctx context.Context, namespace string, vectors []vector.Vector) error {
	const stmt = `INSERT INTO chunks (namespace, id, embedding, metadata, live, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (namespace, id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata,
			live = EXCLUDED.live,
			updated_at = now()`

	for start := 0; start < len(vectors); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(vectors))

		batch := &pgx.Batch{}
		for _, v := range vectors[start:end] {
			metadata, err := json.Marshal(v.Metadata)
			if err != nil {
				return fmt.Errorf("failed to marshal metadata for %s: %w", v.ID, err)
			}
			live := false
			if v.Metadata != nil {
				live = v.Metadata.Live
			}
			batch.Queue(stmt, namespace, v.ID, pgvector.NewVector(v.Values), metadata, live)
		}

		results := s.pool.SendBatch(ctx, batch)
		var execErr error
		for range end - start {
			if _, err := results.Exec(); err != nil && execErr == nil {
				execErr = err
			}
		}
		if err := results.Close(); err != nil && execErr == nil {
			execErr = err
		}
		if execErr != nil {
			return fmt.Errorf("failed to upsert vectors: %w", execErr)
		}
	}

	s.logger.DebugContext(ctx, "upserted vectors",
		slog.String("namespace", namespace), slog.Int("count", len(vectors)))
	return nil
}

// DeleteByFilter removes every row in the namespace matching the
// filter. A zero filter clears the whole namespace.
func (s *Store) DeleteByFilter(ctx context.Context, namespace string, filter vector.Filter) error {
	where, args := buildFilter(filter, []any{namespace})
	query := "DELETE FROM chunks WHERE namespace = $1" + where

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}

	s.logger.DebugContext(ctx, "deleted vectors",
		slog.String("namespace", namespace), slog.Int64("count", tag.RowsAffected()))
	return nil
}

// Query returns the topK nearest live vectors by cosine similarity.
func (s *Store) Query(ctx context.Context, namespace string, values []float32, topK int, filter *vector.Filter) ([]vector.Match, error) {
	args := []any{namespace, pgvector.NewVector(values)}
	query := `SELECT id, metadata, 1 - (embedding <=> $2) AS score
		FROM chunks WHERE namespace = $1`

	f := vector.Filter{}
	if filter != nil {
		f = *filter
	}
	if !f.IncludeStaged {
		query += " AND live"
	}
	where, args := buildFilter(f, args)
	query += where

	args = append(args, topK)
	query += fmt.Sprintf(" ORDER BY embedding <=> $2 LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer rows.Close()

	var matches []vector.Match
	for rows.Next() {
		var (
			id       string
			metadata []byte
			score    float64
		)
		if err := rows.Scan(&id, &metadata, &score); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}

		var rec chunk.Record
		if err := json.Unmarshal(metadata, &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for %s: %w", id, err)
		}
		matches = append(matches, vector.Match{ID: id, Score: score, Metadata: &rec})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read matches: %w", err)
	}

	return matches, nil
}

// Namespaces lists the namespaces that hold at least one vector.
func (s *Store) Namespaces(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT namespace FROM chunks ORDER BY namespace`)
	if err != nil {
		return nil, fmt.Errorf("failed to list namespaces: %w", err)
	}
	defer rows.Close()

	var namespaces []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, fmt.Errorf("failed to scan namespace: %w", err)
		}
		namespaces = append(namespaces, ns)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read namespaces: %w", err)
	}

	return namespaces, nil
}

// Activate flips the namespace to ref in one statement: vectors at that
// ref go live and every other generation goes dark. Readers never see a
// partially switched namespace. The metadata copy of live flips in the
// same statement so records rebuilt from it report the current state.
func (s *Store) Activate(ctx context.Context, namespace string, ref string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE chunks SET
			live = (metadata->>'ref' = $2),
			metadata = jsonb_set(metadata, '{live}', to_jsonb(metadata->>'ref' = $2)),
			updated_at = now()
		WHERE namespace = $1`,
		namespace, ref)
	if err != nil {
		return fmt.Errorf("failed to activate ref: %w", err)
	}

	s.logger.InfoContext(ctx, "activated ref",
		slog.String("namespace", namespace),
		slog.String("ref", ref),
		slog.Int64("rows", tag.RowsAffected()))
	return nil
}

// buildFilter appends WHERE clauses for the non-zero filter fields,
// extending args. Substring matching escapes LIKE metacharacters so
// literal percent or underscore in a query cannot widen the match.
func buildFilter(f vector.Filter, args []any) (string, []any) {
	var sb strings.Builder

	add := func(clause string, value any) {
		args = append(args, value)
		sb.WriteString(fmt.Sprintf(clause, len(args)))
	}

	if f.FilePath != "" {
		add(" AND metadata->>'file_path' = $%d", f.FilePath)
	}
	if f.PathPrefix != "" {
		add(" AND metadata->>'file_path' LIKE $%d", escapeLike(f.PathPrefix)+"%")
	}
	if f.PathContains != "" {
		add(" AND metadata->>'file_path' LIKE $%d", "%"+escapeLike(f.PathContains)+"%")
	}
	if f.ContentContains != "" {
		add(" AND metadata->>'content' LIKE $%d", "%"+escapeLike(f.ContentContains)+"%")
	}
	if f.FileType != "" {
		add(" AND metadata->>'file_type' = $%d", f.FileType)
	}

	return sb.String(), args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
