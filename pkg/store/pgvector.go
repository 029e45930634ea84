package store

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/xhad/dealwise/internal/models"
	"github.com/xhad/dealwise/internal/types"
)

type VectorStoreConfig struct {
	ConnString string
	VectorDim  int
}

// VectorStore persists documents and their embedded chunks in Postgres with
// pgvector, and serves the similarity queries behind semantic search.
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
}

func NewWithConfig(config VectorStoreConfig) (*VectorStore, error) {
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}

	pool, err := pgxpool.New(context.Background(), config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &VectorStore{
		config: config,
		pool:   pool,
	}

	if err := vs.initialize(); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize() error {
	ctx := context.Background()

	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createDocuments := `
		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			slug TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			category TEXT NOT NULL,
			tags TEXT[] NOT NULL DEFAULT '{}',
			difficulty TEXT,
			content_hash TEXT NOT NULL
		)`

	if _, err = vs.pool.Exec(ctx, createDocuments); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}

	createChunks := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			token_count INTEGER NOT NULL,
			breadcrumb TEXT[] NOT NULL DEFAULT '{}',
			embedding vector(%d)
		)`, vs.config.VectorDim)

	if _, err = vs.pool.Exec(ctx, createChunks); err != nil {
		return fmt.Errorf("failed to create chunks table: %w", err)
	}

	createIndex := `
		CREATE INDEX IF NOT EXISTS chunks_embedding_idx
		ON chunks
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`

	if _, err = vs.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create embedding index: %w", err)
	}

	createCategoryIndex := `
		CREATE INDEX IF NOT EXISTS documents_category_idx
		ON documents (category)`

	if _, err = vs.pool.Exec(ctx, createCategoryIndex); err != nil {
		return fmt.Errorf("failed to create category index: %w", err)
	}

	return nil
}

// ContentHash returns the stored hash for a document, or "" when unknown.
func (vs *VectorStore) ContentHash(ctx context.Context, docID string) (string, error) {
	var hash string
	err := vs.pool.QueryRow(ctx,
		"SELECT content_hash FROM documents WHERE id = $1", docID).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read content hash: %w", err)
	}
	return hash, nil
}

// UpsertDocument writes a document and replaces its chunks transactionally.
// When the stored content hash matches, nothing is written and changed is
// false; embeddings are regenerated only on content change.
func (vs *VectorStore) UpsertDocument(ctx context.Context, doc models.ProcessedDocument) (bool, error) {
	if doc.ID == "" {
		return false, fmt.Errorf("document id is required")
	}
	if len(doc.Embeddings) != len(doc.Chunks) {
		return false, fmt.Errorf("embeddings/chunks mismatch: %d vs %d", len(doc.Embeddings), len(doc.Chunks))
	}

	stored, err := vs.ContentHash(ctx, doc.ID)
	if err != nil {
		return false, err
	}
	if stored != "" && stored == doc.ContentHash {
		return false, nil
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO documents (id, slug, title, category, tags, difficulty, content_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			slug = EXCLUDED.slug,
			title = EXCLUDED.title,
			category = EXCLUDED.category,
			tags = EXCLUDED.tags,
			difficulty = EXCLUDED.difficulty,
			content_hash = EXCLUDED.content_hash`,
		doc.ID, doc.Slug, sanitizeUTF8(doc.Title), doc.Category, doc.Tags,
		doc.Difficulty, doc.ContentHash,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert document: %w", err)
	}

	if _, err = tx.Exec(ctx, "DELETE FROM chunks WHERE document_id = $1", doc.ID); err != nil {
		return false, fmt.Errorf("failed to clear stale chunks: %w", err)
	}

	for i, chunk := range doc.Chunks {
		// A failed embedding slot is skipped; the rest of the document
		// still lands.
		if len(doc.Embeddings[i]) == 0 {
			continue
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO chunks (id, document_id, chunk_index, content, token_count, breadcrumb, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			fmt.Sprintf("%s_%d", doc.ID, chunk.Index),
			doc.ID,
			chunk.Index,
			sanitizeUTF8(chunk.Text()),
			chunk.TokenCount,
			chunk.Breadcrumb,
			pgvector.NewVector(doc.Embeddings[i]),
		)
		if err != nil {
			return false, fmt.Errorf("failed to insert chunk %d: %w", chunk.Index, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return true, nil
}

// DeleteDocument removes a document and, via cascade, its chunks.
func (vs *VectorStore) DeleteDocument(ctx context.Context, docID string) error {
	if _, err := vs.pool.Exec(ctx, "DELETE FROM documents WHERE id = $1", docID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// MatchChunks runs one similarity query. Similarity is cosine (1 - distance);
// rows below opts.Threshold are filtered server-side.
func (vs *VectorStore) MatchChunks(ctx context.Context, embedding []float32, opts types.MatchOptions) ([]models.SearchResult, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("query embedding is required")
	}
	if opts.Limit <= 0 {
		opts.Limit = 5
	}

	query := `
		SELECT c.id, c.document_id, d.slug, d.title, d.category, c.content, c.breadcrumb,
		       1 - (c.embedding <=> $1) AS similarity
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE 1 - (c.embedding <=> $1) >= $2`

	args := []any{pgvector.NewVector(embedding), opts.Threshold}
	if opts.Category != "" {
		query += " AND d.category = $3"
		args = append(args, opts.Category)
	}
	query += fmt.Sprintf(" ORDER BY c.embedding <=> $1 LIMIT %d", opts.Limit)

	rows, err := vs.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var r models.SearchResult
		err := rows.Scan(
			&r.ChunkID,
			&r.DocumentID,
			&r.DocumentSlug,
			&r.DocumentTitle,
			&r.Category,
			&r.Content,
			&r.Breadcrumb,
			&r.Similarity,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return results, nil
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
