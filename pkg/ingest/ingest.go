// Package ingest loads the curated markdown knowledge base, chunks and
// embeds it, and lands it in the vector store. Unchanged documents are
// detected by content hash and skipped before any embedding work.
package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xhad/dealwise/internal/models"
	"github.com/xhad/dealwise/internal/types"
	"github.com/xhad/dealwise/pkg/chunker"
)

// DocumentStore is the slice of the vector store ingestion needs.
type DocumentStore interface {
	ContentHash(ctx context.Context, docID string) (string, error)
	UpsertDocument(ctx context.Context, doc models.ProcessedDocument) (bool, error)
}

// ResponseInvalidator drops cached responses after the knowledge base
// changes. Nil disables invalidation.
type ResponseInvalidator interface {
	InvalidateResponses(ctx context.Context) int
}

// Summary is the outcome of one ingestion run.
type Summary struct {
	Documents      int
	Changed        int
	Skipped        int
	Chunks         int
	EmbeddedChunks int
	FailedChunks   int
	Elapsed        time.Duration
}

type IngestorConfig struct {
	// OnDocument, when set, is called after each document so callers can
	// drive progress output.
	OnDocument func(slug string, changed bool)
}

type Ingestor struct {
	config      IngestorConfig
	chunker     *chunker.Chunker
	embedder    types.Embedder
	store       DocumentStore
	invalidator ResponseInvalidator
	logger      *zap.Logger
}

func NewWithConfig(config IngestorConfig, ch *chunker.Chunker, embedder types.Embedder, store DocumentStore, invalidator ResponseInvalidator, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		config:      config,
		chunker:     ch,
		embedder:    embedder,
		store:       store,
		invalidator: invalidator,
		logger:      logger.With(zap.String("component", "ingest")),
	}
}

// WithOnDocument returns a copy of the ingestor reporting per-document
// progress to fn.
func (in *Ingestor) WithOnDocument(fn func(slug string, changed bool)) *Ingestor {
	clone := *in
	clone.config.OnDocument = fn
	return &clone
}

// IngestDirectory ingests every markdown file under dir. When at least one
// document changed, cached responses are invalidated so stale answers cannot
// outlive the knowledge that produced them.
func (in *Ingestor) IngestDirectory(ctx context.Context, dir string) (*Summary, error) {
	docs, err := LoadDirectory(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load knowledge base: %w", err)
	}

	start := time.Now()
	summary := &Summary{Documents: len(docs)}

	for _, doc := range docs {
		changed, err := in.ingestDocument(ctx, doc, summary)
		if err != nil {
			return nil, fmt.Errorf("failed to ingest %s: %w", doc.Slug, err)
		}
		if changed {
			summary.Changed++
		} else {
			summary.Skipped++
		}
		if in.config.OnDocument != nil {
			in.config.OnDocument(doc.Slug, changed)
		}
	}

	if summary.Changed > 0 && in.invalidator != nil {
		in.invalidator.InvalidateResponses(ctx)
	}

	summary.Elapsed = time.Since(start)
	in.logger.Info("ingestion finished",
		zap.Int("documents", summary.Documents),
		zap.Int("changed", summary.Changed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("embedded_chunks", summary.EmbeddedChunks),
		zap.Int("failed_chunks", summary.FailedChunks),
		zap.Duration("elapsed", summary.Elapsed))

	return summary, nil
}

func (in *Ingestor) ingestDocument(ctx context.Context, doc models.Document, summary *Summary) (bool, error) {
	stored, err := in.store.ContentHash(ctx, doc.ID)
	if err != nil {
		return false, err
	}
	if stored != "" && stored == doc.ContentHash {
		return false, nil
	}

	chunks := in.chunker.Chunk(doc.Content)
	summary.Chunks += len(chunks)
	if len(chunks) == 0 {
		in.logger.Warn("document produced no chunks", zap.String("slug", doc.Slug))
		return false, nil
	}

	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Text()
	}

	batch := in.embedder.EmbedBatch(ctx, texts)
	summary.EmbeddedChunks += batch.SuccessCount
	summary.FailedChunks += batch.FailureCount
	if batch.SuccessCount == 0 {
		return false, fmt.Errorf("no chunk embedded successfully")
	}
	if batch.FailureCount > 0 {
		in.logger.Warn("some chunks failed to embed",
			zap.String("slug", doc.Slug),
			zap.Int("failed", batch.FailureCount))
	}

	changed, err := in.store.UpsertDocument(ctx, models.ProcessedDocument{
		Document:   doc,
		Chunks:     chunks,
		Embeddings: batch.Vectors,
	})
	if err != nil {
		return false, err
	}

	return changed, nil
}
