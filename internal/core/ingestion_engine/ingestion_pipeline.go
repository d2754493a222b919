package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/markdave123-py/docpipe/internal/core"
	"github.com/markdave123-py/docpipe/internal/models"
)

const defaultBatchTimeout = 2 * time.Minute

// NewDocumentIngestor validates the chunking knobs and wires the collaborators.
func NewDocumentIngestor(
	docs core.DocumentStore,
	vectors core.VectorStore,
	obj core.ObjectClient,
	emb core.EmbeddingProvider,
	extractor core.TextExtractor,
	cfg IngestConfig,
	opts ...Option,
) (*DocumentIngestor, error) {
	chunker, err := NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if cfg.BatchSize <= 0 {
		return nil, core.E(core.KindConfig, "ingestor.new", fmt.Errorf("batch size must be > 0, got %d", cfg.BatchSize))
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}

	i := &DocumentIngestor{
		docs: docs, vectors: vectors, obj: obj, embedder: emb, extractor: extractor,
		chunker: chunker,
		cfg:     cfg,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.logger == nil {
		i.logger = log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	}
	return i, nil
}

// Process runs one ingestion attempt for job.
//
// The document is marked processing first and processed only after every
// batch is stored. On failure the document is left processing; the caller
// decides whether to retry or mark it failed. Cancelling ctx stops the run
// between batches, never in the middle of one, and yields a KindInterrupted error.
func (i *DocumentIngestor) Process(ctx context.Context, job models.IngestionJob) (Result, error) {
	res := Result{DocumentID: job.DocumentID}
	if job.DocumentID == "" || job.StoragePath == "" || job.ChatID == "" {
		return res, core.E(core.KindInvalidInput, "ingest", errors.New("job needs documentId, chatId and storagePath"))
	}

	started := time.Now()
	i.logger.Printf("DocumentIngestor: starting document %s (%s)", job.DocumentID, job.FileName)

	if err := i.docs.UpdateDocumentStatus(ctx, job.DocumentID, models.StatusProcessing); err != nil {
		return res, core.Tag(core.KindStorage, "ingest.mark_processing", err)
	}

	raw, err := i.obj.Download(ctx, job.StoragePath)
	if err != nil {
		if ctx.Err() != nil {
			return res, core.E(core.KindInterrupted, "ingest.download", ctx.Err())
		}
		return res, core.Tag(core.KindDownload, "ingest.download", err)
	}

	ext, err := i.extractor.ExtractText(ctx, raw)
	raw = nil
	if err != nil {
		return res, core.Tag(core.KindExtraction, "ingest.extract", err)
	}
	res.PageCount = ext.PageCount

	// Chunks from an earlier failed attempt would collide on chunk_index.
	if err := i.vectors.DeleteByDocument(ctx, job.DocumentID); err != nil {
		return res, core.Tag(core.KindStorage, "ingest.reset_chunks", err)
	}

	batch := make([]models.Chunk, 0, i.cfg.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if ctx.Err() != nil {
			return core.E(core.KindInterrupted, "ingest.batch", context.Cause(ctx))
		}
		if err := i.storeBatch(ctx, batch); err != nil {
			return fmt.Errorf("batch %d: %w", res.Batches+1, err)
		}
		res.Batches++
		res.Chunks += len(batch)
		i.logger.Printf("DocumentIngestor: document %s batch %d: chunks %d..%d stored, total %d",
			job.DocumentID, res.Batches, batch[0].ChunkIndex, batch[len(batch)-1].ChunkIndex, res.Chunks)
		if i.progress != nil {
			i.progress(res.Batches, res.Chunks)
		}
		clear(batch)
		batch = batch[:0]
		return nil
	}

	for tc, err := range i.chunker.Chunks(ext.Text) {
		if err != nil {
			return res, core.E(core.KindExtraction, "ingest.chunk", err)
		}
		batch = append(batch, models.Chunk{
			DocumentID: job.DocumentID,
			ChatID:     job.ChatID,
			UserID:     job.UserID,
			PageNumber: tc.PageNumber,
			ChunkIndex: tc.Index,
			Content:    tc.Content,
		})
		if len(batch) == i.cfg.BatchSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := flush(); err != nil {
		return res, err
	}

	// Every chunk is stored; a shutdown arriving now must not strand the document.
	if err := i.docs.MarkProcessed(context.WithoutCancel(ctx), job.DocumentID, res.PageCount); err != nil {
		return res, core.Tag(core.KindStorage, "ingest.mark_processed", err)
	}

	i.logger.Printf("DocumentIngestor: document %s processed: %d chunks in %d batches, %d pages (%s)",
		job.DocumentID, res.Chunks, res.Batches, res.PageCount, time.Since(started).Round(time.Millisecond))
	return res, nil
}

// storeBatch embeds and persists one batch. It runs detached from ctx
// cancellation so an in-flight batch completes during shutdown.
func (i *DocumentIngestor) storeBatch(ctx context.Context, batch []models.Chunk) error {
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.cfg.BatchTimeout)
	defer cancel()

	began := time.Now()

	texts := make([]string, len(batch))
	for k := range batch {
		texts[k] = batch[k].Content
	}

	vecs, err := i.embedder.EmbedTexts(bctx, texts)
	if err != nil {
		return core.Tag(core.KindEmbedding, "embed", err)
	}
	if len(vecs) != len(batch) {
		return core.E(core.KindEmbedding, "embed", fmt.Errorf("size mismatch: got %d want %d", len(vecs), len(batch)))
	}
	for k := range batch {
		batch[k].Embedding = vecs[k]
	}

	if err := i.vectors.StoreBatch(bctx, batch); err != nil {
		return core.Tag(core.KindStorage, "store", err)
	}

	i.metrics.BatchStored(len(batch), time.Since(began))
	return nil
}
