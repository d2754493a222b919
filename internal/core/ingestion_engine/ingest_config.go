package ingestion_engine

import (
	"log"
	"time"

	"github.com/markdave123-py/docpipe/internal/core"
	"github.com/markdave123-py/docpipe/internal/metrics"
)

// IngestConfig tunes the batch pipeline.
//
// ChunkSize:    words per chunk window (e.g., 250).
// ChunkOverlap: words shared by consecutive windows (e.g., 30).
// BatchSize:    chunks embedded and written per round trip (e.g., 5).
// BatchTimeout: upper bound for one batch's embed + store calls.
type IngestConfig struct {
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
	BatchTimeout time.Duration
}

// ProgressFunc is called after each stored batch with the batch number
// (1-based) and the number of chunks stored so far.
type ProgressFunc func(batch, stored int)

// Result summarizes one successful ingestion run.
type Result struct {
	DocumentID string
	Chunks     int
	Batches    int
	PageCount  int
}

// DocumentIngestor drives download -> extract -> chunk -> embed -> store for one
// document at a time.
//
// docs:      document status tracker.
// vectors:   chunk persistence.
// obj:       blob storage holding the uploaded file.
// embedder:  embedding provider.
// extractor: PDF text extraction.
type DocumentIngestor struct {
	docs      core.DocumentStore
	vectors   core.VectorStore
	obj       core.ObjectClient
	embedder  core.EmbeddingProvider
	extractor core.TextExtractor
	chunker   *Chunker
	cfg       IngestConfig
	metrics   *metrics.Metrics
	logger    *log.Logger
	progress  ProgressFunc
}

// Option customizes a DocumentIngestor.
type Option func(*DocumentIngestor)

func WithLogger(l *log.Logger) Option {
	return func(i *DocumentIngestor) { i.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(i *DocumentIngestor) { i.metrics = m }
}

func WithProgress(fn ProgressFunc) Option {
	return func(i *DocumentIngestor) { i.progress = fn }
}
