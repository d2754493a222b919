package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/markdave123-py/docpipe/internal/core"
	"github.com/markdave123-py/docpipe/internal/core/ingestion_engine"
	"github.com/markdave123-py/docpipe/internal/models"
)

type docStore struct {
	mu       sync.Mutex
	docs     map[string]*models.Document
	stale    int64
	staleErr error
	sweeps   int
}

func newDocStore(docs ...*models.Document) *docStore {
	s := &docStore{docs: map[string]*models.Document{}}
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return s
}

func (s *docStore) CreateDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc
	return nil
}

func (s *docStore) GetDocumentByID(_ context.Context, id string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, core.E(core.KindNotFound, "docstore", core.ErrDocumentNotFound)
	}
	cp := *d
	return &cp, nil
}

func (s *docStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	return nil
}

func (s *docStore) move(id string, to models.DocumentStatus) (*models.Document, error) {
	d, ok := s.docs[id]
	if !ok {
		return nil, core.E(core.KindNotFound, "docstore", core.ErrDocumentNotFound)
	}
	if !models.CanTransition(d.Status, to) {
		return nil, core.E(core.KindInvalidTransition, "docstore",
			fmt.Errorf("%w: %s -> %s", core.ErrInvalidTransition, d.Status, to))
	}
	d.Status = to
	d.UpdatedAt = time.Now()
	return d, nil
}

func (s *docStore) UpdateDocumentStatus(_ context.Context, id string, status models.DocumentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.move(id, status)
	return err
}

func (s *docStore) MarkProcessed(_ context.Context, id string, pageCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.move(id, models.StatusProcessed)
	if err == nil {
		d.PageCount = &pageCount
	}
	return err
}

func (s *docStore) MarkFailed(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.move(id, models.StatusFailed)
	if err == nil {
		d.ErrorMessage = reason
	}
	return err
}

func (s *docStore) FailStaleProcessing(context.Context, time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweeps++
	return s.stale, s.staleErr
}

func (s *docStore) get(id string) models.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.docs[id]
}

type chunkStore struct {
	mu     sync.Mutex
	chunks []models.Chunk
}

func (v *chunkStore) StoreBatch(_ context.Context, chunks []models.Chunk) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.chunks = append(v.chunks, chunks...)
	return nil
}

func (v *chunkStore) DeleteByDocument(_ context.Context, documentID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	kept := v.chunks[:0]
	for _, c := range v.chunks {
		if c.DocumentID != documentID {
			kept = append(kept, c)
		}
	}
	v.chunks = kept
	return nil
}

func (v *chunkStore) QueryTopK(context.Context, string, string, []float32, int) ([]models.RetrievedChunk, error) {
	return []models.RetrievedChunk{}, nil
}

func (v *chunkStore) indices() []int {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]int, len(v.chunks))
	for i, c := range v.chunks {
		out[i] = c.ChunkIndex
	}
	return out
}

type blobStore map[string][]byte

func (b blobStore) Upload(_ context.Context, path string, data io.Reader, _ string) error {
	raw, err := io.ReadAll(data)
	b[path] = raw
	return err
}

func (b blobStore) Download(_ context.Context, path string) ([]byte, error) {
	raw, ok := b[path]
	if !ok {
		return nil, core.E(core.KindDownload, "blobstore", core.ErrBlobNotFound)
	}
	return raw, nil
}

func (b blobStore) Delete(_ context.Context, path string) error {
	delete(b, path)
	return nil
}

// flakyEmbedder fails every batch whose first text starts with failPrefix.
type flakyEmbedder struct {
	mu         sync.Mutex
	failPrefix string
	calls      int
}

func (e *flakyEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.failPrefix != "" && len(texts) > 0 && strings.HasPrefix(texts[0], e.failPrefix) {
		return nil, core.E(core.KindEmbedding, "flaky", errors.New("status 500: upstream unavailable"))
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (e *flakyEmbedder) Dimensions() int { return 3 }

type textExtractor struct {
	text  string
	pages int
}

func (x textExtractor) ExtractText(context.Context, []byte) (*core.Extraction, error) {
	return &core.Extraction{Text: x.text, PageCount: x.pages}, nil
}

type scriptedIngestor struct {
	mu    sync.Mutex
	jobs  []models.IngestionJob
	run   func(ctx context.Context) error
	chunk int
}

func (s *scriptedIngestor) Process(ctx context.Context, job models.IngestionJob) (ingestion_engine.Result, error) {
	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	run := s.run
	s.mu.Unlock()
	if run != nil {
		if err := run(ctx); err != nil {
			return ingestion_engine.Result{DocumentID: job.DocumentID}, err
		}
	}
	return ingestion_engine.Result{DocumentID: job.DocumentID, Chunks: s.chunk}, nil
}

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(w, " ")
}
