package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/markdave123-py/docpipe/internal/core"
	"github.com/markdave123-py/docpipe/internal/models"
)

type memDocs struct {
	mu   sync.Mutex
	docs map[string]*models.Document
}

func newMemDocs(docs ...*models.Document) *memDocs {
	m := &memDocs{docs: map[string]*models.Document{}}
	for _, d := range docs {
		m.docs[d.ID] = d
	}
	return m
}

func (m *memDocs) CreateDocument(_ context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
	return nil
}

func (m *memDocs) GetDocumentByID(_ context.Context, id string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, core.ErrDocumentNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memDocs) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	return nil
}

func (m *memDocs) move(id string, to models.DocumentStatus) (*models.Document, error) {
	d, ok := m.docs[id]
	if !ok {
		return nil, core.E(core.KindNotFound, "memdocs", core.ErrDocumentNotFound)
	}
	if !models.CanTransition(d.Status, to) {
		return nil, core.E(core.KindInvalidTransition, "memdocs", core.ErrInvalidTransition)
	}
	d.Status = to
	d.UpdatedAt = time.Now()
	return d, nil
}

func (m *memDocs) UpdateDocumentStatus(_ context.Context, id string, status models.DocumentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.move(id, status)
	return err
}

func (m *memDocs) MarkProcessed(_ context.Context, id string, pageCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.move(id, models.StatusProcessed)
	if err != nil {
		return err
	}
	d.PageCount = &pageCount
	return nil
}

func (m *memDocs) MarkFailed(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.move(id, models.StatusFailed)
	if err != nil {
		return err
	}
	d.ErrorMessage = reason
	return nil
}

func (m *memDocs) FailStaleProcessing(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

func (m *memDocs) status(id string) models.DocumentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[id].Status
}

type memVectors struct {
	mu       sync.Mutex
	chunks   []models.Chunk
	storeErr error
	deletes  int
}

func (v *memVectors) StoreBatch(_ context.Context, chunks []models.Chunk) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.storeErr != nil {
		return v.storeErr
	}
	v.chunks = append(v.chunks, chunks...)
	return nil
}

func (v *memVectors) DeleteByDocument(_ context.Context, documentID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.deletes++
	kept := v.chunks[:0]
	for _, c := range v.chunks {
		if c.DocumentID != documentID {
			kept = append(kept, c)
		}
	}
	v.chunks = kept
	return nil
}

func (v *memVectors) QueryTopK(context.Context, string, string, []float32, int) ([]models.RetrievedChunk, error) {
	return nil, nil
}

func (v *memVectors) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.chunks)
}

type memObjects struct {
	blobs map[string][]byte
}

func (o *memObjects) Upload(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	o.blobs[path] = b
	return nil
}

func (o *memObjects) Download(_ context.Context, path string) ([]byte, error) {
	b, ok := o.blobs[path]
	if !ok {
		return nil, core.E(core.KindDownload, "memobjects", fmt.Errorf("%s: %w", path, core.ErrBlobNotFound))
	}
	return b, nil
}

func (o *memObjects) Delete(_ context.Context, path string) error {
	delete(o.blobs, path)
	return nil
}

// stubEmbedder fails every call listed in failOn (1-based).
type stubEmbedder struct {
	mu     sync.Mutex
	dim    int
	calls  int
	failOn map[int]bool
	sizes  []int
	onCall func(n int)
}

func (e *stubEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	n := e.calls
	e.sizes = append(e.sizes, len(texts))
	fail := e.failOn[n]
	hook := e.onCall
	e.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if fail {
		return nil, core.E(core.KindEmbedding, "stub", errors.New("status 500"))
	}
	out := make([][]float32, len(texts))
	for k := range texts {
		v := make([]float32, e.dim)
		v[0] = float32(len(texts[k]))
		out[k] = v
	}
	return out, nil
}

func (e *stubEmbedder) Dimensions() int { return e.dim }

type staticExtractor struct {
	text  string
	pages int
	err   error
}

func (x staticExtractor) ExtractText(context.Context, []byte) (*core.Extraction, error) {
	if x.err != nil {
		return nil, x.err
	}
	return &core.Extraction{Text: x.text, PageCount: x.pages}, nil
}

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(w, " ")
}
