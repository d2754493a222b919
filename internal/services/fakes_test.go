package services

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/markdave123-py/docpipe/internal/core"
	"github.com/markdave123-py/docpipe/internal/models"
)

var quiet = log.New(io.Discard, "", 0)

type fakeDocs struct {
	mu        sync.Mutex
	docs      map[string]*models.Document
	createErr error
}

func newFakeDocs() *fakeDocs { return &fakeDocs{docs: map[string]*models.Document{}} }

func (f *fakeDocs) CreateDocument(_ context.Context, doc *models.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	cp := *doc
	f.docs[doc.ID] = &cp
	return nil
}

func (f *fakeDocs) GetDocumentByID(_ context.Context, id string) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, core.E(core.KindNotFound, "fakedocs", core.ErrDocumentNotFound)
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDocs) DeleteDocument(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[id]; !ok {
		return core.E(core.KindNotFound, "fakedocs", core.ErrDocumentNotFound)
	}
	delete(f.docs, id)
	return nil
}

func (f *fakeDocs) UpdateDocumentStatus(_ context.Context, id string, status models.DocumentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[id].Status = status
	return nil
}

func (f *fakeDocs) MarkProcessed(_ context.Context, id string, pageCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[id].Status = models.StatusProcessed
	f.docs[id].PageCount = &pageCount
	return nil
}

func (f *fakeDocs) MarkFailed(_ context.Context, id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[id].Status = models.StatusFailed
	f.docs[id].ErrorMessage = reason
	return nil
}

func (f *fakeDocs) FailStaleProcessing(context.Context, time.Duration) (int64, error) { return 0, nil }

// calls records collaborator calls in order across fakes.
type calls struct {
	mu  sync.Mutex
	log []string
}

func (c *calls) add(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, s)
}

type fakeVectors struct {
	seq      *calls
	results  []models.RetrievedChunk
	queryErr error
	lastK    int
	lastChat string
	lastUser string
}

func (v *fakeVectors) StoreBatch(context.Context, []models.Chunk) error { return nil }

func (v *fakeVectors) DeleteByDocument(_ context.Context, id string) error {
	if v.seq != nil {
		v.seq.add("vectors:" + id)
	}
	return nil
}

func (v *fakeVectors) QueryTopK(_ context.Context, chatID, userID string, _ []float32, k int) ([]models.RetrievedChunk, error) {
	v.lastK, v.lastChat, v.lastUser = k, chatID, userID
	if v.queryErr != nil {
		return nil, v.queryErr
	}
	if v.results == nil {
		return []models.RetrievedChunk{}, nil
	}
	return v.results, nil
}

type fakeStorage struct {
	seq       *calls
	blobs     map[string][]byte
	uploadErr error
}

func (s *fakeStorage) Upload(_ context.Context, path string, data io.Reader, _ string) error {
	if s.uploadErr != nil {
		return s.uploadErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.blobs[path] = b
	return nil
}

func (s *fakeStorage) Download(_ context.Context, path string) ([]byte, error) {
	b, ok := s.blobs[path]
	if !ok {
		return nil, core.ErrBlobNotFound
	}
	return b, nil
}

func (s *fakeStorage) Delete(_ context.Context, path string) error {
	if s.seq != nil {
		s.seq.add("blob:" + path)
	}
	delete(s.blobs, path)
	return nil
}

type published struct {
	eventType string
	payload   any
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, eventType string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.sent = append(p.sent, published{eventType, payload})
	return "1-0", nil
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (e *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (e *fakeEmbedder) Dimensions() int { return 3 }

var errBoom = errors.New("boom")
