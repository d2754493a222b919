package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/markdave123-py/docpipe/internal/core"
	"github.com/markdave123-py/docpipe/internal/models"
)

const pdfContentType = "application/pdf"

// UploadRequest is one file handed to UploadAndEnqueue.
type UploadRequest struct {
	UserID      string
	ChatID      string
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// DocumentService is the producer side of ingestion: it stores uploads,
// records them and queues them for the worker.
type DocumentService struct {
	docs    core.DocumentStore
	vectors core.VectorStore
	storage core.ObjectClient
	jobs    core.JobPublisher
	logger  *log.Logger
}

func NewDocumentService(docs core.DocumentStore, vectors core.VectorStore, storage core.ObjectClient, jobs core.JobPublisher, logger *log.Logger) *DocumentService {
	if logger == nil {
		logger = log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	}
	return &DocumentService{docs: docs, vectors: vectors, storage: storage, jobs: jobs, logger: logger}
}

// UploadAndEnqueue stores the blob, creates an uploaded Document and
// publishes its ingestion job. A job that cannot be queued fails the document.
func (s *DocumentService) UploadAndEnqueue(ctx context.Context, req UploadRequest) (*models.Document, error) {
	name, err := validateUpload(req)
	if err != nil {
		return nil, err
	}

	docID := uuid.NewString()
	key := objectKey(req.UserID, docID, name)

	if err := s.storage.Upload(ctx, key, req.Body, pdfContentType); err != nil {
		return nil, core.Tag(core.KindStorage, "documents.upload", err)
	}

	doc := &models.Document{
		ID:          docID,
		UserID:      req.UserID,
		ChatID:      req.ChatID,
		FileName:    name,
		StoragePath: key,
		ByteSize:    req.Size,
		Status:      models.StatusUploaded,
	}
	if err := s.docs.CreateDocument(ctx, doc); err != nil {
		if derr := s.storage.Delete(context.WithoutCancel(ctx), key); derr != nil {
			s.logger.Printf("DocumentService: orphaned blob %s: %v", key, derr)
		}
		return nil, core.Tag(core.KindStorage, "documents.create", err)
	}

	job := models.IngestionJob{
		DocumentID:  doc.ID,
		UserID:      doc.UserID,
		ChatID:      doc.ChatID,
		StoragePath: doc.StoragePath,
		FileName:    doc.FileName,
	}
	if _, err := s.jobs.Publish(ctx, models.EventIngestDocument, job); err != nil {
		reason := fmt.Sprintf("enqueue failed: %v", err)
		if merr := s.docs.MarkFailed(context.WithoutCancel(ctx), doc.ID, reason); merr != nil {
			s.logger.Printf("DocumentService: marking %s failed: %v", doc.ID, merr)
		}
		return nil, core.E(core.KindStorage, "documents.enqueue", err)
	}

	s.logger.Printf("DocumentService: queued document %s (%s, %d bytes) for chat %s", doc.ID, doc.FileName, doc.ByteSize, doc.ChatID)
	return doc, nil
}

func (s *DocumentService) Get(ctx context.Context, id string) (*models.Document, error) {
	return s.docs.GetDocumentByID(ctx, id)
}

// Delete removes a document's vectors, then its blob, then its row.
func (s *DocumentService) Delete(ctx context.Context, id string) error {
	doc, err := s.docs.GetDocumentByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.vectors.DeleteByDocument(ctx, id); err != nil {
		return core.Tag(core.KindStorage, "documents.delete_vectors", err)
	}
	if err := s.storage.Delete(ctx, doc.StoragePath); err != nil {
		return core.Tag(core.KindStorage, "documents.delete_blob", err)
	}
	if err := s.docs.DeleteDocument(ctx, id); err != nil {
		return err
	}
	s.logger.Printf("DocumentService: deleted document %s", id)
	return nil
}

func validateUpload(req UploadRequest) (string, error) {
	const op = "documents.upload"
	if req.UserID == "" || req.ChatID == "" {
		return "", core.E(core.KindInvalidInput, op, errors.New("userId and chatId are required"))
	}
	if req.Body == nil {
		return "", core.E(core.KindInvalidInput, op, errors.New("empty upload"))
	}
	name := sanitizeFileName(req.FileName)
	if name == "" {
		return "", core.E(core.KindInvalidInput, op, errors.New("file name is required"))
	}
	ct := strings.ToLower(strings.TrimSpace(req.ContentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct != pdfContentType && !strings.EqualFold(path.Ext(name), ".pdf") {
		return "", core.E(core.KindInvalidInput, op, fmt.Errorf("%s is not a PDF", name))
	}
	return name, nil
}

// sanitizeFileName drops any directory part and spaces so the key layout stays flat.
func sanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return strings.ReplaceAll(name, " ", "_")
}

// objectKey creates a consistent S3 key layout.
func objectKey(userID, docID, filename string) string {
	return path.Join("users", userID, "documents", docID, filename)
}
