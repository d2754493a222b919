package core

import (
	"context"
	"io"
	"time"

	"github.com/markdave123-py/docpipe/internal/models"
)

// DocumentStore persists document metadata and guards status transitions.
// It abstracts Postgres so higher layers never depend on a specific DB.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	DeleteDocument(ctx context.Context, id string) error

	// UpdateDocumentStatus fails with ErrInvalidTransition when the current status
	// does not allow moving to status.
	UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus) error
	MarkProcessed(ctx context.Context, id string, pageCount int) error
	MarkFailed(ctx context.Context, id string, reason string) error

	// FailStaleProcessing fails documents stuck in processing longer than olderThan.
	FailStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error)
}

// VectorStore persists chunk vectors and answers chat-scoped nearest-neighbour queries.
// QueryTopK with an empty userID matches chunks of every owner.
type VectorStore interface {
	StoreBatch(ctx context.Context, chunks []models.Chunk) error
	DeleteByDocument(ctx context.Context, documentID string) error
	QueryTopK(ctx context.Context, chatID, userID string, embedding []float32, k int) ([]models.RetrievedChunk, error)
}

// ObjectClient defines interactions with S3 or any object storage.
// Download returns an error wrapping ErrBlobNotFound when path does not exist.
type ObjectClient interface {
	Upload(ctx context.Context, path string, data io.Reader, contentType string) error
	Download(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}

// JobPublisher enqueues a payload for a background consumer.
type JobPublisher interface {
	Publish(ctx context.Context, eventType string, payload any) (string, error)
}
