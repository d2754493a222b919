package models

import (
	"time"
)

// DocumentStatus is the ingestion state of an uploaded document.
type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusProcessing DocumentStatus = "processing"
	StatusProcessed  DocumentStatus = "processed"
	StatusFailed     DocumentStatus = "failed"
)

// predecessors lists, for each target status, the statuses a document may move from.
// processing -> processing is a retry attempt of the same job.
var predecessors = map[DocumentStatus][]DocumentStatus{
	StatusProcessing: {StatusUploaded, StatusProcessing},
	StatusProcessed:  {StatusProcessing},
	StatusFailed:     {StatusUploaded, StatusProcessing},
}

// Valid reports whether s is one of the known statuses.
func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusUploaded, StatusProcessing, StatusProcessed, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s DocumentStatus) Terminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

// AllowedFrom returns the statuses a document may hold before moving to s.
func (s DocumentStatus) AllowedFrom() []DocumentStatus {
	return predecessors[s]
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to DocumentStatus) bool {
	for _, p := range predecessors[to] {
		if p == from {
			return true
		}
	}
	return false
}

// Document represents a user-uploaded file attached to a chat.
type Document struct {
	ID           string         `db:"id" json:"id"`
	UserID       string         `db:"user_id" json:"user_id"`
	ChatID       string         `db:"chat_id" json:"chat_id"`
	FileName     string         `db:"file_name" json:"file_name"`
	StoragePath  string         `db:"storage_path" json:"storage_path"` // object key in blob storage
	ByteSize     int64          `db:"byte_size" json:"byte_size"`
	Status       DocumentStatus `db:"status" json:"status"`
	PageCount    *int           `db:"page_count" json:"page_count,omitempty"` // set once processed
	ErrorMessage string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// Chunk is one persisted vector record.
type Chunk struct {
	ID         string    `db:"id" json:"id"`
	DocumentID string    `db:"document_id" json:"document_id"`
	ChatID     string    `db:"chat_id" json:"chat_id"`
	UserID     string    `db:"user_id" json:"user_id"`
	PageNumber int       `db:"page_number" json:"page_number"`
	ChunkIndex int       `db:"chunk_index" json:"chunk_index"`
	Content    string    `db:"content" json:"content"`
	Embedding  []float32 `db:"embedding" json:"-"` // pgvector column
}

// RetrievedChunk is a query-time match; it is never persisted.
type RetrievedChunk struct {
	DocumentID string  `json:"document_id"`
	PageNumber int     `json:"page_number"`
	ChunkIndex int     `json:"chunk_index"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// Event types carried in queue envelopes.
const (
	EventIngestDocument   = "document.ingest"
	EventGenerateResponse = "chat.generate_response"
)

// IngestionJob is the payload carried from the upload path to the ingestion worker.
type IngestionJob struct {
	DocumentID  string `json:"documentId"`
	UserID      string `json:"userId"`
	ChatID      string `json:"chatId"`
	StoragePath string `json:"storagePath"`
	FileName    string `json:"fileName"`
}

// ResponseJob asks the LLM worker to answer a chat message, optionally with document context.
type ResponseJob struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Query     string `json:"query"`
	Context   string `json:"context,omitempty"`
}
