package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	middleware "github.com/markdave123-py/docpipe/internal/api/middlewares"
	"github.com/markdave123-py/docpipe/internal/core"
	"github.com/markdave123-py/docpipe/internal/models"
	"github.com/markdave123-py/docpipe/internal/services"
)

const (
	maxUploadBytes = 50 << 20
	uploadTimeout  = 5 * time.Minute
)

// DocumentService is the part of services.DocumentService the handler needs.
type DocumentService interface {
	UploadAndEnqueue(ctx context.Context, req services.UploadRequest) (*models.Document, error)
	Get(ctx context.Context, id string) (*models.Document, error)
	Delete(ctx context.Context, id string) error
}

type DocumentHandler struct {
	docs DocumentService
}

func NewDocumentHandler(docs DocumentService) *DocumentHandler {
	return &DocumentHandler{docs: docs}
}

// documentStatus is what clients poll while a document is ingested.
type documentStatus struct {
	ID           string                `json:"id"`
	ChatID       string                `json:"chat_id"`
	FileName     string                `json:"file_name"`
	Status       models.DocumentStatus `json:"status"`
	PageCount    *int                  `json:"page_count,omitempty"`
	ErrorMessage string                `json:"error_message,omitempty"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

func statusOf(d *models.Document) documentStatus {
	return documentStatus{
		ID:           d.ID,
		ChatID:       d.ChatID,
		FileName:     d.FileName,
		Status:       d.Status,
		PageCount:    d.PageCount,
		ErrorMessage: d.ErrorMessage,
		UpdatedAt:    d.UpdatedAt,
	}
}

// UploadDocument stores a multipart "file" for the chat in "chat_id" and queues it for ingestion.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "invalid file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ctx, cancel := context.WithTimeout(r.Context(), uploadTimeout)
	defer cancel()

	doc, err := h.docs.UploadAndEnqueue(ctx, services.UploadRequest{
		UserID:      userID,
		ChatID:      r.FormValue("chat_id"),
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, statusOf(doc))
}

// GetDocument returns the ingestion status of one of the caller's documents.
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.owned(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, statusOf(doc))
}

func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.owned(w, r)
	if !ok {
		return
	}
	if err := h.docs.Delete(r.Context(), doc.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// owned loads {documentID} and hides documents of other users behind a 404.
func (h *DocumentHandler) owned(w http.ResponseWriter, r *http.Request) (*models.Document, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	doc, err := h.docs.Get(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	if doc.UserID != userID {
		writeError(w, core.E(core.KindNotFound, "documents.get", core.ErrDocumentNotFound))
		return nil, false
	}
	return doc, true
}
