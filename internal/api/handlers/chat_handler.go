package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	middleware "github.com/markdave123-py/docpipe/internal/api/middlewares"
	"github.com/markdave123-py/docpipe/internal/models"
	"github.com/markdave123-py/docpipe/internal/services"
)

// Retriever searches only the chunks of documents userID uploaded to chatID.
type Retriever interface {
	RetrieveForUser(ctx context.Context, userID, chatID, query string, topK int) []models.RetrievedChunk
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req services.ResponseRequest) (*models.ResponseJob, error)
}

type ChatHandler struct {
	retriever  Retriever
	dispatcher Dispatcher
}

func NewChatHandler(retriever Retriever, dispatcher Dispatcher) *ChatHandler {
	return &ChatHandler{retriever: retriever, dispatcher: dispatcher}
}

type ChatRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

type contextResponse struct {
	Chunks  []models.RetrievedChunk `json:"chunks"`
	Context string                  `json:"context"`
}

// RetrieveContext returns the caller's chunks of {chatID} closest to the
// query and their prompt rendering. No match is a 200 with an empty list.
func (h *ChatHandler) RetrieveContext(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	req, ok := decodeChatRequest(w, r)
	if !ok {
		return
	}

	chunks := h.retriever.RetrieveForUser(r.Context(), userID, chi.URLParam(r, "chatID"), req.Query, req.TopK)
	writeJSON(w, http.StatusOK, contextResponse{Chunks: chunks, Context: services.FormatContextForLLM(chunks)})
}

// RequestResponse queues an answer for {messageID} with whatever document context is found.
func (h *ChatHandler) RequestResponse(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	req, ok := decodeChatRequest(w, r)
	if !ok {
		return
	}

	job, err := h.dispatcher.Dispatch(r.Context(), services.ResponseRequest{
		ChatID:    chi.URLParam(r, "chatID"),
		MessageID: chi.URLParam(r, "messageID"),
		UserID:    userID,
		Query:     req.Query,
		TopK:      req.TopK,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func decodeChatRequest(w http.ResponseWriter, r *http.Request) (ChatRequest, bool) {
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return req, false
	}
	if req.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}
