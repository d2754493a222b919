package services

import (
	"context"
	"errors"
	"log"

	"github.com/markdave123-py/docpipe/internal/core"
	"github.com/markdave123-py/docpipe/internal/models"
)

// ResponseRequest identifies a chat message awaiting an answer.
type ResponseRequest struct {
	ChatID    string
	MessageID string
	UserID    string
	Query     string
	TopK      int
}

// ResponseDispatcher attaches document context to a chat message and hands
// it to the response worker queue.
type ResponseDispatcher struct {
	retrieval *RetrievalService
	jobs      core.JobPublisher
	logger    *log.Logger
}

func NewResponseDispatcher(retrieval *RetrievalService, jobs core.JobPublisher, logger *log.Logger) *ResponseDispatcher {
	if logger == nil {
		logger = log.New(log.Writer(), "[RETRIEVAL] ", log.LstdFlags)
	}
	return &ResponseDispatcher{retrieval: retrieval, jobs: jobs, logger: logger}
}

// Dispatch publishes a response job and returns it. Context comes only from
// documents the requesting user uploaded, and is empty when nothing relevant
// was found.
func (d *ResponseDispatcher) Dispatch(ctx context.Context, req ResponseRequest) (*models.ResponseJob, error) {
	if req.ChatID == "" || req.MessageID == "" || req.UserID == "" || req.Query == "" {
		return nil, core.E(core.KindInvalidInput, "responses.dispatch", errors.New("chatId, messageId, userId and query are required"))
	}

	chunks := d.retrieval.RetrieveForUser(ctx, req.UserID, req.ChatID, req.Query, req.TopK)
	job := &models.ResponseJob{
		ChatID:    req.ChatID,
		MessageID: req.MessageID,
		UserID:    req.UserID,
		Query:     req.Query,
		Context:   FormatContextForLLM(chunks),
	}
	if _, err := d.jobs.Publish(ctx, models.EventGenerateResponse, job); err != nil {
		return nil, core.E(core.KindStorage, "responses.dispatch", err)
	}
	d.logger.Printf("ResponseDispatcher: message %s queued with %d context chunk(s)", req.MessageID, len(chunks))
	return job, nil
}
