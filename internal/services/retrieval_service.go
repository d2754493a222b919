package services

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/markdave123-py/docpipe/internal/core"
	"github.com/markdave123-py/docpipe/internal/metrics"
	"github.com/markdave123-py/docpipe/internal/models"
)

// Retrieval outcomes recorded on docpipe_retrieval_requests_total.
const (
	retrievalHit   = "hit"
	retrievalEmpty = "empty"
	retrievalError = "error"
)

// RetrievalService finds the chunks of a chat most similar to a query.
type RetrievalService struct {
	embedder    core.EmbeddingProvider
	vectors     core.VectorStore
	defaultTopK int
	logger      *log.Logger
	metrics     *metrics.Metrics
}

func NewRetrievalService(emb core.EmbeddingProvider, vectors core.VectorStore, defaultTopK int, logger *log.Logger, m *metrics.Metrics) *RetrievalService {
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[RETRIEVAL] ", log.LstdFlags)
	}
	return &RetrievalService{embedder: emb, vectors: vectors, defaultTopK: defaultTopK, logger: logger, metrics: m}
}

// RetrieveRelevantChunks returns up to topK chunks of chatID ranked by
// similarity to query. Failures are logged and yield an empty list, so a
// caller always gets a usable result. topK <= 0 uses the service default.
func (s *RetrievalService) RetrieveRelevantChunks(ctx context.Context, chatID, query string, topK int) []models.RetrievedChunk {
	return s.retrieve(ctx, chatID, "", query, topK)
}

// RetrieveForUser is RetrieveRelevantChunks limited to chunks of documents
// userID uploaded. An empty userID matches nothing.
func (s *RetrievalService) RetrieveForUser(ctx context.Context, userID, chatID, query string, topK int) []models.RetrievedChunk {
	if userID == "" {
		s.metrics.Retrieval(retrievalEmpty)
		return []models.RetrievedChunk{}
	}
	return s.retrieve(ctx, chatID, userID, query, topK)
}

func (s *RetrievalService) retrieve(ctx context.Context, chatID, userID, query string, topK int) []models.RetrievedChunk {
	none := []models.RetrievedChunk{}
	query = strings.TrimSpace(query)
	if chatID == "" || query == "" {
		s.metrics.Retrieval(retrievalEmpty)
		return none
	}
	if topK <= 0 {
		topK = s.defaultTopK
	}

	vecs, err := s.embedder.EmbedTexts(ctx, []string{query})
	if err == nil && len(vecs) != 1 {
		err = fmt.Errorf("embedder returned %d vectors for 1 query", len(vecs))
	}
	if err != nil {
		s.logger.Printf("Retrieval: embedding query for chat %s: %v", chatID, err)
		s.metrics.Retrieval(retrievalError)
		return none
	}

	chunks, err := s.vectors.QueryTopK(ctx, chatID, userID, vecs[0], topK)
	if err != nil {
		s.logger.Printf("Retrieval: querying chunks for chat %s: %v", chatID, err)
		s.metrics.Retrieval(retrievalError)
		return none
	}
	if len(chunks) == 0 {
		s.metrics.Retrieval(retrievalEmpty)
		return none
	}
	s.metrics.Retrieval(retrievalHit)
	return chunks
}

// FormatContextForLLM renders chunks as one delimited block for a prompt.
// An empty list renders as "".
func FormatContextForLLM(chunks []models.RetrievedChunk) string {
	if len(chunks) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant document excerpts:\n")
	for i, c := range chunks {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		fmt.Fprintf(&b, "\n[Chunk %d | Page %d | %.1f%% match]\n%s\n",
			c.ChunkIndex, c.PageNumber, c.Similarity*100, strings.TrimSpace(c.Content))
	}
	return b.String()
}
