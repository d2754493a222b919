package services

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/docpipe/internal/core"
	"github.com/markdave123-py/docpipe/internal/metrics"
	"github.com/markdave123-py/docpipe/internal/models"
)

func TestRetrieveRelevantChunks(t *testing.T) {
	want := []models.RetrievedChunk{
		{DocumentID: "doc-1", ChunkIndex: 2, Content: "alpha", Similarity: 0.91},
		{DocumentID: "doc-1", ChunkIndex: 0, Content: "beta", Similarity: 0.40},
	}
	vectors := &fakeVectors{results: want}
	svc := NewRetrievalService(&fakeEmbedder{}, vectors, 5, quiet, nil)

	got := svc.RetrieveRelevantChunks(context.Background(), "chat-1", "what is alpha?", 3)
	assert.Equal(t, want, got)
	assert.Equal(t, 3, vectors.lastK)
	assert.Equal(t, "chat-1", vectors.lastChat)
	assert.Empty(t, vectors.lastUser)
}

func TestRetrieveForUserScopesByOwner(t *testing.T) {
	vectors := &fakeVectors{results: []models.RetrievedChunk{{DocumentID: "doc-1", Content: "alpha"}}}
	svc := NewRetrievalService(&fakeEmbedder{}, vectors, 5, quiet, nil)

	got := svc.RetrieveForUser(context.Background(), "user-1", "chat-1", "alpha?", 2)
	require.Len(t, got, 1)
	assert.Equal(t, "user-1", vectors.lastUser)
	assert.Equal(t, "chat-1", vectors.lastChat)
}

func TestRetrieveForUserWithoutUserFindsNothing(t *testing.T) {
	vectors := &fakeVectors{results: []models.RetrievedChunk{{DocumentID: "doc-1"}}}
	embedder := &fakeEmbedder{}
	svc := NewRetrievalService(embedder, vectors, 5, quiet, nil)

	got := svc.RetrieveForUser(context.Background(), "", "chat-1", "alpha?", 2)
	require.NotNil(t, got)
	assert.Empty(t, got)
	assert.Zero(t, vectors.lastK)
	assert.Zero(t, embedder.calls)
}

func TestRetrieveUsesDefaultTopK(t *testing.T) {
	vectors := &fakeVectors{}
	svc := NewRetrievalService(&fakeEmbedder{}, vectors, 7, quiet, nil)

	svc.RetrieveRelevantChunks(context.Background(), "chat-1", "q", 0)
	assert.Equal(t, 7, vectors.lastK)
}

func TestRetrieveDegradesToEmpty(t *testing.T) {
	tests := []struct {
		name     string
		embedder *fakeEmbedder
		vectors  *fakeVectors
		chat     string
		query    string
	}{
		{"chat without documents", &fakeEmbedder{}, &fakeVectors{}, "chat-1", "hello"},
		{"embedding failure", &fakeEmbedder{err: core.E(core.KindEmbedding, "embed", errBoom)}, &fakeVectors{}, "chat-1", "hello"},
		{"store failure", &fakeEmbedder{}, &fakeVectors{queryErr: core.E(core.KindStorage, "query", errBoom)}, "chat-1", "hello"},
		{"blank query", &fakeEmbedder{}, &fakeVectors{}, "chat-1", "   "},
		{"no chat", &fakeEmbedder{}, &fakeVectors{}, "", "hello"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewRetrievalService(tc.embedder, tc.vectors, 5, quiet, nil)
			got := svc.RetrieveRelevantChunks(context.Background(), tc.chat, tc.query, 5)
			require.NotNil(t, got)
			assert.Empty(t, got)
			assert.Equal(t, "", FormatContextForLLM(got))
		})
	}
}

func TestRetrieveRecordsOutcomes(t *testing.T) {
	m := metrics.New()
	svc := NewRetrievalService(&fakeEmbedder{err: errBoom}, &fakeVectors{}, 5, quiet, m)
	svc.RetrieveRelevantChunks(context.Background(), "chat-1", "q", 5)

	n, err := testutil.GatherAndCount(m.Registry(), "docpipe_retrieval_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFormatContextForLLM(t *testing.T) {
	out := FormatContextForLLM([]models.RetrievedChunk{
		{ChunkIndex: 3, PageNumber: 0, Content: "  first chunk  ", Similarity: 0.875},
		{ChunkIndex: 7, PageNumber: 2, Content: "second chunk", Similarity: 0.5},
	})

	assert.True(t, strings.HasPrefix(out, "Relevant document excerpts:\n"))
	assert.Contains(t, out, "[Chunk 3 | Page 0 | 87.5% match]\nfirst chunk\n")
	assert.Contains(t, out, "[Chunk 7 | Page 2 | 50.0% match]\nsecond chunk\n")
	assert.Equal(t, 1, strings.Count(out, "\n---\n"))
	assert.Less(t, strings.Index(out, "Chunk 3"), strings.Index(out, "Chunk 7"))
}
