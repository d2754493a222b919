package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/docpipe/internal/core"
	"github.com/markdave123-py/docpipe/internal/models"
)

func TestDispatchWithContext(t *testing.T) {
	vectors := &fakeVectors{results: []models.RetrievedChunk{{ChunkIndex: 1, Content: "vacation policy", Similarity: 0.8}}}
	jobs := &fakePublisher{}
	d := NewResponseDispatcher(NewRetrievalService(&fakeEmbedder{}, vectors, 5, quiet, nil), jobs, quiet)

	job, err := d.Dispatch(context.Background(), ResponseRequest{
		ChatID: "chat-1", MessageID: "msg-1", UserID: "user-1", Query: "how many days off?",
	})
	require.NoError(t, err)
	assert.Contains(t, job.Context, "vacation policy")
	assert.Equal(t, "user-1", vectors.lastUser)

	require.Len(t, jobs.sent, 1)
	assert.Equal(t, models.EventGenerateResponse, jobs.sent[0].eventType)
	assert.Equal(t, job, jobs.sent[0].payload)
}

func TestDispatchWithoutContextStillPublishes(t *testing.T) {
	jobs := &fakePublisher{}
	d := NewResponseDispatcher(NewRetrievalService(&fakeEmbedder{err: errBoom}, &fakeVectors{}, 5, quiet, nil), jobs, quiet)

	job, err := d.Dispatch(context.Background(), ResponseRequest{ChatID: "chat-1", MessageID: "msg-1", UserID: "user-1", Query: "hi"})
	require.NoError(t, err)
	assert.Empty(t, job.Context)
	assert.Len(t, jobs.sent, 1)
}

func TestDispatchValidatesAndReportsPublishErrors(t *testing.T) {
	jobs := &fakePublisher{}
	d := NewResponseDispatcher(NewRetrievalService(&fakeEmbedder{}, &fakeVectors{}, 5, quiet, nil), jobs, quiet)

	_, err := d.Dispatch(context.Background(), ResponseRequest{ChatID: "chat-1"})
	assert.True(t, core.IsKind(err, core.KindInvalidInput))

	_, err = d.Dispatch(context.Background(), ResponseRequest{ChatID: "chat-1", MessageID: "m", Query: "q"})
	assert.True(t, core.IsKind(err, core.KindInvalidInput))

	jobs.err = errBoom
	_, err = d.Dispatch(context.Background(), ResponseRequest{ChatID: "chat-1", MessageID: "m", UserID: "user-1", Query: "q"})
	assert.True(t, core.IsKind(err, core.KindStorage))
}
