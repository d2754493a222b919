package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/docpipe/internal/config"
	"github.com/markdave123-py/docpipe/internal/core"
	"github.com/markdave123-py/docpipe/internal/metrics"
	"github.com/markdave123-py/docpipe/internal/models"
	"github.com/markdave123-py/docpipe/internal/services"
)

type stubDocs struct{}

func (stubDocs) UploadAndEnqueue(context.Context, services.UploadRequest) (*models.Document, error) {
	return nil, errors.New("unused")
}

func (stubDocs) Get(_ context.Context, id string) (*models.Document, error) {
	if id == "doc-1" {
		return &models.Document{ID: id, UserID: "user-1", Status: models.StatusProcessing}, nil
	}
	return nil, core.E(core.KindNotFound, "stub", core.ErrDocumentNotFound)
}

func (stubDocs) Delete(context.Context, string) error { return nil }

type stubRetriever struct{}

func (stubRetriever) RetrieveForUser(context.Context, string, string, string, int) []models.RetrievedChunk {
	return []models.RetrievedChunk{}
}

type stubDispatcher struct{}

func (stubDispatcher) Dispatch(_ context.Context, req services.ResponseRequest) (*models.ResponseJob, error) {
	return &models.ResponseJob{ChatID: req.ChatID, MessageID: req.MessageID}, nil
}

func testRouter(t *testing.T, ping func(context.Context) error) http.Handler {
	t.Helper()
	cfg := &config.Config{JWTSecret: "s3cret", AllowedOrigins: []string{"http://localhost:5173"}}
	return NewRouter(cfg, ServerDeps{
		Documents:  stubDocs{},
		Retrieval:  stubRetriever{},
		Dispatcher: stubDispatcher{},
		Metrics:    metrics.New(),
		Ping:       ping,
	})
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	return "Bearer " + tok
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter(t, func(context.Context) error { return nil }).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	testRouter(t, func(context.Context) error { return errors.New("redis: down") }).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter(t, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestAPIRequiresToken(t *testing.T) {
	h := testRouter(t, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/documents/doc-1", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/documents/doc-1", nil)
	req.Header.Set("Authorization", bearer(t, "user-1"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"processing"`)
}

func TestAPIRoutes(t *testing.T) {
	h := testRouter(t, nil)
	tests := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodGet, "/api/documents/missing", "", http.StatusNotFound},
		{http.MethodDelete, "/api/documents/doc-1", "", http.StatusNoContent},
		{http.MethodPost, "/api/chats/chat-1/context", `{"query":"q"}`, http.StatusOK},
		{http.MethodPost, "/api/chats/chat-1/messages/m-1/respond", `{"query":"q"}`, http.StatusAccepted},
	}
	for _, tc := range tests {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
			req.Header.Set("Authorization", bearer(t, "user-1"))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/documents/doc-1", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodDelete)
	rec := httptest.NewRecorder()
	testRouter(t, nil).ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRetryPolicyFromConfig(t *testing.T) {
	p := retryPolicy(&config.Config{
		RetryAttempts: 3, RetryInitialDelay: 2 * time.Second, RetryMultiplier: 2, RetryMaxDelay: time.Minute,
	})
	require.NoError(t, p.Validate())
	assert.Equal(t, 4*time.Second, p.Backoff(2))
}

func TestNewEmbedderRejectsUnknownProvider(t *testing.T) {
	_, _, err := newEmbedder(context.Background(), &config.Config{EmbedProvider: "openai"})
	assert.True(t, core.IsKind(err, core.KindConfig))

	_, _, err = newEmbedder(context.Background(), &config.Config{EmbedProvider: "http", EmbedDim: 384, EmbedMaxBatch: 50})
	assert.True(t, core.IsKind(err, core.KindConfig), "missing EMBED_URL")
}
