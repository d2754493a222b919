package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/markdave123-py/docpipe/internal/core"
)

var _ core.EmbeddingProvider = (*HTTPEmbedder)(nil)

const defaultHTTPTimeout = 60 * time.Second

// HTTPEmbedderConfig configures a feature-extraction endpoint that takes
// {"inputs": [...]} and answers with one float vector per input.
type HTTPEmbedderConfig struct {
	URL        string
	APIKey     string
	Dimensions int
	MaxBatch   int
	Timeout    time.Duration
	Client     *http.Client
}

// HTTPEmbedder calls a hosted sentence-embedding model over HTTP.
type HTTPEmbedder struct {
	client   *http.Client
	url      string
	apiKey   string
	dim      int
	maxBatch int
}

type featureRequest struct {
	Inputs  []string       `json:"inputs"`
	Options featureOptions `json:"options"`
}

type featureOptions struct {
	WaitForModel bool `json:"wait_for_model"`
}

type featureError struct {
	Error string `json:"error"`
}

func NewHTTPEmbedder(cfg HTTPEmbedderConfig) (*HTTPEmbedder, error) {
	if cfg.URL == "" {
		return nil, core.E(core.KindConfig, "http_embed.new", errors.New("EMBED_URL not set"))
	}
	if cfg.Dimensions <= 0 {
		return nil, core.E(core.KindConfig, "http_embed.new", fmt.Errorf("dimensions must be > 0, got %d", cfg.Dimensions))
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPEmbedder{
		client:   client,
		url:      cfg.URL,
		apiKey:   cfg.APIKey,
		dim:      cfg.Dimensions,
		maxBatch: cfg.MaxBatch,
	}, nil
}

func (h *HTTPEmbedder) Dimensions() int { return h.dim }

// EmbedTexts sends texts in one request. Any non-2xx status or malformed body
// fails the whole batch.
func (h *HTTPEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "http_embed.embed"
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := checkBatch(op, texts, h.maxBatch); err != nil {
		return nil, err
	}

	body, err := json.Marshal(featureRequest{Inputs: texts, Options: featureOptions{WaitForModel: true}})
	if err != nil {
		return nil, core.E(core.KindEmbedding, op, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, core.E(core.KindEmbedding, op, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, core.E(core.KindEmbedding, op, fmt.Errorf("send request: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.E(core.KindEmbedding, op, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var fe featureError
		if json.Unmarshal(raw, &fe) == nil && fe.Error != "" {
			return nil, core.E(core.KindEmbedding, op, fmt.Errorf("status %d: %s", resp.StatusCode, fe.Error))
		}
		return nil, core.E(core.KindEmbedding, op, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(raw, 256)))
	}

	var vecs [][]float32
	if err := json.Unmarshal(raw, &vecs); err != nil {
		return nil, core.E(core.KindEmbedding, op, fmt.Errorf("decode response: %w", err))
	}
	if err := checkVectors(op, vecs, len(texts), h.dim); err != nil {
		return nil, err
	}
	return vecs, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
