package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/docpipe/internal/core"
)

var _ core.EmbeddingProvider = (*GeminiEmbedder)(nil)

type GeminiEmbedder struct {
	client    *genai.Client
	modelName string
	dim       int
	maxBatch  int
}

func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string, dim, maxBatch int) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, core.E(core.KindConfig, "gemini.new", errors.New("GEMINI_API_KEY not set"))
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, core.E(core.KindConfig, "gemini.new", err)
	}
	if modelName == "" {
		modelName = "text-embedding-004"
	}
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	return &GeminiEmbedder{client: cl, modelName: modelName, dim: dim, maxBatch: maxBatch}, nil
}

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiEmbedder) Dimensions() int { return g.dim }

// EmbedTexts batches all texts in one request via BatchEmbedContents.
func (g *GeminiEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "gemini.embed"
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := checkBatch(op, texts, g.maxBatch); err != nil {
		return nil, err
	}

	em := g.client.EmbeddingModel(g.modelName)
	em.TaskType = genai.TaskTypeRetrievalDocument

	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, core.E(core.KindEmbedding, op, fmt.Errorf("gemini batch embed: %w", err))
	}

	out := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		if e == nil {
			return nil, core.E(core.KindEmbedding, op, errors.New("gemini returned an empty embedding"))
		}
		out = append(out, e.Values)
	}
	if err := checkVectors(op, out, len(texts), g.dim); err != nil {
		return nil, err
	}
	return out, nil
}
