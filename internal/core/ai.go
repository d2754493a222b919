package core

import "context"

// EmbeddingProvider maps an ordered batch of texts to same-length, same-order vectors.
// An empty batch returns an empty result without calling the provider.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}
