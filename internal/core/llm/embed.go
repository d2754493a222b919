package llm

import (
	"fmt"

	"github.com/markdave123-py/docpipe/internal/core"
)

// DefaultMaxBatch is the largest number of texts sent in one provider call.
const DefaultMaxBatch = 50

func checkBatch(op string, texts []string, max int) error {
	if len(texts) > max {
		return core.E(core.KindInvalidInput, op, fmt.Errorf("batch of %d texts exceeds limit %d", len(texts), max))
	}
	return nil
}

// checkVectors enforces one vector per input, each of the configured dimension.
func checkVectors(op string, vecs [][]float32, want, dim int) error {
	if len(vecs) != want {
		return core.E(core.KindEmbedding, op, fmt.Errorf("got %d embeddings for %d texts", len(vecs), want))
	}
	for i, v := range vecs {
		if dim > 0 && len(v) != dim {
			return core.E(core.KindEmbedding, op, fmt.Errorf("embedding %d has dimension %d, want %d", i, len(v), dim))
		}
	}
	return nil
}
