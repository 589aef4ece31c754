package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/engramhq/engram/pkg/memory"
)

// MockProvider produces deterministic embeddings from token hashes. Texts
// sharing vocabulary land near each other, which is enough for search and
// ranking tests without a model.
type MockProvider struct {
	dimension int
}

// NewMockProvider creates a mock provider with the given dimensionality.
func NewMockProvider(dimension int) *MockProvider {
	return &MockProvider{dimension: dimension}
}

// Dimension implements Provider.
func (p *MockProvider) Dimension() int { return p.dimension }

// Embed implements Provider.
func (p *MockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, memory.NewEmbeddingError("embedding.embed",
			"callers must not embed empty text; skip the entry instead", memory.ErrEmptyText)
	}
	return p.vectorize(text), nil
}

// EmbedBatch implements Provider, with zero vectors for blank inputs.
func (p *MockProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			out[i] = make([]float32, p.dimension)
			continue
		}
		out[i] = p.vectorize(t)
	}
	return out, nil
}

func (p *MockProvider) vectorize(text string) []float32 {
	vec := make([]float32, p.dimension)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(strings.Trim(token, ".,;:!?\"'()")))
		vec[int(h.Sum32())%p.dimension] += 1.0
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1.0 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}
