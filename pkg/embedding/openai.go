package embedding

import (
	"context"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/engramhq/engram/pkg/memory"
)

// Model dimensions for the supported OpenAI embedding models.
const (
	ModelTextEmbedding3Small = "text-embedding-3-small"
	ModelTextEmbedding3Large = "text-embedding-3-large"
)

// OpenAIProvider generates embeddings through the OpenAI API.
type OpenAIProvider struct {
	client    openai.Client
	model     string
	dimension int
}

// NewOpenAIProvider creates an OpenAI embedding provider.
func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	dimension := 1536
	if model == ModelTextEmbedding3Large {
		dimension = 3072
	}
	return &OpenAIProvider{
		client:    openai.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		dimension: dimension,
	}
}

// Dimension implements Provider.
func (p *OpenAIProvider) Dimension() int { return p.dimension }

// Embed implements Provider. Empty text is a caller error, not something to
// paper over with a zero vector.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, memory.NewEmbeddingError("embedding.embed",
			"callers must not embed empty text; skip the entry instead", memory.ErrEmptyText)
	}
	vectors, err := p.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch implements Provider. Output order matches input order. Blank
// inputs become zero vectors rather than being dropped, so positions stay
// aligned.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	var nonEmpty []string
	var positions []int
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			out[i] = make([]float32, p.dimension)
			continue
		}
		nonEmpty = append(nonEmpty, t)
		positions = append(positions, i)
	}

	if len(nonEmpty) == 0 {
		return out, nil
	}

	vectors, err := p.embed(ctx, nonEmpty)
	if err != nil {
		return nil, err
	}
	for i, v := range vectors {
		out[positions[i]] = v
	}
	return out, nil
}

func (p *OpenAIProvider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, memory.NewEmbeddingError("embedding.embed",
			"check network connectivity and the OPENAI API key; captured notes remain durable and can be reindexed later",
			err)
	}
	if len(resp.Data) != len(texts) {
		return nil, memory.NewEmbeddingError("embedding.embed",
			"the embedding API returned a partial batch; retry the operation", nil)
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, f := range d.Embedding {
			vec[j] = float32(f)
		}
		vectors[i] = vec
	}
	return vectors, nil
}
