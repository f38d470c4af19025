package embedding

import (
	"context"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEmbedder produces text-only embeddings through the OpenAI
// embeddings API.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     openai.EmbeddingModel
	dimension int
	logger    *slog.Logger
}

func NewOpenAIEmbedder(apiKey string, dimension int, logger *slog.Logger) *OpenAIEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIEmbedder{
		client:    openai.NewClient(apiKey),
		model:     openai.AdaEmbeddingV2,
		dimension: dimension,
		logger:    logger,
	}
}

func (o *OpenAIEmbedder) Dimension() int { return o.dimension }

func (o *OpenAIEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: o.model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	// The API does not guarantee response order, so place by index.
	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("openai returned out-of-range embedding index %d", d.Index)
		}
		if len(d.Embedding) != o.dimension {
			return nil, fmt.Errorf("openai returned dimension %d, expected %d", len(d.Embedding), o.dimension)
		}
		vecs[d.Index] = Normalize(d.Embedding)
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("openai response missing embedding for input %d", i)
		}
	}
	return vecs, nil
}
