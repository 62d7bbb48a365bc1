package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIEmbedder calls OpenAI's embeddings API.
type OpenAIEmbedder struct {
	model      openai.EmbeddingModel
	client     *openai.Client
	dimensions int
	timeout    time.Duration
}

const defaultEmbeddingTimeout = 30 * time.Second

// NewOpenAIEmbedder creates a new OpenAI embedder. For text-embedding-3
// models a positive dimensions truncates vectors server side to match the
// index; every returned vector is checked against it. A zero timeout uses 30s.
func NewOpenAIEmbedder(apiKey string, model openai.EmbeddingModel, dimensions int, timeout time.Duration, opts ...option.RequestOption) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key required")
	}
	if model == "" {
		model = openai.EmbeddingModelTextEmbedding3Small
	}
	if timeout <= 0 {
		timeout = defaultEmbeddingTimeout
	}
	cli := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &OpenAIEmbedder{
		model:      model,
		client:     &cli,
		dimensions: dimensions,
		timeout:    timeout,
	}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	if e == nil || e.client == nil {
		return nil, &ProviderError{Provider: "openai", Err: errors.New("nil openai client")}
	}
	reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
		Model: e.model,
	}
	if e.dimensions > 0 && strings.HasPrefix(string(e.model), "text-embedding-3") {
		params.Dimensions = openai.Int(int64(e.dimensions))
	}

	resp, err := e.client.Embeddings.New(reqCtx, params)
	if err != nil {
		return nil, &ProviderError{Provider: "openai", Err: err}
	}
	if len(resp.Data) == 0 {
		return nil, &ProviderError{Provider: "openai", Err: errors.New("no embedding returned")}
	}
	embedding := resp.Data[0].Embedding
	if e.dimensions > 0 && len(embedding) != e.dimensions {
		return nil, &ProviderError{Provider: "openai", Err: fmt.Errorf("embedding has %d dimensions, want %d", len(embedding), e.dimensions)}
	}
	vec := make(Vector, len(embedding))
	for i, v := range embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
