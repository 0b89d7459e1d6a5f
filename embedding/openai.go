package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIOptions configures OpenAIEmbedder.
type OpenAIOptions struct {
	// Model defaults to text-embedding-3-small.
	Model   string
	APIKey  string
	BaseURL string
}

// OpenAIEmbedder calls the OpenAI embeddings endpoint through the official SDK.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     string
	dimension int
}

// NewOpenAIEmbedder creates an embedder. The API key falls back to
// OPENAI_API_KEY.
func NewOpenAIEmbedder(optFns ...func(o *OpenAIOptions)) *OpenAIEmbedder {
	opts := OpenAIOptions{Model: openai.EmbeddingModelTextEmbedding3Small}
	for _, fn := range optFns {
		fn(&opts)
	}
	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := openai.NewClient(clientOpts...)
	return &OpenAIEmbedder{client: &client, model: opts.Model}
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	vectors, err := e.request(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || vectors[0] == nil {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return vectors[0], nil
}

// EmbedBatch sends one request for the whole batch and falls back to
// per-item requests when it fails, so one bad input only loses itself.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			return embedEach(ctx, texts, e.Embed)
		}
	}
	vectors, err := e.request(ctx, texts)
	if err == nil {
		return vectors, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return embedEach(ctx, texts, e.Embed)
}

func (e *OpenAIEmbedder) request(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model:          e.model,
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings error: %w", err)
	}
	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(vectors) {
			continue
		}
		v := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			v[i] = float32(f)
		}
		vectors[d.Index] = v
		if len(v) > 0 {
			e.dimension = len(v)
		}
	}
	return vectors, nil
}

// Dimension returns the last observed vector length.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}
