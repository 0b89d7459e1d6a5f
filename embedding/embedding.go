// Package embedding turns text into fixed-length vectors for long-term memory
// and document search.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// Embedder is the embedding collaborator.
type Embedder interface {
	// Embed returns the vector for one text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input, in order. A failed item yields
	// a nil vector instead of failing the batch; an error is returned only
	// when no item could be embedded or ctx is done.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension returns the vector length, or 0 if not yet known.
	Dimension() int
}

// ErrEmptyText is returned for blank inputs.
var ErrEmptyText = errors.New("embedding: empty text")

// embedEach embeds texts one by one, isolating failures per item.
func embedEach(ctx context.Context, texts []string, embed func(context.Context, string) ([]float32, error)) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		ok      int
		lastErr error
	)
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := embed(ctx, t)
		if err != nil {
			lastErr = err
			continue
		}
		out[i] = v
		ok++
	}
	if ok == 0 && len(texts) > 0 {
		return nil, fmt.Errorf("embed batch: all %d items failed: %w", len(texts), lastErr)
	}
	return out, nil
}
