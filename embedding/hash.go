package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder is a deterministic, offline embedder based on feature hashing
// of lower-cased word tokens. Texts sharing words land close together, which
// is enough for local runs and tests without an embedding service.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates an embedder producing vectors of length dim
// (256 when dim <= 0).
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &HashEmbedder{dim: dim}
}

// Embed returns the L2-normalised hashed token vector.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(tokens) == 0 {
		return nil, ErrEmptyText
	}
	v := make([]float32, e.dim)
	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dim))
		sign := float32(1)
		if sum>>63 == 1 {
			sign = -1
		}
		v[idx] += sign
	}
	var norm float64
	for _, f := range v {
		norm += float64(f) * float64(f)
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range v {
			v[i] = float32(float64(v[i]) / norm)
		}
	}
	return v, nil
}

// EmbedBatch embeds each text independently.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, texts, e.Embed)
}

// Dimension returns the configured vector length.
func (e *HashEmbedder) Dimension() int { return e.dim }
