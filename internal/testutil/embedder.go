package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrNoVector is returned by StaticEmbedder for texts without a vector and no
// fallback.
var ErrNoVector = errors.New("testutil: no vector for text")

// StaticEmbedder maps texts to fixed vectors so tests control similarity
// exactly. A text matches a key when it contains it; the longest matching key
// wins. Texts listed in Fail always fail.
type StaticEmbedder struct {
	mu       sync.Mutex
	Vectors  map[string][]float32
	Fallback []float32
	Fail     map[string]bool
	calls    int
}

// Embed returns the configured vector.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return e.lookup(text)
}

// EmbedBatch embeds each text and leaves failed entries nil.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	out := make([][]float32, len(texts))
	ok := 0
	for i, t := range texts {
		v, err := e.lookup(t)
		if err != nil {
			continue
		}
		out[i] = v
		ok++
	}
	if ok == 0 && len(texts) > 0 {
		return out, ErrNoVector
	}
	return out, nil
}

// Dimension returns the fallback length.
func (e *StaticEmbedder) Dimension() int { return len(e.Fallback) }

// Calls returns the number of Embed and EmbedBatch invocations.
func (e *StaticEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *StaticEmbedder) lookup(text string) ([]float32, error) {
	for key, fail := range e.Fail {
		if fail && strings.Contains(text, key) {
			return nil, ErrNoVector
		}
	}
	best := ""
	for key := range e.Vectors {
		if strings.Contains(text, key) && len(key) > len(best) {
			best = key
		}
	}
	if best != "" {
		return append([]float32(nil), e.Vectors[best]...), nil
	}
	if e.Fallback != nil {
		return append([]float32(nil), e.Fallback...), nil
	}
	return nil, ErrNoVector
}
