// Package vectorstore provides namespaced embedding storage with nearest
// neighbour queries by cosine distance.
package vectorstore

import (
	"context"
	"encoding/binary"
	"math"
	"sort"
)

// Record is one stored embedding.
type Record struct {
	ID       string
	Text     string
	Vector   []float32
	Metadata map[string]any
}

// Match is a query hit. Distance is the cosine distance (1 - cosine
// similarity), so 0 means identical direction.
type Match struct {
	ID       string
	Text     string
	Metadata map[string]any
	Distance float64
}

// Store is the vector store collaborator. Namespaces isolate sessions and
// document collections from each other.
type Store interface {
	// Upsert inserts or replaces records by id.
	Upsert(ctx context.Context, namespace string, records ...Record) error
	// Query returns up to topK nearest records ordered by ascending distance.
	Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error)
	// ListIDs returns up to limit ids in insertion order. limit <= 0 means all.
	ListIDs(ctx context.Context, namespace string, limit int) ([]string, error)
	// List returns up to limit records (without vectors) in insertion order.
	List(ctx context.Context, namespace string, limit int) ([]Record, error)
	// Count returns the number of records in the namespace.
	Count(ctx context.Context, namespace string) (int, error)
	// Delete removes ids; unknown ids are ignored.
	Delete(ctx context.Context, namespace string, ids ...string) error
	// DeleteNamespace drops every record in the namespace.
	DeleteNamespace(ctx context.Context, namespace string) error
}

// CosineDistance returns 1 - cosine similarity. Vectors of different length
// or zero magnitude are at distance 1.
func CosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// rank sorts matches by distance then id and truncates to topK.
func rank(matches []Match, topK int) []Match {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].ID < matches[j].ID
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

// encodeVector packs a vector as little-endian IEEE 754 float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func copyMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
