package tool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hupe1980/agentexec/internal/testutil"
	"github.com/hupe1980/agentexec/memory"
	"github.com/hupe1980/agentexec/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -------------------- Calculator Tests --------------------

func TestEvaluate(t *testing.T) {
	tests := map[string]string{
		"2+2":         "4",
		"2 + 3 * 4":   "14",
		"(2 + 3) * 4": "20",
		"7 / 2":       "3.5",
		"10 % 3":      "1",
		"2 ^ 10":      "1024",
		"sqrt(16)":    "4",
		"abs(-3)":     "3",
		"pow(2, 3)":   "8",
		"sin(0)":      "0",
		"cos(0)":      "1",
		"log(1)":      "0",
		"-1.5 + 0.25": "-1.25",
		"  1  ":       "1",
	}
	for in, want := range tests {
		got, err := Evaluate(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestEvaluate_Errors(t *testing.T) {
	for _, in := range []string{"", "2 +", "foo(1)", "1 < 2", `"text"`, "sqrt(-1)", "1/0"} {
		_, err := Evaluate(in)
		assert.Error(t, err, in)
	}
}

func TestCalculatorTool_Aliases(t *testing.T) {
	calc := NewCalculatorTool()
	out, err := calc.Call(t.Context(), map[string]any{"expression": "6*7"})
	require.NoError(t, err)
	assert.Equal(t, "42", out)

	out, err = calc.Call(t.Context(), map[string]any{"expr": "2+2"})
	require.NoError(t, err)
	assert.Equal(t, "4", out)

	_, err = calc.Call(t.Context(), map[string]any{})
	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, CodeValidation, toolErr.Code)
}

// -------------------- Text Summary Tests --------------------

func TestSummarize(t *testing.T) {
	text := "Go is fast. Go is simple! Is Go fun? Yes."
	s, err := Summarize(text, 6)
	require.NoError(t, err)
	assert.Equal(t, "Go is fast. Go is simple.", s.Summary)
	assert.Equal(t, 6, s.WordCount)
	assert.Equal(t, len(text), s.OriginalLength)
	assert.Equal(t, len("Go is fast. Go is simple."), s.SummaryLength)
	assert.Equal(t, 63, s.CompressionRatio)

	s, err = Summarize("One two three four.", 2)
	require.NoError(t, err)
	assert.Empty(t, s.Summary)
	assert.Zero(t, s.WordCount)

	_, err = Summarize("", 10)
	require.Error(t, err)
}

func TestTextSummaryTool(t *testing.T) {
	out, err := NewTextSummaryTool().Call(t.Context(), map[string]any{"text": "A b c. D e f."})
	require.NoError(t, err)
	assert.Equal(t, "A b c. D e f.", out.(Summary).Summary)

	out, err = NewTextSummaryTool().Call(t.Context(), map[string]any{"text": "A b c. D e f.", "max_length": 3})
	require.NoError(t, err)
	assert.Equal(t, "A b c.", out.(Summary).Summary)
}

// -------------------- Current Time Tests --------------------

func TestCurrentTimeTool(t *testing.T) {
	fixed := time.Date(2024, 3, 15, 20, 30, 0, 0, time.UTC)
	ct := NewCurrentTimeTool("Asia/Bangkok", func() time.Time { return fixed })

	out, err := ct.Call(t.Context(), map[string]any{})
	require.NoError(t, err)
	res := out.(CurrentTime)
	assert.Equal(t, "2024-03-15T20:30:00.000Z", res.Timestamp)
	assert.Equal(t, "Asia/Bangkok", res.Timezone)
	assert.Equal(t, fixed.Unix(), res.UnixTimestamp)
	assert.Equal(t, "Saturday", res.DayOfWeek, "Bangkok is already on the 16th")
	assert.Equal(t, "March", res.Month)

	out, err = ct.Call(t.Context(), map[string]any{"timezone": "America/New_York", "format": "local"})
	require.NoError(t, err)
	res = out.(CurrentTime)
	assert.Equal(t, "3/15/2024, 4:30:00 PM", res.Timestamp)
	assert.Equal(t, "Friday", res.DayOfWeek)

	_, err = ct.Call(t.Context(), map[string]any{"timezone": "Mars/Olympus"})
	require.Error(t, err)

	_, err = ct.Call(t.Context(), map[string]any{"format": "custom"})
	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, CodeValidation, toolErr.Code)
}

// -------------------- Search Tests --------------------

type stubSearch struct{ hits []SearchHit }

func (s stubSearch) Search(context.Context, string, int) ([]SearchHit, error) { return s.hits, nil }

func TestWebSearchTool(t *testing.T) {
	out, err := NewWebSearchTool(nil, nil).Call(t.Context(), map[string]any{"query": "golang"})
	require.NoError(t, err)
	res := out.(WebSearchResult)
	assert.Equal(t, "golang", res.Query)
	require.Len(t, res.Results, 1)
	assert.Contains(t, res.Results[0].Title, "golang")

	provider := stubSearch{hits: []SearchHit{{Title: "a"}, {Title: "b"}, {Title: "c"}}}
	out, err = NewWebSearchTool(provider, nil).Call(t.Context(), map[string]any{"query": "q", "limit": 2})
	require.NoError(t, err)
	assert.Equal(t, 2, out.(WebSearchResult).Count)
}

func newDocumentIndex(t *testing.T) *DocumentIndex {
	t.Helper()
	embedder := &testutil.StaticEmbedder{
		Vectors:  map[string][]float32{"refund": {1, 0}, "shipping": {0, 1}},
		Fallback: []float32{0.5, 0.5},
		Fail:     map[string]bool{"corrupt": true},
	}
	idx := NewDocumentIndex(vectorstore.NewInMemoryStore(), embedder)
	n, err := idx.Add(t.Context(), "policies",
		Document{ID: "d1", Text: "refund within 30 days", Metadata: map[string]any{"page": 1}},
		Document{ID: "d2", Text: "shipping takes a week"},
		Document{Text: "corrupt document"},
	)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	return idx
}

func TestDocumentSearchTool(t *testing.T) {
	idx := newDocumentIndex(t)
	ds := NewDocumentSearchTool(idx)

	out, err := ds.Call(t.Context(), map[string]any{"query": "refund policy", "collection": "policies", "limit": 1})
	require.NoError(t, err)
	res := out.(DocumentResults)
	assert.Equal(t, []string{"d1"}, res.IDs)
	assert.Equal(t, []string{"refund within 30 days"}, res.Results)
	assert.Equal(t, 1, res.Metadata[0]["page"])
	assert.InDelta(t, 0, res.Distances[0], 1e-6)

	out, err = ds.Call(t.Context(), map[string]any{"query": "refund", "collection": "unknown"})
	require.NoError(t, err)
	assert.Empty(t, out.(DocumentResults).Results)

	_, err = ds.Call(t.Context(), map[string]any{"query": "refund"})
	require.Error(t, err)
}

func TestCollectionTools(t *testing.T) {
	idx := newDocumentIndex(t)
	tools := CollectionTools(idx, []string{"policies", " ", "faq"})
	require.Len(t, tools, 2)
	assert.Equal(t, "search_policies", tools[0].Name())
	assert.Equal(t, "search_faq", tools[1].Name())

	out, err := tools[0].Call(t.Context(), map[string]any{"query": "shipping"})
	require.NoError(t, err)
	res := out.(DocumentResults)
	require.NotEmpty(t, res.IDs)
	assert.Equal(t, "d2", res.IDs[0])
	assert.Equal(t, "policies", res.Collection)

	assert.Nil(t, CollectionTools(nil, []string{"x"}))
}

func TestBuiltins(t *testing.T) {
	names := func(tools []Tool) []string {
		out := make([]string, len(tools))
		for i, tl := range tools {
			out[i] = tl.Name()
		}
		return out
	}
	assert.Equal(t, []string{"calculator", "web_search", "text_summary", "current_time"}, names(Builtins()))

	idx := newDocumentIndex(t)
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r, func(o *BuiltinOptions) { o.Documents = idx }))
	assert.Equal(t, []string{"calculator", "web_search", "document_search", "text_summary", "current_time"}, r.Names())
}

// -------------------- Memory Tool Tests --------------------

type stubMemory struct {
	sessionID string
	topK      int
}

func (s *stubMemory) Search(_ context.Context, sessionID, query string, topK int, _ float64) ([]memory.SearchResult, error) {
	s.sessionID, s.topK = sessionID, topK
	return []memory.SearchResult{{ID: "m1", Text: "[USER] " + query, Similarity: 0.9}}, nil
}

func (s *stubMemory) Stats(_ context.Context, sessionID string) (memory.Stats, error) {
	s.sessionID = sessionID
	return memory.Stats{TotalMessages: 3}, nil
}

func TestMemoryTool(t *testing.T) {
	mem := &stubMemory{}
	mt := NewMemoryTool(mem)
	ctx := WithCallInfo(t.Context(), CallInfo{SessionID: "s1"})

	out, err := mt.Call(ctx, map[string]any{"operation": "search_memory", "query": "budget", "top_k": 3})
	require.NoError(t, err)
	assert.Equal(t, "s1", mem.sessionID)
	assert.Equal(t, 3, mem.topK)
	assert.Len(t, out, 1)

	out, err = mt.Call(ctx, map[string]any{"operation": "memory_stats"})
	require.NoError(t, err)
	assert.Equal(t, 3, out.(memory.Stats).TotalMessages)

	_, err = mt.Call(ctx, map[string]any{"operation": "search_memory"})
	require.Error(t, err)

	_, err = mt.Call(t.Context(), map[string]any{"operation": "memory_stats"})
	require.Error(t, err, "no session in context")

	_, err = mt.Call(ctx, map[string]any{"operation": "drop_tables"})
	require.Error(t, err)
}
