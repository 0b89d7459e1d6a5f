package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hupe1980/agentexec/cache"
	"github.com/hupe1980/agentexec/core"
	"github.com/hupe1980/agentexec/internal/testutil"
	"github.com/hupe1980/agentexec/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type longTermFixture struct {
	store    *vectorstore.InMemoryStore
	cache    *cache.InMemoryCache
	embedder *testutil.StaticEmbedder
	lt       *LongTerm
}

func newLongTermFixture(optFns ...func(o *LongTermOptions)) *longTermFixture {
	f := &longTermFixture{
		store: vectorstore.NewInMemoryStore(),
		cache: cache.NewInMemoryCache(),
		embedder: &testutil.StaticEmbedder{
			Vectors: map[string][]float32{
				"apple":  {1, 0},
				"banana": {0, 1},
				"fruit":  {0.8, 0.6},
			},
			Fallback: []float32{0.6, 0.8},
		},
	}
	f.lt = NewLongTerm(f.store, f.embedder, f.cache, optFns...)
	return f
}

func (f *longTermFixture) count(t *testing.T, sessionID string) int {
	t.Helper()
	n, err := f.store.Count(context.Background(), Namespace(sessionID))
	require.NoError(t, err)
	return n
}

func TestLongTermAddDeduplicates(t *testing.T) {
	ctx := t.Context()
	f := newLongTermFixture()
	msgs := testutil.NewConversationBuilder().User("I like apple").Assistant("banana is fine").Build()

	n, err := f.lt.Add(ctx, "s1", msgs, map[string]any{"source": "chat"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.lt.Add(ctx, "s1", msgs, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, f.count(t, "s1"))

	dup := []core.Message{msgs[0], msgs[0]}
	n, err = f.lt.Add(ctx, "s2", dup, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	records, err := f.store.List(ctx, Namespace("s1"), 0)
	require.NoError(t, err)
	assert.Equal(t, "[USER] I like apple", records[0].Text)
	assert.Equal(t, "user", records[0].Metadata["role"])
	assert.Equal(t, "chat", records[0].Metadata["source"])
	assert.Equal(t, 12, records[0].Metadata["originalLength"])
	assert.Equal(t, "2024-01-01T00:00:00.000Z", records[0].Metadata["timestamp"])
}

func TestLongTermAddDerivesIDs(t *testing.T) {
	ctx := t.Context()
	f := newLongTermFixture()
	msg := core.Message{Role: core.RoleUser, Content: "apple", Timestamp: time.Unix(10, 0)}

	assert.Equal(t, EntryID(msg), EntryID(msg))
	assert.NotEqual(t, EntryID(msg), EntryID(core.Message{Role: core.RoleAssistant, Content: "apple", Timestamp: time.Unix(10, 0)}))

	_, err := f.lt.Add(ctx, "s", []core.Message{msg}, nil)
	require.NoError(t, err)
	_, err = f.lt.Add(ctx, "s", []core.Message{msg}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, f.count(t, "s"))
}

func TestLongTermAddSkipsFailedEmbeddings(t *testing.T) {
	ctx := t.Context()
	f := newLongTermFixture(func(o *LongTermOptions) { o.BatchSize = 2 })
	f.embedder.Fail = map[string]bool{"broken": true}

	msgs := testutil.NewConversationBuilder().
		User("apple").User("broken one").User("banana").
		User("broken two").User("   ").
		Build()

	n, err := f.lt.Add(ctx, "s", msgs, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ids, err := f.store.ListIDs(ctx, Namespace("s"), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m3"}, ids)
	assert.Equal(t, 2, f.embedder.Calls(), "two batches of two")
}

type downEmbedder struct{ calls int }

var errEmbeddingDown = errors.New("embedding service down")

func (e *downEmbedder) Embed(context.Context, string) ([]float32, error) {
	e.calls++
	return nil, errEmbeddingDown
}

func (e *downEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	return make([][]float32, len(texts)), errEmbeddingDown
}

func (e *downEmbedder) Dimension() int { return 2 }

func TestLongTermAddEmbedderDown(t *testing.T) {
	ctx := t.Context()
	store := vectorstore.NewInMemoryStore()
	embedder := &downEmbedder{}
	lt := NewLongTerm(store, embedder, nil, func(o *LongTermOptions) { o.BatchSize = 2 })

	n, err := lt.Add(ctx, "s", testutil.NewConversationBuilder().Turns(4).Build(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errEmbeddingDown)
	assert.Contains(t, err.Error(), "embed batch")
	assert.Zero(t, n)
	assert.Equal(t, 2, embedder.calls, "every batch is attempted")

	count, err := store.Count(ctx, Namespace("s"))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestLongTermAddKeepsGoingAfterFailedBatch(t *testing.T) {
	ctx := t.Context()
	f := newLongTermFixture(func(o *LongTermOptions) { o.BatchSize = 2 })
	f.embedder.Fail = map[string]bool{"broken": true}

	msgs := testutil.NewConversationBuilder().
		User("apple").User("banana").
		User("broken one").User("broken two").
		User("fruit").
		Build()

	n, err := f.lt.Add(ctx, "s", msgs, nil)
	require.ErrorIs(t, err, testutil.ErrNoVector)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, f.count(t, "s"))
	assert.Equal(t, 3, f.embedder.Calls())
}

func TestLongTermAddTruncatesText(t *testing.T) {
	f := newLongTermFixture(func(o *LongTermOptions) { o.MaxTextLength = 5 })
	msgs := testutil.NewConversationBuilder().Assistant("apple pie recipe").Build()

	_, err := f.lt.Add(t.Context(), "s", msgs, nil)
	require.NoError(t, err)

	records, err := f.store.List(t.Context(), Namespace("s"), 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "[ASSISTANT] apple", records[0].Text)
	assert.Equal(t, 16, records[0].Metadata["originalLength"])
}

func TestLongTermEvictsOldest(t *testing.T) {
	ctx := t.Context()
	f := newLongTermFixture(func(o *LongTermOptions) { o.MaxEntries = 3 })

	b := testutil.NewConversationBuilder().Turns(5)
	msgs := b.Build()
	// Insert newest first so insertion order differs from timestamp order.
	for i := len(msgs) - 1; i >= 0; i-- {
		_, err := f.lt.Add(ctx, "s", msgs[i:i+1], nil)
		require.NoError(t, err)
	}

	ids, err := f.store.ListIDs(ctx, Namespace("s"), 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m3", "m4", "m5"}, ids)
}

func TestLongTermSearchFiltersBySimilarity(t *testing.T) {
	ctx := t.Context()
	f := newLongTermFixture()
	msgs := testutil.NewConversationBuilder().
		User("apple").Assistant("banana").User("fruit salad").User("something else").
		Build()
	_, err := f.lt.Add(ctx, "s", msgs, nil)
	require.NoError(t, err)

	results, err := f.lt.Search(ctx, "s", "apple", 10, 0.7)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "m1", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
	assert.Equal(t, core.RoleUser, results[0].Role)
	assert.Equal(t, "m3", results[1].ID)
	assert.InDelta(t, 0.8, results[1].Similarity, 1e-6)

	for _, minSim := range []float64{0, 0.5, 0.79, 0.81, 0.99} {
		results, err := f.lt.Search(ctx, "s", "apple", 10, minSim)
		require.NoError(t, err)
		for _, r := range results {
			assert.GreaterOrEqual(t, r.Similarity, minSim)
		}
	}

	results, err = f.lt.Search(ctx, "s", "apple", 1, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "m1", results[0].ID)
}

func TestLongTermSearchDefaultsAndCap(t *testing.T) {
	ctx := t.Context()
	f := newLongTermFixture(func(o *LongTermOptions) {
		o.MaxSearchResults = 2
		o.DefaultTopK = 1
	})
	msgs := testutil.NewConversationBuilder().Turns(5).Build()
	_, err := f.lt.Add(ctx, "s", msgs, nil)
	require.NoError(t, err)

	results, err := f.lt.Search(ctx, "s", "anything", 0, -1)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	results, err = f.lt.Search(ctx, "s", "anything", 50, 0)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestLongTermSearchCaching(t *testing.T) {
	ctx := t.Context()
	f := newLongTermFixture()
	msgs := testutil.NewConversationBuilder().User("apple").Build()
	_, err := f.lt.Add(ctx, "s", msgs, nil)
	require.NoError(t, err)

	_, err = f.lt.Search(ctx, "s", "apple", 5, 0)
	require.NoError(t, err)
	calls := f.embedder.Calls()

	_, ok, err := f.cache.Get(ctx, "memory:s:search:apple:5")
	require.NoError(t, err)
	assert.True(t, ok)

	results, err := f.lt.Search(ctx, "s", "apple", 5, 0.5)
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, calls, f.embedder.Calls(), "second search served from cache")

	more := testutil.NewConversationBuilder().Base(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)).User("x").User("apple again").Build()
	more[0].ID, more[1].ID = "n1", "n2"
	_, err = f.lt.Add(ctx, "s", more, nil)
	require.NoError(t, err)

	_, ok, err = f.cache.Get(ctx, "memory:s:search:apple:5")
	require.NoError(t, err)
	assert.False(t, ok, "add invalidates cached searches")

	results, err = f.lt.Search(ctx, "s", "apple", 5, 0.99)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestLongTermSearchExpires(t *testing.T) {
	ctx := t.Context()
	f := newLongTermFixture(func(o *LongTermOptions) { o.SearchTTL = 10 * time.Millisecond })
	_, err := f.lt.Search(ctx, "s", "apple", 5, 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok, _ := f.cache.Get(ctx, "memory:s:search:apple:5")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestLongTermStats(t *testing.T) {
	ctx := t.Context()
	f := newLongTermFixture()

	st, err := f.lt.Stats(ctx, "empty")
	require.NoError(t, err)
	assert.Equal(t, Stats{}, st)

	msgs := testutil.NewConversationBuilder().User("abcd").Assistant("abcdefgh").Build()
	_, err = f.lt.Add(ctx, "s", msgs, nil)
	require.NoError(t, err)

	st, err = f.lt.Stats(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalMessages)
	assert.Equal(t, 2, st.EmbeddedMessages)
	assert.InDelta(t, 6.0, st.AverageMessageLength, 1e-9)
	assert.Equal(t, 12, st.MemorySize)
	assert.Equal(t, "2024-01-01T00:00:01.000Z", st.LastEmbeddingTime)

	_, ok, err := f.cache.Get(ctx, "memory:s:stats")
	require.NoError(t, err)
	assert.True(t, ok)

	gs, err := f.lt.GlobalStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, gs.Sessions)
	assert.NotEmpty(t, gs.Timestamp)
}

func TestLongTermClear(t *testing.T) {
	ctx := t.Context()
	f := newLongTermFixture()
	msgs := testutil.NewConversationBuilder().User("apple").Build()
	_, err := f.lt.Add(ctx, "s", msgs, nil)
	require.NoError(t, err)
	_, err = f.lt.Add(ctx, "other", msgs, nil)
	require.NoError(t, err)
	_, err = f.lt.Search(ctx, "s", "apple", 5, 0)
	require.NoError(t, err)
	_, err = f.lt.Stats(ctx, "s")
	require.NoError(t, err)

	require.NoError(t, f.lt.Clear(ctx, "s"))

	assert.Zero(t, f.count(t, "s"))
	assert.Equal(t, 1, f.count(t, "other"))
	keys, err := f.cache.Keys(ctx, "memory:s:*")
	require.NoError(t, err)
	assert.Empty(t, keys)

	n, err := f.lt.Add(ctx, "s", msgs, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "cleared entries can be re-added")
}

func TestLongTermWithoutCache(t *testing.T) {
	ctx := t.Context()
	lt := NewLongTerm(vectorstore.NewInMemoryStore(), &testutil.StaticEmbedder{Fallback: []float32{1}}, nil)
	_, err := lt.Add(ctx, "s", testutil.NewConversationBuilder().User("x").Build(), nil)
	require.NoError(t, err)

	results, err := lt.Search(ctx, "s", "x", 5, 0)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	gs, err := lt.GlobalStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, gs.Sessions)
	require.NoError(t, lt.Clear(ctx, "s"))
}
