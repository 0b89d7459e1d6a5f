package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hupe1980/agentexec/cache"
	"github.com/hupe1980/agentexec/core"
	"github.com/hupe1980/agentexec/embedding"
	"github.com/hupe1980/agentexec/vectorstore"
)

// LongTermOptions configures the long-term tier.
type LongTermOptions struct {
	// BatchSize is the number of entries embedded per EmbedBatch call.
	BatchSize int
	// MaxEntries is the per-session capacity; older entries are evicted.
	MaxEntries int
	// MaxTextLength truncates the stored message content.
	MaxTextLength int
	// MaxSearchResults caps topK.
	MaxSearchResults int
	// DefaultTopK is used when Search is called with topK <= 0.
	DefaultTopK int
	// MinSimilarity is used when Search is called with a negative threshold.
	MinSimilarity float64
	// SearchTTL is the lifetime of cached search results.
	SearchTTL time.Duration
	// StatsTTL is the lifetime of cached statistics.
	StatsTTL time.Duration
	// ListLimit bounds the id scan used for de-duplication and eviction.
	ListLimit int
	// Now is the clock used for stats timestamps.
	Now func() time.Time
}

// SearchResult is one recalled long-term entry.
type SearchResult struct {
	ID         string         `json:"id"`
	Text       string         `json:"text"`
	Role       core.Role      `json:"role,omitempty"`
	Timestamp  string         `json:"timestamp,omitempty"`
	Similarity float64        `json:"similarity"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Stats summarises a session's long-term memory.
type Stats struct {
	TotalMessages        int     `json:"totalMessages"`
	EmbeddedMessages     int     `json:"embeddedMessages"`
	LastEmbeddingTime    string  `json:"lastEmbeddingTime,omitempty"`
	MemorySize           int     `json:"memorySize"`
	AverageMessageLength float64 `json:"averageMessageLength"`
}

// GlobalStats summarises memory across sessions.
type GlobalStats struct {
	Sessions  int    `json:"sessions"`
	Timestamp string `json:"timestamp"`
}

// LongTerm is the embedding-indexed tier. One vector store namespace per
// session ("chat_memory_<sessionId>").
type LongTerm struct {
	store    vectorstore.Store
	embedder embedding.Embedder
	cache    cache.Cache
	opts     LongTermOptions
}

// NewLongTerm creates the long-term tier. A nil cache disables result caching.
func NewLongTerm(store vectorstore.Store, embedder embedding.Embedder, c cache.Cache, optFns ...func(o *LongTermOptions)) *LongTerm {
	opts := LongTermOptions{
		BatchSize:        5,
		MaxEntries:       100,
		MaxTextLength:    2000,
		MaxSearchResults: 10,
		DefaultTopK:      5,
		MinSimilarity:    0.7,
		SearchTTL:        300 * time.Second,
		StatsTTL:         time.Hour,
		ListLimit:        1000,
		Now:              time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	return &LongTerm{store: store, embedder: embedder, cache: c, opts: opts}
}

// Namespace returns the vector store namespace of a session.
func Namespace(sessionID string) string { return "chat_memory_" + sessionID }

// timestampLayout is fixed width so stored timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

func searchKey(sessionID, query string, topK int) string {
	return fmt.Sprintf("memory:%s:search:%s:%d", sessionID, query, topK)
}

func statsKey(sessionID string) string { return "memory:" + sessionID + ":stats" }

// EntryID returns the message id, or a content-derived id when the message
// has none, so re-adding the same message stays a no-op.
func EntryID(m core.Message) string {
	if m.ID != "" {
		return m.ID
	}
	h := sha256.New()
	h.Write([]byte(m.Role))
	h.Write([]byte{0})
	h.Write([]byte(m.Content))
	h.Write([]byte{0})
	h.Write([]byte(m.Timestamp.UTC().Format(time.RFC3339Nano)))
	return "msg_" + hex.EncodeToString(h.Sum(nil))[:24]
}

// Add embeds and stores messages that are not yet present and returns how
// many were stored. Items whose embedding fails are skipped. A batch the
// embedder rejects as a whole does not stop the remaining batches; its error
// is returned together with the count stored. Eviction runs afterwards when
// the namespace exceeds MaxEntries.
func (lt *LongTerm) Add(ctx context.Context, sessionID string, msgs []core.Message, tags map[string]any) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	ns := Namespace(sessionID)

	existing, err := lt.store.ListIDs(ctx, ns, lt.opts.ListLimit)
	if err != nil {
		return 0, fmt.Errorf("list existing ids: %w", err)
	}
	seen := make(map[string]struct{}, len(existing)+len(msgs))
	for _, id := range existing {
		seen[id] = struct{}{}
	}

	var pending []core.Message
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		id := EntryID(m)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		pending = append(pending, m)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	var (
		stored   int
		embedErr error
	)
	for start := 0; start < len(pending); start += lt.opts.BatchSize {
		end := min(start+lt.opts.BatchSize, len(pending))
		batch := pending[start:end]

		texts := make([]string, len(batch))
		for i, m := range batch {
			texts[i] = lt.entryText(m)
		}
		vectors, err := lt.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			if ctx.Err() != nil {
				return stored, err
			}
			embedErr = errors.Join(embedErr, err)
			continue
		}

		records := make([]vectorstore.Record, 0, len(batch))
		for i, m := range batch {
			if i >= len(vectors) || len(vectors[i]) == 0 {
				continue
			}
			records = append(records, vectorstore.Record{
				ID:       EntryID(m),
				Text:     texts[i],
				Vector:   vectors[i],
				Metadata: entryMetadata(m, tags),
			})
		}
		if len(records) == 0 {
			continue
		}
		if err := lt.store.Upsert(ctx, ns, records...); err != nil {
			return stored, fmt.Errorf("upsert memory: %w", err)
		}
		stored += len(records)
	}

	if stored > 0 {
		lt.invalidate(ctx, sessionID)
		if err := lt.evict(ctx, sessionID); err != nil {
			return stored, err
		}
	}
	if embedErr != nil {
		return stored, fmt.Errorf("embed batch: %w", embedErr)
	}
	return stored, nil
}

func (lt *LongTerm) entryText(m core.Message) string {
	content := m.Content
	if lt.opts.MaxTextLength > 0 && len([]rune(content)) > lt.opts.MaxTextLength {
		content = string([]rune(content)[:lt.opts.MaxTextLength])
	}
	return fmt.Sprintf("[%s] %s", strings.ToUpper(string(m.Role)), content)
}

func entryMetadata(m core.Message, tags map[string]any) map[string]any {
	md := make(map[string]any, len(tags)+3)
	for k, v := range tags {
		md[k] = v
	}
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	md["role"] = string(m.Role)
	md["timestamp"] = ts.UTC().Format(timestampLayout)
	md["originalLength"] = len([]rune(m.Content))
	return md
}

// evict deletes the oldest entries beyond MaxEntries, ordered by timestamp
// metadata then id.
func (lt *LongTerm) evict(ctx context.Context, sessionID string) error {
	if lt.opts.MaxEntries <= 0 {
		return nil
	}
	ns := Namespace(sessionID)
	n, err := lt.store.Count(ctx, ns)
	if err != nil {
		return fmt.Errorf("count memory: %w", err)
	}
	if n <= lt.opts.MaxEntries {
		return nil
	}
	records, err := lt.store.List(ctx, ns, 0)
	if err != nil {
		return fmt.Errorf("list memory: %w", err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		ti, tj := metaString(records[i].Metadata, "timestamp"), metaString(records[j].Metadata, "timestamp")
		if ti != tj {
			return ti < tj
		}
		return records[i].ID < records[j].ID
	})
	excess := len(records) - lt.opts.MaxEntries
	if excess <= 0 {
		return nil
	}
	ids := make([]string, excess)
	for i := range excess {
		ids[i] = records[i].ID
	}
	if err := lt.store.Delete(ctx, ns, ids...); err != nil {
		return fmt.Errorf("evict memory: %w", err)
	}
	return nil
}

// Search returns entries similar to query with similarity (1 - distance) at
// or above minSimilarity. topK <= 0 uses DefaultTopK and is capped at
// MaxSearchResults; a negative minSimilarity uses the configured default.
func (lt *LongTerm) Search(ctx context.Context, sessionID, query string, topK int, minSimilarity float64) ([]SearchResult, error) {
	if topK <= 0 {
		topK = lt.opts.DefaultTopK
	}
	if lt.opts.MaxSearchResults > 0 && topK > lt.opts.MaxSearchResults {
		topK = lt.opts.MaxSearchResults
	}
	if minSimilarity < 0 {
		minSimilarity = lt.opts.MinSimilarity
	}

	key := searchKey(sessionID, query, topK)
	matches, cached := lt.cachedMatches(ctx, key)
	if !cached {
		vec, err := lt.embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		matches, err = lt.store.Query(ctx, Namespace(sessionID), vec, topK)
		if err != nil {
			return nil, fmt.Errorf("query memory: %w", err)
		}
		lt.storeCache(ctx, key, matches, lt.opts.SearchTTL)
	}

	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		sim := 1 - m.Distance
		if sim < minSimilarity {
			continue
		}
		results = append(results, SearchResult{
			ID:         m.ID,
			Text:       m.Text,
			Role:       core.Role(metaString(m.Metadata, "role")),
			Timestamp:  metaString(m.Metadata, "timestamp"),
			Similarity: sim,
			Metadata:   m.Metadata,
		})
	}
	return results, nil
}

// Stats computes (or returns cached) statistics for a session.
func (lt *LongTerm) Stats(ctx context.Context, sessionID string) (Stats, error) {
	key := statsKey(sessionID)
	if lt.cache != nil {
		if b, ok, err := lt.cache.Get(ctx, key); err == nil && ok {
			var st Stats
			if json.Unmarshal(b, &st) == nil {
				return st, nil
			}
		}
	}

	records, err := lt.store.List(ctx, Namespace(sessionID), lt.opts.ListLimit)
	if err != nil {
		return Stats{}, fmt.Errorf("list memory: %w", err)
	}
	st := Stats{TotalMessages: len(records), EmbeddedMessages: len(records)}
	total := 0.0
	for _, r := range records {
		total += toFloat(r.Metadata["originalLength"])
		if ts := metaString(r.Metadata, "timestamp"); ts > st.LastEmbeddingTime {
			st.LastEmbeddingTime = ts
		}
	}
	if len(records) > 0 {
		st.AverageMessageLength = total / float64(len(records))
		st.MemorySize = int(total)
	}
	lt.storeCache(ctx, key, st, lt.opts.StatsTTL)
	return st, nil
}

// GlobalStats counts sessions with cached statistics.
func (lt *LongTerm) GlobalStats(ctx context.Context) (GlobalStats, error) {
	gs := GlobalStats{Timestamp: lt.opts.Now().UTC().Format(time.RFC3339)}
	if lt.cache == nil {
		return gs, nil
	}
	keys, err := lt.cache.Keys(ctx, "memory:*:stats")
	if err != nil {
		return gs, fmt.Errorf("scan stats keys: %w", err)
	}
	gs.Sessions = len(keys)
	return gs, nil
}

// Clear drops the session namespace and every cached key of the session.
func (lt *LongTerm) Clear(ctx context.Context, sessionID string) error {
	if err := lt.store.DeleteNamespace(ctx, Namespace(sessionID)); err != nil {
		return fmt.Errorf("delete namespace: %w", err)
	}
	if lt.cache != nil {
		if _, err := cache.DeletePattern(ctx, lt.cache, "memory:"+sessionID+":*"); err != nil {
			return fmt.Errorf("clear memory cache: %w", err)
		}
	}
	return nil
}

// invalidate drops cached searches and stats after a write. Failures only
// leave stale entries that expire on their own.
func (lt *LongTerm) invalidate(ctx context.Context, sessionID string) {
	if lt.cache == nil {
		return
	}
	_, _ = cache.DeletePattern(ctx, lt.cache, "memory:"+sessionID+":search:*")
	_ = lt.cache.Delete(ctx, statsKey(sessionID))
}

func (lt *LongTerm) cachedMatches(ctx context.Context, key string) ([]vectorstore.Match, bool) {
	if lt.cache == nil {
		return nil, false
	}
	b, ok, err := lt.cache.Get(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	var matches []vectorstore.Match
	if err := json.Unmarshal(b, &matches); err != nil {
		return nil, false
	}
	return matches, true
}

func (lt *LongTerm) storeCache(ctx context.Context, key string, v any, ttl time.Duration) {
	if lt.cache == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = lt.cache.Set(ctx, key, b, ttl)
}

func metaString(md map[string]any, key string) string {
	s, _ := md[key].(string)
	return s
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	case float32:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	default:
		return 0
	}
}
