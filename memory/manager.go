package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/agentexec/core"
	"github.com/hupe1980/agentexec/logging"
	"github.com/hupe1980/agentexec/metrics"
)

// Options configures a Manager.
type Options struct {
	Policy Policy
	// RestoreWindow is how many history messages seed an empty recent window.
	RestoreWindow int
	// Tags are attached as metadata to every promoted entry.
	Tags    map[string]any
	Logger  logging.Logger
	Metrics *metrics.Metrics
}

// Manager combines the recent window, the long-term tier and the policy.
type Manager struct {
	recent   RecentWindow
	longTerm *LongTerm
	opts     Options
	logger   logging.Logger
}

// NewManager creates a memory manager.
func NewManager(recent RecentWindow, longTerm *LongTerm, optFns ...func(o *Options)) *Manager {
	opts := Options{
		Policy:        DefaultPolicy(),
		RestoreWindow: 10,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{
		recent:   recent,
		longTerm: longTerm,
		opts:     opts,
		logger:   logging.OrNop(opts.Logger),
	}
}

// Policy returns the promotion and recall policy.
func (m *Manager) Policy() Policy { return m.opts.Policy }

// Prepare seeds an empty recent window from the tail of history.
func (m *Manager) Prepare(ctx context.Context, sessionID string, history []core.Message) error {
	if len(history) == 0 {
		return nil
	}
	win, err := m.recent.List(ctx, sessionID)
	if err != nil {
		return m.observe("restore", sessionID, 0, time.Now(), err)
	}
	if len(win) > 0 {
		return nil
	}
	tail := history[max(0, len(history)-m.opts.RestoreWindow):]
	start := time.Now()
	err = m.recent.Push(ctx, sessionID, tail...)
	return m.observe("restore", sessionID, len(tail), start, err)
}

// Recall returns formatted context for query according to the strategy the
// policy picks for messageCount. The basic strategy yields "".
func (m *Manager) Recall(ctx context.Context, sessionID, query string, messageCount int) (string, error) {
	strategy := m.opts.Policy.Strategy(messageCount)
	start := time.Now()

	var sections []string
	switch strategy {
	case StrategyVector:
		results, err := m.longTerm.Search(ctx, sessionID, query, 0, -1)
		if err != nil {
			return "", m.observe("recall", sessionID, 0, start, err)
		}
		if s := formatResults(results); s != "" {
			sections = append(sections, s)
		}
		fallthrough
	case StrategyRecent:
		win, err := m.recent.List(ctx, sessionID)
		if err != nil {
			return "", m.observe("recall", sessionID, 0, start, err)
		}
		if s := formatWindow(win); s != "" {
			sections = append(sections, s)
		}
	default:
		return "", nil
	}

	m.logger.Debug("memory recall", "session_id", sessionID, "strategy", string(strategy), "sections", len(sections))
	_ = m.observe("recall", sessionID, len(sections), start, nil)
	return strings.Join(sections, "\n\n"), nil
}

// AddMessages records the last added messages of history. They are pushed to
// the recent window; when the policy promotes at any count in the added range
// the last EmbedEvery messages of history are stored long-term.
func (m *Manager) AddMessages(ctx context.Context, sessionID string, history []core.Message, added int) error {
	added = min(max(added, 0), len(history))
	if added == 0 {
		return nil
	}
	n := len(history)
	start := time.Now()
	if err := m.recent.Push(ctx, sessionID, history[n-added:]...); err != nil {
		return m.observe("add", sessionID, 0, start, err)
	}
	if !m.opts.Policy.PromotesBetween(n-added, n) {
		return m.observe("add", sessionID, added, start, nil)
	}

	window := max(m.opts.Policy.EmbedEvery, added)
	stored, err := m.longTerm.Add(ctx, sessionID, history[max(0, n-window):], m.opts.Tags)
	return m.observe("promote", sessionID, stored, start, err)
}

// AddMessage records one message at position messageCount of the
// conversation.
func (m *Manager) AddMessage(ctx context.Context, sessionID string, msg core.Message, messageCount int) error {
	start := time.Now()
	if err := m.recent.Push(ctx, sessionID, msg); err != nil {
		return m.observe("add", sessionID, 0, start, err)
	}
	if !m.opts.Policy.ShouldEmbed(messageCount) {
		return m.observe("add", sessionID, 1, start, nil)
	}
	stored, err := m.longTerm.Add(ctx, sessionID, []core.Message{msg}, m.opts.Tags)
	return m.observe("promote", sessionID, stored, start, err)
}

// Search queries long-term memory directly.
func (m *Manager) Search(ctx context.Context, sessionID, query string, topK int, minSimilarity float64) ([]SearchResult, error) {
	start := time.Now()
	res, err := m.longTerm.Search(ctx, sessionID, query, topK, minSimilarity)
	return res, m.observe("search", sessionID, len(res), start, err)
}

// Stats returns long-term statistics for a session.
func (m *Manager) Stats(ctx context.Context, sessionID string) (Stats, error) {
	return m.longTerm.Stats(ctx, sessionID)
}

// GlobalStats returns statistics across sessions.
func (m *Manager) GlobalStats(ctx context.Context) (GlobalStats, error) {
	return m.longTerm.GlobalStats(ctx)
}

// Clear deletes long-term memory, cached keys and the recent window.
func (m *Manager) Clear(ctx context.Context, sessionID string) error {
	start := time.Now()
	if err := m.longTerm.Clear(ctx, sessionID); err != nil {
		return m.observe("clear", sessionID, 0, start, err)
	}
	err := m.recent.Clear(ctx, sessionID)
	return m.observe("clear", sessionID, 0, start, err)
}

func (m *Manager) observe(op, sessionID string, count int, start time.Time, err error) error {
	m.opts.Metrics.MemoryOp(op, err)
	if rl, ok := m.logger.(*logging.RunLogger); ok {
		rl.LogMemoryOp(op, sessionID, count, time.Since(start), err)
	} else if err != nil {
		m.logger.Warn("memory operation failed", "op", op, "session_id", sessionID, "error", err)
	}
	if err != nil {
		return fmt.Errorf("memory %s: %w", op, err)
	}
	return nil
}

func formatResults(results []SearchResult) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant past messages:")
	for _, r := range results {
		fmt.Fprintf(&b, "\n- %s (similarity %.2f)", r.Text, r.Similarity)
	}
	return b.String()
}

func formatWindow(msgs []core.Message) string {
	if len(msgs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Recent conversation:")
	for _, msg := range msgs {
		fmt.Fprintf(&b, "\n%s: %s", msg.Role, msg.Content)
	}
	return b.String()
}
