package memory

// Strategy names the recall tier chosen for a message count.
type Strategy string

const (
	// StrategyBasic performs no recall beyond the working conversation.
	StrategyBasic Strategy = "basic"
	// StrategyRecent replays the recent window.
	StrategyRecent Strategy = "recent"
	// StrategyVector adds long-term semantic search.
	StrategyVector Strategy = "vector"
)

// Policy is the promotion and recall oracle. All methods are pure functions
// of the message count n.
type Policy struct {
	// EmbedEvery promotes to long-term memory on every positive multiple.
	EmbedEvery int
	// VectorThreshold enables vector recall strictly above this count.
	VectorThreshold int
	// RecentThreshold enables recent-window recall strictly above this count.
	RecentThreshold int
}

// DefaultPolicy returns the 10/50/10 policy.
func DefaultPolicy() Policy {
	return Policy{EmbedEvery: 10, VectorThreshold: 50, RecentThreshold: 10}
}

// ShouldEmbed reports whether n is a positive multiple of EmbedEvery.
func (p Policy) ShouldEmbed(n int) bool {
	return p.EmbedEvery > 0 && n > 0 && n%p.EmbedEvery == 0
}

// ShouldUseVectorRecall reports n > VectorThreshold.
func (p Policy) ShouldUseVectorRecall(n int) bool { return n > p.VectorThreshold }

// ShouldUseRecentWindow reports n > RecentThreshold.
func (p Policy) ShouldUseRecentWindow(n int) bool { return n > p.RecentThreshold }

// Strategy picks the recall tier for n.
func (p Policy) Strategy(n int) Strategy {
	switch {
	case p.ShouldUseVectorRecall(n):
		return StrategyVector
	case p.ShouldUseRecentWindow(n):
		return StrategyRecent
	default:
		return StrategyBasic
	}
}

// PromotesBetween reports whether ShouldEmbed fires for any count in
// (prev, n].
func (p Policy) PromotesBetween(prev, n int) bool {
	for i := prev + 1; i <= n; i++ {
		if p.ShouldEmbed(i) {
			return true
		}
	}
	return false
}
