// Package memory implements hybrid conversational memory: a capacity-bounded
// recent window per session, an embedding-indexed long-term tier, and a pure
// Policy deciding when to promote messages and which tier to recall from.
//
// Short conversations use no extra recall; medium ones replay the recent
// window; long ones add semantic search over long-term memory. Every tenth
// message the latest messages are promoted to long-term memory, where
// re-adding a message id is a no-op and the oldest entries are evicted once a
// namespace exceeds its capacity.
package memory
