package testutil

import (
	"testing"
	"time"
)

// Collect drains ch until it is closed or timeout elapses, failing the test
// on timeout.
func Collect[T any](t testing.TB, ch <-chan T, timeout time.Duration) []T {
	t.Helper()
	var out []T
	deadline := time.After(timeout)
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, v)
		case <-deadline:
			t.Fatalf("timed out after %s waiting for channel close (%d items received)", timeout, len(out))
			return out
		}
	}
}
