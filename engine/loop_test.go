package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNext(t *testing.T) {
	tests := []struct {
		name      string
		state     LoopState
		tool      bool
		iteration int
		want      LoopState
	}{
		{"answer ends loop", StateThinking, false, 1, StateDone},
		{"tool request", StateThinking, true, 1, StateToolPending},
		{"tool request on last iteration", StateThinking, true, 10, StateToolPending},
		{"back to thinking", StateToolPending, false, 1, StateThinking},
		{"ninth tool continues", StateToolPending, false, 9, StateThinking},
		{"cap after tenth tool", StateToolPending, false, 10, StateDone},
		{"done is absorbing", StateDone, true, 1, StateDone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Next(tt.state, tt.tool, tt.iteration, 10))
		})
	}
}

func TestNext_BoundsModelCalls(t *testing.T) {
	for _, max := range []int{1, 3, 10} {
		calls := 0
		state := StateThinking
		for state != StateDone {
			if state == StateThinking {
				calls++
			}
			state = Next(state, true, calls, max)
		}
		assert.Equal(t, max, calls)
	}
}

func TestThinkingProgress(t *testing.T) {
	assert.Equal(t, 5, thinkingProgress(1, 10))
	assert.Equal(t, 50, thinkingProgress(10, 10))
	assert.Equal(t, 16, thinkingProgress(1, 3))
	assert.Equal(t, 0, thinkingProgress(1, 0))
}

func TestLoopStateString(t *testing.T) {
	assert.Equal(t, "thinking", StateThinking.String())
	assert.Equal(t, "tool_pending", StateToolPending.String())
	assert.Equal(t, "done", StateDone.String())
	assert.Equal(t, "unknown", LoopState(42).String())
}
