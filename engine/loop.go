package engine

// LoopState is the position of a run inside the reasoning loop.
type LoopState int

const (
	// StateThinking means the next step is a model call.
	StateThinking LoopState = iota
	// StateToolPending means the last model turn requested a tool.
	StateToolPending
	// StateDone means the loop has exited.
	StateDone
)

func (s LoopState) String() string {
	switch s {
	case StateThinking:
		return "thinking"
	case StateToolPending:
		return "tool_pending"
	case StateDone:
		return "done"
	}
	return "unknown"
}

// Next is the loop transition function. iteration is the number of model
// calls made so far; toolRequested is only consulted in StateThinking.
//
// A run therefore performs at most maxIterations model calls: after the tool
// of the last permitted iteration has run, the loop ends without another call.
func Next(s LoopState, toolRequested bool, iteration, maxIterations int) LoopState {
	switch s {
	case StateThinking:
		if toolRequested {
			return StateToolPending
		}
		return StateDone
	case StateToolPending:
		if iteration >= maxIterations {
			return StateDone
		}
		return StateThinking
	}
	return StateDone
}

// thinkingProgress is the progress reported at the start of an iteration
// (1-based); the first half of the bar belongs to thinking.
func thinkingProgress(iteration, maxIterations int) int {
	if maxIterations <= 0 {
		return 0
	}
	return iteration * 50 / maxIterations
}

const (
	toolProgress       = 60
	respondingProgress = 90
)
