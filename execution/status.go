package execution

// Status is the lifecycle state of an agent execution.
type Status string

const (
	// StatusIdle is the initial state at creation.
	StatusIdle Status = "IDLE"
	// StatusThinking means the model is being consulted.
	StatusThinking Status = "THINKING"
	// StatusUsingTool means a tool call is in flight; CurrentTool is set.
	StatusUsingTool Status = "USING_TOOL"
	// StatusResponding is the terminal state of a run whose loop exited normally.
	StatusResponding Status = "RESPONDING"
	// StatusError is the terminal failure state.
	StatusError Status = "ERROR"
)

// transitions lists the legal successors of every non-terminal status.
// Progress within a status goes through Tracker.Update.
var transitions = map[Status][]Status{
	StatusIdle:      {StatusThinking, StatusError},
	StatusThinking:  {StatusUsingTool, StatusResponding, StatusError},
	StatusUsingTool: {StatusThinking, StatusError},
}

// IsTerminal reports whether no further transition is accepted.
func (s Status) IsTerminal() bool {
	return s == StatusResponding || s == StatusError
}

// CanTransition reports whether to is reachable from s in one step.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusThinking, StatusUsingTool, StatusResponding, StatusError:
		return true
	}
	return false
}
