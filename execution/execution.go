package execution

import (
	"time"

	"github.com/hupe1980/agentexec/core"
)

// Execution is the lifecycle record of one agent turn.
type Execution struct {
	ID          string          `json:"executionId"`
	AgentID     string          `json:"agentId"`
	SessionID   string          `json:"sessionId"`
	Status      Status          `json:"status"`
	CurrentTool string          `json:"currentTool,omitempty"`
	Progress    int             `json:"progress"`
	StartTime   time.Time       `json:"startTime"`
	EndTime     *time.Time      `json:"endTime,omitempty"`
	TokenUsage  core.TokenUsage `json:"tokenUsage"`
	Error       string          `json:"error,omitempty"`
}

// Clone returns a deep copy safe to hand to observers.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	c := *e
	if e.EndTime != nil {
		t := *e.EndTime
		c.EndTime = &t
	}
	return &c
}

// Finished reports whether Finish has been applied.
func (e *Execution) Finished() bool { return e.EndTime != nil }

// Patch carries optional field updates applied with a transition.
type Patch struct {
	CurrentTool *string
	Progress    *int
	Error       *string
}

// WithTool returns a patch setting the current tool.
func WithTool(name string) Patch { return Patch{CurrentTool: &name} }

// WithProgress returns a patch setting progress.
func WithProgress(p int) Patch { return Patch{Progress: &p} }

// WithToolProgress returns a patch setting both tool and progress.
func WithToolProgress(name string, p int) Patch { return Patch{CurrentTool: &name, Progress: &p} }

// WithError returns a patch recording a failure message.
func WithError(msg string) Patch { return Patch{Error: &msg} }
