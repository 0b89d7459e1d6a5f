package stream

import (
	"time"

	"github.com/hupe1980/agentexec/core"
)

// Session is the state of one live output stream, keyed by SessionID.
type Session struct {
	SessionID           string          `json:"sessionId"`
	ExecutionID         string          `json:"executionId"`
	AgentID             string          `json:"agentId"`
	UserID              string          `json:"userId"`
	StartTime           time.Time       `json:"startTime"`
	IsActive            bool            `json:"isActive"`
	AccumulatedResponse string          `json:"accumulatedResponse"`
	ToolsUsed           []string        `json:"toolsUsed"`
	TokenUsage          core.TokenUsage `json:"tokenUsage"`
	// Terminal holds the stream_complete or stream_error event once emitted so
	// subscribers attaching during the grace period can still observe it.
	Terminal *Event `json:"terminal,omitempty"`
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.ToolsUsed = append([]string(nil), s.ToolsUsed...)
	if s.Terminal != nil {
		t := *s.Terminal
		c.Terminal = &t
	}
	return &c
}

// addTool records name once.
func (s *Session) addTool(name string) {
	for _, t := range s.ToolsUsed {
		if t == name {
			return
		}
	}
	s.ToolsUsed = append(s.ToolsUsed, name)
}
