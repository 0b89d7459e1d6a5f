package agent

import (
	"errors"
	"fmt"
	"regexp"
)

// DefaultSystemPrompt is used when an agent has no instruction.
const DefaultSystemPrompt = "You are a helpful AI assistant."

var collectionName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Config describes one agent.
type Config struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	// SystemPrompt is a text/template string; see PromptVars.
	SystemPrompt string `yaml:"system_prompt,omitempty" json:"systemPrompt,omitempty"`
	// Tools lists the enabled registry tools. Empty enables every tool.
	Tools []string `yaml:"tools,omitempty" json:"tools,omitempty"`
	// Collections get a dedicated search_<collection> tool per run.
	Collections []string `yaml:"collections,omitempty" json:"collections,omitempty"`

	// Instruction overrides SystemPrompt when set. It cannot be loaded from
	// YAML.
	Instruction Instruction `yaml:"-" json:"-"`
}

// Validate checks required fields and collection names.
func (c *Config) Validate() error {
	if c.ID == "" {
		return errors.New("agent: id is required")
	}
	for _, col := range c.Collections {
		if !collectionName.MatchString(col) {
			return fmt.Errorf("agent %s: invalid collection name %q", c.ID, col)
		}
	}
	return nil
}

// DisplayName returns Name, falling back to ID.
func (c *Config) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// ResolveInstruction returns the system prompt for one run.
func (c *Config) ResolveInstruction(vars PromptVars) (string, error) {
	if !c.Instruction.IsZero() {
		return c.Instruction.Resolve(vars)
	}
	if c.SystemPrompt == "" {
		return DefaultSystemPrompt, nil
	}
	return NewInstructionFromText(c.SystemPrompt).Resolve(vars)
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	cp := *c
	cp.Tools = append([]string(nil), c.Tools...)
	cp.Collections = append([]string(nil), c.Collections...)
	return &cp
}
