package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when an agent id is unknown.
var ErrNotFound = errors.New("agent: not found")

// Resolver looks up agent configurations.
type Resolver interface {
	Get(ctx context.Context, id string) (*Config, error)
}

// Registry is an in-memory Resolver.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Config
}

// NewRegistry creates a registry holding cfgs.
func NewRegistry(cfgs ...*Config) (*Registry, error) {
	r := &Registry{agents: make(map[string]*Config)}
	for _, c := range cfgs {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds or replaces an agent.
func (r *Registry) Register(c *Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[c.ID] = c.Clone()
	return nil
}

// Get returns a copy of the agent configuration.
func (r *Registry) Get(_ context.Context, id string) (*Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c.Clone(), nil
}

// List returns every agent ordered by id.
func (r *Registry) List() []*Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Config, 0, len(r.agents))
	for _, c := range r.agents {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type fileFormat struct {
	Agents []*Config `yaml:"agents"`
}

// Load parses agent definitions from YAML:
//
//	agents:
//	  - id: assistant
//	    name: Assistant
//	    system_prompt: You help {{ .user_id }}.
//	    tools: [calculator, current_time]
//	    collections: [handbook]
func Load(r io.Reader) ([]*Config, error) {
	var f fileFormat
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode agents: %w", err)
	}
	seen := make(map[string]struct{}, len(f.Agents))
	for i, c := range f.Agents {
		if c == nil {
			return nil, fmt.Errorf("agent: empty definition at index %d", i)
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[c.ID]; dup {
			return nil, fmt.Errorf("agent: duplicate id %q", c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return f.Agents, nil
}

// LoadFile reads agent definitions from a YAML file.
func LoadFile(path string) ([]*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}
