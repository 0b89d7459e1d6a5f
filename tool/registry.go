package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentexec/core"
	"github.com/hupe1980/agentexec/logging"
	"github.com/hupe1980/agentexec/metrics"
)

// ErrDuplicateTool is returned when a name is registered twice.
var ErrDuplicateTool = errors.New("tool: duplicate name")

// Result is the envelope returned by Registry.Execute.
type Result struct {
	Tool     string        `json:"tool"`
	Success  bool          `json:"success"`
	Data     any           `json:"data,omitempty"`
	Error    string        `json:"error,omitempty"`
	Code     string        `json:"code,omitempty"`
	Duration time.Duration `json:"-"`
}

// Text renders Data for a conversation turn. Strings pass through unchanged;
// everything else is JSON encoded.
func (r Result) Text() string {
	switch v := r.Data.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	b, err := json.Marshal(r.Data)
	if err != nil {
		return fmt.Sprint(r.Data)
	}
	return string(b)
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Logger  logging.Logger
	Metrics *metrics.Metrics
}

// Registry maps tool names to tools. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	opts   RegistryOptions
	logger logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{
		tools:  make(map[string]Tool),
		opts:   opts,
		logger: logging.OrNop(opts.Logger),
	}
}

// Register adds tools. Registering an existing name fails with
// ErrDuplicateTool and leaves the registry unchanged.
func (r *Registry) Register(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		if t == nil || t.Name() == "" {
			return errors.New("tool: missing name")
		}
		if _, ok := r.tools[t.Name()]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name())
		}
		if _, ok := seen[t.Name()]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name())
		}
		seen[t.Name()] = struct{}{}
	}
	for _, t := range tools {
		r.tools[t.Name()] = t
		r.order = append(r.order, t.Name())
	}
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(tools ...Tool) {
	if err := r.Register(tools...); err != nil {
		panic(err)
	}
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Descriptors returns descriptors for the named tools, or for every tool when
// no names are given. Unknown names are skipped.
func (r *Registry) Descriptors(names ...string) []core.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(names) == 0 {
		names = r.order
	}
	out := make([]core.ToolDescriptor, 0, len(names))
	for _, n := range names {
		if t, ok := r.tools[n]; ok {
			out = append(out, Descriptor(t))
		}
	}
	return out
}

// With returns a new registry holding the current tools plus extra. An extra
// tool replaces a registered tool of the same name. The receiver is not
// modified.
func (r *Registry) With(extra ...Tool) *Registry {
	r.mu.RLock()
	next := &Registry{
		tools:  make(map[string]Tool, len(r.tools)+len(extra)),
		order:  append([]string(nil), r.order...),
		opts:   r.opts,
		logger: r.logger,
	}
	for k, v := range r.tools {
		next.tools[k] = v
	}
	r.mu.RUnlock()

	for _, t := range extra {
		if _, ok := next.tools[t.Name()]; !ok {
			next.order = append(next.order, t.Name())
		}
		next.tools[t.Name()] = t
	}
	return next
}

// Only returns a new registry restricted to the named tools, in the given
// order. Unknown names are skipped.
func (r *Registry) Only(names ...string) *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	next := &Registry{
		tools:  make(map[string]Tool, len(names)),
		opts:   r.opts,
		logger: r.logger,
	}
	for _, n := range names {
		t, ok := r.tools[n]
		if !ok {
			continue
		}
		if _, dup := next.tools[n]; dup {
			continue
		}
		next.tools[n] = t
		next.order = append(next.order, n)
	}
	return next
}

// Execute runs the named tool and folds every failure, including panics, into
// the returned Result. It never returns an error.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (res Result) {
	res.Tool = name
	t, ok := r.Get(name)
	if !ok {
		res.Error = fmt.Sprintf("Tool '%s' not found", name)
		res.Code = CodeNotFound
		r.opts.Metrics.ToolExecuted(name, false, 0)
		r.logger.Warn("unknown tool requested", "tool_name", name)
		return res
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res.Success = false
			res.Data = nil
			res.Error = fmt.Sprintf("tool panicked: %v", p)
			res.Code = CodeExecution
		}
		res.Duration = time.Since(start)
		r.observe(res)
	}()

	data, err := t.Call(ctx, params)
	if err != nil {
		res.Error = err.Error()
		res.Code = CodeExecution
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			res.Error = toolErr.Message
			res.Code = toolErr.Code
		}
		return res
	}
	res.Success = true
	res.Data = data
	return res
}

func (r *Registry) observe(res Result) {
	r.opts.Metrics.ToolExecuted(res.Tool, res.Success, res.Duration)
	var err error
	if !res.Success {
		err = errors.New(res.Error)
	}
	if rl, ok := r.logger.(*logging.RunLogger); ok {
		rl.LogToolCall(res.Tool, res.Duration, res.Success, err)
		return
	}
	if err != nil {
		r.logger.Warn("tool execution failed", "tool_name", res.Tool, "code", res.Code, "error", err)
	}
}
