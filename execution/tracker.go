// Package execution implements the execution state tracker: the lifecycle
// record of a single agent run and the transition rules that govern it.
//
// The tracker performs no I/O of its own beyond its Store. Every mutation is a
// read-validate-write under a single mutex, so a rejected transition leaves
// the stored record untouched.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentexec/core"
	"github.com/hupe1980/agentexec/logging"
)

// Options configures a Tracker.
type Options struct {
	// Store holds execution records. Defaults to an in-memory store.
	Store Store
	// Retention removes finished executions from the store after the given
	// delay. Zero keeps them until Forget is called.
	Retention time.Duration
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Tracker owns execution records and validates their transitions.
type Tracker struct {
	mu        sync.Mutex
	store     Store
	retention time.Duration
	now       func() time.Time
	logger    logging.Logger
}

// NewTracker creates a tracker.
func NewTracker(optFns ...func(o *Options)) *Tracker {
	opts := Options{
		Store:  NewInMemoryStore(),
		Now:    time.Now,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Tracker{
		store:     opts.Store,
		retention: opts.Retention,
		now:       opts.Now,
		logger:    logging.OrNop(opts.Logger),
	}
}

// Create allocates a new execution in IDLE.
func (t *Tracker) Create(ctx context.Context, agentID, sessionID string) (*Execution, error) {
	e := &Execution{
		ID:        core.NewID(),
		AgentID:   agentID,
		SessionID: sessionID,
		Status:    StatusIdle,
		StartTime: t.now().UTC(),
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.store.Set(ctx, e); err != nil {
		return nil, fmt.Errorf("store execution: %w", err)
	}
	t.logger.Debug("Execution created", "execution_id", e.ID, "agent_id", agentID, "session_id", sessionID)
	return e.Clone(), nil
}

// Get returns a snapshot of the execution.
func (t *Tracker) Get(ctx context.Context, id string) (*Execution, error) {
	e, ok, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load execution: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

// Transition moves the execution to status and applies patch.
//
// CurrentTool is only kept while the new status is USING_TOOL and is cleared
// otherwise. Progress is clamped to [0, 100] and never decreases; a lower
// value leaves the current progress in place.
func (t *Tracker) Transition(ctx context.Context, id string, status Status, patch Patch) (*Execution, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !e.Status.CanTransition(status) {
		return nil, &TransitionError{ExecutionID: id, From: e.Status, To: status}
	}

	next := e.Clone()
	applyTransition(next, status, patch)
	if status == StatusError && next.EndTime == nil {
		end := t.now().UTC()
		next.EndTime = &end
	}
	if err := t.store.Set(ctx, next); err != nil {
		return nil, fmt.Errorf("store execution: %w", err)
	}
	if next.Status.IsTerminal() && next.EndTime != nil {
		t.scheduleForget(id)
	}
	return next.Clone(), nil
}

// Update applies patch without changing the status. CurrentTool is only
// accepted while USING_TOOL. Updating a terminal execution fails with
// ErrAlreadyFinished.
func (t *Tracker) Update(ctx context.Context, id string, patch Patch) (*Execution, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyFinished, id)
	}

	next := e.Clone()
	applyTransition(next, e.Status, patch)
	if err := t.store.Set(ctx, next); err != nil {
		return nil, fmt.Errorf("store execution: %w", err)
	}
	return next.Clone(), nil
}

// Finish sets the end time and adds usage to the token counters. A
// non-terminal execution is moved to RESPONDING when that is reachable from
// its current status and to ERROR otherwise.
func (t *Tracker) Finish(ctx context.Context, id string, usage core.TokenUsage) (*Execution, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Finished() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyFinished, id)
	}

	next := e.Clone()
	if !next.Status.IsTerminal() {
		if next.Status.CanTransition(StatusResponding) {
			applyTransition(next, StatusResponding, Patch{})
		} else {
			applyTransition(next, StatusError, WithError("finished from "+string(e.Status)))
		}
	}
	end := t.now().UTC()
	next.EndTime = &end
	next.TokenUsage = next.TokenUsage.Add(nonNegative(usage))
	if err := t.store.Set(ctx, next); err != nil {
		return nil, fmt.Errorf("store execution: %w", err)
	}
	t.scheduleForget(id)
	return next.Clone(), nil
}

// Fail moves a non-terminal execution to ERROR, records the failure message
// and adds usage, all in one write. Failing an already terminal execution
// returns a TransitionError.
func (t *Tracker) Fail(ctx context.Context, id string, cause error, usage core.TokenUsage) (*Execution, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !e.Status.CanTransition(StatusError) {
		return nil, &TransitionError{ExecutionID: id, From: e.Status, To: StatusError}
	}
	next := e.Clone()
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	applyTransition(next, StatusError, WithError(msg))
	end := t.now().UTC()
	next.EndTime = &end
	next.TokenUsage = next.TokenUsage.Add(nonNegative(usage))
	if err := t.store.Set(ctx, next); err != nil {
		return nil, fmt.Errorf("store execution: %w", err)
	}
	t.scheduleForget(id)
	return next.Clone(), nil
}

// Forget removes an execution record.
func (t *Tracker) Forget(ctx context.Context, id string) error {
	return t.store.Delete(ctx, id)
}

func (t *Tracker) load(ctx context.Context, id string) (*Execution, error) {
	e, ok, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load execution: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

func (t *Tracker) scheduleForget(id string) {
	if t.retention <= 0 {
		return
	}
	time.AfterFunc(t.retention, func() {
		if err := t.store.Delete(context.Background(), id); err != nil {
			t.logger.Warn("Failed to forget execution", "execution_id", id, "error", err)
		}
	})
}

func applyTransition(e *Execution, status Status, patch Patch) {
	e.Status = status
	if status == StatusUsingTool {
		if patch.CurrentTool != nil {
			e.CurrentTool = *patch.CurrentTool
		}
	} else {
		e.CurrentTool = ""
	}
	if patch.Progress != nil {
		p := clamp(*patch.Progress, 0, 100)
		if p > e.Progress {
			e.Progress = p
		}
	}
	if patch.Error != nil {
		e.Error = *patch.Error
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func nonNegative(u core.TokenUsage) core.TokenUsage {
	if u.Input < 0 {
		u.Input = 0
	}
	if u.Output < 0 {
		u.Output = 0
	}
	return u
}
