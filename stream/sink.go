package stream

import "context"

// Sink receives every event the Manager publishes, in publication order per
// session. Implementations must not block for long; a slow sink delays the run.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// ChanSink sends events to a channel and drops them when the channel is full.
type ChanSink struct {
	ch chan<- Event
}

// NewChanSink creates a sink that sends to ch. ch should be buffered.
func NewChanSink(ch chan<- Event) *ChanSink {
	return &ChanSink{ch: ch}
}

// Emit sends the event without blocking.
func (s *ChanSink) Emit(ctx context.Context, e Event) {
	select {
	case s.ch <- e:
	case <-ctx.Done():
	default:
	}
}

// MultiSink fans events out to several sinks.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a fan-out sink; nil sinks are skipped.
func NewMultiSink(sinks ...Sink) *MultiSink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

// Emit dispatches to every sink in order.
func (s *MultiSink) Emit(ctx context.Context, e Event) {
	for _, sink := range s.sinks {
		sink.Emit(ctx, e)
	}
}

// CallbackSink adapts a function to Sink.
type CallbackSink struct {
	fn func(ctx context.Context, e Event)
}

// NewCallbackSink wraps fn.
func NewCallbackSink(fn func(ctx context.Context, e Event)) *CallbackSink {
	return &CallbackSink{fn: fn}
}

// Emit calls the wrapped function.
func (s *CallbackSink) Emit(ctx context.Context, e Event) {
	if s.fn != nil {
		s.fn(ctx, e)
	}
}

// NopSink discards all events.
type NopSink struct{}

// Emit does nothing.
func (NopSink) Emit(context.Context, Event) {}
