package stream

import (
	"context"
	"sync"
)

// subscriber delivers a session's events in order through an unbounded
// queue, so publishing never waits on a slow reader.
type subscriber struct {
	mu     sync.Mutex
	queue  []Event
	closed bool
	notify chan struct{}
	out    chan Event
}

func newSubscriber(buffer int) *subscriber {
	return &subscriber{
		notify: make(chan struct{}, 1),
		out:    make(chan Event, buffer),
	}
}

func (s *subscriber) push(e Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	s.signal()
}

// finish marks the queue complete; the pump closes out once drained.
func (s *subscriber) finish() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()
}

func (s *subscriber) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber) run(ctx context.Context, done func()) {
	defer done()
	defer close(s.out)
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		closed := s.closed
		s.mu.Unlock()

		for _, e := range batch {
			select {
			case s.out <- e:
			case <-ctx.Done():
				return
			}
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		select {
		case <-s.notify:
		case <-ctx.Done():
			return
		}
	}
}
