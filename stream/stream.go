// Package stream owns the lifecycle of push-based connections to the
// assistant backend, exposing each connection as a typed event sequence.
package stream

import (
	"context"
	"sync"

	"github.com/lmarchetti42/chatform/domain"
)

// Stream is one open connection to the backend. Events are delivered in the
// order the backend produced them; exactly one Done or StreamError terminates
// the sequence.
type Stream struct {
	events chan domain.StreamEvent
	cancel context.CancelFunc
	closed chan struct{}
	once   sync.Once
}

func newStream(cancel context.CancelFunc) *Stream {
	return &Stream{
		events: make(chan domain.StreamEvent),
		cancel: cancel,
		closed: make(chan struct{}),
	}
}

// Events returns the event sequence. The channel is closed after the terminal
// event, or after Cancel.
func (s *Stream) Events() <-chan domain.StreamEvent {
	return s.events
}

// Cancel closes the underlying connection immediately. No events are
// delivered after Cancel returns, including ones already in flight at the
// transport layer. Cancel is idempotent.
func (s *Stream) Cancel() {
	s.once.Do(func() {
		close(s.closed)
		s.cancel()
	})
}

// deliver hands an event to the consumer unless the stream was cancelled.
func (s *Stream) deliver(ev domain.StreamEvent) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.closed:
		return false
	}
}

// finish ends the event sequence and releases the connection context.
func (s *Stream) finish() {
	close(s.events)
	s.cancel()
}
