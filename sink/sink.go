// Package sink carries outbound events towards one connection.
package sink

import (
	"context"

	"chat-relay/domain/event"
)

// Sink buffers events for a single connection. The transport pump drains
// Events and pushes them onto the wire.
type Sink struct {
	Events chan event.DomainEvent
}

func NewSink(bufferSize int) *Sink {
	return &Sink{Events: make(chan event.DomainEvent, bufferSize)}
}

// Consume is called by the relay engine. The send blocks until the pump
// frees a buffer slot or the delivery context expires, so backpressure on
// a slow client is bounded by the caller's timeout instead of stalling the
// engine indefinitely.
func (s *Sink) Consume(ctx context.Context, e event.DomainEvent) error {
	select {
	case s.Events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
