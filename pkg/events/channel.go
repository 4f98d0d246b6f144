package events

import (
	"sync"
	"sync/atomic"
)

// ChannelSubscription delivers bus events into a buffered channel.
// A full channel drops the event rather than blocking the publisher,
// which is usually a process output drain.
type ChannelSubscription[T any] struct {
	C       <-chan T
	bus     *Bus
	id      SubscriptionID
	mu      sync.Mutex
	ch      chan T
	closed  bool
	dropped atomic.Int64
}

func (s *ChannelSubscription[T]) deliver(event T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.ch <- event:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the channel was full
func (s *ChannelSubscription[T]) Dropped() int64 {
	return s.dropped.Load()
}

// Cancel unsubscribes and closes the channel. Safe to call more than once.
func (s *ChannelSubscription[T]) Cancel() {
	s.bus.Unsubscribe(s.id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func LogChannel(bus *Bus, size int) *ChannelSubscription[LogEvent] {
	ch := make(chan LogEvent, size)
	sub := &ChannelSubscription[LogEvent]{C: ch, ch: ch, bus: bus}
	sub.id = bus.SubscribeLogs(sub.deliver)
	return sub
}

func StateChannel(bus *Bus, size int) *ChannelSubscription[StateEvent] {
	ch := make(chan StateEvent, size)
	sub := &ChannelSubscription[StateEvent]{C: ch, ch: ch, bus: bus}
	sub.id = bus.SubscribeState(sub.deliver)
	return sub
}
