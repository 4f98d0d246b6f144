package events

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/core-tools/hsu-zapret-go/pkg/logging"
)

type LogHandler func(LogEvent)

type StateHandler func(StateEvent)

// SubscriptionID identifies a registered handler
type SubscriptionID string

type logSubscription struct {
	id      SubscriptionID
	handler LogHandler
}

type stateSubscription struct {
	id      SubscriptionID
	handler StateHandler
}

// Bus fans log and state events out to any number of read-only subscribers.
// Handlers run synchronously on the publisher's goroutine in registration order,
// so events from one publisher are observed in publish order. Handlers may be
// called concurrently by different publishers and must be safe for that.
type Bus struct {
	mu        sync.RWMutex
	logSubs   []logSubscription
	stateSubs []stateSubscription
	nextID    atomic.Uint64
	logger    logging.Logger
}

func NewBus(logger logging.Logger) *Bus {
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	return &Bus{logger: logger}
}

func (b *Bus) SubscribeLogs(handler LogHandler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.generateID("log")
	b.logSubs = append(b.logSubs, logSubscription{id: id, handler: handler})
	return id
}

func (b *Bus) SubscribeState(handler StateHandler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.generateID("state")
	b.stateSubs = append(b.stateSubs, stateSubscription{id: id, handler: handler})
	return id
}

// Unsubscribe removes a subscription by ID.
// Returns true if the subscription was found and removed.
func (b *Bus) Unsubscribe(id SubscriptionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.logSubs {
		if sub.id == id {
			b.logSubs = append(b.logSubs[:i:i], b.logSubs[i+1:]...)
			return true
		}
	}
	for i, sub := range b.stateSubs {
		if sub.id == id {
			b.stateSubs = append(b.stateSubs[:i:i], b.stateSubs[i+1:]...)
			return true
		}
	}
	return false
}

func (b *Bus) PublishLog(event LogEvent) {
	b.mu.RLock()
	subs := make([]logSubscription, len(b.logSubs))
	copy(subs, b.logSubs)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.safeCall(string(sub.id), func() { sub.handler(event) })
	}
}

func (b *Bus) PublishState(event StateEvent) {
	b.mu.RLock()
	subs := make([]stateSubscription, len(b.stateSubs))
	copy(subs, b.stateSubs)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.safeCall(string(sub.id), func() { sub.handler(event) })
	}
}

// SubscriptionCount returns the total number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.logSubs) + len(b.stateSubs)
}

// safeCall keeps one panicking handler from breaking delivery to the rest
func (b *Bus) safeCall(id string, call func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorf("Event handler panicked, subscription: %s, panic: %v\n%s", id, r, debug.Stack())
		}
	}()
	call()
}

func (b *Bus) generateID(kind string) SubscriptionID {
	return SubscriptionID(fmt.Sprintf("%s-%d", kind, b.nextID.Add(1)))
}
