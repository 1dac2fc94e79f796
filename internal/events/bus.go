// Package events is a small in-process publish/subscribe bus for
// process-wide signals such as "the operator came back".
package events

import (
	"sync"

	"go.uber.org/zap"
)

type Topic string

const (
	// TopicFocus fires when the operator returns to the process (terminal
	// foregrounded, window focused). Subscribers refresh silently.
	TopicFocus Topic = "focus"
	// TopicOpenCreateView asks any front end to open its create-part view.
	TopicOpenCreateView Topic = "open-create-view"
)

type Handler func(Topic)

// Bus delivers each Publish synchronously to the handlers subscribed to the
// topic at publish time. Handlers must not block.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Topic]map[uint64]Handler
	log    *zap.Logger
}

func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		subs: make(map[Topic]map[uint64]Handler),
		log:  log.Named("events"),
	}
}

// Subscribe registers h for topic and returns the function that removes it.
// Calling the returned function more than once is harmless.
func (b *Bus) Subscribe(topic Topic, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]Handler)
	}
	b.subs[topic][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[topic], id)
		})
	}
}

func (b *Bus) Publish(topic Topic) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	b.log.Debug("publish", zap.String("topic", string(topic)), zap.Int("subscribers", len(handlers)))
	for _, h := range handlers {
		h(topic)
	}
}

// Subscribers reports how many handlers are registered for topic.
func (b *Bus) Subscribers(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
