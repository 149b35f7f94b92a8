package event

import (
	"context"
	"sync"

	pkgkafka "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/kafka"
)

// Published is an event captured by MemoryPublisher.
type Published struct {
	Topic string
	Event *pkgkafka.Event
}

// MemoryPublisher keeps published events in memory. It backs the engine when
// no Kafka brokers are configured and is used by tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Published
	limit  int
	Err    error
}

// NewMemoryPublisher keeps at most limit events; 0 keeps everything.
func NewMemoryPublisher(limit int) *MemoryPublisher {
	return &MemoryPublisher{limit: limit}
}

// Publish implements pkgkafka.Publisher.
func (m *MemoryPublisher) Publish(_ context.Context, topic string, evt *pkgkafka.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.events = append(m.events, Published{Topic: topic, Event: evt})
	if m.limit > 0 && len(m.events) > m.limit {
		m.events = m.events[len(m.events)-m.limit:]
	}
	return nil
}

// Events returns a copy of the captured events.
func (m *MemoryPublisher) Events() []Published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Published(nil), m.events...)
}

// Types returns the event types captured so far, in order.
func (m *MemoryPublisher) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, len(m.events))
	for i, e := range m.events {
		types[i] = e.Event.EventType
	}
	return types
}
