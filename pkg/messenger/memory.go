package messenger

import (
	"context"
	"sync"
)

// MemoryMessenger is an in-process Messenger generalized from
// cuemby-warren/pkg/events.Broker: instead of one fixed event channel
// fanned out to every subscriber, it keeps a per-subject broker so
// the indexer's "index" subject and the transfer pipeline's
// completion subjects don't share a queue.
type MemoryMessenger struct {
	mu      sync.RWMutex
	brokers map[string]*subjectBroker
	closed  bool
}

type subjectBroker struct {
	mu          sync.RWMutex
	subscribers map[*memorySubscription]bool
}

// NewMemoryMessenger returns an empty MemoryMessenger.
func NewMemoryMessenger() *MemoryMessenger {
	return &MemoryMessenger{brokers: make(map[string]*subjectBroker)}
}

func (m *MemoryMessenger) broker(subject string) *subjectBroker {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.brokers[subject]
	if !ok {
		b = &subjectBroker{subscribers: make(map[*memorySubscription]bool)}
		m.brokers[subject] = b
	}
	return b
}

func (m *MemoryMessenger) Publish(ctx context.Context, subject string, data []byte) error {
	b := m.broker(subject)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub.ch <- Message{Subject: subject, Data: data}:
		default:
			// Subscriber buffer full: dropped. Backpressure is the
			// publisher's problem via bounded channels upstream
			// (spec.md §18), not the bus's.
		}
	}
	return nil
}

func (m *MemoryMessenger) Subscribe(ctx context.Context, subject string) (Subscription, error) {
	b := m.broker(subject)
	sub := &memorySubscription{broker: b, ch: make(chan Message, 256)}
	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()
	return sub, nil
}

func (m *MemoryMessenger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, b := range m.brokers {
		b.mu.Lock()
		for sub := range b.subscribers {
			close(sub.ch)
		}
		b.subscribers = nil
		b.mu.Unlock()
	}
	return nil
}

type memorySubscription struct {
	broker *subjectBroker
	ch     chan Message
}

func (s *memorySubscription) Messages() <-chan Message { return s.ch }

func (s *memorySubscription) Unsubscribe() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	if _, ok := s.broker.subscribers[s]; !ok {
		return nil
	}
	delete(s.broker.subscribers, s)
	close(s.ch)
	return nil
}
