package api

import (
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
)

// SSEEvent is one plan event as delivered to stream subscribers.
type SSEEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// EventBroker fans plan events out to subscribers of a topic (a plan id).
// The returned cancel func unsubscribes and closes the channel.
type EventBroker interface {
	Subscribe(topic string) (<-chan SSEEvent, func())
	Publish(topic string, evt SSEEvent)
}

type subscriber struct {
	topic  string
	mu     sync.Mutex
	ch     chan SSEEvent
	closed bool
}

// trySend drops the event when the subscriber is slow.
func (s *subscriber) trySend(evt SSEEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- evt:
	default:
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Broker is the in-process EventBroker.
type Broker struct {
	subs   *xsync.Map[uint64, *subscriber]
	nextID atomic.Uint64
}

func NewBroker() *Broker {
	return &Broker{subs: xsync.NewMap[uint64, *subscriber]()}
}

func (b *Broker) Subscribe(topic string) (<-chan SSEEvent, func()) {
	id := b.nextID.Add(1)
	sub := &subscriber{topic: topic, ch: make(chan SSEEvent, 8)}
	b.subs.Store(id, sub)
	return sub.ch, func() {
		if s, ok := b.subs.LoadAndDelete(id); ok {
			s.close()
		}
	}
}

func (b *Broker) Publish(topic string, evt SSEEvent) {
	b.subs.Range(func(_ uint64, sub *subscriber) bool {
		if sub.topic == topic {
			sub.trySend(evt)
		}
		return true
	})
}

// Subscribers reports the number of live subscriptions.
func (b *Broker) Subscribers() int { return b.subs.Size() }
