package realtime

import (
	"context"
	"sync"

	"github.com/pbn-studio/engine/pkg/logger"
	"go.uber.org/zap"
)

const defaultBuffer = 64

// Hub fans events out to in-process subscribers. A subscriber whose buffer is full
// is dropped rather than allowed to stall the publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{subs: map[*Subscription]struct{}{}, buffer: buffer}
}

type Subscription struct {
	C <-chan Event

	ch   chan Event
	hub  *Hub
	once sync.Once
}

func (h *Hub) Subscribe() *Subscription {
	ch := make(chan Event, h.buffer)
	s := &Subscription{C: ch, ch: ch, hub: h}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Close unsubscribes and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
	s.once.Do(func() { close(s.ch) })
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Publish(_ context.Context, ev Event) error {
	var slow []*Subscription
	h.mu.RLock()
	for s := range h.subs {
		select {
		case s.ch <- ev:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		logger.L().Warn("dropping slow realtime subscriber", zap.String("event", string(ev.Type)))
		h.remove(s)
	}
	return nil
}
