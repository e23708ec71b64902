// v2
// internal/bus/bus.go
package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Rlpzx/auto-riego/internal/metrics"
)

// Topics carried by the bus.
const (
	TopicSensorUpdate  = "sensor-update"
	TopicControlUpdate = "control-update"
)

// Envelope wraps a published payload with delivery metadata.
type Envelope struct {
	ID      string    `json:"id"`
	Topic   string    `json:"topic"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

// Publisher is the write side of the bus.
type Publisher interface {
	Publish(topic string, payload any)
}

// Subscription is one subscriber's feed. Events arrive on C until Close.
type Subscription struct {
	C      <-chan Envelope
	ch     chan Envelope
	id     int64
	topics map[string]struct{}
	hub    *Hub
}

// Close detaches the subscription. C is closed once detached; buffered
// events can still be drained.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s.id)
}

// Hub is the in-process fan-out. Delivery is best-effort with no backlog: a
// subscriber whose buffer is full simply misses the event. Publish never
// blocks on slow subscribers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int64]*Subscription
	nextID int64
	closed bool
	log    *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		subs: map[int64]*Subscription{},
		log:  log.With(slog.String("component", "bus")),
	}
}

// Subscribe registers a feed with the given buffer size. With no topics the
// subscription receives everything; otherwise only the named topics.
func (h *Hub) Subscribe(buffer int, topics ...string) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	var filter map[string]struct{}
	if len(topics) > 0 {
		filter = make(map[string]struct{}, len(topics))
		for _, t := range topics {
			filter[t] = struct{}{}
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	ch := make(chan Envelope, buffer)
	sub := &Subscription{C: ch, ch: ch, id: h.nextID, topics: filter, hub: h}
	if h.closed {
		close(ch)
		return sub
	}
	h.subs[sub.id] = sub
	return sub
}

func (h *Hub) unsubscribe(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(sub.ch)
}

// Publish fans the payload out to matching subscribers. No replay, no
// retry; events published before Subscribe are gone.
func (h *Hub) Publish(topic string, payload any) {
	env := Envelope{
		ID:      uuid.NewString(),
		Topic:   topic,
		At:      time.Now().UTC(),
		Payload: payload,
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for _, sub := range h.subs {
		if sub.topics != nil {
			if _, ok := sub.topics[topic]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- env:
		default:
			metrics.IncBusDropped()
			h.log.Debug("subscriber_buffer_full", slog.String("topic", topic), slog.Int64("subscriber", sub.id))
		}
	}
}

// SubscriberCount reports the number of attached subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close detaches every subscriber and refuses further publishes.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}
