// Package notifier is the in-process event fan-out for billing activity.
// Delivery is strictly fire-and-forget: a publish never blocks, never fails
// the call that produced it, and drops events for subscribers that cannot
// keep up.
package notifier

import (
	"strings"
	"sync"

	"go.uber.org/fx"
)

// AdminStream receives a copy of every published event regardless of user.
const AdminStream = "admin"

const (
	defaultBacklogSize      = 50
	defaultSubscriberBuffer = 16
)

// Notifier is the narrow surface the execution engine depends on. The hub
// implements it; tests substitute their own.
type Notifier interface {
	Publish(userID string, event Event)
}

type Hub struct {
	mu               sync.RWMutex
	streams          map[string]*stream
	backlogSize      int
	subscriberBuffer int
}

type stream struct {
	mu      sync.Mutex
	backlog []Event
	subs    map[uint64]chan Event
	nextID  uint64
}

// Subscription is one consumer's handle on a stream. Close is idempotent.
type Subscription struct {
	hub    *Hub
	key    string
	id     uint64
	ch     chan Event
	closed sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[string]*stream),
		backlogSize:      defaultBacklogSize,
		subscriberBuffer: defaultSubscriberBuffer,
	}
}

// Publish delivers the event to the user's stream and mirrors it onto the
// admin stream. Streams with no subscribers and no history are not created;
// a publish into the void is free.
func (h *Hub) Publish(userID string, event Event) {
	if h == nil {
		return
	}
	h.deliver(strings.TrimSpace(userID), event)
	h.deliver(AdminStream, event)
}

func (h *Hub) deliver(key string, event Event) {
	if key == "" {
		return
	}
	h.mu.RLock()
	st := h.streams[key]
	h.mu.RUnlock()
	if st == nil {
		return
	}

	st.mu.Lock()
	st.backlog = append(st.backlog, event)
	if len(st.backlog) > h.backlogSize {
		st.backlog = st.backlog[len(st.backlog)-h.backlogSize:]
	}
	subs := make([]chan Event, 0, len(st.subs))
	for _, ch := range st.subs {
		subs = append(subs, ch)
	}
	st.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// Slow consumer; the event is dropped for this subscriber
			// but stays in the backlog.
		}
	}
}

// Subscribe attaches a consumer to a user stream (or AdminStream) and returns
// the retained backlog so late joiners see recent history.
func (h *Hub) Subscribe(key string) (*Subscription, []Event) {
	key = strings.TrimSpace(key)
	if h == nil || key == "" {
		return nil, nil
	}

	st := h.ensureStream(key)
	st.mu.Lock()
	id := st.nextID
	st.nextID++
	ch := make(chan Event, h.subscriberBuffer)
	st.subs[id] = ch
	backlog := append([]Event(nil), st.backlog...)
	st.mu.Unlock()

	return &Subscription{hub: h, key: key, id: id, ch: ch}, backlog
}

func (h *Hub) ensureStream(key string) *stream {
	h.mu.RLock()
	st := h.streams[key]
	h.mu.RUnlock()
	if st != nil {
		return st
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	st = h.streams[key]
	if st == nil {
		st = &stream{subs: make(map[uint64]chan Event)}
		h.streams[key] = st
	}
	return st
}

func (h *Hub) unsubscribe(key string, id uint64) {
	h.mu.RLock()
	st := h.streams[key]
	h.mu.RUnlock()
	if st == nil {
		return
	}

	st.mu.Lock()
	delete(st.subs, id)
	remaining := len(st.subs)
	st.mu.Unlock()
	if remaining != 0 {
		return
	}

	h.mu.Lock()
	if current := h.streams[key]; current == st {
		st.mu.Lock()
		if len(st.subs) == 0 {
			delete(h.streams, key)
		}
		st.mu.Unlock()
	}
	h.mu.Unlock()
}

func (s *Subscription) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.closed.Do(func() {
		s.hub.unsubscribe(s.key, s.id)
	})
}

var Module = fx.Module("notifier",
	fx.Provide(
		NewHub,
		func(h *Hub) Notifier { return h },
	),
)
