// Package fanout distributes trip events to topic subscribers. Delivery is
// best-effort and at-most-once: nothing is queued beyond each subscriber's own
// buffer and nothing is replayed to late joiners.
package fanout

import (
	"context"
	"sync"
)

// Publisher accepts events for distribution. Implementations must not block on
// slow subscribers.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Subscriber receives events. Deliver must not block; it reports false when
// the event was dropped.
type Subscriber interface {
	Deliver(e Event) bool
}

type HubMetrics interface {
	Delivered()
	Dropped()
	SetSubscriptions(n int)
}

// Hub keeps in-process topic groups.
type Hub struct {
	metrics HubMetrics

	mu      sync.RWMutex
	topics  map[string]map[Subscriber]struct{}
	members map[Subscriber]map[string]struct{}
}

func NewHub(m HubMetrics) *Hub {
	return &Hub{
		metrics: m,
		topics:  make(map[string]map[Subscriber]struct{}),
		members: make(map[Subscriber]map[string]struct{}),
	}
}

func (h *Hub) Subscribe(topic string, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group, ok := h.topics[topic]
	if !ok {
		group = make(map[Subscriber]struct{})
		h.topics[topic] = group
	}
	group[s] = struct{}{}
	mine, ok := h.members[s]
	if !ok {
		mine = make(map[string]struct{})
		h.members[s] = mine
	}
	mine[topic] = struct{}{}
	h.reportLocked()
}

func (h *Hub) Unsubscribe(topic string, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(topic, s)
	h.reportLocked()
}

// UnsubscribeAll drops every membership of s, as on disconnect.
func (h *Hub) UnsubscribeAll(s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic := range h.members[s] {
		h.removeLocked(topic, s)
	}
	h.reportLocked()
}

func (h *Hub) removeLocked(topic string, s Subscriber) {
	if group, ok := h.topics[topic]; ok {
		delete(group, s)
		if len(group) == 0 {
			delete(h.topics, topic)
		}
	}
	if mine, ok := h.members[s]; ok {
		delete(mine, topic)
		if len(mine) == 0 {
			delete(h.members, s)
		}
	}
}

func (h *Hub) reportLocked() {
	if h.metrics != nil {
		n := 0
		for _, group := range h.topics {
			n += len(group)
		}
		h.metrics.SetSubscriptions(n)
	}
}

// Topics lists the topics s is currently a member of.
func (h *Hub) Topics(s Subscriber) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.members[s]))
	for t := range h.members[s] {
		out = append(out, t)
	}
	return out
}

// Publish delivers e once to every subscriber of any of its topics. Publishing
// to a topic with no subscribers is a no-op.
func (h *Hub) Publish(_ context.Context, e Event) error {
	h.mu.RLock()
	targets := make(map[Subscriber]struct{})
	for _, topic := range e.Topics() {
		for s := range h.topics[topic] {
			targets[s] = struct{}{}
		}
	}
	h.mu.RUnlock()

	for s := range targets {
		ok := s.Deliver(e)
		if h.metrics == nil {
			continue
		}
		if ok {
			h.metrics.Delivered()
		} else {
			h.metrics.Dropped()
		}
	}
	return nil
}

// ChanSubscriber buffers events in a channel and drops when the buffer is full.
type ChanSubscriber struct {
	ch chan Event
}

func NewChanSubscriber(buffer int) *ChanSubscriber {
	return &ChanSubscriber{ch: make(chan Event, buffer)}
}

func (c *ChanSubscriber) Deliver(e Event) bool {
	select {
	case c.ch <- e:
		return true
	default:
		return false
	}
}

func (c *ChanSubscriber) C() <-chan Event { return c.ch }
