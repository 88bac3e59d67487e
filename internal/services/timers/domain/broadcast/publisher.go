// Package broadcast fans condition-timer events out to subscribed channels.
//
// The domain layer depends only on the Publisher interface; delivery is
// best-effort and fire-and-forget from the publisher's perspective. The Hub
// is the in-process implementation backing the realtime transport.
package broadcast

import (
	"context"
	"sync"

	"github.com/florinnichifiriuc/dungen-and-dragons-sub003/internal/services/timers/domain/event"
)

// Publisher pushes one event to one named channel. Implementations must not
// block the caller; delivery guarantees are at-most-once best effort.
type Publisher interface {
	Publish(ctx context.Context, channel string, eventType event.Type, payload any)
}

// NopPublisher drops every event. Useful for tools and tests that do not
// care about broadcast side effects.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, string, event.Type, any) {}

// Event is one delivered broadcast frame.
type Event struct {
	Channel string     `json:"channel"`
	Type    event.Type `json:"event"`
	Payload any        `json:"payload"`
}

// Subscription receives events for one channel until closed.
type Subscription struct {
	C chan Event

	hub     *Hub
	channel string
	once    sync.Once
}

// Close detaches the subscription from its hub and releases its buffer.
func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.channel, s)
	})
}

// Hub is an in-process fan-out publisher keyed by channel name.
//
// Slow subscribers never stall publishers: when a subscription buffer is
// full the frame is dropped for that subscriber only.
type Hub struct {
	mu       sync.Mutex
	channels map[string]map[*Subscription]struct{}
}

// NewHub creates an empty broadcast hub.
func NewHub() *Hub {
	return &Hub{channels: make(map[string]map[*Subscription]struct{})}
}

// Subscribe attaches a buffered subscription to one channel.
func (h *Hub) Subscribe(channel string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &Subscription{
		C:       make(chan Event, buffer),
		hub:     h,
		channel: channel,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.channels[channel] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

func (h *Hub) unsubscribe(channel string, sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.channels[channel]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.channels, channel)
	}
	close(sub.C)
}

// Publish implements Publisher with non-blocking per-subscriber delivery.
func (h *Hub) Publish(_ context.Context, channel string, eventType event.Type, payload any) {
	frame := Event{Channel: channel, Type: eventType, Payload: payload}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.channels[channel] {
		select {
		case sub.C <- frame:
		default:
			// Subscriber buffer full; drop the frame for that subscriber.
		}
	}
}

// SubscriberCount reports how many subscriptions a channel currently has.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[channel])
}
