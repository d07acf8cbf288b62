// ABOUTME: In-memory fan-out hub routing events to per-user delivery channels
// ABOUTME: Every session of a user subscribes to the user's channel key and receives its own copy

package chat

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Hub provides in-memory pub/sub for session events. Each session
// subscribes under its user's channel key; publishing to a key fans out
// to every subscriber of that key, so multi-session users receive one
// copy per session. Dispatch is fire-and-forget: there are no delivery
// or ordering guarantees across sessions.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Event // channelKey -> subID -> ch
	buffer      int
	logger      *slog.Logger
}

// NewHub creates a hub with the given per-subscriber channel buffer.
// Pass nil logger for default.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subscribers: make(map[string]map[string]chan *Event),
		buffer:      buffer,
		logger:      logger.With("component", "hub"),
	}
}

// Subscribe registers a subscriber for events on the given channel key.
// Returns a channel that receives events and a subscription ID for later
// unsubscription. The subscription is automatically cleaned up when ctx
// is cancelled.
func (h *Hub) Subscribe(ctx context.Context, channelKey string) (<-chan *Event, string) {
	subID := uuid.New().String()
	ch := make(chan *Event, h.buffer)

	h.mu.Lock()
	if _, ok := h.subscribers[channelKey]; !ok {
		h.subscribers[channelKey] = make(map[string]chan *Event)
	}
	h.subscribers[channelKey][subID] = ch
	h.mu.Unlock()

	h.logger.Debug("subscriber added",
		"channel_key", channelKey,
		"sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		h.Unsubscribe(channelKey, subID)
	}()

	return ch, subID
}

// Publish sends an event to all subscribers of the given channel key.
// Non-blocking: events are dropped for subscribers whose channels are full.
func (h *Hub) Publish(channelKey string, event *Event) {
	h.mu.RLock()
	subs, ok := h.subscribers[channelKey]
	if !ok || len(subs) == 0 {
		h.mu.RUnlock()
		return
	}

	// Copy subscriber channels under read lock to avoid holding lock during sends
	targets := make([]chan *Event, 0, len(subs))
	for _, ch := range subs {
		targets = append(targets, ch)
	}
	h.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- event:
			// Sent
		default:
			// Subscriber channel full — drop event for this subscriber
			h.logger.Debug("dropped event for slow subscriber",
				"channel_key", channelKey,
				"event_type", event.Type)
		}
	}
}

// PublishAll sends an event to every subscriber of every channel key.
// Used for presence transitions, which are visible to all sessions.
func (h *Hub) PublishAll(event *Event) {
	h.mu.RLock()
	targets := make([]chan *Event, 0, len(h.subscribers))
	for _, subs := range h.subscribers {
		for _, ch := range subs {
			targets = append(targets, ch)
		}
	}
	h.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			h.logger.Debug("dropped broadcast for slow subscriber",
				"event_type", event.Type)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(channelKey, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[channelKey]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	// Clean up empty channel key entries
	if len(subs) == 0 {
		delete(h.subscribers, channelKey)
	}

	h.logger.Debug("subscriber removed",
		"channel_key", channelKey,
		"sub_id", subID)
}

// Close shuts down the hub and closes all subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for key, subs := range h.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(h.subscribers, key)
	}

	h.logger.Debug("hub closed")
}
