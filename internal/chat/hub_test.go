// ABOUTME: Tests for the event hub
// ABOUTME: Covers fan-out, per-session copies, slow-subscriber drops, and lifecycle cleanup

package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishReachesSubscriber(t *testing.T) {
	h := NewHub(0, nil)
	defer h.Close()

	ch, _ := h.Subscribe(context.Background(), "alice")
	h.Publish("alice", OfflineEvent("bob"))

	ev := recvEvent(t, ch)
	assert.Equal(t, EventUserOffline, ev.Type)
	assert.Equal(t, "bob", ev.Payload)
}

func TestHub_EachSubscriberGetsACopy(t *testing.T) {
	h := NewHub(0, nil)
	defer h.Close()

	// Two sessions of the same user
	ch1, _ := h.Subscribe(context.Background(), "alice")
	ch2, _ := h.Subscribe(context.Background(), "alice")

	h.Publish("alice", ConversationUpdatedEvent())

	assert.Equal(t, EventConversationUpdated, recvEvent(t, ch1).Type)
	assert.Equal(t, EventConversationUpdated, recvEvent(t, ch2).Type)
}

func TestHub_PublishWithoutSubscribersIsNoop(t *testing.T) {
	h := NewHub(0, nil)
	defer h.Close()

	h.Publish("nobody", ConversationUpdatedEvent())
}

func TestHub_PublishDoesNotCrossKeys(t *testing.T) {
	h := NewHub(0, nil)
	defer h.Close()

	aliceCh, _ := h.Subscribe(context.Background(), "alice")
	bobCh, _ := h.Subscribe(context.Background(), "bob")

	h.Publish("alice", ConversationUpdatedEvent())

	assert.Equal(t, EventConversationUpdated, recvEvent(t, aliceCh).Type)
	assert.Empty(t, bobCh)
}

func TestHub_PublishAllReachesEveryKey(t *testing.T) {
	h := NewHub(0, nil)
	defer h.Close()

	aliceCh, _ := h.Subscribe(context.Background(), "alice")
	bobCh, _ := h.Subscribe(context.Background(), "bob")

	h.PublishAll(OnlineEvent([]string{"alice", "bob"}))

	assert.Equal(t, EventUserOnline, recvEvent(t, aliceCh).Type)
	assert.Equal(t, EventUserOnline, recvEvent(t, bobCh).Type)
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub(1, nil)
	defer h.Close()

	ch, _ := h.Subscribe(context.Background(), "alice")

	// Second publish overflows the buffer; must not block
	h.Publish("alice", ConversationUpdatedEvent())
	h.Publish("alice", OfflineEvent("bob"))

	assert.Equal(t, EventConversationUpdated, recvEvent(t, ch).Type)
	assert.Empty(t, ch, "overflow event was dropped")
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	h := NewHub(0, nil)
	defer h.Close()

	ch, subID := h.Subscribe(context.Background(), "alice")
	h.Unsubscribe("alice", subID)

	_, open := <-ch
	assert.False(t, open)

	// Repeat unsubscription is a noop
	h.Unsubscribe("alice", subID)
}

func TestHub_ContextCancelCleansUp(t *testing.T) {
	h := NewHub(0, nil)
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := h.Subscribe(ctx, "alice")
	cancel()

	// Cleanup runs in a goroutine; wait for the channel to close
	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancellation")
	}
}

func TestHub_CloseClosesAllChannels(t *testing.T) {
	h := NewHub(0, nil)

	ch1, _ := h.Subscribe(context.Background(), "alice")
	ch2, _ := h.Subscribe(context.Background(), "bob")
	h.Close()

	_, open := <-ch1
	assert.False(t, open)
	_, open = <-ch2
	assert.False(t, open)
}

// recvEvent reads one event, failing the test if none is buffered within
// a second. Publish completes delivery before returning, so in practice
// the event is already waiting.
func recvEvent(t *testing.T, ch <-chan *Event) *Event {
	t.Helper()
	select {
	case ev, open := <-ch:
		require.True(t, open, "channel closed while awaiting event")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return nil
	}
}
