// ABOUTME: Closed event schema for the live-session protocol
// ABOUTME: One tagged frame type per direction with typed payloads per event name

package chat

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/creatorconnect/chat-gateway/internal/store"
)

// EventType names one event in the live-session protocol.
type EventType string

// Server→client event types
const (
	EventUserOnline          EventType = "user:online"
	EventUserOffline         EventType = "user:offline"
	EventMessageReceived     EventType = "message:received"
	EventConversationUpdated EventType = "conversation:updated"
	EventTypingStart         EventType = "typing:start"
	EventTypingStop          EventType = "typing:stop"
	EventMessageRead         EventType = "message:read"
	EventError               EventType = "error"
)

// Client→server event types (typing:start/typing:stop are shared names)
const (
	EventConversationJoin EventType = "conversation:join"
	EventMessageSend      EventType = "message:send"
	EventConversationRead EventType = "conversation:read"
)

// Event is a server→client frame.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// TypingPayload carries a forwarded typing indicator.
type TypingPayload struct {
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
}

// ReadPayload carries a read-receipt notice.
type ReadPayload struct {
	ReaderID         string `json:"readerId"`
	ConversationWith string `json:"conversationWith"`
}

// ErrorPayload carries a validation or authorization failure.
type ErrorPayload struct {
	Message string `json:"message"`
}

// OnlineEvent builds a presence snapshot event. The payload is the full
// online-identity set so a client that missed partial updates can
// resynchronize.
func OnlineEvent(userIDs []string) *Event {
	if userIDs == nil {
		userIDs = []string{}
	}
	return &Event{Type: EventUserOnline, Payload: userIDs}
}

// OfflineEvent builds a presence departure event carrying only the
// departing identity.
func OfflineEvent(userID string) *Event {
	return &Event{Type: EventUserOffline, Payload: userID}
}

// MessageEvent builds a new-message event with the populated message.
func MessageEvent(msg *store.Message) *Event {
	return &Event{Type: EventMessageReceived, Payload: msg}
}

// ConversationUpdatedEvent builds the lightweight refresh hint; it
// carries no payload by design.
func ConversationUpdatedEvent() *Event {
	return &Event{Type: EventConversationUpdated}
}

// TypingEvent builds a forwarded typing indicator. Name is only carried
// on start.
func TypingEvent(start bool, userID, name string) *Event {
	typ := EventTypingStop
	payload := TypingPayload{UserID: userID}
	if start {
		typ = EventTypingStart
		payload.Name = name
	}
	return &Event{Type: typ, Payload: payload}
}

// ReadEvent builds a read-receipt notice for the counterpart.
func ReadEvent(readerID, conversationWith string) *Event {
	return &Event{Type: EventMessageRead, Payload: ReadPayload{
		ReaderID:         readerID,
		ConversationWith: conversationWith,
	}}
}

// ErrorEvent builds a session-scoped failure notice.
func ErrorEvent(message string) *Event {
	return &Event{Type: EventError, Payload: ErrorPayload{Message: message}}
}

// ClientEvent is a client→server frame. The payload is decoded against
// the schema for its type before dispatch.
type ClientEvent struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SendPayload is the message:send payload.
type SendPayload struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

// TypingTargetPayload is the typing:start / typing:stop payload.
type TypingTargetPayload struct {
	ReceiverID string `json:"receiverId"`
}

// ReadRequestPayload is the conversation:read payload.
type ReadRequestPayload struct {
	OtherUserID string `json:"otherUserId"`
}

// JoinPayload is the conversation:join payload.
type JoinPayload struct {
	UserID string `json:"userId"`
}

func (e *ClientEvent) decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s: invalid payload: %w", e.Type, err)
	}
	return nil
}

// DecodeSend decodes and returns a message:send payload.
func (e *ClientEvent) DecodeSend() (*SendPayload, error) {
	var p SendPayload
	if err := e.decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeTyping decodes and returns a typing payload.
func (e *ClientEvent) DecodeTyping() (*TypingTargetPayload, error) {
	var p TypingTargetPayload
	if err := e.decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeRead decodes and returns a conversation:read payload.
func (e *ClientEvent) DecodeRead() (*ReadRequestPayload, error) {
	var p ReadRequestPayload
	if err := e.decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeJoin decodes and returns a conversation:join payload.
func (e *ClientEvent) DecodeJoin() (*JoinPayload, error) {
	var p JoinPayload
	if err := e.decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PairKey derives the canonical channel key for a pair of users: the two
// identities sorted and joined, so both participants derive the same key
// regardless of who initiates.
func PairKey(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return strings.Join(pair, ":")
}
