// ABOUTME: Conversation service handling message delivery, typing, and read receipts
// ABOUTME: Validates, persists, then fans out events through the hub to both participants

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/creatorconnect/chat-gateway/internal/store"
)

// ErrValidation is returned when an operation's input is malformed or
// incomplete.
var ErrValidation = errors.New("validation failed")

// ErrNotConnected is returned when the sender and receiver are not
// mutually connected.
var ErrNotConnected = errors.New("you can only message connected users")

// ConversationStore is the slice of the store the service depends on.
type ConversationStore interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
	AreConnected(ctx context.Context, userID, peerID string) (bool, error)
	SaveMessage(ctx context.Context, msg *store.Message) error
	GetMessage(ctx context.Context, id string) (*store.Message, error)
	ListConversation(ctx context.Context, userID, otherID string) ([]*store.Message, error)
	ListConversationSummaries(ctx context.Context, userID string) ([]*store.ConversationSummary, error)
	MarkConversationRead(ctx context.Context, readerID, otherID string, readAt time.Time) (int64, error)
}

// Publisher is the hub surface the service publishes through.
type Publisher interface {
	Publish(channelKey string, event *Event)
}

// Service implements the conversation operations shared by the live
// sessions and the REST API. Both surfaces go through the same code
// path, so persistence and event fan-out behave identically regardless
// of how a message arrives.
type Service struct {
	store  ConversationStore
	hub    Publisher
	logger *slog.Logger
}

// NewService creates a conversation service. Pass nil logger for default.
func NewService(st ConversationStore, hub Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		hub:    hub,
		logger: logger.With("component", "chat"),
	}
}

// Send validates, persists, and delivers a direct message. The sender
// and receiver must be mutually connected. On success both participants'
// channels receive message:received with the populated message, followed
// by conversation:updated. Returns the populated message.
func (s *Service) Send(ctx context.Context, sender *store.User, receiverID, content string, attachment *store.Attachment) (*store.Message, error) {
	content = strings.TrimSpace(content)
	if receiverID == "" || (content == "" && attachment == nil) {
		return nil, fmt.Errorf("%w: receiver and message content or attachment required", ErrValidation)
	}
	if receiverID == sender.ID {
		return nil, fmt.Errorf("%w: cannot message yourself", ErrValidation)
	}

	if _, err := s.store.GetUser(ctx, receiverID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("receiver %s: %w", receiverID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("looking up receiver: %w", err)
	}

	connected, err := s.store.AreConnected(ctx, sender.ID, receiverID)
	if err != nil {
		return nil, fmt.Errorf("checking connection: %w", err)
	}
	if !connected {
		return nil, ErrNotConnected
	}

	msg := &store.Message{
		ID:         uuid.New().String(),
		SenderID:   sender.ID,
		ReceiverID: receiverID,
		Content:    content,
		Attachment: attachment,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("saving message: %w", err)
	}

	// Reload populated so both participants see the same projection
	populated, err := s.store.GetMessage(ctx, msg.ID)
	if err != nil {
		return nil, fmt.Errorf("loading saved message: %w", err)
	}

	s.hub.Publish(sender.ID, MessageEvent(populated))
	s.hub.Publish(receiverID, MessageEvent(populated))
	s.hub.Publish(sender.ID, ConversationUpdatedEvent())
	s.hub.Publish(receiverID, ConversationUpdatedEvent())

	s.logger.Debug("message delivered",
		"message_id", populated.ID,
		"sender_id", sender.ID,
		"receiver_id", receiverID,
		"has_attachment", attachment != nil)
	return populated, nil
}

// Typing forwards a typing indicator to the receiver only; nothing is
// persisted and the sender gets no echo. The sender's display name is
// carried on start so the receiver can render "X is typing".
func (s *Service) Typing(sender *store.User, receiverID string, start bool) error {
	if receiverID == "" {
		return fmt.Errorf("%w: receiver required", ErrValidation)
	}
	s.hub.Publish(receiverID, TypingEvent(start, sender.ID, sender.Name))
	return nil
}

// MarkRead sweeps every unread message from otherID to readerID. When at
// least one message changed, the counterpart is notified with
// message:read; conversation:updated goes to both participants
// unconditionally so unread badges refresh. Returns the number of
// messages updated; a repeat sweep updates zero and emits no receipt.
func (s *Service) MarkRead(ctx context.Context, readerID, otherID string) (int64, error) {
	if otherID == "" {
		return 0, fmt.Errorf("%w: conversation peer required", ErrValidation)
	}

	updated, err := s.store.MarkConversationRead(ctx, readerID, otherID, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("marking conversation read: %w", err)
	}

	if updated > 0 {
		s.hub.Publish(otherID, ReadEvent(readerID, otherID))
	}
	s.hub.Publish(readerID, ConversationUpdatedEvent())
	s.hub.Publish(otherID, ConversationUpdatedEvent())

	s.logger.Debug("conversation read",
		"reader_id", readerID,
		"other_id", otherID,
		"updated", updated)
	return updated, nil
}

// History returns the full conversation between userID and otherID in
// chronological order, then marks the incoming side read. The read sweep
// emits the same events as MarkRead, so live counterparts observe the
// receipt no matter which surface triggered it. The returned messages
// reflect their state before the sweep.
func (s *Service) History(ctx context.Context, userID, otherID string) ([]*store.Message, error) {
	if otherID == "" {
		return nil, fmt.Errorf("%w: conversation peer required", ErrValidation)
	}

	messages, err := s.store.ListConversation(ctx, userID, otherID)
	if err != nil {
		return nil, fmt.Errorf("listing conversation: %w", err)
	}

	if _, err := s.MarkRead(ctx, userID, otherID); err != nil {
		// History itself succeeded; the sweep retries on the next fetch
		s.logger.Warn("read sweep after history failed",
			"user_id", userID,
			"other_id", otherID,
			"error", err)
	}
	return messages, nil
}

// Conversations returns the user's conversation list, most recent first,
// with unread counts.
func (s *Service) Conversations(ctx context.Context, userID string) ([]*store.ConversationSummary, error) {
	return s.store.ListConversationSummaries(ctx, userID)
}
