// ABOUTME: Store interface and data types for chat-gateway persistence
// ABOUTME: Defines User, Message structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateUser is returned when trying to create a user whose email is taken
var ErrDuplicateUser = errors.New("user already exists")

// Media type constants for message attachments
const (
	MediaTypeImage = "image"
	MediaTypeVideo = "video"
	MediaTypeFile  = "file"
)

// User represents an account with its public profile projection.
// PasswordHash is never serialized.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Avatar       string    `json:"avatar,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Attachment describes a media file carried by a message.
type Attachment struct {
	URL       string `json:"url"`
	FileName  string `json:"fileName"`
	MediaType string `json:"mediaType"` // "image", "video", or "file"
	Size      int64  `json:"size"`
}

// Message is a persisted direct message between two users.
// Sender and Receiver carry profile projections when the message is
// loaded populated; only the IDs are stored.
type Message struct {
	ID         string      `json:"id"`
	SenderID   string      `json:"senderId"`
	ReceiverID string      `json:"receiverId"`
	Content    string      `json:"content"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Read       bool        `json:"read"`
	ReadAt     *time.Time  `json:"readAt,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`

	Sender   *User `json:"sender,omitempty"`
	Receiver *User `json:"receiver,omitempty"`
}

// ConversationSummary is one row of a user's conversation list: the
// counterpart's profile, the most recent message, and how many messages
// from the counterpart are still unread.
type ConversationSummary struct {
	User        *User    `json:"user"`
	LastMessage *Message `json:"lastMessage"`
	UnreadCount int      `json:"unreadCount"`
}

// Store defines the interface for user, connection, and message persistence
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// Connections (symmetric "connected" relation)
	AddConnection(ctx context.Context, userID, peerID string) error
	AreConnected(ctx context.Context, userID, peerID string) (bool, error)

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListConversation(ctx context.Context, userID, otherID string) ([]*Message, error)
	ListConversationSummaries(ctx context.Context, userID string) ([]*ConversationSummary, error)
	MarkConversationRead(ctx context.Context, readerID, otherID string, readAt time.Time) (int64, error)

	// Close releases any resources held by the store
	Close() error
}

// Profile returns the public projection of a user, safe to embed in
// event payloads.
func (u *User) Profile() *User {
	if u == nil {
		return nil
	}
	return &User{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Avatar:    u.Avatar,
		CreatedAt: u.CreatedAt,
	}
}

// HasContent reports whether the message carries text or an attachment.
func (m *Message) HasContent() bool {
	return m.Content != "" || m.Attachment != nil
}
