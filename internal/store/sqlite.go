// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides user/connection/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. Pass nil logger for default.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			email         TEXT NOT NULL UNIQUE,
			avatar        TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			created_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);

		CREATE TABLE IF NOT EXISTS connections (
			user_id    TEXT NOT NULL REFERENCES users(id),
			peer_id    TEXT NOT NULL REFERENCES users(id),
			created_at TEXT NOT NULL,

			PRIMARY KEY (user_id, peer_id),
			CHECK (user_id <> peer_id)
		);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			sender_id       TEXT NOT NULL REFERENCES users(id),
			receiver_id     TEXT NOT NULL REFERENCES users(id),
			content         TEXT NOT NULL DEFAULT '',
			attachment_url  TEXT,
			attachment_name TEXT,
			attachment_type TEXT,
			attachment_size INTEGER,
			read            INTEGER NOT NULL DEFAULT 0,
			read_at         TEXT,
			created_at      TEXT NOT NULL,

			CHECK (content <> '' OR attachment_url IS NOT NULL)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages(receiver_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(receiver_id, sender_id, read);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// CreateUser inserts a new user. Returns ErrDuplicateUser if the email
// is already registered.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, name, email, avatar, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		user.Avatar,
		user.PasswordHash,
		user.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "id", user.ID, "email", user.Email)
	return nil
}

// GetUser retrieves a user by ID. Returns ErrNotFound if absent.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	return s.getUserWhere(ctx, "id = ?", id)
}

// GetUserByEmail retrieves a user by email. Returns ErrNotFound if absent.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUserWhere(ctx, "email = ?", email)
}

func (s *SQLiteStore) getUserWhere(ctx context.Context, where string, arg any) (*User, error) {
	query := `
		SELECT id, name, email, avatar, password_hash, created_at
		FROM users
		WHERE ` + where

	var user User
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Avatar,
		&user.PasswordHash,
		&createdAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	user.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &user, nil
}

// AddConnection records the symmetric "connected" relation between two
// users. Idempotent: adding an existing connection is a no-op.
func (s *SQLiteStore) AddConnection(ctx context.Context, userID, peerID string) error {
	if userID == peerID {
		return fmt.Errorf("cannot connect a user to themselves")
	}

	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT OR IGNORE INTO connections (user_id, peer_id, created_at)
		VALUES (?, ?, ?), (?, ?, ?)
	`

	if _, err := s.db.ExecContext(ctx, query, userID, peerID, now, peerID, userID, now); err != nil {
		return fmt.Errorf("inserting connection: %w", err)
	}

	s.logger.Debug("added connection", "user_id", userID, "peer_id", peerID)
	return nil
}

// AreConnected reports whether two users are mutually connected.
func (s *SQLiteStore) AreConnected(ctx context.Context, userID, peerID string) (bool, error) {
	query := `
		SELECT COUNT(*) FROM connections
		WHERE (user_id = ? AND peer_id = ?) OR (user_id = ? AND peer_id = ?)
	`

	var count int
	if err := s.db.QueryRowContext(ctx, query, userID, peerID, peerID, userID).Scan(&count); err != nil {
		return false, fmt.Errorf("querying connection: %w", err)
	}

	return count == 2, nil
}

// SaveMessage inserts a new message row.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (
			id, sender_id, receiver_id, content,
			attachment_url, attachment_name, attachment_type, attachment_size,
			read, read_at, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var attURL, attName, attType sql.NullString
	var attSize sql.NullInt64
	if msg.Attachment != nil {
		attURL = sql.NullString{String: msg.Attachment.URL, Valid: true}
		attName = sql.NullString{String: msg.Attachment.FileName, Valid: true}
		attType = sql.NullString{String: msg.Attachment.MediaType, Valid: true}
		attSize = sql.NullInt64{Int64: msg.Attachment.Size, Valid: true}
	}

	var readAt sql.NullString
	if msg.ReadAt != nil {
		readAt = sql.NullString{String: msg.ReadAt.UTC().Format(time.RFC3339), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.SenderID,
		msg.ReceiverID,
		msg.Content,
		attURL, attName, attType, attSize,
		msg.Read,
		readAt,
		msg.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "sender", msg.SenderID, "receiver", msg.ReceiverID)
	return nil
}

// messageColumns is the populated-message select list: message fields plus
// sender and receiver profile projections.
const messageColumns = `
	m.id, m.sender_id, m.receiver_id, m.content,
	m.attachment_url, m.attachment_name, m.attachment_type, m.attachment_size,
	m.read, m.read_at, m.created_at,
	su.name, su.email, su.avatar,
	ru.name, ru.email, ru.avatar
`

const messageJoins = `
	JOIN users su ON su.id = m.sender_id
	JOIN users ru ON ru.id = m.receiver_id
`

// scanMessage scans one populated message row.
func scanMessage(scan func(dest ...any) error) (*Message, error) {
	var msg Message
	var sender, receiver User
	var attURL, attName, attType sql.NullString
	var attSize sql.NullInt64
	var readAtStr sql.NullString
	var createdAtStr string

	err := scan(
		&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Content,
		&attURL, &attName, &attType, &attSize,
		&msg.Read, &readAtStr, &createdAtStr,
		&sender.Name, &sender.Email, &sender.Avatar,
		&receiver.Name, &receiver.Email, &receiver.Avatar,
	)
	if err != nil {
		return nil, err
	}

	if attURL.Valid {
		msg.Attachment = &Attachment{
			URL:       attURL.String,
			FileName:  attName.String,
			MediaType: attType.String,
			Size:      attSize.Int64,
		}
	}

	if readAtStr.Valid {
		t, err := time.Parse(time.RFC3339, readAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing read_at: %w", err)
		}
		msg.ReadAt = &t
	}

	msg.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	sender.ID = msg.SenderID
	receiver.ID = msg.ReceiverID
	msg.Sender = &sender
	msg.Receiver = &receiver

	return &msg, nil
}

// GetMessage retrieves a message by ID with sender/receiver profile
// projections attached. Returns ErrNotFound if absent.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages m ` + messageJoins + ` WHERE m.id = ?`

	row := s.db.QueryRowContext(ctx, query, id)
	msg, err := scanMessage(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}

	return msg, nil
}

// ListConversation returns all messages between two users in ascending
// chronological order, populated.
func (s *SQLiteStore) ListConversation(ctx context.Context, userID, otherID string) ([]*Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages m ` + messageJoins + `
		WHERE (m.sender_id = ? AND m.receiver_id = ?)
		   OR (m.sender_id = ? AND m.receiver_id = ?)
		ORDER BY m.created_at ASC, m.rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, otherID, otherID, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// ListConversationSummaries groups the user's messages by counterpart,
// keeping the most recent message per counterpart and counting unread
// messages where the user is the receiver. Sorted newest-first.
func (s *SQLiteStore) ListConversationSummaries(ctx context.Context, userID string) ([]*ConversationSummary, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages m ` + messageJoins + `
		WHERE m.sender_id = ? OR m.receiver_id = ?
		ORDER BY m.created_at DESC, m.rowid DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	// Newest-first fold: the first message seen per counterpart is the
	// last message of that conversation.
	byPeer := make(map[string]*ConversationSummary)
	var order []string

	for rows.Next() {
		msg, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}

		peerID := msg.SenderID
		peer := msg.Sender
		if peerID == userID {
			peerID = msg.ReceiverID
			peer = msg.Receiver
		}

		summary, ok := byPeer[peerID]
		if !ok {
			summary = &ConversationSummary{
				User:        peer,
				LastMessage: msg,
			}
			byPeer[peerID] = summary
			order = append(order, peerID)
		}

		if msg.ReceiverID == userID && !msg.Read {
			summary.UnreadCount++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	summaries := make([]*ConversationSummary, 0, len(order))
	for _, peerID := range order {
		summaries = append(summaries, byPeer[peerID])
	}

	return summaries, nil
}

// MarkConversationRead atomically flips every unread message from otherID
// to readerID to read, stamping read_at. Returns the number of rows
// transitioned; zero on a repeat sweep.
func (s *SQLiteStore) MarkConversationRead(ctx context.Context, readerID, otherID string, readAt time.Time) (int64, error) {
	query := `
		UPDATE messages
		SET read = 1, read_at = ?
		WHERE sender_id = ? AND receiver_id = ? AND read = 0
	`

	res, err := s.db.ExecContext(ctx, query,
		readAt.UTC().Format(time.RFC3339),
		otherID,
		readerID,
	)
	if err != nil {
		return 0, fmt.Errorf("marking conversation read: %w", err)
	}

	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}

	if count > 0 {
		s.logger.Debug("marked conversation read", "reader", readerID, "other", otherID, "count", count)
	}
	return count, nil
}
