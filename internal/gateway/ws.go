// ABOUTME: Websocket session handler for the live conversation surface
// ABOUTME: Authenticates before upgrade, then runs read/write loops against the hub

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/creatorconnect/chat-gateway/internal/auth"
	"github.com/creatorconnect/chat-gateway/internal/chat"
	"github.com/creatorconnect/chat-gateway/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Sessions are gated by token auth, not origin
		return true
	},
}

// writeTimeout bounds a single frame write.
const writeTimeout = 10 * time.Second

// session is one live websocket connection of an authenticated user.
// The write loop is the only goroutine touching the connection for
// writes; the read loop dispatches client events in order.
type session struct {
	gw   *Gateway
	conn *websocket.Conn
	user *store.User
	id   string

	// outbound carries session-local events (snapshot, errors, joined
	// conversation channels) into the write loop alongside the personal
	// hub channel.
	outbound chan *chat.Event
	logger   *slog.Logger
}

// handleSession handles GET /ws. The token is verified and the user
// loaded before the connection is upgraded, so unauthenticated
// handshakes fail with a plain 401.
func (g *Gateway) handleSession(w http.ResponseWriter, r *http.Request) {
	user, err := g.gate.Authenticate(r.Context(), auth.TokenFromRequest(r))
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "user_id", user.ID, "error", err)
		return
	}

	sessionID := uuid.New().String()
	s := &session{
		gw:       g,
		conn:     conn,
		user:     user,
		id:       sessionID,
		outbound: make(chan *chat.Event, 8),
		logger: g.logger.With(
			"user_id", user.ID,
			"session_id", sessionID),
	}
	s.run(r.Context())
}

// run wires the session into the hub and registry, then blocks on the
// read loop until the connection drops.
func (s *session) run(parent context.Context) {
	defer s.conn.Close()

	ctx, cancel := context.WithCancel(parent)

	// Subscribe before registering so this session observes its own
	// user's presence transition like everyone else.
	events, _ := s.gw.hub.Subscribe(ctx, s.user.ID)

	if s.gw.registry.Register(s.user.ID, s.id) {
		s.gw.hub.PublishAll(chat.OnlineEvent(s.gw.registry.Online()))
	}

	// Every new session gets the snapshot directly, transition or not,
	// so a second tab starts from the current state.
	s.outbound <- chat.OnlineEvent(s.gw.registry.Online())

	defer func() {
		// Unregister before cancelling the subscription so the offline
		// broadcast still reaches everyone else.
		if s.gw.registry.Unregister(s.user.ID, s.id) {
			s.gw.hub.PublishAll(chat.OfflineEvent(s.user.ID))
		}
		cancel()
	}()

	s.logger.Info("session connected")
	go s.writeLoop(ctx, events)
	s.readLoop(ctx)
	s.logger.Info("session closed")
}

// readLoop consumes client frames until the connection drops. The pong
// deadline reaps dead connections that stop answering pings.
func (s *session) readLoop(ctx context.Context) {
	pongTimeout := s.gw.config.Session.PongTimeout
	_ = s.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		var ev chat.ClientEvent
		if err := s.conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Debug("read error", "error", err)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		s.dispatch(ctx, &ev)
	}
}

// writeLoop is the single writer on the connection: it drains the
// personal hub channel and the session-local outbound channel, and keeps
// the connection alive with pings. A closed hub channel (unsubscribe or
// gateway shutdown) ends the session.
func (s *session) writeLoop(ctx context.Context, events <-chan *chat.Event) {
	ticker := time.NewTicker(s.gw.config.Session.PingInterval)
	defer ticker.Stop()
	defer s.conn.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				_ = s.write(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := s.writeEvent(ev); err != nil {
				return
			}
		case ev := <-s.outbound:
			if err := s.writeEvent(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *session) writeEvent(ev *chat.Event) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(ev)
}

func (s *session) write(messageType int, data []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(messageType, data)
}

// dispatch routes one client event through the conversation service.
// Failures are reported to this session only.
func (s *session) dispatch(ctx context.Context, ev *chat.ClientEvent) {
	switch ev.Type {
	case chat.EventMessageSend:
		p, err := ev.DecodeSend()
		if err != nil {
			s.sendError(err.Error())
			return
		}
		if _, err := s.gw.chat.Send(ctx, s.user, p.ReceiverID, p.Content, nil); err != nil {
			s.reportError(err)
		}

	case chat.EventTypingStart, chat.EventTypingStop:
		p, err := ev.DecodeTyping()
		if err != nil {
			s.sendError(err.Error())
			return
		}
		if err := s.gw.chat.Typing(s.user, p.ReceiverID, ev.Type == chat.EventTypingStart); err != nil {
			s.reportError(err)
		}

	case chat.EventConversationRead:
		p, err := ev.DecodeRead()
		if err != nil {
			s.sendError(err.Error())
			return
		}
		if _, err := s.gw.chat.MarkRead(ctx, s.user.ID, p.OtherUserID); err != nil {
			s.reportError(err)
		}

	case chat.EventConversationJoin:
		p, err := ev.DecodeJoin()
		if err != nil {
			s.sendError(err.Error())
			return
		}
		s.joinConversation(ctx, p.UserID)

	default:
		s.sendError("unsupported event type: " + string(ev.Type))
	}
}

// joinConversation subscribes the session to the pairwise delivery
// group and forwards its events into the session's write loop.
func (s *session) joinConversation(ctx context.Context, otherID string) {
	if otherID == "" {
		s.sendError("conversation:join: peer required")
		return
	}
	pairEvents, _ := s.gw.hub.Subscribe(ctx, chat.PairKey(s.user.ID, otherID))
	go func() {
		for ev := range pairEvents {
			select {
			case s.outbound <- ev:
			default:
				// Session backlogged; drop like the hub does
			}
		}
	}()
}

// reportError translates a service error into an error event for this
// session. Internal failures are logged and masked.
func (s *session) reportError(err error) {
	switch {
	case errors.Is(err, chat.ErrValidation), errors.Is(err, chat.ErrNotConnected):
		s.sendError(err.Error())
	case errors.Is(err, store.ErrNotFound):
		s.sendError("receiver not found")
	default:
		s.logger.Error("event handling failed", "error", err)
		s.sendError("internal error")
	}
}

// sendError queues an error event for the write loop; dropped if the
// session is backlogged.
func (s *session) sendError(message string) {
	select {
	case s.outbound <- chat.ErrorEvent(message):
	default:
	}
}
