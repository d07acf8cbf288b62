// ABOUTME: End-to-end tests for the gateway over a live httptest server
// ABOUTME: Covers REST endpoints, websocket sessions, presence, and attachment uploads

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorconnect/chat-gateway/internal/config"
	"github.com/creatorconnect/chat-gateway/internal/store"
)

type testGateway struct {
	gw     *Gateway
	server *httptest.Server

	aliceToken string
	bobToken   string
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()

	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Database.Path = ":memory:"
	cfg.Uploads.Dir = t.TempDir()
	cfg.Uploads.BaseURL = "/uploads"
	cfg.Uploads.MaxSizeMB = 1
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Session.PingInterval = 54 * time.Second
	cfg.Session.PongTimeout = 60 * time.Second
	cfg.Session.SendBuffer = 64

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw, err := New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { gw.store.Close() })
	t.Cleanup(gw.hub.Close)

	server := httptest.NewServer(gw.router())
	t.Cleanup(server.Close)

	ctx := context.Background()
	tg := &testGateway{gw: gw, server: server}
	for _, u := range []*store.User{
		{ID: "alice", Name: "Alice", Email: "alice@example.com"},
		{ID: "bob", Name: "Bob", Email: "bob@example.com"},
		{ID: "carol", Name: "Carol", Email: "carol@example.com"},
	} {
		require.NoError(t, gw.store.CreateUser(ctx, u))
	}
	require.NoError(t, gw.store.AddConnection(ctx, "alice", "bob"))

	tg.aliceToken, err = gw.verifier.Generate("alice", time.Hour)
	require.NoError(t, err)
	tg.bobToken, err = gw.verifier.Generate("bob", time.Hour)
	require.NoError(t, err)
	return tg
}

func (tg *testGateway) request(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, tg.server.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// dial opens an authenticated websocket session.
func (tg *testGateway) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(tg.server.URL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// awaitFrame reads until a frame of the wanted type arrives.
func awaitFrame(t *testing.T, conn *websocket.Conn, wantType string) frame {
	t.Helper()
	for i := 0; i < 10; i++ {
		f := readFrame(t, conn)
		if f.Type == wantType {
			return f
		}
	}
	t.Fatalf("no %s frame received", wantType)
	return frame{}
}

func sendFrame(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(map[string]any{"type": typ, "payload": json.RawMessage(data)}))
}

func TestGateway_Health(t *testing.T) {
	tg := newTestGateway(t)

	resp := tg.request(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = tg.request(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGateway_APIRequiresAuth(t *testing.T) {
	tg := newTestGateway(t)

	resp := tg.request(t, http.MethodGet, "/api/messages/conversations/all", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = tg.request(t, http.MethodPost, "/api/messages", "", SendMessageRequest{ReceiverID: "bob", Content: "hi"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGateway_SendMessageJSON(t *testing.T) {
	tg := newTestGateway(t)

	resp := tg.request(t, http.MethodPost, "/api/messages", tg.aliceToken,
		SendMessageRequest{ReceiverID: "bob", Content: "hello bob"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	msg := decodeBody[store.Message](t, resp)
	assert.Equal(t, "hello bob", msg.Content)
	assert.Equal(t, "alice", msg.SenderID)
	require.NotNil(t, msg.Sender)
	assert.Equal(t, "Alice", msg.Sender.Name)
}

func TestGateway_SendMessageErrors(t *testing.T) {
	tg := newTestGateway(t)

	// Empty content
	resp := tg.request(t, http.MethodPost, "/api/messages", tg.aliceToken,
		SendMessageRequest{ReceiverID: "bob"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Not connected
	resp = tg.request(t, http.MethodPost, "/api/messages", tg.aliceToken,
		SendMessageRequest{ReceiverID: "carol", Content: "hi"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Unknown receiver
	resp = tg.request(t, http.MethodPost, "/api/messages", tg.aliceToken,
		SendMessageRequest{ReceiverID: "ghost", Content: "hi"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGateway_HistoryAndMarkRead(t *testing.T) {
	tg := newTestGateway(t)

	resp := tg.request(t, http.MethodPost, "/api/messages", tg.bobToken,
		SendMessageRequest{ReceiverID: "alice", Content: "unread"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = tg.request(t, http.MethodGet, "/api/messages/bob", tg.aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decodeBody[[]store.Message](t, resp)
	require.Len(t, history, 1)
	assert.Equal(t, "unread", history[0].Content)

	// The fetch swept the conversation; an explicit sweep finds nothing
	resp = tg.request(t, http.MethodPut, "/api/messages/read/bob", tg.aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, decodeBody[MarkReadResponse](t, resp).Updated)
}

func TestGateway_Conversations(t *testing.T) {
	tg := newTestGateway(t)

	resp := tg.request(t, http.MethodPost, "/api/messages", tg.bobToken,
		SendMessageRequest{ReceiverID: "alice", Content: "hey"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = tg.request(t, http.MethodGet, "/api/messages/conversations/all", tg.aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summaries := decodeBody[[]store.ConversationSummary](t, resp)
	require.Len(t, summaries, 1)
	assert.Equal(t, "bob", summaries[0].User.ID)
	assert.Equal(t, 1, summaries[0].UnreadCount)
}

func TestGateway_AttachmentUpload(t *testing.T) {
	tg := newTestGateway(t)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	require.NoError(t, form.WriteField("receiverId", "bob"))
	part, err := form.CreateFormFile("attachment", "photo.jpg")
	require.NoError(t, err)
	_, err = part.Write([]byte("jpeg-bytes"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req, err := http.NewRequest(http.MethodPost, tg.server.URL+"/api/messages", &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tg.aliceToken)
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	msg := decodeBody[store.Message](t, resp)
	require.NotNil(t, msg.Attachment)
	assert.Equal(t, "photo.jpg", msg.Attachment.FileName)
	assert.True(t, strings.HasPrefix(msg.Attachment.URL, "/uploads/"))

	// The stored file is served back
	fileResp, err := http.Get(tg.server.URL + msg.Attachment.URL)
	require.NoError(t, err)
	defer fileResp.Body.Close()
	require.Equal(t, http.StatusOK, fileResp.StatusCode)
	data, err := io.ReadAll(fileResp.Body)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))
}

func TestGateway_WebSocketRequiresToken(t *testing.T) {
	tg := newTestGateway(t)

	url := "ws" + strings.TrimPrefix(tg.server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGateway_SessionReceivesSnapshot(t *testing.T) {
	tg := newTestGateway(t)

	conn := tg.dial(t, tg.aliceToken)
	f := awaitFrame(t, conn, "user:online")

	var online []string
	require.NoError(t, json.Unmarshal(f.Payload, &online))
	assert.Contains(t, online, "alice")
}

func TestGateway_PresenceTransitions(t *testing.T) {
	tg := newTestGateway(t)

	alice := tg.dial(t, tg.aliceToken)
	awaitFrame(t, alice, "user:online")

	// Bob coming online is broadcast to alice with the full snapshot
	bob := tg.dial(t, tg.bobToken)
	awaitFrame(t, bob, "user:online")

	f := awaitFrame(t, alice, "user:online")
	var online []string
	require.NoError(t, json.Unmarshal(f.Payload, &online))
	assert.ElementsMatch(t, []string{"alice", "bob"}, online)

	// Bob's last session closing is broadcast as a single departure
	bob.Close()
	f = awaitFrame(t, alice, "user:offline")
	var departed string
	require.NoError(t, json.Unmarshal(f.Payload, &departed))
	assert.Equal(t, "bob", departed)
}

func TestGateway_SecondTabIsNotATransition(t *testing.T) {
	tg := newTestGateway(t)

	alice := tg.dial(t, tg.aliceToken)
	awaitFrame(t, alice, "user:online")

	bob := tg.dial(t, tg.bobToken)
	awaitFrame(t, bob, "user:online")
	awaitFrame(t, alice, "user:online") // bob's transition

	// A second bob tab gets its own snapshot but no broadcast
	bobTab := tg.dial(t, tg.bobToken)
	awaitFrame(t, bobTab, "user:online")

	// Closing the extra tab is silent too; the first tab stays online.
	// Verify by sending a message and checking only the expected frames.
	bobTab.Close()

	sendFrame(t, alice, "message:send", map[string]string{"receiverId": "bob", "content": "still there?"})
	f := awaitFrame(t, bob, "message:received")
	var msg store.Message
	require.NoError(t, json.Unmarshal(f.Payload, &msg))
	assert.Equal(t, "still there?", msg.Content)
}

func TestGateway_LiveSendFansOutToBoth(t *testing.T) {
	tg := newTestGateway(t)

	alice := tg.dial(t, tg.aliceToken)
	bob := tg.dial(t, tg.bobToken)
	awaitFrame(t, alice, "user:online")
	awaitFrame(t, bob, "user:online")

	sendFrame(t, alice, "message:send", map[string]string{"receiverId": "bob", "content": "live hello"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		f := awaitFrame(t, conn, "message:received")
		var msg store.Message
		require.NoError(t, json.Unmarshal(f.Payload, &msg))
		assert.Equal(t, "live hello", msg.Content)
		awaitFrame(t, conn, "conversation:updated")
	}
}

func TestGateway_RESTSendReachesLiveSessions(t *testing.T) {
	tg := newTestGateway(t)

	bob := tg.dial(t, tg.bobToken)
	awaitFrame(t, bob, "user:online")

	resp := tg.request(t, http.MethodPost, "/api/messages", tg.aliceToken,
		SendMessageRequest{ReceiverID: "bob", Content: "via rest"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	f := awaitFrame(t, bob, "message:received")
	var msg store.Message
	require.NoError(t, json.Unmarshal(f.Payload, &msg))
	assert.Equal(t, "via rest", msg.Content)
}

func TestGateway_TypingForwarded(t *testing.T) {
	tg := newTestGateway(t)

	alice := tg.dial(t, tg.aliceToken)
	bob := tg.dial(t, tg.bobToken)
	awaitFrame(t, alice, "user:online")
	awaitFrame(t, bob, "user:online")

	sendFrame(t, alice, "typing:start", map[string]string{"receiverId": "bob"})
	f := awaitFrame(t, bob, "typing:start")

	var payload struct {
		UserID string `json:"userId"`
		Name   string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(f.Payload, &payload))
	assert.Equal(t, "alice", payload.UserID)
	assert.Equal(t, "Alice", payload.Name)
}

func TestGateway_LiveReadReceipt(t *testing.T) {
	tg := newTestGateway(t)

	resp := tg.request(t, http.MethodPost, "/api/messages", tg.bobToken,
		SendMessageRequest{ReceiverID: "alice", Content: "read me"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	alice := tg.dial(t, tg.aliceToken)
	bob := tg.dial(t, tg.bobToken)
	awaitFrame(t, alice, "user:online")
	awaitFrame(t, bob, "user:online")

	sendFrame(t, alice, "conversation:read", map[string]string{"otherUserId": "bob"})

	f := awaitFrame(t, bob, "message:read")
	var payload struct {
		ReaderID         string `json:"readerId"`
		ConversationWith string `json:"conversationWith"`
	}
	require.NoError(t, json.Unmarshal(f.Payload, &payload))
	assert.Equal(t, "alice", payload.ReaderID)
}

func TestGateway_InvalidEventGetsError(t *testing.T) {
	tg := newTestGateway(t)

	alice := tg.dial(t, tg.aliceToken)
	awaitFrame(t, alice, "user:online")

	// Unknown type
	sendFrame(t, alice, "message:yodel", map[string]string{})
	f := awaitFrame(t, alice, "error")
	assert.Contains(t, string(f.Payload), "unsupported event type")

	// Unauthorized live send
	sendFrame(t, alice, "message:send", map[string]string{"receiverId": "carol", "content": "psst"})
	f = awaitFrame(t, alice, "error")
	assert.Contains(t, string(f.Payload), "connected users")
}

func TestGateway_OnlineUsersEndpoint(t *testing.T) {
	tg := newTestGateway(t)

	resp := tg.request(t, http.MethodGet, "/api/users/online", tg.aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[OnlineUsersResponse](t, resp).Users)

	conn := tg.dial(t, tg.bobToken)
	awaitFrame(t, conn, "user:online")

	resp = tg.request(t, http.MethodGet, "/api/users/online", tg.aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"bob"}, decodeBody[OnlineUsersResponse](t, resp).Users)
}
