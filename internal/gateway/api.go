// ABOUTME: HTTP API handlers for the REST conversation surface
// ABOUTME: Send, history, conversation list, read sweep, and online snapshot

package gateway

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/creatorconnect/chat-gateway/internal/auth"
	"github.com/creatorconnect/chat-gateway/internal/blob"
	"github.com/creatorconnect/chat-gateway/internal/chat"
	"github.com/creatorconnect/chat-gateway/internal/store"
)

// SendMessageRequest is the JSON request body for POST /api/messages.
type SendMessageRequest struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

// MarkReadResponse is the JSON response for PUT /api/messages/read/{userID}.
type MarkReadResponse struct {
	Updated int64 `json:"updated"`
}

// OnlineUsersResponse is the JSON response for GET /api/users/online.
type OnlineUsersResponse struct {
	Users []string `json:"users"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps the service error taxonomy onto HTTP statuses.
func (g *Gateway) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrNotConnected):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, blob.ErrTooLarge):
		respondError(w, http.StatusRequestEntityTooLarge, err.Error())
	default:
		g.logger.Error("request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// handleSendMessage handles POST /api/messages. Accepts either a JSON
// body or a multipart form with an "attachment" file. The fan-out is
// identical to the live path: both surfaces go through the service.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sender := auth.MustFromContext(r.Context())

	var (
		receiverID, content string
		attachment          *store.Attachment
	)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(g.config.Uploads.MaxBytes() + 1024); err != nil {
			respondError(w, http.StatusBadRequest, "invalid multipart form")
			return
		}
		receiverID = r.FormValue("receiverId")
		content = r.FormValue("content")

		file, header, err := r.FormFile("attachment")
		switch {
		case errors.Is(err, http.ErrMissingFile):
			// Text-only multipart send
		case err != nil:
			respondError(w, http.StatusBadRequest, "invalid attachment")
			return
		default:
			attachment, err = g.storeAttachment(file, header)
			if err != nil {
				g.respondServiceError(w, err)
				return
			}
		}
	} else {
		var req SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		receiverID = req.ReceiverID
		content = req.Content
	}

	msg, err := g.chat.Send(r.Context(), sender, receiverID, content, attachment)
	if err != nil {
		g.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

func (g *Gateway) storeAttachment(file multipart.File, header *multipart.FileHeader) (*store.Attachment, error) {
	defer file.Close()
	return g.blobs.Save(file, header.Filename, header.Header.Get("Content-Type"))
}

// handleConversations handles GET /api/messages/conversations/all.
func (g *Gateway) handleConversations(w http.ResponseWriter, r *http.Request) {
	user := auth.MustFromContext(r.Context())

	summaries, err := g.chat.Conversations(r.Context(), user.ID)
	if err != nil {
		g.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summaries)
}

// handleHistory handles GET /api/messages/{userID}. Fetching a
// conversation marks its incoming side read, with the same live events
// as an explicit sweep.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	user := auth.MustFromContext(r.Context())
	otherID := chi.URLParam(r, "userID")

	messages, err := g.chat.History(r.Context(), user.ID, otherID)
	if err != nil {
		g.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, messages)
}

// handleMarkRead handles PUT /api/messages/read/{userID}.
func (g *Gateway) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	user := auth.MustFromContext(r.Context())
	otherID := chi.URLParam(r, "userID")

	updated, err := g.chat.MarkRead(r.Context(), user.ID, otherID)
	if err != nil {
		g.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, MarkReadResponse{Updated: updated})
}

// handleOnlineUsers handles GET /api/users/online.
func (g *Gateway) handleOnlineUsers(w http.ResponseWriter, r *http.Request) {
	online := g.registry.Online()
	sort.Strings(online)
	respondJSON(w, http.StatusOK, OnlineUsersResponse{Users: online})
}
