// ABOUTME: HTTP API handlers for session connect, status, disconnect, send and message history
// ABOUTME: Thin JSON shaping over the registry, reconciler and store

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/chatline/internal/channel"
	"github.com/2389/chatline/internal/session"
	"github.com/2389/chatline/internal/store"
)

// ConnectResponse is the JSON response for POST /api/sessions/{tenant}/{agent}/connect.
type ConnectResponse struct {
	AlreadyConnected bool   `json:"already_connected"`
	QRImage          string `json:"qr_image,omitempty"`
}

// SendRequest is the JSON request body for POST /api/sessions/{tenant}/{agent}/send.
type SendRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// SendResponse is the JSON response for a successful send.
type SendResponse struct {
	MessageID string `json:"message_id"`
}

// ConversationResponse is one entry of the message history listing.
type ConversationResponse struct {
	ID             string `json:"id"`
	ContactAddress string `json:"contact_address"`
	ContactName    string `json:"contact_name,omitempty"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// ListMessagesResponse is the JSON response for GET /api/sessions/{tenant}/{agent}/messages.
type ListMessagesResponse struct {
	Conversations []ConversationResponse `json:"conversations"`
	Limit         int                    `json:"limit"`
	Offset        int                    `json:"offset"`
}

// sessionKey extracts and validates the session key from the request path.
func sessionKey(r *http.Request) (session.Key, error) {
	return session.NewKey(r.PathValue("tenant"), r.PathValue("agent"))
}

func (g *Gateway) handleConnect(w http.ResponseWriter, r *http.Request) {
	key, err := sessionKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	forceNew := r.URL.Query().Get("force") == "true"

	conn, err := g.registry.Acquire(r.Context(), key, forceNew)
	if err != nil {
		g.logger.Error("acquiring connector failed", "session", key.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to acquire session")
		return
	}

	if err := g.store.UpsertConnection(r.Context(), &store.ConnectionRecord{
		SessionKey: key.String(),
		Status:     store.ConnectionPending,
	}); err != nil {
		g.logger.Warn("recording pending connection failed", "session", key.String(), "error", err)
	}

	res, err := conn.GenerateQR(r.Context())
	switch {
	case err == nil:
	case errors.Is(err, channel.ErrQRTimeout), errors.Is(err, channel.ErrInitTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error())
		return
	case errors.Is(err, channel.ErrAuthFailure):
		writeError(w, http.StatusBadGateway, err.Error())
		return
	default:
		g.logger.Error("QR generation failed", "session", key.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start pairing")
		return
	}

	writeJSON(w, http.StatusOK, ConnectResponse{
		AlreadyConnected: res.AlreadyConnected,
		QRImage:          res.ImageDataURL,
	})
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	key, err := sessionKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := g.status.Status(r.Context(), key)
	if err != nil {
		g.logger.Error("status query failed", "session", key.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to determine status")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (g *Gateway) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	key, err := sessionKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Teardown is best-effort throughout; the session must end up removed
	// even when individual steps fail.
	if err := g.registry.Remove(r.Context(), key); err != nil {
		g.logger.Warn("connector removal incomplete", "session", key.String(), "error", err)
	}
	ctx := r.Context()
	if err := g.store.DeleteConnection(ctx, key.String()); err != nil {
		g.logger.Warn("deleting connection record failed", "session", key.String(), "error", err)
	}
	if _, err := g.store.EndAllConversations(ctx, key.String()); err != nil {
		g.logger.Warn("ending conversations failed", "session", key.String(), "error", err)
	}
	g.activity.Record(key.String(), "channel.removed", "")

	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (g *Gateway) handleSend(w http.ResponseWriter, r *http.Request) {
	key, err := sessionKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.To == "" || req.Body == "" {
		writeError(w, http.StatusBadRequest, "to and body are required")
		return
	}

	conn, ok := g.registry.Get(key)
	if !ok {
		writeError(w, http.StatusConflict, "session not connected")
		return
	}

	id, err := conn.SendMessage(r.Context(), req.To, req.Body)
	switch {
	case err == nil:
	case errors.Is(err, channel.ErrNotConnected):
		writeError(w, http.StatusConflict, "session not connected")
		return
	case errors.Is(err, channel.ErrInvalidRecipient):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	default:
		g.logger.Error("send failed", "session", key.String(), "error", err)
		writeError(w, http.StatusBadGateway, "failed to send message")
		return
	}

	g.activity.Record(key.String(), "message.sent", req.To)
	writeJSON(w, http.StatusOK, SendResponse{MessageID: id})
}

func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	key, err := sessionKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := queryInt(r, "limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	convs, err := g.store.ListConversations(r.Context(), key.String(), limit, offset)
	if err != nil {
		g.logger.Error("listing conversations failed", "session", key.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	resp := ListMessagesResponse{
		Conversations: make([]ConversationResponse, 0, len(convs)),
		Limit:         limit,
		Offset:        offset,
	}
	for _, c := range convs {
		resp.Conversations = append(resp.Conversations, ConversationResponse{
			ID:             c.ID,
			ContactAddress: c.ContactAddress,
			ContactName:    c.ContactName,
			Status:         c.Status,
			CreatedAt:      c.CreatedAt.Format(time.RFC3339),
			UpdatedAt:      c.UpdatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
