package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/courier-im/courier/internal/api/middleware"
	"github.com/courier-im/courier/internal/relay"
)

// SendMessageRequest represents the send message request body.
type SendMessageRequest struct {
	RecipientID string `json:"recipient_id"`
	Body        string `json:"body"`
}

// SendMessageResponse represents the send message response. It acknowledges
// persistence only; whether the recipient received a live push is never
// reported to the sender.
type SendMessageResponse struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"ts"`
}

// HistoryResponse represents the message history response.
type HistoryResponse struct {
	Messages []relay.HistoryEntry `json:"messages"`
}

// SendMessage handles the HTTP send path, mirroring the gateway's message
// frame for clients without a live connection.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg, err := h.relay.OnSend(r.Context(), user.ID.String(), req.RecipientID, req.Body)
	if err != nil {
		h.relayError(w, err)
		return
	}

	h.JSON(w, http.StatusCreated, SendMessageResponse{
		ID:        msg.ID,
		Timestamp: msg.Timestamp,
	})
}

// GetHistory handles fetching the caller's decrypted conversation with one
// counterpart.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	counterpartID := chi.URLParam(r, "id")

	messages, err := h.relay.FetchHistory(r.Context(), user.ID.String(), counterpartID)
	if err != nil {
		h.relayError(w, err)
		return
	}

	h.JSON(w, http.StatusOK, HistoryResponse{Messages: messages})
}

// ClearHistory handles deleting the caller's copies of a conversation. The
// counterpart's log is unaffected.
func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	counterpartID := chi.URLParam(r, "id")

	if err := h.relay.ClearHistory(r.Context(), user.ID.String(), counterpartID); err != nil {
		h.relayError(w, err)
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"result": "conversation cleared"})
}
