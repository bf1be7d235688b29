package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/courier-im/courier/internal/presence"
	"github.com/courier-im/courier/internal/relay"
	"github.com/courier-im/courier/internal/session"
	"github.com/courier-im/courier/internal/store"
)

// emailRegex validates email addresses per RFC 5322 (simplified).
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store    store.DataStore
	redis    *store.RedisStore
	relay    *relay.Relay
	sessions *session.Issuer
	presence *presence.Table
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(ds store.DataStore, redis *store.RedisStore, r *relay.Relay, sessions *session.Issuer, table *presence.Table) *Handler {
	return &Handler{
		store:    ds,
		redis:    redis,
		relay:    r,
		sessions: sessions,
		presence: table,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// relayError maps relay/store errors onto HTTP status codes.
func (h *Handler) relayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, relay.ErrInvalidRequest):
		h.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		h.Error(w, http.StatusNotFound, "user not found")
	case errors.Is(err, store.ErrUnavailable):
		h.Error(w, http.StatusServiceUnavailable, "storage unavailable, retry later")
	default:
		h.Error(w, http.StatusInternalServerError, "internal error")
	}
}

// sanitizeUsername trims and limits a username to 100 characters, removing
// control characters.
func sanitizeUsername(name string) string {
	name = strings.TrimSpace(name)

	// Remove control characters
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	// Limit to 100 characters
	if len(name) > 100 {
		name = name[:100]
	}

	return name
}

// isValidEmail validates email addresses using RFC 5322 pattern.
func isValidEmail(email string) bool {
	if len(email) == 0 || len(email) > 254 {
		return false
	}
	return emailRegex.MatchString(email)
}
