// Package relay implements the presence-aware delivery core: it keeps the
// presence table consistent with connection lifetime and decides, per send,
// between live push and store-only delivery.
package relay

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/courier-im/courier/internal/cipher"
	"github.com/courier-im/courier/internal/metrics"
	"github.com/courier-im/courier/internal/models"
	"github.com/courier-im/courier/internal/presence"
	"github.com/courier-im/courier/internal/store"
)

// ErrInvalidRequest indicates malformed send input; nothing was stored.
var ErrInvalidRequest = errors.New("relay: invalid request")

// Gateway is the outbound push capability of the transport layer. PushTo is
// best-effort: the relay logs failures and never surfaces them to senders.
type Gateway interface {
	PushTo(handle string, push models.Push) error
}

// Store is the subset of the data store the relay depends on.
type Store interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	AppendMessage(ctx context.Context, ownerID string, msg *models.StoredMessage) error
	ListBetween(ctx context.Context, ownerID, counterpartID string) ([]models.StoredMessage, error)
	ClearBetween(ctx context.Context, ownerID, counterpartID string) error
}

// HistoryEntry is one decrypted conversation turn. Corrupted entries carry no
// body: the stored record failed decryption and was skipped, not the batch.
type HistoryEntry struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Body        string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"ts"`
	Corrupted   bool      `json:"corrupted,omitempty"`
}

// Relay routes messages between users, persisting every send and pushing live
// to recipients with a registered connection.
type Relay struct {
	store    Store
	cipher   *cipher.Cipher
	presence *presence.Table
	logger   zerolog.Logger

	mu      sync.RWMutex
	gateway Gateway
}

// New creates a Relay. The gateway is attached separately once the transport
// is listening; pushes are skipped while none is attached.
func New(st Store, c *cipher.Cipher, table *presence.Table, logger zerolog.Logger) *Relay {
	return &Relay{
		store:    st,
		cipher:   c,
		presence: table,
		logger:   logger,
	}
}

// AttachGateway wires the outbound push transport.
func (r *Relay) AttachGateway(g Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateway = g
}

func (r *Relay) pushGateway() Gateway {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gateway
}

// OnConnect registers userID's live connection handle.
func (r *Relay) OnConnect(userID, handle string) {
	r.presence.Register(userID, handle)
	r.logger.Info().
		Str("user_id", userID).
		Str("handle", handle).
		Msg("user connected")
}

// OnDisconnect resolves the user bound to handle and removes their presence
// entry. A handle that is unknown or already superseded is a no-op.
func (r *Relay) OnDisconnect(handle string) {
	userID, ok := r.presence.ResolveHandle(handle)
	if !ok {
		return
	}
	r.presence.Unregister(userID, handle)
	r.logger.Info().
		Str("user_id", userID).
		Str("handle", handle).
		Msg("user disconnected")
}

// OnSend encrypts and persists a message under both the sender's and the
// recipient's logs, then pushes it live if the recipient is connected. The
// call succeeds once persistence completes; push failure is logged and
// swallowed.
func (r *Relay) OnSend(ctx context.Context, senderID, recipientID, body string) (*models.StoredMessage, error) {
	if senderID == "" || recipientID == "" || body == "" {
		return nil, fmt.Errorf("%w: sender, recipient and body are required", ErrInvalidRequest)
	}

	if err := r.checkUserExists(ctx, senderID); err != nil {
		return nil, err
	}
	if err := r.checkUserExists(ctx, recipientID); err != nil {
		return nil, err
	}

	ciphertext, iv, err := r.cipher.Encrypt([]byte(body))
	if err != nil {
		return nil, err
	}

	msg := &models.StoredMessage{
		ID:          ulid.Make().String(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Body:        hex.EncodeToString(ciphertext),
		IV:          hex.EncodeToString(iv),
		Timestamp:   time.Now(),
	}

	// Record on both sides so either party's log is complete on its own.
	if err := r.store.AppendMessage(ctx, senderID, msg); err != nil {
		return nil, err
	}
	if err := r.store.AppendMessage(ctx, recipientID, msg); err != nil {
		return nil, err
	}

	r.deliverLive(msg.ID, senderID, recipientID, body)
	return msg, nil
}

// deliverLive attempts the best-effort push to an online recipient.
func (r *Relay) deliverLive(msgID, senderID, recipientID, body string) {
	handle, online := r.presence.Lookup(recipientID)
	if !online {
		metrics.MessagesSent.WithLabelValues("stored").Inc()
		return
	}

	gw := r.pushGateway()
	if gw == nil {
		metrics.MessagesSent.WithLabelValues("stored").Inc()
		return
	}

	if err := gw.PushTo(handle, models.Push{SenderID: senderID, Body: body}); err != nil {
		metrics.MessagesSent.WithLabelValues("stored").Inc()
		metrics.PushFailures.Inc()
		r.logger.Warn().
			Err(err).
			Str("message_id", msgID).
			Str("recipient_id", recipientID).
			Str("handle", handle).
			Msg("live push failed, message remains stored")
		return
	}

	metrics.MessagesSent.WithLabelValues("live").Inc()
}

// FetchHistory returns userID's decrypted conversation with counterpartID in
// insertion order. Records that fail decryption are flagged Corrupted and
// skipped individually; they never abort the batch.
func (r *Relay) FetchHistory(ctx context.Context, userID, counterpartID string) ([]HistoryEntry, error) {
	if userID == "" || counterpartID == "" {
		return nil, fmt.Errorf("%w: user and counterpart are required", ErrInvalidRequest)
	}
	if err := r.checkUserExists(ctx, counterpartID); err != nil {
		return nil, err
	}

	records, err := r.store.ListBetween(ctx, userID, counterpartID)
	if err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, len(records))
	for _, rec := range records {
		entry := HistoryEntry{
			ID:          rec.ID,
			SenderID:    rec.SenderID,
			RecipientID: rec.RecipientID,
			Timestamp:   rec.Timestamp,
		}

		plaintext, err := r.decryptRecord(rec)
		if err != nil {
			entry.Corrupted = true
			metrics.DecryptFailures.Inc()
			r.logger.Warn().
				Err(err).
				Str("message_id", rec.ID).
				Str("owner_id", userID).
				Msg("stored message failed decryption")
		} else {
			entry.Body = plaintext
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// ClearHistory removes userID's copies of the conversation with
// counterpartID. The counterpart's log is untouched.
func (r *Relay) ClearHistory(ctx context.Context, userID, counterpartID string) error {
	if userID == "" || counterpartID == "" {
		return fmt.Errorf("%w: user and counterpart are required", ErrInvalidRequest)
	}
	return r.store.ClearBetween(ctx, userID, counterpartID)
}

// Online reports whether userID currently has a live connection.
func (r *Relay) Online(userID string) bool {
	_, ok := r.presence.Lookup(userID)
	return ok
}

func (r *Relay) decryptRecord(rec models.StoredMessage) (string, error) {
	ciphertext, err := hex.DecodeString(rec.Body)
	if err != nil {
		return "", fmt.Errorf("%w: malformed ciphertext hex: %v", cipher.ErrIntegrity, err)
	}
	iv, err := hex.DecodeString(rec.IV)
	if err != nil {
		return "", fmt.Errorf("%w: malformed IV hex: %v", cipher.ErrIntegrity, err)
	}
	plaintext, err := r.cipher.Decrypt(ciphertext, iv)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (r *Relay) checkUserExists(ctx context.Context, id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("%w: invalid user ID %q", ErrInvalidRequest, id)
	}
	user, err := r.store.GetUserByID(ctx, parsed)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("%w: user %s", store.ErrNotFound, id)
	}
	return nil
}
