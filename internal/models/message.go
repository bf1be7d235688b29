package models

import "time"

// StoredMessage is the durable record of one conversation turn. The body is
// stored only as hex ciphertext together with the IV used to produce it; the
// pair is meaningless apart.
type StoredMessage struct {
	ID          string    `json:"id"` // ULID
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Body        string    `json:"message"` // hex ciphertext
	IV          string    `json:"iv"`      // hex
	Timestamp   time.Time `json:"ts"`
}

// Push is the transient payload relayed to an online recipient. It carries
// plaintext and is never persisted in this form.
type Push struct {
	SenderID string `json:"sender_id"`
	Body     string `json:"body"`
}
