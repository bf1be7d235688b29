package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/courier-im/courier/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "courier.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s
}

func createTestUser(t *testing.T, s *SQLiteStore, username, email string) *models.User {
	t.Helper()
	user, err := s.CreateUser(context.Background(), username, email, "hash")
	if err != nil {
		t.Fatal(err)
	}
	return user
}

func TestCreateAndGetUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := createTestUser(t, s, "alice", "alice@example.com")
	if created.Username != "alice" || created.Email != "alice@example.com" {
		t.Fatalf("unexpected user: %+v", created)
	}

	byID, err := s.GetUserByID(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if byID == nil || byID.ID != created.ID {
		t.Fatalf("GetUserByID mismatch: %+v", byID)
	}

	byEmail, err := s.GetUserByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if byEmail == nil || byEmail.ID != created.ID {
		t.Fatalf("GetUserByEmail mismatch: %+v", byEmail)
	}

	missing, err := s.GetUserByEmail(ctx, "nobody@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown email, got %+v", missing)
	}
}

func TestDuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	createTestUser(t, s, "alice", "alice@example.com")
	_, err := s.CreateUser(ctx, "imposter", "alice@example.com", "hash")
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestListAndCountUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	createTestUser(t, s, "alice", "alice@example.com")
	createTestUser(t, s, "bob", "bob@example.com")

	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}

	count, err := s.CountUsers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
}

func appendTestMessage(t *testing.T, s *SQLiteStore, ownerID, senderID, recipientID, body string) *models.StoredMessage {
	t.Helper()
	msg := &models.StoredMessage{
		SenderID:    senderID,
		RecipientID: recipientID,
		Body:        body,
		IV:          "00112233445566778899aabbccddeeff",
	}
	if err := s.AppendMessage(context.Background(), ownerID, msg); err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	s := newTestStore(t)

	msg := appendTestMessage(t, s, "a", "a", "b", "cafe01")
	if msg.ID == "" {
		t.Fatal("expected assigned message ID")
	}
	if msg.Timestamp.IsZero() {
		t.Fatal("expected assigned timestamp")
	}

	// A caller-supplied timestamp is preserved.
	supplied := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msg2 := &models.StoredMessage{SenderID: "a", RecipientID: "b", Body: "cafe02", IV: "00", Timestamp: supplied}
	if err := s.AppendMessage(context.Background(), "a", msg2); err != nil {
		t.Fatal(err)
	}
	if !msg2.Timestamp.Equal(supplied) {
		t.Fatalf("supplied timestamp overwritten: %v", msg2.Timestamp)
	}
}

func TestListBetweenBothDirectionsInOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	appendTestMessage(t, s, "a", "a", "b", "01")
	appendTestMessage(t, s, "a", "b", "a", "02")
	appendTestMessage(t, s, "a", "a", "b", "03")
	appendTestMessage(t, s, "a", "a", "c", "ff") // different counterpart

	msgs, err := s.ListBetween(ctx, "a", "b")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, want := range []string{"01", "02", "03"} {
		if msgs[i].Body != want {
			t.Fatalf("position %d: got %q want %q (insertion order violated)", i, msgs[i].Body, want)
		}
	}

	// The counterpart's own log is independent.
	msgs, err = s.ListBetween(ctx, "b", "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty log for b, got %d", len(msgs))
	}
}

func TestClearBetweenIsOwnerScoped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Same conversation recorded under both owners.
	appendTestMessage(t, s, "a", "a", "b", "01")
	appendTestMessage(t, s, "b", "a", "b", "01")
	appendTestMessage(t, s, "a", "a", "c", "02")

	if err := s.ClearBetween(ctx, "a", "b"); err != nil {
		t.Fatal(err)
	}

	msgs, err := s.ListBetween(ctx, "a", "b")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected a's copies removed, got %d", len(msgs))
	}

	msgs, err = s.ListBetween(ctx, "b", "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("b's copy must survive a's clear, got %d", len(msgs))
	}

	msgs, err = s.ListBetween(ctx, "a", "c")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("unrelated conversation must survive, got %d", len(msgs))
	}
}

func TestNewUserIDIsV7(t *testing.T) {
	id := NewUserID()
	if id.Version() != uuid.Version(7) {
		t.Fatalf("expected UUIDv7, got version %d", id.Version())
	}
}
