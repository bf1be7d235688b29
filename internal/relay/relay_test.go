package relay

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/courier-im/courier/internal/cipher"
	"github.com/courier-im/courier/internal/models"
	"github.com/courier-im/courier/internal/presence"
	"github.com/courier-im/courier/internal/store"
)

// fakeStore is an in-memory Store with per-owner message logs.
type fakeStore struct {
	mu    sync.Mutex
	users map[string]*models.User
	logs  map[string][]models.StoredMessage

	appendErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users: make(map[string]*models.User),
		logs:  make(map[string][]models.StoredMessage),
	}
}

func (s *fakeStore) addUser(t *testing.T, username string) string {
	t.Helper()
	id := uuid.Must(uuid.NewV7())
	s.users[id.String()] = &models.User{ID: id, Username: username}
	return id.String()
}

func (s *fakeStore) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id.String()], nil
}

func (s *fakeStore) AppendMessage(_ context.Context, ownerID string, msg *models.StoredMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.logs[ownerID] = append(s.logs[ownerID], *msg)
	return nil
}

func (s *fakeStore) ListBetween(_ context.Context, ownerID, counterpartID string) ([]models.StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StoredMessage
	for _, msg := range s.logs[ownerID] {
		if (msg.SenderID == ownerID && msg.RecipientID == counterpartID) ||
			(msg.SenderID == counterpartID && msg.RecipientID == ownerID) {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (s *fakeStore) ClearBetween(_ context.Context, ownerID, counterpartID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []models.StoredMessage
	for _, msg := range s.logs[ownerID] {
		if (msg.SenderID == ownerID && msg.RecipientID == counterpartID) ||
			(msg.SenderID == counterpartID && msg.RecipientID == ownerID) {
			continue
		}
		kept = append(kept, msg)
	}
	s.logs[ownerID] = kept
	return nil
}

func (s *fakeStore) logLen(ownerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs[ownerID])
}

// fakeGateway records pushes and can be told to fail.
type fakeGateway struct {
	mu      sync.Mutex
	pushes  []pushCall
	pushErr error
}

type pushCall struct {
	handle string
	push   models.Push
}

func (g *fakeGateway) PushTo(handle string, push models.Push) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pushErr != nil {
		return g.pushErr
	}
	g.pushes = append(g.pushes, pushCall{handle: handle, push: push})
	return nil
}

func (g *fakeGateway) calls() []pushCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]pushCall(nil), g.pushes...)
}

func newTestRelay(t *testing.T) (*Relay, *fakeStore, *fakeGateway, *presence.Table) {
	t.Helper()
	key := make([]byte, cipher.KeySize)
	c, err := cipher.New(key)
	if err != nil {
		t.Fatal(err)
	}
	st := newFakeStore()
	table := presence.NewTable()
	r := New(st, c, table, zerolog.Nop())
	gw := &fakeGateway{}
	r.AttachGateway(gw)
	return r, st, gw, table
}

func TestOnSendOfflineRecipient(t *testing.T) {
	r, st, gw, _ := newTestRelay(t)
	alice := st.addUser(t, "alice")
	bob := st.addUser(t, "bob")

	msg, err := r.OnSend(context.Background(), alice, bob, "hi")
	if err != nil {
		t.Fatal(err)
	}

	if got := st.logLen(alice); got != 1 {
		t.Fatalf("sender log: expected 1 record, got %d", got)
	}
	if got := st.logLen(bob); got != 1 {
		t.Fatalf("recipient log: expected 1 record, got %d", got)
	}
	if msg.Body == "hi" || msg.Body == hex.EncodeToString([]byte("hi")) {
		t.Fatal("stored body is not encrypted")
	}
	if len(gw.calls()) != 0 {
		t.Fatal("expected no push for offline recipient")
	}

	history, err := r.FetchHistory(context.Background(), alice, bob)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(history))
	}
	if history[0].SenderID != alice || history[0].Body != "hi" {
		t.Fatalf("unexpected history entry: %+v", history[0])
	}
}

func TestOnSendOnlineRecipient(t *testing.T) {
	r, st, gw, _ := newTestRelay(t)
	alice := st.addUser(t, "alice")
	bob := st.addUser(t, "bob")

	r.OnConnect(bob, "hB")

	if _, err := r.OnSend(context.Background(), alice, bob, "hi"); err != nil {
		t.Fatal(err)
	}

	if got := st.logLen(bob); got != 1 {
		t.Fatalf("recipient log: expected 1 record, got %d", got)
	}
	calls := gw.calls()
	if len(calls) != 1 {
		t.Fatalf("expected exactly 1 push, got %d", len(calls))
	}
	if calls[0].handle != "hB" {
		t.Fatalf("pushed to handle %q, want hB", calls[0].handle)
	}
	if calls[0].push.SenderID != alice || calls[0].push.Body != "hi" {
		t.Fatalf("unexpected push payload: %+v", calls[0].push)
	}
}

func TestOnSendPushFailureIsSwallowed(t *testing.T) {
	r, st, gw, _ := newTestRelay(t)
	alice := st.addUser(t, "alice")
	bob := st.addUser(t, "bob")

	r.OnConnect(bob, "hB")
	gw.pushErr = errors.New("connection reset")

	if _, err := r.OnSend(context.Background(), alice, bob, "hi"); err != nil {
		t.Fatalf("push failure must not fail the send: %v", err)
	}
	if got := st.logLen(bob); got != 1 {
		t.Fatalf("message must still be persisted, got %d records", got)
	}
}

func TestOnSendPersistenceFailureIsFatal(t *testing.T) {
	r, st, _, _ := newTestRelay(t)
	alice := st.addUser(t, "alice")
	bob := st.addUser(t, "bob")

	st.appendErr = store.ErrUnavailable
	if _, err := r.OnSend(context.Background(), alice, bob, "hi"); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestOnSendValidation(t *testing.T) {
	r, st, _, _ := newTestRelay(t)
	alice := st.addUser(t, "alice")
	bob := st.addUser(t, "bob")

	cases := []struct{ sender, recipient, body string }{
		{"", bob, "hi"},
		{alice, "", "hi"},
		{alice, bob, ""},
		{"not-a-uuid", bob, "hi"},
	}
	for _, tc := range cases {
		if _, err := r.OnSend(context.Background(), tc.sender, tc.recipient, tc.body); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("(%q,%q,%q): expected ErrInvalidRequest, got %v", tc.sender, tc.recipient, tc.body, err)
		}
	}
	if got := st.logLen(alice); got != 0 {
		t.Fatalf("invalid sends must not mutate the store, got %d records", got)
	}
}

func TestOnSendUnknownRecipient(t *testing.T) {
	r, st, _, _ := newTestRelay(t)
	alice := st.addUser(t, "alice")
	ghost := uuid.Must(uuid.NewV7()).String()

	if _, err := r.OnSend(context.Background(), alice, ghost, "hi"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDisconnectLifecycle(t *testing.T) {
	r, st, _, table := newTestRelay(t)
	alice := st.addUser(t, "alice")

	r.OnConnect(alice, "h1")
	r.OnConnect(alice, "h2") // reconnect supersedes h1

	r.OnDisconnect("h1") // stale disconnect, must not evict h2
	if handle, ok := table.Lookup(alice); !ok || handle != "h2" {
		t.Fatalf("stale disconnect evicted live entry: %q ok=%v", handle, ok)
	}

	r.OnDisconnect("h2")
	if r.Online(alice) {
		t.Fatal("expected user offline after matching disconnect")
	}

	r.OnDisconnect("unknown") // tolerated no-op
}

func TestFetchHistorySkipsCorruptedRecords(t *testing.T) {
	r, st, _, _ := newTestRelay(t)
	alice := st.addUser(t, "alice")
	bob := st.addUser(t, "bob")

	if _, err := r.OnSend(context.Background(), alice, bob, "first"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.OnSend(context.Background(), alice, bob, "second"); err != nil {
		t.Fatal(err)
	}

	// Corrupt the first record in alice's log.
	st.mu.Lock()
	st.logs[alice][0].Body = "zz-not-hex"
	st.mu.Unlock()

	history, err := r.FetchHistory(context.Background(), alice, bob)
	if err != nil {
		t.Fatalf("one corrupt record must not abort the batch: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(history))
	}
	if !history[0].Corrupted || history[0].Body != "" {
		t.Fatalf("expected first entry flagged corrupted: %+v", history[0])
	}
	if history[1].Corrupted || history[1].Body != "second" {
		t.Fatalf("expected second entry intact: %+v", history[1])
	}
}

func TestClearHistoryIsOwnerScoped(t *testing.T) {
	r, st, _, _ := newTestRelay(t)
	alice := st.addUser(t, "alice")
	bob := st.addUser(t, "bob")

	if _, err := r.OnSend(context.Background(), alice, bob, "hi"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.OnSend(context.Background(), bob, alice, "hello"); err != nil {
		t.Fatal(err)
	}

	if err := r.ClearHistory(context.Background(), alice, bob); err != nil {
		t.Fatal(err)
	}

	if got := st.logLen(alice); got != 0 {
		t.Fatalf("expected alice's log empty, got %d", got)
	}
	if got := st.logLen(bob); got != 2 {
		t.Fatalf("bob's log must be untouched, got %d", got)
	}
}

func TestConcurrentSendsAllLand(t *testing.T) {
	r, st, _, _ := newTestRelay(t)
	alice := st.addUser(t, "alice")
	bob := st.addUser(t, "bob")

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := r.OnSend(context.Background(), alice, bob, fmt.Sprintf("msg-%d", i)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	if got := st.logLen(bob); got != n {
		t.Fatalf("expected %d records in recipient log, got %d", n, got)
	}
	if got := st.logLen(alice); got != n {
		t.Fatalf("expected %d records in sender log, got %d", n, got)
	}
}
