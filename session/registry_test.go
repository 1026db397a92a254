package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/cipherchat/message"
	"github.com/opd-ai/cipherchat/storage"
)

func newTestRegistry(t *testing.T) (*Registry, *message.Store, storage.Store) {
	t.Helper()
	backend := storage.NewMemoryStore()
	messages := message.NewStore(backend)
	registry, err := NewRegistry(backend, messages)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return registry, messages, backend
}

func descriptor(id, name string) *PeerDescriptor {
	return &PeerDescriptor{Version: DescriptorVersion, ID: id, Name: name, Key: validKey()}
}

func inbound(t *testing.T, messages *message.Store, chatID, id, content string, ts time.Time) message.Message {
	t.Helper()
	msg := message.Message{
		ID:        id,
		ChatID:    chatID,
		SenderID:  chatID,
		Content:   content,
		Timestamp: ts,
		Status:    message.StatusRead,
		Kind:      message.KindText,
	}
	if _, err := messages.Append(&msg); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	return msg
}

func TestUpsertIsIdempotent(t *testing.T) {
	registry, _, _ := newTestRegistry(t)

	sess, created, err := registry.Upsert(descriptor("bob-1", "Bob"))
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if !created {
		t.Error("first upsert should create")
	}
	if sess.UnreadCount != 0 {
		t.Error("new session should start with zero unread")
	}
	if sess.PeerAvatarColor == "" {
		t.Error("expected an assigned avatar color")
	}

	// Re-pairing returns the existing session unchanged, even with a
	// different nickname in the payload.
	again, created, err := registry.Upsert(descriptor("bob-1", "Bobby"))
	if err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}
	if created {
		t.Error("re-pairing must not create a duplicate")
	}
	if again.PeerNickname != "Bob" {
		t.Errorf("existing session modified by re-pairing: %q", again.PeerNickname)
	}

	if len(registry.List()) != 1 {
		t.Error("expected exactly one session")
	}
}

func TestListOrdering(t *testing.T) {
	registry, messages, _ := newTestRegistry(t)
	base := time.Now()

	for _, id := range []string{"a", "b", "c"} {
		if _, _, err := registry.Upsert(descriptor(id, "Peer "+id)); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	// b gets the newest message, then a; c stays empty.
	msg := inbound(t, messages, "a", "m1", "from a", base.Add(1*time.Second))
	if err := registry.RecordInbound(msg); err != nil {
		t.Fatalf("RecordInbound failed: %v", err)
	}
	msg = inbound(t, messages, "b", "m2", "from b", base.Add(2*time.Second))
	if err := registry.RecordInbound(msg); err != nil {
		t.Fatalf("RecordInbound failed: %v", err)
	}

	sessions := registry.List()
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != "b" || sessions[1].ID != "a" || sessions[2].ID != "c" {
		t.Errorf("unexpected order: %s, %s, %s", sessions[0].ID, sessions[1].ID, sessions[2].ID)
	}
}

func TestListStableForEqualTimestamps(t *testing.T) {
	registry, _, _ := newTestRegistry(t)

	// No messages at all: every session ties at the zero timestamp and
	// must keep pairing order across repeated calls.
	for _, id := range []string{"first", "second", "third"} {
		if _, _, err := registry.Upsert(descriptor(id, id)); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	for i := 0; i < 3; i++ {
		sessions := registry.List()
		if sessions[0].ID != "first" || sessions[1].ID != "second" || sessions[2].ID != "third" {
			t.Fatalf("tie ordering unstable on call %d", i)
		}
	}
}

func TestRecordInboundUnreadCounting(t *testing.T) {
	registry, messages, _ := newTestRegistry(t)
	if _, _, err := registry.Upsert(descriptor("bob-1", "Bob")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	// Chat not open: unread grows.
	msg := inbound(t, messages, "bob-1", "m1", "hi", time.Now())
	if err := registry.RecordInbound(msg); err != nil {
		t.Fatalf("RecordInbound failed: %v", err)
	}
	sess, err := registry.Get("bob-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if sess.UnreadCount != 1 {
		t.Errorf("expected unread 1, got %d", sess.UnreadCount)
	}
	if sess.LastMessage != "hi" {
		t.Errorf("last message cache not updated: %q", sess.LastMessage)
	}

	// Opening the chat resets unread; further inbound while open does
	// not count, but still refreshes the cache.
	if err := registry.SetActive("bob-1"); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}
	msg = inbound(t, messages, "bob-1", "m2", "again", time.Now().Add(time.Second))
	if err := registry.RecordInbound(msg); err != nil {
		t.Fatalf("RecordInbound failed: %v", err)
	}

	sess, err = registry.Get("bob-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if sess.UnreadCount != 0 {
		t.Errorf("active chat should not accumulate unread, got %d", sess.UnreadCount)
	}
	if sess.LastMessage != "again" {
		t.Errorf("last message cache not refreshed: %q", sess.LastMessage)
	}

	// Closing the chat re-enables counting.
	registry.ClearActive()
	msg = inbound(t, messages, "bob-1", "m3", "later", time.Now().Add(2*time.Second))
	if err := registry.RecordInbound(msg); err != nil {
		t.Fatalf("RecordInbound failed: %v", err)
	}
	sess, _ = registry.Get("bob-1")
	if sess.UnreadCount != 1 {
		t.Errorf("expected unread 1 after closing, got %d", sess.UnreadCount)
	}
}

func TestLastMessageCacheTracksLogMaximum(t *testing.T) {
	registry, messages, _ := newTestRegistry(t)
	if _, _, err := registry.Upsert(descriptor("bob-1", "Bob")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	base := time.Now()

	// An out-of-order (older) message arrives after a newer one: the
	// cache must keep reflecting the log's maximum-timestamp entry.
	msg := inbound(t, messages, "bob-1", "new", "newest", base.Add(time.Hour))
	if err := registry.RecordInbound(msg); err != nil {
		t.Fatalf("RecordInbound failed: %v", err)
	}
	msg = inbound(t, messages, "bob-1", "old", "older", base)
	if err := registry.RecordInbound(msg); err != nil {
		t.Fatalf("RecordInbound failed: %v", err)
	}

	sess, err := registry.Get("bob-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if sess.LastMessage != "newest" {
		t.Errorf("cache should hold log maximum, got %q", sess.LastMessage)
	}
	if !sess.LastMessageTime.Equal(base.Add(time.Hour)) {
		t.Error("cache timestamp does not match log maximum")
	}
}

func TestRecordInboundUnknownSession(t *testing.T) {
	registry, messages, _ := newTestRegistry(t)
	msg := inbound(t, messages, "ghost", "m1", "??", time.Now())
	if err := registry.RecordInbound(msg); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSetOnlineReportsChanges(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	if _, _, err := registry.Upsert(descriptor("bob-1", "Bob")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	changed, err := registry.SetOnline("bob-1", true)
	if err != nil {
		t.Fatalf("SetOnline failed: %v", err)
	}
	if !changed {
		t.Error("offline -> online should report a change")
	}

	changed, err = registry.SetOnline("bob-1", true)
	if err != nil {
		t.Fatalf("SetOnline failed: %v", err)
	}
	if changed {
		t.Error("repeated online should not report a change")
	}

	if _, err := registry.SetOnline("ghost", true); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSetActiveAtomicWithConcurrentInbound(t *testing.T) {
	registry, messages, _ := newTestRegistry(t)
	if _, _, err := registry.Upsert(descriptor("bob-1", "Bob")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	base := time.Now()

	// Whatever order the two land in, an open chat never shows a stale
	// unread count: an inbound before SetActive is cleared by it, and one
	// after finds the chat already active.
	for i := 0; i < 100; i++ {
		registry.ClearActive()
		msg := inbound(t, messages, "bob-1", fmt.Sprintf("m%d", i), "hi", base.Add(time.Duration(i)*time.Millisecond))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := registry.RecordInbound(msg); err != nil {
				t.Errorf("RecordInbound failed: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := registry.SetActive("bob-1"); err != nil {
				t.Errorf("SetActive failed: %v", err)
			}
		}()
		wg.Wait()

		sess, err := registry.Get("bob-1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if sess.UnreadCount != 0 {
			t.Fatalf("open chat shows unread %d on round %d", sess.UnreadCount, i)
		}
	}
}

func TestSetActiveUnknownSession(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	if err := registry.SetActive("ghost"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestMarkReadUnknownSession(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	if err := registry.MarkRead("ghost"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSetEncryptionKey(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	if _, _, err := registry.Upsert(descriptor("bob-1", "Bob")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	key := validKey()
	if err := registry.SetEncryptionKey("bob-1", key); err != nil {
		t.Fatalf("SetEncryptionKey failed: %v", err)
	}

	sess, err := registry.Get("bob-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(sess.EncryptionKey) != len(key) {
		t.Error("encryption key not stored")
	}
}

func TestRegistryPersistenceReload(t *testing.T) {
	backend := storage.NewMemoryStore()
	messages := message.NewStore(backend)

	registry, err := NewRegistry(backend, messages)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	if _, _, err := registry.Upsert(descriptor("bob-1", "Bob")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if _, err := registry.SetOnline("bob-1", true); err != nil {
		t.Fatalf("SetOnline failed: %v", err)
	}
	msg := inbound(t, messages, "bob-1", "m1", "hi", time.Now())
	if err := registry.RecordInbound(msg); err != nil {
		t.Fatalf("RecordInbound failed: %v", err)
	}

	reloaded, err := NewRegistry(backend, messages)
	if err != nil {
		t.Fatalf("NewRegistry reload failed: %v", err)
	}
	sess, err := reloaded.Get("bob-1")
	if err != nil {
		t.Fatalf("Get after reload failed: %v", err)
	}
	if sess.PeerNickname != "Bob" || sess.LastMessage != "hi" || sess.UnreadCount != 1 {
		t.Errorf("session not restored faithfully: %+v", sess)
	}
	if sess.Online {
		t.Error("presence must not be trusted from disk")
	}
}

func TestRegistryReset(t *testing.T) {
	registry, _, backend := newTestRegistry(t)
	if _, _, err := registry.Upsert(descriptor("bob-1", "Bob")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if err := backend.Wipe(); err != nil {
		t.Fatalf("Wipe failed: %v", err)
	}
	registry.Reset()

	if len(registry.List()) != 0 {
		t.Error("expected no sessions after reset")
	}
	if _, err := registry.Get("bob-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}
