package identity

import (
	"bytes"
	"errors"
	"testing"

	"github.com/opd-ai/cipherchat/crypto"
	"github.com/opd-ai/cipherchat/storage"
)

func newTestStore() (*Store, storage.Store) {
	backend := storage.NewMemoryStore()
	return NewStore(backend, crypto.NewNaClProvider()), backend
}

func TestCreateAndLoad(t *testing.T) {
	store, _ := newTestStore()

	created, err := store.Create("Alice")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ID == "" {
		t.Error("expected a generated id")
	}
	if created.Nickname != "Alice" {
		t.Errorf("expected nickname Alice, got %q", created.Nickname)
	}
	if len(created.PublicKey) != crypto.KeySize || len(created.PrivateKey) != crypto.KeySize {
		t.Error("expected 32-byte keys")
	}
	if created.AvatarColor == "" {
		t.Error("expected an avatar color")
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.ID != created.ID || !bytes.Equal(loaded.PrivateKey, created.PrivateKey) {
		t.Error("loaded identity does not match created identity")
	}
}

func TestCreateGuardsExistingIdentity(t *testing.T) {
	store, _ := newTestStore()

	if _, err := store.Create("Alice"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	_, err := store.Create("Mallory")
	if !errors.Is(err, ErrIdentityExists) {
		t.Errorf("expected ErrIdentityExists, got %v", err)
	}

	// The original identity is untouched.
	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Nickname != "Alice" {
		t.Errorf("existing identity was modified: %q", loaded.Nickname)
	}
}

func TestCreateRejectsEmptyNickname(t *testing.T) {
	store, _ := newTestStore()
	if _, err := store.Create(""); err == nil {
		t.Error("expected error for empty nickname")
	}
}

func TestLoadWithoutIdentity(t *testing.T) {
	store, _ := newTestStore()
	if _, err := store.Load(); !errors.Is(err, ErrNoIdentity) {
		t.Errorf("expected ErrNoIdentity, got %v", err)
	}
}

func TestEraseCascades(t *testing.T) {
	store, backend := newTestStore()

	if _, err := store.Create("Alice"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	// Simulate data created during normal use.
	if err := backend.Put(storage.CollectionSessions, "bob-1", []byte("s")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := backend.Put(storage.MessagesCollection("bob-1"), "m1", []byte("m")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := store.Erase(); err != nil {
		t.Fatalf("Erase failed: %v", err)
	}

	if _, err := store.Load(); !errors.Is(err, ErrNoIdentity) {
		t.Errorf("expected ErrNoIdentity after erase, got %v", err)
	}
	records, err := backend.List(storage.MessagesCollection("bob-1"))
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 0 {
		t.Error("message log survived identity erasure")
	}
	if _, err := backend.Get(storage.CollectionSessions, "bob-1"); !errors.Is(err, storage.ErrKeyNotFound) {
		t.Error("session record survived identity erasure")
	}
}

func TestKeyPairRoundTrip(t *testing.T) {
	store, _ := newTestStore()
	created, err := store.Create("Alice")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	kp, err := KeyPair(created)
	if err != nil {
		t.Fatalf("KeyPair failed: %v", err)
	}
	if !bytes.Equal(kp.Public[:], created.PublicKey) {
		t.Error("reconstructed key pair does not match identity")
	}

	if _, err := KeyPair(&Identity{}); err == nil {
		t.Error("expected error for identity without keys")
	}
}

func TestAvatarColorFor(t *testing.T) {
	a := AvatarColorFor("bob-1")
	b := AvatarColorFor("bob-1")
	if a != b {
		t.Error("peer color assignment should be deterministic")
	}
	if a == "" {
		t.Error("expected a color from the palette")
	}
}
