package identity

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/cipherchat/crypto"
	"github.com/opd-ai/cipherchat/storage"
)

// ErrIdentityExists indicates that an identity is already persisted on
// this device; only one identity may exist at a time.
var ErrIdentityExists = errors.New("identity already exists")

// ErrNoIdentity indicates that no identity has been created yet.
var ErrNoIdentity = errors.New("no identity found")

// identityKey is the single record key inside the identity collection.
const identityKey = "self"

// Store owns the local identity's lifecycle.
type Store struct {
	st     storage.Store
	crypto crypto.Provider
}

// NewStore creates an identity store over the given storage backend and
// crypto provider.
func NewStore(st storage.Store, provider crypto.Provider) *Store {
	return &Store{st: st, crypto: provider}
}

// Create generates a fresh key pair, assigns a new unique id, and persists
// the identity. It fails with ErrIdentityExists if one is already stored;
// onboarding should never hit this, but the store guards it regardless.
func (s *Store) Create(nickname string) (*Identity, error) {
	if nickname == "" {
		return nil, errors.New("nickname cannot be empty")
	}

	if _, err := s.st.Get(storage.CollectionIdentity, identityKey); err == nil {
		return nil, ErrIdentityExists
	} else if !errors.Is(err, storage.ErrKeyNotFound) {
		return nil, fmt.Errorf("check existing identity: %w", err)
	}

	keys, err := s.crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate identity keys: %w", err)
	}

	id := &Identity{
		ID:          newID(),
		Nickname:    nickname,
		PublicKey:   keys.Public[:],
		PrivateKey:  keys.Private[:],
		AvatarColor: RandomAvatarColor(),
	}

	record, err := json.Marshal(id)
	if err != nil {
		return nil, fmt.Errorf("encode identity: %w", err)
	}
	if err := s.st.Put(storage.CollectionIdentity, identityKey, record); err != nil {
		return nil, fmt.Errorf("persist identity: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Create",
		"id":         id.ID,
		"nickname":   nickname,
		"key_prefix": fmt.Sprintf("%x", id.PublicKey[:8]),
	}).Info("Identity created")

	return id, nil
}

// Load returns the persisted identity, or ErrNoIdentity when absent.
func (s *Store) Load() (*Identity, error) {
	record, err := s.st.Get(storage.CollectionIdentity, identityKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, ErrNoIdentity
	}
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}

	var id Identity
	if err := json.Unmarshal(record, &id); err != nil {
		return nil, fmt.Errorf("decode identity: %w", err)
	}
	return &id, nil
}

// Erase destroys the identity and wipes every collection scoped to this
// device: sessions and all message logs go with the keys. Irreversible and
// unconditional; the caller gates any confirmation.
func (s *Store) Erase() error {
	if err := s.st.Wipe(); err != nil {
		return fmt.Errorf("wipe device state: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Erase",
	}).Warn("Identity erased, all sessions and messages wiped")

	return nil
}

// KeyPair reconstructs the crypto key pair from a loaded identity.
func KeyPair(id *Identity) (*crypto.KeyPair, error) {
	if len(id.PrivateKey) != crypto.KeySize || len(id.PublicKey) != crypto.KeySize {
		return nil, errors.New("identity holds malformed keys")
	}
	var kp crypto.KeyPair
	copy(kp.Public[:], id.PublicKey)
	copy(kp.Private[:], id.PrivateKey)
	return &kp, nil
}
