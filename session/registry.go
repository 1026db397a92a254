package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/cipherchat/identity"
	"github.com/opd-ai/cipherchat/message"
	"github.com/opd-ai/cipherchat/storage"
)

// ErrSessionNotFound indicates that no session exists for the chat id.
var ErrSessionNotFound = errors.New("session not found")

// ChatSession is the durable record for one paired peer. The session id is
// the peer's identifier and doubles as the chat id for the message log.
type ChatSession struct {
	ID              string    `json:"id"`
	PeerNickname    string    `json:"peer_nickname"`
	PeerAvatarColor string    `json:"peer_avatar_color"`
	PeerPublicKey   []byte    `json:"peer_public_key"`
	LastMessage     string    `json:"last_message"`
	LastMessageTime time.Time `json:"last_message_time"`
	UnreadCount     int       `json:"unread_count"`
	Online          bool      `json:"online"`
	EncryptionKey   []byte    `json:"encryption_key,omitempty"`
}

// Registry maps peer ids to their sessions. It is a denormalized view over
// the message store plus pairing events; the last-message cache is always
// recomputed from the log, never mutated on its own.
type Registry struct {
	st       storage.Store
	messages *message.Store

	mu       sync.RWMutex
	sessions map[string]*ChatSession
	order    []string
	active   string
}

// NewRegistry creates a registry over the given backends and loads any
// persisted sessions.
func NewRegistry(st storage.Store, messages *message.Store) (*Registry, error) {
	r := &Registry{
		st:       st,
		messages: messages,
		sessions: make(map[string]*ChatSession),
	}

	records, err := st.List(storage.CollectionSessions)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	for _, record := range records {
		var sess ChatSession
		if err := json.Unmarshal(record, &sess); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "NewRegistry",
				"error":    err.Error(),
			}).Warn("Skipping undecodable session record")
			continue
		}
		s := sess
		s.Online = false // presence is runtime state, never trusted from disk
		r.sessions[s.ID] = &s
		r.order = append(r.order, s.ID)
	}

	return r, nil
}

// Upsert creates the session for a successfully paired peer, or returns
// the existing one unchanged: pairing is idempotent, and re-pairing with a
// known peer reopens the conversation instead of duplicating it. The
// second return reports whether a new session was created.
func (r *Registry) Upsert(desc *PeerDescriptor) (*ChatSession, bool, error) {
	if desc == nil {
		return nil, false, errors.New("peer descriptor required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[desc.ID]; ok {
		sess := *existing
		return &sess, false, nil
	}

	sess := &ChatSession{
		ID:              desc.ID,
		PeerNickname:    desc.Name,
		PeerAvatarColor: identity.AvatarColorFor(desc.ID),
		PeerPublicKey:   desc.Key,
	}
	if err := r.persistLocked(sess); err != nil {
		return nil, false, err
	}
	r.sessions[sess.ID] = sess
	r.order = append(r.order, sess.ID)

	logrus.WithFields(logrus.Fields{
		"function":      "Upsert",
		"peer_id":       desc.ID,
		"peer_nickname": desc.Name,
	}).Info("Session created for paired peer")

	out := *sess
	return &out, true, nil
}

// Get returns a copy of one session, or ErrSessionNotFound.
func (r *Registry) Get(chatID string) (*ChatSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[chatID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	out := *sess
	return &out, nil
}

// List returns all sessions ordered by last-message time descending.
// Sessions with equal timestamps keep their insertion order, so the UI's
// conversation list never flickers between refreshes.
func (r *Registry) List() []*ChatSession {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ChatSession, 0, len(r.order))
	for _, id := range r.order {
		sess := *r.sessions[id]
		out = append(out, &sess)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessageTime.After(out[j].LastMessageTime)
	})
	return out
}

// SetActive marks a chat as the one currently open in the UI and resets
// its unread count. Inbound messages for the active chat do not increment
// unread. Both effects happen in one critical section, so an inbound
// recorded concurrently either lands before the reset or finds the chat
// already active; it can never leave a stale unread count on an open chat.
func (r *Registry) SetActive(chatID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[chatID]
	if !ok {
		return ErrSessionNotFound
	}
	r.active = chatID
	if sess.UnreadCount == 0 {
		return nil
	}
	sess.UnreadCount = 0
	return r.persistLocked(sess)
}

// ClearActive marks no chat as open.
func (r *Registry) ClearActive() {
	r.mu.Lock()
	r.active = ""
	r.mu.Unlock()
}

// MarkRead resets a chat's unread count to zero. Called exactly once when
// the chat view becomes active.
func (r *Registry) MarkRead(chatID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[chatID]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.UnreadCount == 0 {
		return nil
	}
	sess.UnreadCount = 0
	return r.persistLocked(sess)
}

// RecordInbound updates a session for a newly appended inbound message:
// the unread count grows by one unless the chat is currently active, and
// the last-message cache is refreshed from the log either way.
func (r *Registry) RecordInbound(msg message.Message) error {
	// Recompute outside the registry lock; the message store takes the
	// chat's lock and must never be entered while holding ours.
	latest, ok, err := r.messages.Latest(msg.ChatID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sess, exists := r.sessions[msg.ChatID]
	if !exists {
		return ErrSessionNotFound
	}

	if r.active != msg.ChatID {
		sess.UnreadCount++
	}
	if ok {
		sess.LastMessage = latest.Content
		sess.LastMessageTime = latest.Timestamp
	}
	return r.persistLocked(sess)
}

// RecordOutbound refreshes the last-message cache after a local send.
func (r *Registry) RecordOutbound(msg message.Message) error {
	latest, ok, err := r.messages.Latest(msg.ChatID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sess, exists := r.sessions[msg.ChatID]
	if !exists {
		return ErrSessionNotFound
	}
	if ok {
		sess.LastMessage = latest.Content
		sess.LastMessageTime = latest.Timestamp
	}
	return r.persistLocked(sess)
}

// SetOnline records a presence update from the transport. The return
// reports whether the flag actually changed, so callers can notify only on
// real transitions.
func (r *Registry) SetOnline(chatID string, online bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[chatID]
	if !ok {
		return false, ErrSessionNotFound
	}
	if sess.Online == online {
		return false, nil
	}
	sess.Online = online
	return true, r.persistLocked(sess)
}

// SetEncryptionKey stores the negotiated per-session symmetric key.
func (r *Registry) SetEncryptionKey(chatID string, key []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[chatID]
	if !ok {
		return ErrSessionNotFound
	}
	sess.EncryptionKey = append([]byte(nil), key...)
	return r.persistLocked(sess)
}

// Reset drops all in-memory sessions after a cascading identity wipe.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[string]*ChatSession)
	r.order = nil
	r.active = ""
}

// persistLocked writes a session through to storage. Callers hold r.mu.
func (r *Registry) persistLocked(sess *ChatSession) error {
	record, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.st.Put(storage.CollectionSessions, sess.ID, record); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}
