package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/cipherchat/storage"
)

// ErrInvalidTransition indicates a status update that the state machine
// does not allow. Callers must treat this as a logic error.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrMessageNotFound indicates the message does not exist in the chat's
// log. Late acknowledgement timers hitting a wiped message see this and
// must treat it as a no-op.
var ErrMessageNotFound = errors.New("message not found")

// StatusCallback is invoked after a status transition has been persisted.
// The message is passed by value; the callback runs under the chat's lock
// and must not call back into the Store for the same chat.
type StatusCallback func(msg Message)

// Store is the per-chat, append-only message log. All mutations to one
// chat are serialized by that chat's lock; different chats proceed
// independently. State is held in memory and written through to the
// injected storage port on every change.
type Store struct {
	st storage.Store

	mu    sync.RWMutex
	chats map[string]*chatLog

	callbackMu sync.RWMutex
	onStatus   StatusCallback
}

// chatLog holds one chat's messages in insertion order plus an id index
// for idempotent appends.
type chatLog struct {
	mu    sync.Mutex
	order []*Message
	byID  map[string]*Message
}

// NewStore creates a message store over the given storage backend. Chat
// logs are loaded lazily on first access.
func NewStore(st storage.Store) *Store {
	return &Store{
		st:    st,
		chats: make(map[string]*chatLog),
	}
}

// OnStatusChange registers the callback fired after each persisted status
// transition.
func (s *Store) OnStatusChange(callback StatusCallback) {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()
	s.onStatus = callback
}

// chat returns the (lazily loaded) log for a chat id.
func (s *Store) chat(chatID string) (*chatLog, error) {
	s.mu.RLock()
	c, ok := s.chats[chatID]
	s.mu.RUnlock()
	if ok {
		return c, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.chats[chatID]; ok {
		return c, nil
	}

	c = &chatLog{byID: make(map[string]*Message)}
	records, err := s.st.List(storage.MessagesCollection(chatID))
	if err != nil {
		return nil, fmt.Errorf("load chat log: %w", err)
	}
	for _, record := range records {
		var msg Message
		if err := json.Unmarshal(record, &msg); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "chat",
				"chat_id":  chatID,
				"error":    err.Error(),
			}).Warn("Skipping undecodable message record")
			continue
		}
		m := msg
		c.order = append(c.order, &m)
		c.byID[m.ID] = &m
	}

	s.chats[chatID] = c
	return c, nil
}

// Append adds a message to its chat's log. The append is idempotent by
// message id: re-inserting a present id changes nothing and reports false.
func (s *Store) Append(msg *Message) (bool, error) {
	if msg == nil || msg.ID == "" || msg.ChatID == "" {
		return false, errors.New("message requires id and chat id")
	}

	c, err := s.chat(msg.ChatID)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byID[msg.ID]; exists {
		return false, nil
	}

	stored := *msg
	if err := s.persist(&stored); err != nil {
		return false, err
	}
	c.order = append(c.order, &stored)
	c.byID[stored.ID] = &stored

	logrus.WithFields(logrus.Fields{
		"function":   "Append",
		"chat_id":    stored.ChatID,
		"message_id": stored.ID,
		"status":     stored.Status.String(),
		"is_me":      stored.IsMe,
	}).Debug("Message appended to chat log")

	return true, nil
}

// List returns a chat's messages ordered by timestamp ascending, with
// insertion order preserved for equal timestamps.
func (s *Store) List(chatID string) ([]*Message, error) {
	c, err := s.chat(chatID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*Message, 0, len(c.order))
	for _, m := range c.order {
		msg := *m
		out = append(out, &msg)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// Get returns a copy of one message, or ErrMessageNotFound.
func (s *Store) Get(chatID, messageID string) (*Message, error) {
	c, err := s.chat(chatID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.byID[messageID]
	if !ok {
		return nil, ErrMessageNotFound
	}
	msg := *m
	return &msg, nil
}

// Latest returns a copy of the chat's maximum-timestamp message, or false
// for an empty log. Sessions recompute their last-message cache from this.
func (s *Store) Latest(chatID string) (*Message, bool, error) {
	c, err := s.chat(chatID)
	if err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var latest *Message
	for _, m := range c.order {
		if latest == nil || m.Timestamp.After(latest.Timestamp) {
			latest = m
		}
	}
	if latest == nil {
		return nil, false, nil
	}
	msg := *latest
	return &msg, true, nil
}

// UpdateStatus advances a message through the delivery state machine. A
// same-status update is an idempotent no-op; an unreachable status is
// rejected with ErrInvalidTransition. Persistence and the change
// notification happen under the chat's lock, so observers and storage
// never disagree about a message's status.
func (s *Store) UpdateStatus(chatID, messageID string, newStatus Status) error {
	c, err := s.chat(chatID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.byID[messageID]
	if !ok {
		return ErrMessageNotFound
	}
	if m.Status == newStatus {
		return nil
	}
	if !ValidTransition(m.Status, newStatus) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.Status, newStatus)
	}

	previous := m.Status
	m.Status = newStatus
	if err := s.persist(m); err != nil {
		m.Status = previous
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "UpdateStatus",
		"chat_id":    chatID,
		"message_id": messageID,
		"from":       previous.String(),
		"to":         newStatus.String(),
	}).Debug("Message status advanced")

	s.callbackMu.RLock()
	callback := s.onStatus
	s.callbackMu.RUnlock()
	if callback != nil {
		callback(*m)
	}

	return nil
}

// RecordAttempt increments a message's send-attempt counter and returns
// the new count. The retry budget lives with the caller; the counter keeps
// it observable on the message itself.
func (s *Store) RecordAttempt(chatID, messageID string) (int, error) {
	c, err := s.chat(chatID)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.byID[messageID]
	if !ok {
		return 0, ErrMessageNotFound
	}

	m.Attempts++
	if err := s.persist(m); err != nil {
		m.Attempts--
		return 0, err
	}
	return m.Attempts, nil
}

// Reset drops all in-memory chat logs. Called after a cascading identity
// wipe, once the storage backend itself has been wiped.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = make(map[string]*chatLog)
}

// persist writes a message through to the storage port. Callers hold the
// chat lock.
func (s *Store) persist(m *Message) error {
	record, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := s.st.Put(storage.MessagesCollection(m.ChatID), m.ID, record); err != nil {
		return fmt.Errorf("persist message: %w", err)
	}
	return nil
}
