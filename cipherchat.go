package cipherchat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/cipherchat/crypto"
	"github.com/opd-ai/cipherchat/identity"
	"github.com/opd-ai/cipherchat/message"
	"github.com/opd-ai/cipherchat/session"
	"github.com/opd-ai/cipherchat/storage"
	"github.com/opd-ai/cipherchat/transport"
)

// DecryptFailedPlaceholder is stored as message content when an inbound
// ciphertext cannot be decrypted. The read path never fails on a bad
// ciphertext; it renders this marker instead.
const DecryptFailedPlaceholder = "[decryption failed]"

// ErrNoSessionKey indicates a send into a session whose symmetric key has
// not been established yet.
var ErrNoSessionKey = errors.New("session has no encryption key")

// MessageCallback is invoked for each newly received inbound message.
type MessageCallback func(msg message.Message)

// StatusCallback is invoked after each persisted delivery-status change.
type StatusCallback func(msg message.Message)

// PresenceCallback is invoked when a peer's presence flag changes.
type PresenceCallback func(chatID string, online bool)

// pendingSend is one outbound payload awaiting a successful transport
// accept, retried by the reconciliation loop within the retry budget.
type pendingSend struct {
	chatID     string
	messageID  string
	ciphertext []byte
	lastTry    time.Time
}

// Client is the core's facade: identity lifecycle, pairing, sending, and
// the reconciliation loop bridging the transport to local state.
type Client struct {
	options  *Options
	store    storage.Store
	provider crypto.Provider
	trans    transport.Transport

	identities *identity.Store
	messages   *message.Store
	sessions   *session.Registry

	selfMu sync.RWMutex
	self   *identity.Identity

	retryMu sync.Mutex
	retries []*pendingSend

	callbackMu sync.RWMutex
	onMessage  MessageCallback
	onStatus   StatusCallback
	onPresence PresenceCallback

	killOnce sync.Once
	stop     chan struct{}
}

// New creates a Client over the given transport. Existing state (identity,
// sessions, message logs) is loaded from the configured storage backend.
func New(options *Options, trans transport.Transport) (*Client, error) {
	if trans == nil {
		return nil, errors.New("transport required")
	}
	if options == nil {
		options = NewOptions()
	}

	var store storage.Store
	if options.StorageDSN == "" {
		store = storage.NewMemoryStore()
	} else {
		var err error
		store, err = storage.OpenSQLite(options.StorageDSN)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
	}

	provider := crypto.NewNaClProvider()
	messages := message.NewStore(store)
	sessions, err := session.NewRegistry(store, messages)
	if err != nil {
		store.Close()
		return nil, err
	}

	c := &Client{
		options:    options,
		store:      store,
		provider:   provider,
		trans:      trans,
		identities: identity.NewStore(store, provider),
		messages:   messages,
		sessions:   sessions,
		stop:       make(chan struct{}),
	}

	messages.OnStatusChange(func(msg message.Message) {
		c.callbackMu.RLock()
		callback := c.onStatus
		c.callbackMu.RUnlock()
		if callback != nil {
			callback(msg)
		}
	})

	self, err := c.identities.Load()
	if err != nil && !errors.Is(err, identity.ErrNoIdentity) {
		store.Close()
		return nil, err
	}
	c.self = self

	logrus.WithFields(logrus.Fields{
		"function":     "New",
		"has_identity": self != nil,
		"sessions":     len(sessions.List()),
	}).Info("CipherChat client initialized")

	return c, nil
}

// OnMessageReceived registers the inbound message callback.
func (c *Client) OnMessageReceived(callback MessageCallback) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.onMessage = callback
}

// OnMessageStatus registers the delivery-status callback.
func (c *Client) OnMessageStatus(callback StatusCallback) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.onStatus = callback
}

// OnPresenceChange registers the presence callback.
func (c *Client) OnPresenceChange(callback PresenceCallback) {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	c.onPresence = callback
}

// CreateIdentity creates and persists the device's identity. Fails with
// identity.ErrIdentityExists if one already exists.
func (c *Client) CreateIdentity(nickname string) (*identity.Identity, error) {
	created, err := c.identities.Create(nickname)
	if err != nil {
		return nil, err
	}

	c.selfMu.Lock()
	c.self = created
	c.selfMu.Unlock()

	out := *created
	return &out, nil
}

// Identity returns the local identity, or identity.ErrNoIdentity.
func (c *Client) Identity() (*identity.Identity, error) {
	c.selfMu.RLock()
	defer c.selfMu.RUnlock()
	if c.self == nil {
		return nil, identity.ErrNoIdentity
	}
	out := *c.self
	return &out, nil
}

// EraseIdentity destroys the identity and every session and message log
// with it. Pending retries are discarded; their timers become no-ops. The
// operation is unconditional; confirming it with the user happens before
// this call, not inside it.
func (c *Client) EraseIdentity() error {
	c.retryMu.Lock()
	c.retries = nil
	c.retryMu.Unlock()

	if err := c.identities.Erase(); err != nil {
		return err
	}
	c.messages.Reset()
	c.sessions.Reset()

	c.selfMu.Lock()
	c.self = nil
	c.selfMu.Unlock()

	return nil
}

// ExportPairingPayload produces this identity's pairing payload for QR
// rendering or manual exchange.
func (c *Client) ExportPairingPayload() ([]byte, error) {
	self, err := c.Identity()
	if err != nil {
		return nil, err
	}
	return session.ExportDescriptor(self)
}

// Pair consumes a peer's pairing payload and returns the session for that
// peer. Pairing is idempotent: a known peer's existing session is returned
// unchanged. For a new peer the per-session symmetric key is derived from
// the exchanged public keys.
func (c *Client) Pair(payload []byte) (*session.ChatSession, error) {
	self, err := c.Identity()
	if err != nil {
		return nil, err
	}

	desc, err := session.ParsePeerDescriptor(payload)
	if err != nil {
		return nil, err
	}

	sess, created, err := c.sessions.Upsert(desc)
	if err != nil {
		return nil, err
	}
	if !created {
		return sess, nil
	}

	keys, err := identity.KeyPair(self)
	if err != nil {
		return nil, err
	}
	var peerKey [crypto.KeySize]byte
	copy(peerKey[:], desc.Key)

	sessionKey, err := c.provider.DeriveSessionKey(peerKey, keys.Private)
	if err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	if err := c.sessions.SetEncryptionKey(desc.ID, sessionKey[:]); err != nil {
		return nil, err
	}

	return c.sessions.Get(desc.ID)
}

// BeginSessionHandshake starts a Noise handshake with a paired peer to
// negotiate a fresh session key. The handshake produces and consumes opaque
// frames; the caller moves them over whatever channel the transport
// provides. Once completed on this side, pass it to
// CompleteSessionHandshake to install the negotiated key.
func (c *Client) BeginSessionHandshake(chatID string, initiator bool) (*crypto.SessionHandshake, error) {
	self, err := c.Identity()
	if err != nil {
		return nil, err
	}
	sess, err := c.sessions.Get(chatID)
	if err != nil {
		return nil, err
	}
	keys, err := identity.KeyPair(self)
	if err != nil {
		return nil, err
	}

	var peerKey []byte
	if initiator {
		peerKey = sess.PeerPublicKey
	}
	return crypto.NewSessionHandshake(initiator, keys, peerKey)
}

// CompleteSessionHandshake replaces a session's symmetric key with the one
// a finished handshake negotiated. The handshake's authenticated peer must
// be the peer recorded at pairing time; anything else is rejected.
func (c *Client) CompleteSessionHandshake(chatID string, sh *crypto.SessionHandshake) error {
	if sh == nil || !sh.Completed() {
		return errors.New("handshake not completed")
	}
	sess, err := c.sessions.Get(chatID)
	if err != nil {
		return err
	}
	if !bytes.Equal(sh.PeerPublicKey(), sess.PeerPublicKey) {
		return errors.New("handshake peer does not match session")
	}

	key, err := sh.SessionKey()
	if err != nil {
		return err
	}
	if err := c.sessions.SetEncryptionKey(chatID, key[:]); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "CompleteSessionHandshake",
		"chat_id":  chatID,
	}).Info("Session key renegotiated")
	return nil
}

// Sessions returns all sessions ordered for display.
func (c *Client) Sessions() []*session.ChatSession {
	return c.sessions.List()
}

// Session returns one session by chat id.
func (c *Client) Session(chatID string) (*session.ChatSession, error) {
	return c.sessions.Get(chatID)
}

// Messages returns a chat's history ordered by timestamp.
func (c *Client) Messages(chatID string) ([]*message.Message, error) {
	return c.messages.List(chatID)
}

// OpenChat marks a chat as active and resets its unread count. Call when
// the chat view becomes visible.
func (c *Client) OpenChat(chatID string) error {
	return c.sessions.SetActive(chatID)
}

// CloseChat marks no chat as active.
func (c *Client) CloseChat() {
	c.sessions.ClearActive()
}

// SendMessage creates an outbound text message in the PENDING state,
// appends it to the chat's log, and hands the encrypted payload to the
// transport. On transport accept the message advances to SENT; otherwise
// it is retried by the reconciliation loop until the retry budget runs
// out, then fails.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) (*message.Message, error) {
	self, err := c.Identity()
	if err != nil {
		return nil, err
	}
	sess, err := c.sessions.Get(chatID)
	if err != nil {
		return nil, err
	}
	key, ok := sessionKeyOf(sess)
	if !ok {
		return nil, ErrNoSessionKey
	}

	msg, err := message.NewOutbound(chatID, self.ID, text)
	if err != nil {
		return nil, err
	}
	if _, err := c.messages.Append(msg); err != nil {
		return nil, err
	}
	if err := c.sessions.RecordOutbound(*msg); err != nil {
		return nil, err
	}

	ciphertext, err := c.provider.Encrypt([]byte(text), key)
	if err != nil {
		// Nothing to transmit; the message fails immediately.
		_ = c.messages.UpdateStatus(chatID, msg.ID, message.StatusFailed)
		return nil, fmt.Errorf("encrypt message: %w", err)
	}

	pending := &pendingSend{chatID: chatID, messageID: msg.ID, ciphertext: ciphertext}
	if !c.trySend(ctx, pending) {
		c.retryMu.Lock()
		c.retries = append(c.retries, pending)
		c.retryMu.Unlock()
	}

	return c.messages.Get(chatID, msg.ID)
}

// CancelMessage moves a non-terminal message to FAILED and drops any
// pending retry for it.
func (c *Client) CancelMessage(chatID, messageID string) error {
	c.retryMu.Lock()
	for i, p := range c.retries {
		if p.chatID == chatID && p.messageID == messageID {
			c.retries = append(c.retries[:i], c.retries[i+1:]...)
			break
		}
	}
	c.retryMu.Unlock()

	return c.messages.UpdateStatus(chatID, messageID, message.StatusFailed)
}

// trySend records an attempt and offers the payload to the transport.
// The return reports whether the send is settled: accepted, failed for
// good, or moot because the message no longer exists. An unsettled send
// stays eligible for retry.
func (c *Client) trySend(ctx context.Context, p *pendingSend) bool {
	attempts, err := c.messages.RecordAttempt(p.chatID, p.messageID)
	if err != nil {
		// Message gone (wiped or cancelled); the retry is moot.
		return true
	}
	p.lastTry = time.Now()

	if err := c.trans.Send(ctx, p.chatID, p.ciphertext); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "trySend",
			"chat_id":    p.chatID,
			"message_id": p.messageID,
			"attempts":   attempts,
			"error":      err.Error(),
		}).Warn("Transport rejected send")

		if attempts >= c.options.RetryBudget {
			if uerr := c.messages.UpdateStatus(p.chatID, p.messageID, message.StatusFailed); uerr != nil {
				logrus.WithFields(logrus.Fields{
					"function":   "trySend",
					"message_id": p.messageID,
					"error":      uerr.Error(),
				}).Warn("Could not mark message failed")
			}
			return true
		}
		return false
	}

	if err := c.messages.UpdateStatus(p.chatID, p.messageID, message.StatusSent); err != nil {
		// Cancelled between attempt and accept; the terminal state wins.
		logrus.WithFields(logrus.Fields{
			"function":   "trySend",
			"message_id": p.messageID,
			"error":      err.Error(),
		}).Debug("Accept acknowledgement ignored")
	}
	return true
}

// Iterate performs a single reconciliation cycle: for every known session
// it refreshes presence, applies peer acknowledgements, pulls inbound
// messages, and then processes the retry queue. One unreachable peer never
// blocks reconciliation of the others.
func (c *Client) Iterate(ctx context.Context) {
	for _, sess := range c.sessions.List() {
		c.reconcileChat(ctx, sess.ID)
	}
	c.processRetries(ctx)
}

// Run executes Iterate on the configured interval until the context is
// cancelled or the client is killed.
func (c *Client) Run(ctx context.Context) {
	ticker := time.NewTicker(c.options.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.Iterate(ctx)
		}
	}
}

// Kill stops the reconciliation loop and releases the transport and
// storage. Idempotent.
func (c *Client) Kill() {
	c.killOnce.Do(func() {
		close(c.stop)
		if err := c.trans.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Kill",
				"error":    err.Error(),
			}).Warn("Transport close failed")
		}
		if err := c.store.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Kill",
				"error":    err.Error(),
			}).Warn("Storage close failed")
		}
	})
}

// reconcileChat merges one peer's transport state into local storage.
// Each step fails independently; errors are logged and the remaining
// steps still run.
func (c *Client) reconcileChat(ctx context.Context, chatID string) {
	if online, err := c.trans.Presence(ctx, chatID); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "reconcileChat",
			"chat_id":  chatID,
			"error":    err.Error(),
		}).Warn("Presence check failed")
	} else if changed, err := c.sessions.SetOnline(chatID, online); err == nil && changed {
		c.callbackMu.RLock()
		callback := c.onPresence
		c.callbackMu.RUnlock()
		if callback != nil {
			callback(chatID, online)
		}
	}

	if receipts, err := c.trans.PollReceipts(ctx, chatID); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "reconcileChat",
			"chat_id":  chatID,
			"error":    err.Error(),
		}).Warn("Receipt poll failed")
	} else {
		for _, r := range receipts {
			c.applyReceipt(chatID, r)
		}
	}

	if envelopes, err := c.trans.PollInbound(ctx, chatID); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "reconcileChat",
			"chat_id":  chatID,
			"error":    err.Error(),
		}).Warn("Inbound poll failed")
	} else {
		for _, env := range envelopes {
			c.handleInbound(chatID, env)
		}
	}
}

// applyReceipt advances a message toward the acknowledged status, one
// legal transition at a time: a read ack implies delivery, and a delivery
// ack implies transport accept, so missing intermediate acks are bridged
// instead of rejected. Late or duplicate acks, including acks for wiped
// messages, are no-ops.
func (c *Client) applyReceipt(chatID string, r transport.Receipt) {
	var target message.Status
	switch r.Kind {
	case transport.ReceiptDelivered:
		target = message.StatusDelivered
	case transport.ReceiptRead:
		target = message.StatusRead
	default:
		logrus.WithFields(logrus.Fields{
			"function":   "applyReceipt",
			"message_id": r.MessageID,
			"kind":       r.Kind,
		}).Warn("Unknown receipt kind ignored")
		return
	}

	msg, err := c.messages.Get(chatID, r.MessageID)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "applyReceipt",
			"chat_id":    chatID,
			"message_id": r.MessageID,
		}).Debug("Receipt for unknown message ignored")
		return
	}

	for msg.Status < target {
		next := msg.Status + 1
		if err := c.messages.UpdateStatus(chatID, msg.ID, next); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "applyReceipt",
				"message_id": msg.ID,
				"error":      err.Error(),
			}).Debug("Receipt did not apply")
			return
		}
		msg.Status = next
	}
}

// handleInbound decrypts and appends one inbound envelope. Duplicates are
// absorbed by the idempotent append; a decryption failure stores a
// placeholder instead of propagating. An envelope for a session that no
// longer exists (wiped between the cycle's session snapshot and the poll)
// is dropped, never persisted.
func (c *Client) handleInbound(chatID string, env transport.Envelope) {
	sess, err := c.sessions.Get(chatID)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "handleInbound",
			"chat_id":    chatID,
			"message_id": env.ID,
		}).Debug("Inbound envelope for unknown session dropped")
		return
	}

	content := DecryptFailedPlaceholder
	if key, ok := sessionKeyOf(sess); ok {
		if plaintext, err := c.provider.Decrypt(env.Ciphertext, key); err == nil {
			content = string(plaintext)
		} else {
			logrus.WithFields(logrus.Fields{
				"function":   "handleInbound",
				"chat_id":    chatID,
				"message_id": env.ID,
			}).Warn("Inbound message failed to decrypt")
		}
	}

	senderID := env.SenderID
	if senderID == "" {
		senderID = chatID
	}
	timestamp := env.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	msg := &message.Message{
		ID:        env.ID,
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		Timestamp: timestamp,
		Status:    message.StatusDelivered,
		Kind:      message.KindText,
	}

	appended, err := c.messages.Append(msg)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "handleInbound",
			"chat_id":    chatID,
			"message_id": env.ID,
			"error":      err.Error(),
		}).Warn("Could not append inbound message")
		return
	}
	if !appended {
		return
	}

	if err := c.sessions.RecordInbound(*msg); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleInbound",
			"chat_id":  chatID,
			"error":    err.Error(),
		}).Warn("Could not record inbound message on session")
	}

	c.callbackMu.RLock()
	callback := c.onMessage
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(*msg)
	}
}

// processRetries re-offers unsettled sends to the transport, spaced by the
// retry interval. Settled entries leave the queue.
func (c *Client) processRetries(ctx context.Context) {
	c.retryMu.Lock()
	pending := make([]*pendingSend, len(c.retries))
	copy(pending, c.retries)
	c.retryMu.Unlock()

	now := time.Now()
	var settled []string
	for _, p := range pending {
		if now.Sub(p.lastTry) < c.options.RetryInterval {
			continue
		}
		// A retry only applies while the message is still pending; a
		// cancel or wipe in the meantime makes it a no-op.
		msg, err := c.messages.Get(p.chatID, p.messageID)
		if err != nil || msg.Status != message.StatusPending {
			settled = append(settled, p.messageID)
			continue
		}
		if c.trySend(ctx, p) {
			settled = append(settled, p.messageID)
		}
	}

	if len(settled) == 0 {
		return
	}
	done := make(map[string]bool, len(settled))
	for _, id := range settled {
		done[id] = true
	}
	c.retryMu.Lock()
	kept := c.retries[:0]
	for _, p := range c.retries {
		if !done[p.messageID] {
			kept = append(kept, p)
		}
	}
	c.retries = kept
	c.retryMu.Unlock()
}

// sessionKeyOf extracts a usable symmetric key from a session record.
func sessionKeyOf(sess *session.ChatSession) ([crypto.KeySize]byte, bool) {
	var key [crypto.KeySize]byte
	if len(sess.EncryptionKey) != crypto.KeySize {
		return key, false
	}
	copy(key[:], sess.EncryptionKey)
	return key, true
}
