package transport

import (
	"context"
	"sync"
)

// SentPacket records one payload accepted by the Loopback transport.
type SentPacket struct {
	PeerID     string
	Ciphertext []byte
}

// Loopback is an in-memory Transport for tests and demos. Inbound
// messages, receipts, presence, and send failures are all seeded by the
// test driving it.
type Loopback struct {
	mu       sync.Mutex
	inbound  map[string][]Envelope
	receipts map[string][]Receipt
	online   map[string]bool
	sendErr  map[string]error
	pollErr  map[string]error
	sent     []SentPacket
	closed   bool
}

// NewLoopback creates an empty loopback transport.
func NewLoopback() *Loopback {
	return &Loopback{
		inbound:  make(map[string][]Envelope),
		receipts: make(map[string][]Receipt),
		online:   make(map[string]bool),
		sendErr:  make(map[string]error),
		pollErr:  make(map[string]error),
	}
}

// Send implements Transport.Send.
func (l *Loopback) Send(ctx context.Context, peerID string, ciphertext []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.sendErr[peerID]; err != nil {
		return err
	}

	payload := make([]byte, len(ciphertext))
	copy(payload, ciphertext)
	l.sent = append(l.sent, SentPacket{PeerID: peerID, Ciphertext: payload})
	return nil
}

// PollInbound implements Transport.PollInbound, draining the seeded queue.
func (l *Loopback) PollInbound(ctx context.Context, peerID string) ([]Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.pollErr[peerID]; err != nil {
		return nil, err
	}
	out := l.inbound[peerID]
	delete(l.inbound, peerID)
	return out, nil
}

// PollReceipts implements Transport.PollReceipts, draining seeded acks.
func (l *Loopback) PollReceipts(ctx context.Context, peerID string) ([]Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.pollErr[peerID]; err != nil {
		return nil, err
	}
	out := l.receipts[peerID]
	delete(l.receipts, peerID)
	return out, nil
}

// Presence implements Transport.Presence.
func (l *Loopback) Presence(ctx context.Context, peerID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.pollErr[peerID]; err != nil {
		return false, err
	}
	return l.online[peerID], nil
}

// Close implements Transport.Close.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// QueueInbound seeds an inbound envelope for the next PollInbound.
func (l *Loopback) QueueInbound(peerID string, env Envelope) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inbound[peerID] = append(l.inbound[peerID], env)
}

// QueueReceipt seeds an acknowledgement for the next PollReceipts.
func (l *Loopback) QueueReceipt(peerID string, r Receipt) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receipts[peerID] = append(l.receipts[peerID], r)
}

// SetOnline controls a peer's presence flag.
func (l *Loopback) SetOnline(peerID string, online bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.online[peerID] = online
}

// FailSends makes Send to a peer fail with the given error; nil restores
// normal behavior.
func (l *Loopback) FailSends(peerID string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.sendErr, peerID)
		return
	}
	l.sendErr[peerID] = err
}

// FailPolls makes PollInbound, PollReceipts, and Presence for a peer fail
// with the given error; nil restores normal behavior.
func (l *Loopback) FailPolls(peerID string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.pollErr, peerID)
		return
	}
	l.pollErr[peerID] = err
}

// Sent returns a copy of every payload accepted so far.
func (l *Loopback) Sent() []SentPacket {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]SentPacket, len(l.sent))
	copy(out, l.sent)
	return out
}
