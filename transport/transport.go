package transport

import (
	"context"
	"time"
)

// ReceiptKind distinguishes peer acknowledgements.
type ReceiptKind uint8

const (
	// ReceiptDelivered means the peer's transport acknowledged receipt.
	ReceiptDelivered ReceiptKind = iota
	// ReceiptRead means the peer's client acknowledged display.
	ReceiptRead
)

// String returns a human-readable receipt kind.
func (k ReceiptKind) String() string {
	switch k {
	case ReceiptDelivered:
		return "delivered"
	case ReceiptRead:
		return "read"
	default:
		return "unknown"
	}
}

// Receipt is an asynchronous acknowledgement for an outbound message.
type Receipt struct {
	MessageID string
	Kind      ReceiptKind
}

// Envelope is an inbound encrypted message as handed over by the
// transport. The id travels with the ciphertext so re-delivered envelopes
// deduplicate against the local log.
type Envelope struct {
	ID         string
	SenderID   string
	Ciphertext []byte
	Timestamp  time.Time
}

// Transport is the abstract peer transport. Implementations must be safe
// for concurrent use; the reconciliation loop polls every known peer each
// cycle.
type Transport interface {
	// Send delivers an encrypted payload to a peer. A nil return is the
	// transport-accept acknowledgement.
	Send(ctx context.Context, peerID string, ciphertext []byte) error

	// PollInbound drains newly arrived messages from a peer. Re-delivery
	// of already-seen envelopes is allowed; the caller deduplicates.
	PollInbound(ctx context.Context, peerID string) ([]Envelope, error)

	// PollReceipts drains pending delivery/read acknowledgements from a
	// peer.
	PollReceipts(ctx context.Context, peerID string) ([]Receipt, error)

	// Presence reports whether a peer is currently reachable.
	Presence(ctx context.Context, peerID string) (bool, error)

	// Close shuts down the transport.
	Close() error
}
