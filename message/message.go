package message

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status represents the delivery state of a message.
type Status uint8

const (
	// StatusPending means the message was created locally and no transport
	// acknowledgement has been seen yet.
	StatusPending Status = iota
	// StatusSent means the transport accepted the encrypted payload.
	StatusSent
	// StatusDelivered means the peer's transport acknowledged receipt.
	StatusDelivered
	// StatusRead means the peer's client acknowledged display. Terminal.
	StatusRead
	// StatusFailed means the send was cancelled, errored, or exhausted its
	// retry budget. Terminal.
	StatusFailed
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can leave this status.
func (s Status) Terminal() bool {
	return s == StatusRead || s == StatusFailed
}

// ValidTransition encodes the delivery state machine:
//
//	PENDING   -> SENT      transport accept
//	PENDING   -> FAILED    transport error / timeout
//	SENT      -> DELIVERED peer delivery ack
//	SENT      -> FAILED    retry budget exhausted
//	DELIVERED -> READ      peer read ack
//	non-terminal -> FAILED explicit cancel
//
// Statuses only travel forward; the sole non-forward move is into FAILED
// from any non-terminal state. A same-status "transition" is not valid
// here; callers treat it as an idempotent re-acknowledgement instead.
func ValidTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	switch from {
	case StatusPending:
		return to == StatusSent
	case StatusSent:
		return to == StatusDelivered
	case StatusDelivered:
		return to == StatusRead
	default:
		return false
	}
}

// Kind represents the payload kind of a message.
type Kind uint8

const (
	// KindText is a plain text message.
	KindText Kind = iota
	// KindImage is an image payload.
	KindImage
	// KindFile is a generic file payload.
	KindFile
)

// ErrEmptyContent indicates an attempt to create a message with no content.
var ErrEmptyContent = errors.New("message content cannot be empty")

// Message is one entry in a chat's log. Messages are immutable once
// appended except for Status and Attempts, which only the owning Store
// mutates.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
	Kind      Kind      `json:"kind"`
	IsMe      bool      `json:"is_me"`
	Attempts  int       `json:"attempts"`
}

// NewOutbound creates a locally-authored text message in the initial
// PENDING state with a fresh globally unique id.
func NewOutbound(chatID, senderID, content string) (*Message, error) {
	if len(content) == 0 {
		return nil, ErrEmptyContent
	}

	return &Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		Timestamp: time.Now(),
		Status:    StatusPending,
		Kind:      KindText,
		IsMe:      true,
	}, nil
}
