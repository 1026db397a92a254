package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/flynn/noise"
)

// SessionHandshake runs a Noise-IK handshake between two paired identities
// to negotiate the per-session symmetric key. The initiator already knows
// the responder's static public key from the pairing payload, which is
// exactly the IK pattern's precondition. Handshake frames are opaque bytes;
// how they travel (piggybacked on the pairing exchange or relayed by the
// transport) is the caller's concern.
//
// Both sides arrive at the same session key, taken from the handshake's
// channel binding, so the key never crosses the wire.
type SessionHandshake struct {
	handshake *noise.HandshakeState
	initiator bool
	completed bool
	key       [KeySize]byte
	started   time.Time
}

// NewSessionHandshake creates a handshake for one side of a pairing. The
// initiator must supply the peer's static public key; the responder learns
// it from the first frame.
func NewSessionHandshake(initiator bool, static *KeyPair, peerPublicKey []byte) (*SessionHandshake, error) {
	if static == nil {
		return nil, errors.New("static key pair required")
	}
	if initiator {
		if err := ValidatePeerKey(peerPublicKey); err != nil {
			return nil, fmt.Errorf("initiator requires peer key: %w", err)
		}
	}

	cs := noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

	cfg := noise.Config{
		CipherSuite: cs,
		Random:      rand.Reader,
		Pattern:     noise.HandshakeIK,
		Initiator:   initiator,
		StaticKeypair: noise.DHKey{
			Private: static.Private[:],
			Public:  static.Public[:],
		},
	}
	if initiator {
		cfg.PeerStatic = peerPublicKey
	}

	hs, err := noise.NewHandshakeState(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create handshake state: %w", err)
	}

	return &SessionHandshake{
		handshake: hs,
		initiator: initiator,
		started:   time.Now(),
	}, nil
}

// WriteMessage produces the next outbound handshake frame.
func (sh *SessionHandshake) WriteMessage() ([]byte, error) {
	if sh.completed {
		return nil, errors.New("handshake already completed")
	}

	frame, cs1, cs2, err := sh.handshake.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to write handshake message: %w", err)
	}

	if cs1 != nil && cs2 != nil {
		sh.finish()
	}

	return frame, nil
}

// ReadMessage consumes an inbound handshake frame from the peer.
func (sh *SessionHandshake) ReadMessage(frame []byte) error {
	if sh.completed {
		return errors.New("handshake already completed")
	}

	_, cs1, cs2, err := sh.handshake.ReadMessage(nil, frame)
	if err != nil {
		return fmt.Errorf("failed to read handshake message: %w", err)
	}

	if cs1 != nil && cs2 != nil {
		sh.finish()
	}

	return nil
}

// Completed reports whether the handshake has finished.
func (sh *SessionHandshake) Completed() bool {
	return sh.completed
}

// SessionKey returns the negotiated symmetric key. It is only available
// once the handshake has completed.
func (sh *SessionHandshake) SessionKey() ([KeySize]byte, error) {
	if !sh.completed {
		return [KeySize]byte{}, errors.New("handshake not completed")
	}
	return sh.key, nil
}

// PeerPublicKey returns the peer's static public key once known. For the
// responder this is only valid after the first frame has been read.
func (sh *SessionHandshake) PeerPublicKey() []byte {
	return sh.handshake.PeerStatic()
}

// finish captures the channel binding as the session key. The binding is a
// 32-byte hash over the full transcript, identical on both sides.
func (sh *SessionHandshake) finish() {
	copy(sh.key[:], sh.handshake.ChannelBinding())
	sh.completed = true
}
