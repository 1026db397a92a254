package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/nacl/secretbox"
)

// NonceSize is the length of the random nonce prepended to every ciphertext.
const NonceSize = 24

// MaxMessageSize caps plaintext length (1MB) to prevent excessive memory use.
const MaxMessageSize = 1024 * 1024

// ErrDecryptionFailed indicates that a ciphertext could not be authenticated
// and decrypted: truncated input, a replayed nonce, or a session-key
// mismatch. Callers render a placeholder instead of propagating it as fatal.
var ErrDecryptionFailed = errors.New("decryption failed")

// Nonce is a 24-byte value used once per encryption.
type Nonce [NonceSize]byte

// GenerateNonce creates a cryptographically secure random nonce.
func GenerateNonce() (Nonce, error) {
	var nonce Nonce
	_, err := rand.Read(nonce[:])
	if err != nil {
		return Nonce{}, err
	}
	return nonce, nil
}

// EncryptMessage encrypts plaintext under a per-session symmetric key using
// NaCl's secretbox (authenticated encryption). The random nonce is prepended
// to the returned ciphertext, so the output is self-contained for transport.
func EncryptMessage(plaintext []byte, key [KeySize]byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, errors.New("empty message")
	}

	if len(plaintext) > MaxMessageSize {
		return nil, errors.New("message too large")
	}

	nonce, err := GenerateNonce()
	if err != nil {
		return nil, err
	}

	out := secretbox.Seal(nonce[:], plaintext, (*[NonceSize]byte)(&nonce), (*[KeySize]byte)(&key))

	return out, nil
}
