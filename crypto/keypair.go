package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// KeySize is the length in bytes of public, private, and session keys.
const KeySize = 32

// KeyPair represents a NaCl crypto_box key pair backing a local identity.
type KeyPair struct {
	Public  [KeySize]byte
	Private [KeySize]byte
}

// GenerateKeyPair creates a new random NaCl key pair.
func GenerateKeyPair() (*KeyPair, error) {
	publicKey, privateKey, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	keyPair := &KeyPair{
		Public:  *publicKey,
		Private: *privateKey,
	}

	return keyPair, nil
}

// FromSecretKey reconstructs a key pair from an existing private key,
// deriving the public half on the curve.
func FromSecretKey(secretKey [KeySize]byte) (*KeyPair, error) {
	if isZeroKey(secretKey[:]) {
		return nil, errors.New("invalid secret key: all zeros")
	}

	publicSlice, err := curve25519.X25519(secretKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	var publicKey [KeySize]byte
	copy(publicKey[:], publicSlice)

	return &KeyPair{
		Public:  publicKey,
		Private: secretKey,
	}, nil
}

// ValidatePeerKey checks that a public key received through pairing is
// usable: correct length and not all zeros. Pairing payloads arrive from
// QR scans or manual entry, so malformed keys are an expected input.
func ValidatePeerKey(key []byte) error {
	if len(key) != KeySize {
		return errors.New("peer key must be 32 bytes")
	}
	if isZeroKey(key) {
		return errors.New("peer key is all zeros")
	}
	return nil
}

// ZeroBytes overwrites a byte slice with zeros. Used to wipe key material
// once it has been persisted or is no longer needed.
func ZeroBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}

// isZeroKey checks if a key consists of all zeros.
func isZeroKey(key []byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}
