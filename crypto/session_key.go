package crypto

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/curve25519"
)

// DeriveSessionKey computes the per-session symmetric key between the local
// identity and a paired peer using Elliptic Curve Diffie-Hellman (ECDH) on
// Curve25519. Both sides derive the same key from their own private key and
// the other's public key, so no key material crosses the wire beyond the
// public halves already exchanged during pairing.
func DeriveSessionKey(peerPublicKey, privateKey [KeySize]byte) ([KeySize]byte, error) {
	logrus.WithFields(logrus.Fields{
		"function":        "DeriveSessionKey",
		"peer_key_prefix": fmt.Sprintf("%x", peerPublicKey[:8]),
	}).Debug("Computing session key using ECDH")

	var privateKeyCopy [KeySize]byte
	copy(privateKeyCopy[:], privateKey[:])

	sharedSecret, err := curve25519.X25519(privateKeyCopy[:], peerPublicKey[:])
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "DeriveSessionKey",
			"error":    err.Error(),
		}).Error("X25519 computation failed")

		ZeroBytes(privateKeyCopy[:])
		return [KeySize]byte{}, fmt.Errorf("failed to derive session key: %w", err)
	}

	var result [KeySize]byte
	copy(result[:], sharedSecret)

	ZeroBytes(privateKeyCopy[:])
	ZeroBytes(sharedSecret)

	return result, nil
}
