package crypto

import (
	"golang.org/x/crypto/nacl/secretbox"
)

// DecryptMessage authenticates and decrypts a ciphertext produced by
// EncryptMessage. It never panics: any malformed input or key mismatch
// yields ErrDecryptionFailed.
func DecryptMessage(ciphertext []byte, key [KeySize]byte) ([]byte, error) {
	if len(ciphertext) <= NonceSize {
		return nil, ErrDecryptionFailed
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	out, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, (*[KeySize]byte)(&key))
	if !ok {
		return nil, ErrDecryptionFailed
	}

	return out, nil
}
