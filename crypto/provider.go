package crypto

// Provider is the pluggable cryptographic capability the rest of the core
// depends on. The delivery and storage layers never reference a concrete
// scheme; swapping Provider implementations must not change their behavior
// as long as Encrypt/Decrypt round-trip under a correctly paired key.
type Provider interface {
	// GenerateKeyPair creates a fresh identity key pair.
	GenerateKeyPair() (*KeyPair, error)

	// DeriveSessionKey produces the symmetric key shared with a peer.
	DeriveSessionKey(peerPublicKey, privateKey [KeySize]byte) ([KeySize]byte, error)

	// Encrypt seals plaintext under a session key for transport.
	Encrypt(plaintext []byte, key [KeySize]byte) ([]byte, error)

	// Decrypt opens a ciphertext; fails with ErrDecryptionFailed on
	// malformed input or key mismatch rather than panicking.
	Decrypt(ciphertext []byte, key [KeySize]byte) ([]byte, error)

	// ValidatePeerKey sanity-checks a public key from a pairing payload.
	ValidatePeerKey(key []byte) error
}

// NaClProvider implements Provider with NaCl box key pairs, X25519 session
// keys, and secretbox authenticated encryption.
type NaClProvider struct{}

// NewNaClProvider creates the default Provider implementation.
func NewNaClProvider() *NaClProvider {
	return &NaClProvider{}
}

// GenerateKeyPair implements Provider.GenerateKeyPair.
func (p *NaClProvider) GenerateKeyPair() (*KeyPair, error) {
	return GenerateKeyPair()
}

// DeriveSessionKey implements Provider.DeriveSessionKey.
func (p *NaClProvider) DeriveSessionKey(peerPublicKey, privateKey [KeySize]byte) ([KeySize]byte, error) {
	return DeriveSessionKey(peerPublicKey, privateKey)
}

// Encrypt implements Provider.Encrypt.
func (p *NaClProvider) Encrypt(plaintext []byte, key [KeySize]byte) ([]byte, error) {
	return EncryptMessage(plaintext, key)
}

// Decrypt implements Provider.Decrypt.
func (p *NaClProvider) Decrypt(ciphertext []byte, key [KeySize]byte) ([]byte, error) {
	return DecryptMessage(ciphertext, key)
}

// ValidatePeerKey implements Provider.ValidatePeerKey.
func (p *NaClProvider) ValidatePeerKey(key []byte) error {
	return ValidatePeerKey(key)
}
