// Package crypto implements the cryptographic primitives for the CipherChat
// core: identity key pairs, per-session symmetric keys, and authenticated
// message encryption using the NaCl constructions from Go's x/crypto packages.
//
// The rest of the core depends only on the Provider interface, so the
// concrete scheme can be swapped without touching the delivery or storage
// layers. The guarantees callers rely on are round-trip correctness for any
// plaintext under a correctly paired key, and that decryption of malformed
// or mismatched input fails with ErrDecryptionFailed instead of panicking.
//
// Example:
//
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Public key:", hex.EncodeToString(keys.Public[:]))
package crypto
