package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opd-ai/cipherchat/crypto"
	"github.com/opd-ai/cipherchat/identity"
)

// DescriptorVersion is the pairing payload version this client emits.
const DescriptorVersion = 1

// PeerDescriptor is the out-of-band pairing payload, exchanged via QR code
// or manual text entry. The record is open and versionable: decoding
// tolerates unknown additional fields, so older clients can read payloads
// from newer ones.
type PeerDescriptor struct {
	Version int    `json:"v"`
	ID      string `json:"id"`
	Name    string `json:"name"`
	Key     []byte `json:"key"`
}

// ParsePeerDescriptor decodes and validates a pairing payload.
func ParsePeerDescriptor(payload []byte) (*PeerDescriptor, error) {
	var desc PeerDescriptor
	if err := json.Unmarshal(payload, &desc); err != nil {
		return nil, fmt.Errorf("decode pairing payload: %w", err)
	}

	if desc.ID == "" {
		return nil, errors.New("pairing payload missing peer id")
	}
	if desc.Name == "" {
		return nil, errors.New("pairing payload missing peer name")
	}
	if err := crypto.ValidatePeerKey(desc.Key); err != nil {
		return nil, fmt.Errorf("pairing payload key invalid: %w", err)
	}

	return &desc, nil
}

// ExportDescriptor produces the pairing payload for the local identity,
// ready to be rendered as a QR code or shared as text.
func ExportDescriptor(id *identity.Identity) ([]byte, error) {
	if id == nil {
		return nil, errors.New("identity required")
	}
	if err := crypto.ValidatePeerKey(id.PublicKey); err != nil {
		return nil, fmt.Errorf("identity key invalid: %w", err)
	}

	return json.Marshal(&PeerDescriptor{
		Version: DescriptorVersion,
		ID:      id.ID,
		Name:    id.Nickname,
		Key:     id.PublicKey,
	})
}
