package identity

import (
	"crypto/rand"
	"hash/fnv"
	"math/big"

	"github.com/google/uuid"
)

// Identity is the local device's durable identity, the root of all chat
// activity. The private key never leaves local storage.
type Identity struct {
	ID          string `json:"id"`
	Nickname    string `json:"nickname"`
	PublicKey   []byte `json:"public_key"`
	PrivateKey  []byte `json:"private_key"`
	AvatarColor string `json:"avatar_color"`
}

// avatarPalette is the fixed set of avatar colors users and peers are
// drawn from.
var avatarPalette = []string{
	"red", "orange", "amber", "green", "emerald",
	"teal", "cyan", "sky", "blue", "indigo",
	"violet", "purple", "fuchsia", "pink", "rose",
}

// RandomAvatarColor picks a color for a new local identity.
func RandomAvatarColor() string {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(avatarPalette))))
	if err != nil {
		return avatarPalette[0]
	}
	return avatarPalette[n.Int64()]
}

// AvatarColorFor deterministically assigns a color to a peer id, so a peer
// keeps the same color across devices and restarts without the color ever
// being part of the pairing payload.
func AvatarColorFor(id string) string {
	h := fnv.New32a()
	h.Write([]byte(id))
	return avatarPalette[h.Sum32()%uint32(len(avatarPalette))]
}

// newID generates a fresh unique identity id.
func newID() string {
	return uuid.NewString()
}
