package storage

import "errors"

// ErrKeyNotFound indicates that a record does not exist in the collection.
var ErrKeyNotFound = errors.New("key not found")

// Collection names used by the core. Message logs use one collection per
// chat id, built with MessagesCollection.
const (
	CollectionIdentity = "identity"
	CollectionSessions = "sessions"

	messagesPrefix = "messages/"
)

// MessagesCollection returns the collection name holding a chat's message log.
func MessagesCollection(chatID string) string {
	return messagesPrefix + chatID
}

// Store is the injected persistence port. Implementations must support
// concurrent reads during writes to other keys; the core's per-chat
// serialization handles ordering within a collection.
type Store interface {
	// Put stores a record, replacing any existing value for the key. A
	// replaced record keeps its original position in the collection order.
	Put(collection, key string, value []byte) error

	// Get retrieves a record, or ErrKeyNotFound.
	Get(collection, key string) ([]byte, error)

	// List returns all records of a collection in insertion order. A
	// missing collection yields an empty list, not an error.
	List(collection string) ([][]byte, error)

	// Delete removes a record. Deleting an absent key is a no-op.
	Delete(collection, key string) error

	// Wipe removes every collection. This is the cascading hook behind
	// identity erasure and is irreversible.
	Wipe() error

	// Close releases backend resources.
	Close() error
}
