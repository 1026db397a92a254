// Package storage provides the persistence port for the CipherChat core:
// namespaced collections of opaque records behind a small Store interface.
//
// The core persists three kinds of state through this port: the single
// identity record, the session records, and one message log collection per
// chat id. Components receive a Store by injection and never assume a
// concrete backend; MemoryStore backs tests and ephemeral profiles, SQLite
// backs durable on-device profiles.
//
// Wipe is the cascading-erase hook: deleting the identity must leave no
// keyed data behind, so identity erasure calls Wipe rather than deleting
// collections one by one.
package storage
