// Package session manages the durable relationship with each paired peer:
// the ChatSession record and the registry operations the UI drives
// (pairing upsert, conversation listing, unread bookkeeping, presence).
//
// A session is created on successful pairing and never implicitly deleted;
// only a cascading identity wipe removes it. The last-message preview and
// its timestamp are a denormalized cache over the chat's message log,
// recomputed from the log's maximum-timestamp entry rather than mutated
// independently.
package session
