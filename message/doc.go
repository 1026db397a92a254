// Package message implements the message model for the CipherChat core:
// the append-only, deduplicated per-chat log and the delivery-status state
// machine that drives every outbound message from PENDING to a terminal
// state.
//
// The log is the source of truth for conversation history. Appends are
// idempotent by message id, which is the primary defense against duplicate
// delivery from transport retries or re-synchronization: replaying an
// inbound stream over an existing log is always safe. Status transitions
// are validated against the transition table and persisted atomically with
// their change notification, so observers never see a status the store has
// not recorded.
package message
