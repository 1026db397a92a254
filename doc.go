// Package cipherchat implements the client-side core of a peer-to-peer,
// end-to-end-encrypted chat application: a local cryptographic identity,
// sessions established through out-of-band pairing, and reliable, ordered,
// idempotent delivery-status tracking without a trusted server.
//
// The Client type ties the pieces together: the identity store, the
// per-chat message logs, the session registry, and the reconciliation loop
// that merges transport state (inbound messages, acknowledgements,
// presence) into local storage. UI layers drive the Client and render what
// it exposes; actual networking is supplied through the transport.Transport
// interface.
//
// Example:
//
//	client, err := cipherchat.New(cipherchat.NewOptions(), trans)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Kill()
//
//	if _, err := client.CreateIdentity("Alice"); err != nil {
//	    log.Fatal(err)
//	}
//	go client.Run(ctx)
package cipherchat
