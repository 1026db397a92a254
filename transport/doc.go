// Package transport defines the abstract peer transport the CipherChat
// core is specified against. Real implementations (LAN discovery, relay
// servers) live outside the core; the reconciliation loop only assumes the
// poll/ack surface declared here.
//
// Send carries an already-encrypted payload; the core never hands the
// transport plaintext. A nil Send error is the transport-accept
// acknowledgement that moves a message from PENDING to SENT. Delivery and
// read acknowledgements from the peer arrive asynchronously as Receipts.
package transport
