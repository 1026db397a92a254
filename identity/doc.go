// Package identity manages the single local identity of a CipherChat
// device: a durable key pair, a nickname, and a cosmetic avatar color.
//
// Exactly one identity exists per device instance. It is created once at
// onboarding and destroyed only by an explicit erase, which cascades to
// every session and message log so no keyed data outlives the keys that
// protect it. The erase is unconditional; confirming the destruction with
// the user is the caller's responsibility.
package identity
