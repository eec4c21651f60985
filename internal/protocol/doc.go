// Package protocol owns the transaction-mux wire header contract.
//
// Ownership boundary:
// - fixed header encode/decode primitives
// - response and invalid-profile reject construction
// - header validation entry points
//
// Payload bytes are opaque at this layer; the engine splits and forwards
// them untouched.
package protocol
