// Package transport owns duplex message-oriented connection plumbing.
//
// Ownership boundary:
// - the MessageConn contract consumed by the engine
// - datagram passthrough and length-prefix stream packetizing
// - the in-memory message pipe used by tests
// - TLS/mTLS configuration, validation, dial and listen helpers
//
// A MessageConn reads and writes whole messages; the engine above this
// package never sees partial frames.
package transport
