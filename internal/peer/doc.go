// Package peer multiplexes request/response transactions over one duplex
// message connection.
//
// Ownership boundary:
// - transaction label allocation and correlation
// - the single receive loop that owns all transport reads
// - inbound command queueing and the single-consumer claim
// - serialized transaction and response writes
//
// Outbound commands borrow a 4-bit label for the life of their
// ResponseStream; inbound commands from the remote land in one shared
// stream a consumer claims with TakeCommandStream. Packet fragmentation
// metadata passes through untouched.
package peer
