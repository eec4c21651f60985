package peer

import "errors"

var (
	ErrPeerDisconnected   = errors.New("peer: remote peer disconnected")
	ErrPeerRead           = errors.New("peer: transport read failed")
	ErrPeerWrite          = errors.New("peer: transport write failed")
	ErrNoFreeLabels       = errors.New("peer: no free transaction labels")
	ErrInvalidProfileID   = errors.New("peer: remote rejected profile id")
	ErrCommandStreamTaken = errors.New("peer: command stream already claimed")
	ErrStreamClosed       = errors.New("peer: stream closed")
	ErrPeerClosed         = errors.New("peer: peer closed")
)
