package peer

import (
	"context"
	"fmt"

	"github.com/danmuck/txmux/internal/protocol"
)

// Command is one inbound transaction the remote opened. SendResponse
// answers it on the same label with the same packet type and profile id.
type Command struct {
	core   *core
	header protocol.Header
	body   []byte
}

func (c *Command) Header() protocol.Header {
	return c.header
}

func (c *Command) Body() []byte {
	return c.body
}

func (c *Command) SendResponse(body []byte) error {
	return c.core.sendPacket(c.header.CreateResponse(), body, WriteKindResponse)
}

// CommandStream is the claimed view of the shared inbound command queue.
type CommandStream struct {
	core   *core
	closed bool // guarded by core.mu
}

// Next blocks until a command arrives. Once the connection is down and the
// queue is drained it returns ErrPeerDisconnected, or the terminal read
// error when the transport failed mid-read. Cancelling ctx never loses a
// queued command.
func (s *CommandStream) Next(ctx context.Context) (*Command, error) {
	c := s.core
	for {
		c.mu.Lock()
		if s.closed {
			c.mu.Unlock()
			return nil, ErrStreamClosed
		}
		if pkt, ok := c.inbound.pop(); ok {
			c.mu.Unlock()
			return &Command{core: c, header: pkt.header, body: pkt.body}, nil
		}
		if c.disconnected {
			err := c.terminalLocked()
			c.mu.Unlock()
			return nil, err
		}
		c.mu.Unlock()

		select {
		case <-c.inbound.signal:
		case <-c.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close releases the single-consumer claim. Queued commands stay queued
// for a later TakeCommandStream. Idempotent.
func (s *CommandStream) Close() error {
	c := s.core

	c.mu.Lock()
	if !s.closed {
		s.closed = true
		c.inbound.claimed = false
	}
	c.mu.Unlock()
	return nil
}

// ResponseStream delivers the packets answering one outbound command.
type ResponseStream struct {
	core   *core
	label  protocol.TransactionLabel
	mb     *mailbox
	closed bool // guarded by core.mu
}

// Label reports the transaction label this stream is bound to.
func (s *ResponseStream) Label() protocol.TransactionLabel {
	return s.label
}

// Next blocks until the next response packet for this transaction arrives.
// A reject from the remote surfaces as ErrInvalidProfileID. Packets that
// arrived before a disconnect are still delivered before
// ErrPeerDisconnected.
func (s *ResponseStream) Next(ctx context.Context) (Packet, error) {
	c := s.core
	for {
		c.mu.Lock()
		if s.closed {
			c.mu.Unlock()
			return Packet{}, ErrStreamClosed
		}
		if pkt, ok := s.mb.pop(); ok {
			c.mu.Unlock()
			if pkt.header.IsInvalidProfileID() {
				return Packet{}, fmt.Errorf("%w: %s", ErrInvalidProfileID, pkt.header.ProfileID)
			}
			return pkt, nil
		}
		if c.disconnected {
			err := c.terminalLocked()
			c.mu.Unlock()
			return Packet{}, err
		}
		c.mu.Unlock()

		select {
		case <-s.mb.signal:
		case <-c.done:
		case <-ctx.Done():
			return Packet{}, ctx.Err()
		}
	}
}

// Close ends the transaction and returns its label to the table; packets
// still queued for the label are dropped. Idempotent.
func (s *ResponseStream) Close() error {
	c := s.core

	c.mu.Lock()
	if !s.closed {
		s.closed = true
		c.labels.release(s.label)
	}
	c.mu.Unlock()
	return nil
}
