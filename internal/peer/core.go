package peer

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/danmuck/txmux/internal/protocol"
	"github.com/danmuck/txmux/internal/transport"
)

const readBufferSize = transport.DefaultMaxMessage

// core is the shared state behind a Peer and its streams. One receive
// goroutine owns all transport reads; mu guards the label table, the
// inbound queue and the lifecycle flags; wmu serializes transport writes so
// handler responses and loop-originated rejects interleave safely. Critical
// sections under mu never perform I/O.
type core struct {
	mc      transport.MessageConn
	cfg     Config
	log     zerolog.Logger
	metrics Metrics

	mu           sync.Mutex
	labels       *labelTable
	inbound      *mailbox
	closed       bool
	disconnected bool
	readErr      error

	// closed by the receive loop on exit; wakes every parked consumer
	done chan struct{}

	wmu  sync.Mutex
	wbuf []byte
}

func newCore(mc transport.MessageConn, cfg Config) *core {
	c := &core{
		mc:      mc,
		cfg:     cfg,
		log:     cfg.logger(),
		metrics: cfg.metrics(),
		labels:  newLabelTable(cfg.MaxPending),
		inbound: newMailbox(),
		done:    make(chan struct{}),
	}
	return c
}

// recvLoop owns every ReadMessage for the life of the connection and fans
// decoded packets out to mailboxes. Transport read timeouts re-arm the
// loop; everything else ends it.
func (c *core) recvLoop() {
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.mc.ReadMessage(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			c.finish(err)
			return
		}
		if n == 0 {
			continue
		}
		c.dispatch(buf[:n])
	}
}

// finish records the terminal condition and wakes every consumer. A clean
// remote shutdown and a locally initiated Close both read as disconnection;
// anything else is preserved as the terminal read error.
func (c *core) finish(err error) {
	c.mu.Lock()
	clean := c.closed ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed)
	if !clean {
		c.readErr = fmt.Errorf("%w: %v", ErrPeerRead, err)
	}
	c.disconnected = true
	c.mu.Unlock()
	close(c.done)

	if clean {
		c.log.Debug().Msg("peer disconnected")
		return
	}
	c.log.Warn().Err(err).Msg("peer receive loop ended")
}

func (c *core) dispatch(msg []byte) {
	h, err := protocol.DecodeHeader(msg)
	if err != nil {
		c.metrics.MessageRead(ReadDroppedShortHeader)
		c.log.Debug().Int("bytes", len(msg)).Msg("dropped message with short header")
		return
	}

	if carriesProfileID(h.PacketType) && h.ProfileID != c.cfg.ProfileID {
		c.metrics.MessageRead(ReadRejectedProfile)
		// never counter-reject a reject, or two mismatched engines would
		// bounce them forever
		if !h.IsInvalidProfileID() {
			reject := h.CreateInvalidProfileIDResponse()
			if err := c.sendPacket(reject, nil, WriteKindReject); err != nil {
				c.log.Warn().Err(err).
					Stringer("profile_id", h.ProfileID).
					Msg("invalid profile reject not sent")
			}
		}
		c.log.Debug().
			Stringer("profile_id", h.ProfileID).
			Uint8("label", uint8(h.Label)).
			Msg("dropped message for foreign profile")
		return
	}

	raw := msg[h.EncodedLen():]
	if len(raw) == 0 && !isReject(h) {
		// rejects are pure header-level signaling and stay deliverable;
		// any other header-only message is noise
		c.metrics.MessageRead(ReadDroppedNoBody)
		c.log.Debug().
			Uint8("label", uint8(h.Label)).
			Stringer("message_type", h.MessageType).
			Msg("dropped header-only message")
		return
	}

	// the read buffer is reused; the packet owns its own copy
	body := make([]byte, len(raw))
	copy(body, raw)
	pkt := Packet{header: h, body: body}

	switch h.MessageType {
	case protocol.MessageTypeCommand:
		c.mu.Lock()
		c.inbound.push(pkt)
		depth := c.inbound.depth()
		c.mu.Unlock()
		c.metrics.MessageRead(ReadDispatchedCommand)
		c.log.Debug().
			Uint8("label", uint8(h.Label)).
			Int("bytes", len(body)).
			Int("queue_depth", depth).
			Msg("command queued")
	case protocol.MessageTypeResponse:
		c.mu.Lock()
		mb, ok := c.labels.lookup(h.Label)
		if ok {
			mb.push(pkt)
		}
		c.mu.Unlock()
		if !ok {
			c.metrics.MessageRead(ReadDroppedUnknownLabel)
			c.log.Debug().
				Uint8("label", uint8(h.Label)).
				Msg("dropped response for unknown label")
			return
		}
		c.metrics.MessageRead(ReadDispatchedResponse)
	}
}

// sendPacket encodes the header, appends the body and writes the pair as
// one message. Failures are never retried here.
func (c *core) sendPacket(h protocol.Header, body []byte, kind string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrPeerClosed
	}
	c.mu.Unlock()

	c.wmu.Lock()
	defer c.wmu.Unlock()

	hlen := h.EncodedLen()
	need := hlen + len(body)
	if cap(c.wbuf) < need {
		c.wbuf = make([]byte, need)
	}
	frame := c.wbuf[:need]
	if err := h.Encode(frame[:hlen]); err != nil {
		return err
	}
	copy(frame[hlen:], body)

	if _, err := c.mc.WriteMessage(frame); err != nil {
		return fmt.Errorf("%w: %v", ErrPeerWrite, err)
	}
	c.metrics.MessageWritten(kind)
	c.log.Debug().
		Uint8("label", uint8(h.Label)).
		Stringer("message_type", h.MessageType).
		Int("bytes", len(body)).
		Str("kind", kind).
		Msg("message written")
	return nil
}

// terminalLocked reports the error consumers see once the queue is empty.
// Callers hold mu.
func (c *core) terminalLocked() error {
	if c.readErr != nil {
		return c.readErr
	}
	return ErrPeerDisconnected
}

func carriesProfileID(pt protocol.PacketType) bool {
	return pt == protocol.PacketTypeSingle || pt == protocol.PacketTypeStart
}

func isReject(h protocol.Header) bool {
	return h.MessageType == protocol.MessageTypeResponse && h.IsInvalidProfileID()
}
