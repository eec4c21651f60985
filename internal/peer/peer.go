package peer

import (
	"github.com/rs/zerolog"

	"github.com/danmuck/txmux/internal/protocol"
	"github.com/danmuck/txmux/internal/transport"
)

// Packet is one decoded inbound message. Fragmentation metadata in the
// header passes through untouched; the body is owned by the packet.
type Packet struct {
	header protocol.Header
	body   []byte
}

func (p Packet) Header() protocol.Header {
	return p.header
}

func (p Packet) Body() []byte {
	return p.body
}

// Config tunes one peer engine.
type Config struct {
	// ProfileID identifies the service multiplexed on this link. Inbound
	// messages carrying any other id are rejected back to the sender.
	ProfileID protocol.ProfileID

	// MaxPending bounds concurrently outstanding outbound transactions.
	// Clamped to the 16-label wire space; zero or negative selects the
	// full space.
	MaxPending int

	// Logger receives engine debug and warning events; nil disables them.
	Logger *zerolog.Logger

	// Metrics receives engine counters; nil disables them.
	Metrics Metrics
}

func (c Config) withDefaults() Config {
	if c.MaxPending <= 0 || c.MaxPending > protocol.LabelSpaceSize {
		c.MaxPending = protocol.LabelSpaceSize
	}
	return c
}

func (c Config) logger() zerolog.Logger {
	if c.Logger == nil {
		return zerolog.Nop()
	}
	return c.Logger.With().Stringer("profile_id", c.ProfileID).Logger()
}

func (c Config) metrics() Metrics {
	if c.Metrics == nil {
		return nopMetrics{}
	}
	return c.Metrics
}

// Peer drives transactions over one message connection.
type Peer struct {
	core *core
}

// New starts the receive loop for mc and returns the peer handle. The peer
// owns mc from here on; Close tears both down.
func New(mc transport.MessageConn, cfg Config) *Peer {
	c := newCore(mc, cfg.withDefaults())
	go c.recvLoop()
	c.log.Debug().Int("max_pending", c.cfg.MaxPending).Msg("peer started")
	return &Peer{core: c}
}

// SendCommand opens a transaction: it borrows a label, sends body as a
// single-packet command and returns the stream the response will arrive
// on. ErrNoFreeLabels means nothing was written. The label stays borrowed
// until the returned stream is closed.
func (p *Peer) SendCommand(body []byte) (*ResponseStream, error) {
	c := p.core

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrPeerClosed
	}
	label, mb, err := c.labels.allocate()
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()

	h := protocol.Header{
		Label:       label,
		PacketType:  protocol.PacketTypeSingle,
		MessageType: protocol.MessageTypeCommand,
		ProfileID:   c.cfg.ProfileID,
	}
	if err := c.sendPacket(h, body, WriteKindCommand); err != nil {
		c.mu.Lock()
		c.labels.release(label)
		c.mu.Unlock()
		return nil, err
	}
	return &ResponseStream{core: c, label: label, mb: mb}, nil
}

// TakeCommandStream claims the shared inbound command queue. Only one
// stream may hold the claim; closing it releases the claim and leaves
// queued commands for the next consumer.
func (p *Peer) TakeCommandStream() (*CommandStream, error) {
	c := p.core

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrPeerClosed
	}
	if c.inbound.claimed {
		return nil, ErrCommandStreamTaken
	}
	c.inbound.claimed = true
	return &CommandStream{core: c}, nil
}

// Snapshot reports engine state for the admin plane and gauges.
type Snapshot struct {
	ProfileID    protocol.ProfileID `json:"profile_id"`
	MaxPending   int                `json:"max_pending"`
	LabelsInUse  int                `json:"labels_in_use"`
	InboundDepth int                `json:"inbound_depth"`
	Claimed      bool               `json:"command_stream_claimed"`
	Connected    bool               `json:"connected"`
}

func (p *Peer) Snapshot() Snapshot {
	c := p.core

	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		ProfileID:    c.cfg.ProfileID,
		MaxPending:   c.cfg.MaxPending,
		LabelsInUse:  c.labels.inUse(),
		InboundDepth: c.inbound.depth(),
		Claimed:      c.inbound.claimed,
		Connected:    !c.closed && !c.disconnected,
	}
}

// Close shuts the transport down and ends the receive loop. Blocked
// consumers resolve with ErrPeerDisconnected. Idempotent.
func (p *Peer) Close() error {
	c := p.core

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.mc.Close()
}
