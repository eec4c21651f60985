package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
)

// ErrDatagramTLS rejects TLS over packet sockets; TLS needs a byte stream.
var ErrDatagramTLS = errors.New("transport: tls not supported over datagram sockets")

// Dial connects to addr and returns a MessageConn for it. unixpacket sockets
// pass through as datagrams; stream networks are packetized with a length
// prefix, optionally under TLS per sec. limit bounds packetized message size
// and is ignored for datagram sockets.
func Dial(ctx context.Context, network, addr string, sec SecurityConfig, limit int) (MessageConn, error) {
	if err := sec.ValidateClient(); err != nil {
		return nil, err
	}
	if network == "unixpacket" && sec.TLS.Enabled {
		return nil, ErrDatagramTLS
	}

	var dialer net.Dialer
	raw, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	if network == "unixpacket" {
		return Datagram(raw), nil
	}
	if !sec.TLS.Enabled {
		return Packetize(raw, limit), nil
	}

	tlsCfg, err := sec.ClientTLSConfig(addr)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	conn := tls.Client(raw, tlsCfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return Packetize(conn, limit), nil
}

// Listener accepts MessageConns, applying the same per-network wrapping as
// Dial. TLS handshakes complete lazily on first read.
type Listener struct {
	inner   net.Listener
	network string
	limit   int
	tlsCfg  *tls.Config
}

// Listen binds addr and returns a message-oriented listener.
func Listen(network, addr string, sec SecurityConfig, limit int) (*Listener, error) {
	if err := sec.ValidateServer(); err != nil {
		return nil, err
	}
	if network == "unixpacket" && sec.TLS.Enabled {
		return nil, ErrDatagramTLS
	}

	var tlsCfg *tls.Config
	if sec.TLS.Enabled {
		var err error
		tlsCfg, err = sec.ServerTLSConfig()
		if err != nil {
			return nil, err
		}
	}
	inner, err := net.Listen(network, addr)
	if err != nil {
		return nil, err
	}
	return &Listener{
		inner:   inner,
		network: network,
		limit:   limit,
		tlsCfg:  tlsCfg,
	}, nil
}

func (l *Listener) Accept() (MessageConn, error) {
	raw, err := l.inner.Accept()
	if err != nil {
		return nil, err
	}
	if l.network == "unixpacket" {
		return Datagram(raw), nil
	}
	if l.tlsCfg != nil {
		return Packetize(tls.Server(raw, l.tlsCfg), l.limit), nil
	}
	return Packetize(raw, l.limit), nil
}

func (l *Listener) Close() error {
	return l.inner.Close()
}

func (l *Listener) Addr() net.Addr {
	return l.inner.Addr()
}
