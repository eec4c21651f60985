package transport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
)

var (
	ErrMessageTooLarge = errors.New("transport: message exceeds size limit")
	ErrShortReadBuffer = errors.New("transport: read buffer smaller than message")
)

// DefaultMaxMessage bounds a single packetized message. It comfortably holds
// the largest header plus a fragment payload and keeps a hostile length
// prefix from forcing a giant allocation.
const DefaultMaxMessage = 64 * 1024

const lenPrefixSize = 2

// PacketizedConn carries whole messages over a stream connection by
// prefixing each one with a big-endian uint16 length. It restores the
// boundary guarantee that TCP and TLS streams do not provide.
type PacketizedConn struct {
	conn net.Conn
	br   *bufio.Reader
	max  int

	// scratch for WriteMessage so prefix and payload leave in one Write,
	// which keeps one TLS record per message
	wbuf []byte
}

// Packetize wraps a stream connection. limit bounds the size of a single
// message in either direction; limit <= 0 selects DefaultMaxMessage.
func Packetize(conn net.Conn, limit int) *PacketizedConn {
	if limit <= 0 {
		limit = DefaultMaxMessage
	}
	if limit > 0xFFFF {
		limit = 0xFFFF
	}
	return &PacketizedConn{
		conn: conn,
		br:   bufio.NewReader(conn),
		max:  limit,
	}
}

// ReadMessage reads the next length-prefixed message into buf. A clean EOF
// on the prefix boundary is reported as io.EOF; an EOF inside a message is
// io.ErrUnexpectedEOF because the stream died mid-frame.
func (p *PacketizedConn) ReadMessage(buf []byte) (int, error) {
	var prefix [lenPrefixSize]byte
	if _, err := io.ReadFull(p.br, prefix[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, io.ErrUnexpectedEOF
		}
		return 0, err
	}

	n := int(binary.BigEndian.Uint16(prefix[:]))
	if n > p.max {
		// drain so the stream stays framed, then refuse the message
		if _, err := io.CopyN(io.Discard, p.br, int64(n)); err != nil {
			return 0, fmt.Errorf("%w: draining oversize message: %v", ErrMessageTooLarge, err)
		}
		return 0, fmt.Errorf("%w: %d bytes, limit %d", ErrMessageTooLarge, n, p.max)
	}
	if n > len(buf) {
		if _, err := io.CopyN(io.Discard, p.br, int64(n)); err != nil {
			return 0, fmt.Errorf("%w: draining message: %v", ErrShortReadBuffer, err)
		}
		return 0, fmt.Errorf("%w: message %d bytes, buffer %d", ErrShortReadBuffer, n, len(buf))
	}
	if n == 0 {
		return 0, nil
	}
	if _, err := io.ReadFull(p.br, buf[:n]); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, io.ErrUnexpectedEOF
		}
		return 0, err
	}
	return n, nil
}

// WriteMessage sends p as one length-prefixed message. Not safe for
// concurrent writers; the engine serializes sends above this layer.
func (p *PacketizedConn) WriteMessage(b []byte) (int, error) {
	if len(b) > p.max {
		return 0, fmt.Errorf("%w: %d bytes, limit %d", ErrMessageTooLarge, len(b), p.max)
	}
	need := lenPrefixSize + len(b)
	if cap(p.wbuf) < need {
		p.wbuf = make([]byte, need)
	}
	frame := p.wbuf[:need]
	binary.BigEndian.PutUint16(frame[:lenPrefixSize], uint16(len(b)))
	copy(frame[lenPrefixSize:], b)
	if _, err := p.conn.Write(frame); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (p *PacketizedConn) Close() error {
	return p.conn.Close()
}

// Underlying exposes the wrapped stream connection.
func (p *PacketizedConn) Underlying() net.Conn {
	return p.conn
}
