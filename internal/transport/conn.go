package transport

import (
	"net"
)

// MessageConn is a duplex message-oriented connection. Every successful
// ReadMessage yields exactly one message sent by the remote side and every
// WriteMessage sends exactly one. Message boundaries are preserved by the
// implementation, not by the caller.
//
// ReadMessage reports io.EOF once the remote side has closed and all
// delivered messages are drained. Implementations are safe for one reader
// and one writer running concurrently; callers serialize writers.
type MessageConn interface {
	ReadMessage(buf []byte) (int, error)
	WriteMessage(p []byte) (int, error)
	Close() error
}

// DatagramConn adapts a net.Conn whose Read/Write already preserve message
// boundaries (unixpacket, UDP) to the MessageConn contract.
type DatagramConn struct {
	conn net.Conn
}

// Datagram wraps a boundary-preserving net.Conn.
func Datagram(conn net.Conn) *DatagramConn {
	return &DatagramConn{conn: conn}
}

func (d *DatagramConn) ReadMessage(buf []byte) (int, error) {
	return d.conn.Read(buf)
}

func (d *DatagramConn) WriteMessage(p []byte) (int, error) {
	return d.conn.Write(p)
}

func (d *DatagramConn) Close() error {
	return d.conn.Close()
}

// Underlying exposes the wrapped net.Conn for address inspection.
func (d *DatagramConn) Underlying() net.Conn {
	return d.conn
}
