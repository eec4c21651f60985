package transport

import (
	"io"
	"sync"
)

// pipeQueue is one direction of an in-memory pipe: a FIFO of delivered
// messages plus a one-slot wake channel for the single blocked reader.
type pipeQueue struct {
	mu     sync.Mutex
	items  [][]byte
	notify chan struct{}
	wdone  bool
	rdone  bool
}

func newPipeQueue() *pipeQueue {
	return &pipeQueue{notify: make(chan struct{}, 1)}
}

func (q *pipeQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *pipeQueue) push(p []byte) error {
	q.mu.Lock()
	if q.wdone || q.rdone {
		q.mu.Unlock()
		return io.ErrClosedPipe
	}
	msg := make([]byte, len(p))
	copy(msg, p)
	q.items = append(q.items, msg)
	q.mu.Unlock()
	q.signal()
	return nil
}

func (q *pipeQueue) pop(buf []byte) (int, error) {
	for {
		q.mu.Lock()
		if q.rdone {
			q.mu.Unlock()
			return 0, io.ErrClosedPipe
		}
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			if len(msg) > len(buf) {
				return 0, ErrShortReadBuffer
			}
			return copy(buf, msg), nil
		}
		if q.wdone {
			q.mu.Unlock()
			return 0, io.EOF
		}
		q.mu.Unlock()
		<-q.notify
	}
}

func (q *pipeQueue) closeWrite() {
	q.mu.Lock()
	q.wdone = true
	q.mu.Unlock()
	q.signal()
}

func (q *pipeQueue) closeRead() {
	q.mu.Lock()
	q.rdone = true
	q.mu.Unlock()
	q.signal()
}

// PipeConn is one end of an in-memory MessageConn pair. Messages written on
// one end arrive in order on the other; writes never block. After Close the
// remote end drains anything already delivered and then reads io.EOF,
// matching socket shutdown behavior.
type PipeConn struct {
	rd        *pipeQueue
	wr        *pipeQueue
	closeOnce sync.Once
}

// Pipe returns two connected in-memory message connections.
func Pipe() (*PipeConn, *PipeConn) {
	ab := newPipeQueue()
	ba := newPipeQueue()
	a := &PipeConn{rd: ba, wr: ab}
	b := &PipeConn{rd: ab, wr: ba}
	return a, b
}

func (p *PipeConn) ReadMessage(buf []byte) (int, error) {
	return p.rd.pop(buf)
}

func (p *PipeConn) WriteMessage(b []byte) (int, error) {
	if err := p.wr.push(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (p *PipeConn) Close() error {
	p.closeOnce.Do(func() {
		p.wr.closeWrite()
		p.rd.closeRead()
	})
	return nil
}
