package peer

// mailbox is a FIFO of delivered packets plus a one-slot wake signal. The
// receive loop appends under the core mutex and signals without blocking;
// the single consumer pops under the same mutex and parks on the signal
// channel when the queue is empty. A signal can be stale, so consumers
// re-check the queue after every wake.
type mailbox struct {
	queue  []Packet
	signal chan struct{}

	// claimed marks the shared inbound queue as owned by a CommandStream;
	// label mailboxes never set it
	claimed bool
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) push(p Packet) {
	m.queue = append(m.queue, p)
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) pop() (Packet, bool) {
	if len(m.queue) == 0 {
		return Packet{}, false
	}
	p := m.queue[0]
	m.queue = m.queue[1:]
	return p, true
}

func (m *mailbox) depth() int {
	return len(m.queue)
}
