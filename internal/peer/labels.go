package peer

import (
	"github.com/danmuck/txmux/internal/protocol"
)

// labelTable hands out transaction labels from a dense arena. The label
// value doubles as the arena index, so lookups are a slice access. Released
// labels go on a LIFO free stack and are reused before the arena grows.
//
// Callers hold the core mutex for every method; the table has no lock of
// its own.
type labelTable struct {
	slots []*mailbox
	free  []protocol.TransactionLabel
	limit int
}

func newLabelTable(limit int) *labelTable {
	return &labelTable{limit: limit}
}

func (t *labelTable) allocate() (protocol.TransactionLabel, *mailbox, error) {
	var label protocol.TransactionLabel
	switch {
	case len(t.free) > 0:
		label = t.free[len(t.free)-1]
		t.free = t.free[:len(t.free)-1]
	case len(t.slots) < t.limit:
		label = protocol.TransactionLabel(len(t.slots))
		t.slots = append(t.slots, nil)
	default:
		return 0, nil, ErrNoFreeLabels
	}
	mb := newMailbox()
	t.slots[label] = mb
	return label, mb, nil
}

// release frees the slot; packets still queued in its mailbox are dropped
// with it. Releasing a free label is a no-op.
func (t *labelTable) release(label protocol.TransactionLabel) {
	i := int(label)
	if i >= len(t.slots) || t.slots[i] == nil {
		return
	}
	t.slots[i] = nil
	t.free = append(t.free, label)
}

func (t *labelTable) lookup(label protocol.TransactionLabel) (*mailbox, bool) {
	i := int(label)
	if i >= len(t.slots) || t.slots[i] == nil {
		return nil, false
	}
	return t.slots[i], true
}

func (t *labelTable) inUse() int {
	return len(t.slots) - len(t.free)
}
