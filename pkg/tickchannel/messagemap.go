// Package tickchannel implements the tick-buffered message channel: the
// per-tick retransmit queue on the sending side and the dedup/reorder
// buffer on the receiving side. It is the core of the system — everything
// below it (ack manager, handshake, timers) exists to let this package
// deliver every client command at most once, at its originating tick,
// despite packet loss and reordering. A command that is still unacknowledged
// when it is pruned or evicted from the outgoing buffer is never delivered.
package tickchannel

import "github.com/appnet-org/tickrelay/pkg/command"

// MessageEntry is one live slot of a MessageMap: its assigned MessageId
// plus the kind/payload pair needed to re-encode it on retransmission.
type MessageEntry struct {
	ID      int
	Kind    command.Kind
	Payload command.Payload
}

// messageMap is an append-only sparse sequence of payloads keyed by
// assigned position. Ids are never reused after removal: remove only
// hole-punches the slot, it never shifts later entries.
type messageMap struct {
	slots []*MessageEntry
}

func newMessageMap() *messageMap {
	return &messageMap{}
}

// insert appends payload at the next position and returns its MessageId.
func (m *messageMap) insert(kind command.Kind, payload command.Payload) int {
	id := len(m.slots)
	m.slots = append(m.slots, &MessageEntry{ID: id, Kind: kind, Payload: payload})
	return id
}

// remove hole-punches id's slot. Removing an already-empty or out-of-range
// id is a no-op.
func (m *messageMap) remove(id int) {
	if id < 0 || id >= len(m.slots) {
		return
	}
	m.slots[id] = nil
}

// collectMessages returns every non-empty slot in insertion order.
func (m *messageMap) collectMessages() []MessageEntry {
	out := make([]MessageEntry, 0, len(m.slots))
	for _, e := range m.slots {
		if e != nil {
			out = append(out, *e)
		}
	}
	return out
}

// len reports the number of non-empty slots.
func (m *messageMap) len() int {
	n := 0
	for _, e := range m.slots {
		if e != nil {
			n++
		}
	}
	return n
}
