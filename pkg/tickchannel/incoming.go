package tickchannel

import (
	"container/list"
	"sync"

	"github.com/appnet-org/tickrelay/pkg/command"
	"github.com/appnet-org/tickrelay/pkg/tick"
)

type incomingEntry struct {
	tick tick.Tick
	msgs map[uint8]command.Payload
}

// IncomingBuffer is a deque of (Tick, map from ShortMessageId to payload)
// ordered front=oldest, back=newest, used to reassemble and dedup inbound
// messages in server-tick order.
type IncomingBuffer struct {
	mu      sync.Mutex
	entries *list.List
}

// NewIncomingBuffer returns an empty incoming buffer.
func NewIncomingBuffer() *IncomingBuffer {
	return &IncomingBuffer{entries: list.New()}
}

// PushBack inserts (remoteTick, shortID, payload), rejecting it if
// remoteTick is already obsolete relative to hostTick, or if the
// (tick, shortID) pair was already accepted. It returns true on accept.
func (b *IncomingBuffer) PushBack(remoteTick, hostTick tick.Tick, shortID uint8, payload command.Payload) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !tick.GreaterThan(remoteTick, hostTick) {
		return false
	}

	for e := b.entries.Back(); e != nil; e = e.Prev() {
		ie := e.Value.(*incomingEntry)
		if ie.tick == remoteTick {
			if _, dup := ie.msgs[shortID]; dup {
				return false
			}
			ie.msgs[shortID] = payload
			return true
		}
		if tick.LessThan(ie.tick, remoteTick) {
			ne := &incomingEntry{tick: remoteTick, msgs: map[uint8]command.Payload{shortID: payload}}
			b.entries.InsertAfter(ne, e)
			return true
		}
	}

	ne := &incomingEntry{tick: remoteTick, msgs: map[uint8]command.Payload{shortID: payload}}
	b.entries.PushFront(ne)
	return true
}

// popFront implements one step of §4.6.3: discard stale front entries,
// then pop one arbitrary payload for the tick-matching front entry.
func (b *IncomingBuffer) popFront(t tick.Tick) (command.Payload, bool) {
	for {
		front := b.entries.Front()
		if front == nil {
			return nil, false
		}
		fe := front.Value.(*incomingEntry)
		if tick.LessThan(fe.tick, t) {
			b.entries.Remove(front)
			continue
		}
		if fe.tick != t {
			return nil, false
		}
		for sid, payload := range fe.msgs {
			delete(fe.msgs, sid)
			if len(fe.msgs) == 0 {
				b.entries.Remove(front)
			}
			return payload, true
		}
		// Empty map left over from a prior drain; remove and keep scanning.
		b.entries.Remove(front)
	}
}

// CollectIncomingMessages drains every payload applicable to tick t.
func (b *IncomingBuffer) CollectIncomingMessages(t tick.Tick) []command.Payload {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []command.Payload
	for {
		p, ok := b.popFront(t)
		if !ok {
			break
		}
		out = append(out, p)
	}
	return out
}

// Len reports the number of distinct tick groups currently buffered, for
// tests and diagnostics.
func (b *IncomingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries.Len()
}
