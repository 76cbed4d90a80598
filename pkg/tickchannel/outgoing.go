package tickchannel

import (
	"container/list"
	"sync"

	"github.com/appnet-org/tickrelay/pkg/command"
	"github.com/appnet-org/tickrelay/pkg/tick"
)

// StagedGroup is one (tick, live messages) pair pulled out of the outgoing
// buffer by Stage and queued for the next write.
type StagedGroup struct {
	Tick     tick.Tick
	Messages []MessageEntry
}

type outgoingEntry struct {
	tick tick.Tick
	msgs *messageMap
}

// OutgoingBuffer is a deque of (Tick, messageMap) ordered front=most-recent,
// back=oldest, bounded by a configured history size.
type OutgoingBuffer struct {
	mu      sync.Mutex
	entries *list.List
	maxLen  int
}

// NewOutgoingBuffer returns an empty buffer capped at maxLen distinct tick
// groups (MESSAGE_HISTORY_SIZE).
func NewOutgoingBuffer(maxLen int) *OutgoingBuffer {
	return &OutgoingBuffer{entries: list.New(), maxLen: maxLen}
}

// Push appends payload at t. If t equals the front tick it merges into the
// existing map; if greater, it pushes a new front. It panics if t is
// strictly less than the front tick — per the error-handling design this is
// a programming error the single call site (the game loop) must not trigger.
func (b *OutgoingBuffer) Push(t tick.Tick, kind command.Kind, payload command.Payload) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if front := b.entries.Front(); front != nil {
		fe := front.Value.(*outgoingEntry)
		if tick.LessThan(t, fe.tick) {
			panic("tickchannel: OutgoingBuffer.Push called with a tick before the front tick")
		}
		if t == fe.tick {
			return fe.msgs.insert(kind, payload)
		}
	}

	e := &outgoingEntry{tick: t, msgs: newMessageMap()}
	id := e.msgs.insert(kind, payload)
	b.entries.PushFront(e)

	for b.maxLen > 0 && b.entries.Len() > b.maxLen {
		b.entries.Remove(b.entries.Back())
	}
	return id
}

// Prune removes from the back every entry with tick <= serverReceivable:
// the server has already advanced past them and they can never be consumed.
func (b *OutgoingBuffer) Prune(serverReceivable tick.Tick) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		back := b.entries.Back()
		if back == nil {
			return
		}
		be := back.Value.(*outgoingEntry)
		if tick.GreaterThan(be.tick, serverReceivable) {
			return
		}
		b.entries.Remove(back)
	}
}

// Stage walks front-to-back (newest to oldest), collecting each group's
// live messages for the pending send queue. It stops as soon as it meets a
// tick newer than clientSendingTick; since ticks strictly decrease toward
// the back, that can only happen on the very first entry — the defensive
// guard for the "message more recent than sending tick" case the design
// notes flag as otherwise unreachable.
func (b *OutgoingBuffer) Stage(clientSendingTick tick.Tick) []StagedGroup {
	b.mu.Lock()
	defer b.mu.Unlock()

	var staged []StagedGroup
	for e := b.entries.Front(); e != nil; e = e.Next() {
		be := e.Value.(*outgoingEntry)
		if tick.GreaterThan(be.tick, clientSendingTick) {
			break
		}
		staged = append(staged, StagedGroup{Tick: be.tick, Messages: be.msgs.collectMessages()})
	}
	return staged
}

// NotifyDelivered hole-punches the slot for (t, messageID) once the packet
// carrying it has been ACKed. Walking stops once it passes below t (ticks
// decrease front to back), since anything past that point was already
// pruned or never existed. If the owning map becomes empty, the whole
// entry is removed.
func (b *OutgoingBuffer) NotifyDelivered(t tick.Tick, messageID int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var next *list.Element
	for e := b.entries.Front(); e != nil; e = next {
		next = e.Next()
		be := e.Value.(*outgoingEntry)
		if be.tick == t {
			be.msgs.remove(messageID)
			if be.msgs.len() == 0 {
				b.entries.Remove(e)
			}
			return
		}
		if tick.LessThan(be.tick, t) {
			return
		}
	}
}

// Len reports the number of distinct tick groups currently buffered, for
// tests and diagnostics.
func (b *OutgoingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries.Len()
}

// Ticks returns the buffered ticks front-to-back, for invariant checks in
// tests.
func (b *OutgoingBuffer) Ticks() []tick.Tick {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]tick.Tick, 0, b.entries.Len())
	for e := b.entries.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*outgoingEntry).tick)
	}
	return out
}
