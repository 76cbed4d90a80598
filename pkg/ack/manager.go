// Package ack implements the per-peer ACK manager: it assigns outgoing
// packet indices, builds the receive-bitfield carried in every outgoing
// header, and turns inbound headers into delivered/dropped notifications
// for subscribers such as the tick-buffer channel.
//
// The bookkeeping style (a small fixed-size bitset plus a list of in-flight
// packet indices, guarded by one mutex, logged through zap) follows the connection
// state tracking in aRPC's reliable transport handlers; the windowing
// algorithm itself implements the ACK scheme described by the base
// connection's packet header.
package ack

import (
	"container/list"
	"sync"

	"go.uber.org/zap"

	"github.com/appnet-org/tickrelay/pkg/logging"
	"github.com/appnet-org/tickrelay/pkg/packet"
	"github.com/appnet-org/tickrelay/pkg/tick"
)

// WindowSize is the number of historical indices the ack bitfield can cover,
// fixed by the 16-bit bitfield in StandardHeader.
const WindowSize = 16

// Notifiable receives delivery/loss callbacks for packets this peer sent.
// The tick-buffer channel and any other per-packet-index subscriber
// implement this interface; the ack manager holds only this narrow
// capability, not a reference back to its owner, so there is no import
// cycle between the base connection and its channels.
type Notifiable interface {
	NotifyPacketDelivered(idx tick.PacketIndex)
	NotifyPacketDropped(idx tick.PacketIndex)
}

// Manager tracks one peer's send/receive packet-index windows.
type Manager struct {
	mu sync.Mutex

	nextOut tick.PacketIndex

	haveRecv    bool
	highestRecv tick.PacketIndex
	recvWindow  uint64 // bit k set => (highestRecv - k) has been received, k in [0, 64); bits 1..WindowSize feed the outgoing bitfield

	outstanding *list.List // of tick.PacketIndex, ascending send order, oldest at Front

	subs []Notifiable
}

// NewManager returns an ack manager with a fresh send/receive window.
func NewManager() *Manager {
	return &Manager{outstanding: list.New()}
}

// Subscribe registers a subscriber for delivered/dropped notifications.
func (m *Manager) Subscribe(n Notifiable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, n)
}

// NextOutgoingHeader assigns the next packet index and stamps the header
// with everything needed for the peer to learn what we've received.
func (m *Manager) NextOutgoingHeader(pt packet.Type) packet.StandardHeader {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.nextOut
	m.nextOut++
	m.outstanding.PushBack(idx)

	var bitfield uint16
	var last tick.PacketIndex
	if m.haveRecv {
		last = m.highestRecv
		for k := 0; k < WindowSize; k++ {
			if m.recvWindow&(1<<uint(k+1)) != 0 {
				bitfield |= 1 << uint(k)
			}
		}
	}

	return packet.StandardHeader{
		PacketType:      pt,
		PacketIndex:     idx,
		LastRemoteIndex: last,
		AckBitfield:     bitfield,
	}
}

// ProcessIncomingHeader advances the receive window from h.PacketIndex, and
// turns h.LastRemoteIndex/h.AckBitfield into delivered/dropped callbacks for
// our own previously-sent packets.
func (m *Manager) ProcessIncomingHeader(h packet.StandardHeader) {
	m.mu.Lock()
	m.absorbReceivedIndex(h.PacketIndex)
	delivered, dropped := m.reapOutstanding(h.LastRemoteIndex, h.AckBitfield, headerHasAckInfo(h))
	subs := append([]Notifiable(nil), m.subs...)
	m.mu.Unlock()

	for _, idx := range delivered {
		for _, s := range subs {
			s.NotifyPacketDelivered(idx)
		}
	}
	for _, idx := range dropped {
		for _, s := range subs {
			s.NotifyPacketDropped(idx)
		}
	}
}

func (m *Manager) absorbReceivedIndex(idx tick.PacketIndex) {
	switch {
	case !m.haveRecv:
		m.haveRecv = true
		m.highestRecv = idx
		m.recvWindow = 1
	case tick.GreaterThan(idx, m.highestRecv):
		shift := tick.WrappingDiff(idx, m.highestRecv)
		if shift >= 64 {
			m.recvWindow = 0
		} else {
			m.recvWindow <<= uint(shift)
		}
		m.recvWindow |= 1
		m.highestRecv = idx
	case idx == m.highestRecv:
		// duplicate of the newest index, already recorded.
	default:
		back := tick.WrappingDiff(m.highestRecv, idx)
		if back >= 0 && back < 64 {
			m.recvWindow |= 1 << uint(back)
		}
	}
}

// headerHasAckInfo reports whether a StandardHeader actually carries
// meaningful ack info (vs. the zero value sent before the peer has received
// anything). We treat LastRemoteIndex==0 && AckBitfield==0 as "nothing acked
// yet"; that's a harmless false negative on the rare packet whose legitimate
// LastRemoteIndex is genuinely 0, since it only delays reaping by one round.
func headerHasAckInfo(h packet.StandardHeader) bool {
	return h.LastRemoteIndex != 0 || h.AckBitfield != 0
}

// reapOutstanding walks the outstanding list oldest-first, classifying each
// entry as delivered (present in the peer's ack window), dropped (older
// than anything the peer's window could still cover), or still pending.
func (m *Manager) reapOutstanding(lastRemote tick.PacketIndex, bitfield uint16, haveAck bool) (delivered, dropped []tick.PacketIndex) {
	if !haveAck {
		return nil, nil
	}

	acked := func(idx tick.PacketIndex) bool {
		if idx == lastRemote {
			return true
		}
		if tick.GreaterThan(idx, lastRemote) {
			return false
		}
		back := tick.WrappingDiff(lastRemote, idx) - 1
		return back >= 0 && back < WindowSize && bitfield&(1<<uint(back)) != 0
	}

	var next *list.Element
	for e := m.outstanding.Front(); e != nil; e = next {
		next = e.Next()
		idx := e.Value.(tick.PacketIndex)

		if tick.GreaterThan(idx, lastRemote) {
			// Not yet reachable by the peer's window; stop, everything
			// after this is even newer.
			break
		}

		if acked(idx) {
			delivered = append(delivered, idx)
			m.outstanding.Remove(e)
			continue
		}

		// idx <= lastRemote but outside the ack window: the peer has
		// moved past it without ever acking it.
		distance := tick.WrappingDiff(lastRemote, idx)
		if distance > WindowSize {
			logging.Debug("packet index aged out of ack window",
				zap.Uint16("packetIndex", idx),
				zap.Uint16("lastRemoteIndex", lastRemote))
			dropped = append(dropped, idx)
			m.outstanding.Remove(e)
		}
	}

	return delivered, dropped
}

// OutstandingCount reports the number of sent packets awaiting ack/drop,
// mostly useful for tests and diagnostics.
func (m *Manager) OutstandingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outstanding.Len()
}

