package ack

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/appnet-org/tickrelay/pkg/packet"
	"github.com/appnet-org/tickrelay/pkg/tick"
)

type recorder struct {
	delivered []tick.PacketIndex
	dropped   []tick.PacketIndex
}

func (r *recorder) NotifyPacketDelivered(idx tick.PacketIndex) { r.delivered = append(r.delivered, idx) }
func (r *recorder) NotifyPacketDropped(idx tick.PacketIndex)   { r.dropped = append(r.dropped, idx) }

func TestNextOutgoingHeaderAssignsMonotoneIndices(t *testing.T) {
	m := NewManager()
	h0 := m.NextOutgoingHeader(packet.TypeData)
	h1 := m.NextOutgoingHeader(packet.TypeData)
	require.EqualValues(t, 0, h0.PacketIndex)
	require.EqualValues(t, 1, h1.PacketIndex)
	require.EqualValues(t, 2, m.OutstandingCount())
}

func TestProcessIncomingHeaderBuildsBitfield(t *testing.T) {
	m := NewManager()

	// Peer has sent indices 0, 1, 2; we receive them out of order.
	m.ProcessIncomingHeader(packet.StandardHeader{PacketIndex: 0})
	m.ProcessIncomingHeader(packet.StandardHeader{PacketIndex: 2})
	m.ProcessIncomingHeader(packet.StandardHeader{PacketIndex: 1})

	h := m.NextOutgoingHeader(packet.TypeData)
	require.EqualValues(t, 2, h.LastRemoteIndex)
	// bit k set iff index (highest-1-k) received: k=0 -> idx1 (received), k=1 -> idx0 (received).
	require.EqualValues(t, 0b11, h.AckBitfield)
}

func TestDeliveredNotification(t *testing.T) {
	m := NewManager()
	r := &recorder{}
	m.Subscribe(r)

	h0 := m.NextOutgoingHeader(packet.TypeData)
	h1 := m.NextOutgoingHeader(packet.TypeData)
	require.EqualValues(t, 2, m.OutstandingCount())

	// Peer acks both h0 and h1: last_remote_index=1, bitfield bit0 set (idx0).
	m.ProcessIncomingHeader(packet.StandardHeader{PacketIndex: 0, LastRemoteIndex: h1.PacketIndex, AckBitfield: 1})

	require.ElementsMatch(t, []tick.PacketIndex{h1.PacketIndex, h0.PacketIndex}, r.delivered)
	require.Empty(t, r.dropped)
	require.Equal(t, 0, m.OutstandingCount())
}

func TestDroppedAgesOutPastWindow(t *testing.T) {
	m := NewManager()
	r := &recorder{}
	m.Subscribe(r)

	h0 := m.NextOutgoingHeader(packet.TypeData)

	// Peer's last_remote_index is now WindowSize+1 past h0 with an empty
	// bitfield: h0 is unrecoverable, must be reported dropped.
	last := h0.PacketIndex + WindowSize + 1
	m.ProcessIncomingHeader(packet.StandardHeader{PacketIndex: 0, LastRemoteIndex: last, AckBitfield: 0})

	require.Equal(t, []tick.PacketIndex{h0.PacketIndex}, r.dropped)
	require.Empty(t, r.delivered)
}

func TestWindowBoundaryDistanceEqualsWindowSizeStillRecoverable(t *testing.T) {
	m := NewManager()
	r := &recorder{}
	m.Subscribe(r)

	h0 := m.NextOutgoingHeader(packet.TypeData)

	// distance == WindowSize (16): bit k=WindowSize-1=15 still covers it if set.
	last := h0.PacketIndex + WindowSize
	bitfield := uint16(1) << (WindowSize - 1)
	m.ProcessIncomingHeader(packet.StandardHeader{PacketIndex: 0, LastRemoteIndex: last, AckBitfield: bitfield})

	require.Equal(t, []tick.PacketIndex{h0.PacketIndex}, r.delivered)
	require.Empty(t, r.dropped)
}

func TestNoAckInfoYetDoesNotReapAnything(t *testing.T) {
	m := NewManager()
	r := &recorder{}
	m.Subscribe(r)

	m.NextOutgoingHeader(packet.TypeData)
	// Zero-valued header: "nothing acked yet", not "everything before 0 acked".
	m.ProcessIncomingHeader(packet.StandardHeader{PacketIndex: 5})

	require.Empty(t, r.delivered)
	require.Empty(t, r.dropped)
	require.Equal(t, 1, m.OutstandingCount())
}
