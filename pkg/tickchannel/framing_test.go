package tickchannel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/appnet-org/tickrelay/pkg/command"
	"github.com/appnet-org/tickrelay/pkg/wire"
)

func newTestTable(t *testing.T) *command.Table {
	t.Helper()
	tbl := command.NewTable()
	command.RegisterBuiltins(tbl)
	return tbl
}

func TestWriteReadMessagesRoundTrip(t *testing.T) {
	tbl := newTestTable(t)

	groups := []StagedGroup{
		{Tick: 102, Messages: []MessageEntry{{ID: 0, Kind: command.KindBytes, Payload: []byte("c")}}},
		{Tick: 101, Messages: []MessageEntry{{ID: 0, Kind: command.KindBytes, Payload: []byte("b")}}},
		{Tick: 100, Messages: []MessageEntry{
			{ID: 0, Kind: command.KindBytes, Payload: []byte("a0")},
			{ID: 1, Kind: command.KindBytes, Payload: []byte("a1")},
		}},
	}
	pending := append([]StagedGroup(nil), groups...)

	w := wire.NewBitWriter()
	delivered, err := WriteMessages(w, 102, &pending, tbl, 1<<20)
	require.NoError(t, err)
	require.Empty(t, pending)
	require.Len(t, delivered, 4)

	in := NewIncomingBuffer()
	r := wire.NewBitReader(w.Bytes())
	require.NoError(t, ReadMessages(r, 0, 102, tbl, in))

	require.ElementsMatch(t, []interface{}{"a0", "a1"}, toByteStrings(in.CollectIncomingMessages(100)))
	require.ElementsMatch(t, []interface{}{"b"}, toByteStrings(in.CollectIncomingMessages(101)))
	require.ElementsMatch(t, []interface{}{"c"}, toByteStrings(in.CollectIncomingMessages(102)))
}

func toByteStrings(payloads []command.Payload) []interface{} {
	out := make([]interface{}, len(payloads))
	for i, p := range payloads {
		out[i] = string(p.([]byte))
	}
	return out
}

func TestWriteMessagesRespectsMTUDiscipline(t *testing.T) {
	tbl := newTestTable(t)

	groups := []StagedGroup{
		{Tick: 2, Messages: []MessageEntry{{ID: 0, Kind: command.KindBytes, Payload: []byte("small")}}},
		{Tick: 1, Messages: []MessageEntry{{ID: 0, Kind: command.KindBytes, Payload: []byte("small")}}},
	}
	pending := append([]StagedGroup(nil), groups...)

	// Measure the bits needed for just the first group so we can force a
	// packet that fits exactly one group but not both.
	mw := wire.NewMeasuringWriter()
	onlyFirst := append([]StagedGroup(nil), groups[0])
	_, err := WriteMessages(mw, 2, &onlyFirst, tbl, 1<<20)
	require.NoError(t, err)
	budget := mw.BitLength()

	w := wire.NewBitWriter()
	delivered, err := WriteMessages(w, 2, &pending, tbl, budget)
	require.NoError(t, err)
	require.Len(t, delivered, 1)
	require.EqualValues(t, 2, delivered[0].Tick)
	require.Len(t, pending, 1, "the second group must stay staged for the next packet")
	require.EqualValues(t, 1, pending[0].Tick)
}

func TestWriteMessagesNothingFitsWritesZeroHeader(t *testing.T) {
	tbl := newTestTable(t)
	groups := []StagedGroup{{Tick: 1, Messages: []MessageEntry{{ID: 0, Kind: command.KindBytes, Payload: []byte("x")}}}}
	pending := append([]StagedGroup(nil), groups...)

	w := wire.NewBitWriter()
	delivered, err := WriteMessages(w, 1, &pending, tbl, 0)
	require.NoError(t, err)
	require.Empty(t, delivered)
	require.Len(t, pending, 1, "nothing fit, so the group must remain pending")

	r := wire.NewBitReader(w.Bytes())
	n, err := wire.ReadMessageListHeader(r)
	require.NoError(t, err)
	require.Zero(t, n)
}

// TestChannelLossAndRetransmit mirrors spec.md scenario 2: a message sent at
// tick 50 stays staged (simulating packet loss) until NotifyMessageDelivered
// fires, at which point the outgoing buffer drops its slot.
func TestChannelLossAndRetransmit(t *testing.T) {
	tbl := newTestTable(t)
	ch := NewChannel(tbl, 64, 0, nil)

	ch.SendMessage(50, command.KindBytes, []byte("cmd"))
	ch.CollectOutgoingMessages(50, 0)
	require.Equal(t, 1, ch.PendingCount())

	// Packet carrying it is "lost": nothing acks it, so the next collect
	// re-stages the same message since it is still in the MessageMap.
	ch.CollectOutgoingMessages(50, 0)
	require.Equal(t, 1, ch.PendingCount())
	require.Equal(t, 1, ch.out.Len())

	ch.NotifyMessageDelivered(50, 0)
	require.Equal(t, 0, ch.out.Len())
}

// TestChannelPruneByServerReceivable mirrors spec.md scenario 3.
func TestChannelPruneByServerReceivable(t *testing.T) {
	tbl := newTestTable(t)
	ch := NewChannel(tbl, 64, 0, nil)

	ch.SendMessage(10, command.KindBytes, []byte("a"))
	ch.SendMessage(11, command.KindBytes, []byte("b"))
	ch.SendMessage(12, command.KindBytes, []byte("c"))

	ch.CollectOutgoingMessages(15, 11)

	require.Equal(t, []uint16{12}, ch.out.Ticks())
	require.Equal(t, 1, ch.PendingCount())
}
