package tickchannel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/appnet-org/tickrelay/pkg/command"
)

func TestIncomingBufferRejectsStaleTick(t *testing.T) {
	b := NewIncomingBuffer()
	ok := b.PushBack(99, 99, 0, "late")
	require.False(t, ok)
	require.Equal(t, 0, b.Len())
}

func TestIncomingBufferAcceptsStrictlyFutureTick(t *testing.T) {
	b := NewIncomingBuffer()
	ok := b.PushBack(100, 99, 0, "on-time")
	require.True(t, ok)
	require.Equal(t, 1, b.Len())
}

func TestIncomingBufferKeepsTicksIncreasing(t *testing.T) {
	b := NewIncomingBuffer()
	require.True(t, b.PushBack(102, 99, 0, "c"))
	require.True(t, b.PushBack(100, 99, 0, "a"))
	require.True(t, b.PushBack(101, 99, 0, "b"))

	out100 := b.CollectIncomingMessages(100)
	require.Equal(t, []command.Payload{"a"}, out100)
	out101 := b.CollectIncomingMessages(101)
	require.Equal(t, []command.Payload{"b"}, out101)
	out102 := b.CollectIncomingMessages(102)
	require.Equal(t, []command.Payload{"c"}, out102)
}

func TestIncomingBufferDedupRejectsSecondCopy(t *testing.T) {
	b := NewIncomingBuffer()
	require.True(t, b.PushBack(42, 0, 7, "first"))
	require.False(t, b.PushBack(42, 0, 7, "second"))

	out := b.CollectIncomingMessages(42)
	require.Len(t, out, 1)
	require.Equal(t, "first", out[0])
}

func TestIncomingBufferSameTickDifferentShortIDsBothAccepted(t *testing.T) {
	b := NewIncomingBuffer()
	require.True(t, b.PushBack(42, 0, 1, "a"))
	require.True(t, b.PushBack(42, 0, 2, "b"))

	out := b.CollectIncomingMessages(42)
	require.ElementsMatch(t, []interface{}{"a", "b"}, out)
}

// TestIncomingBufferBasicDeliveryScenario mirrors spec.md scenario 1: commands
// at ticks 100, 101, 102 arrive together while the host tick is 99.
func TestIncomingBufferBasicDeliveryScenario(t *testing.T) {
	b := NewIncomingBuffer()
	var hostTick uint16 = 99
	require.True(t, b.PushBack(100, hostTick, 0, "cmd100"))
	require.True(t, b.PushBack(101, hostTick, 0, "cmd101"))
	require.True(t, b.PushBack(102, hostTick, 0, "cmd102"))

	require.Equal(t, []command.Payload{"cmd100"}, b.CollectIncomingMessages(100))
	require.Equal(t, []command.Payload{"cmd101"}, b.CollectIncomingMessages(101))
	require.Equal(t, []command.Payload{"cmd102"}, b.CollectIncomingMessages(102))
	require.Empty(t, b.CollectIncomingMessages(103))
}

func TestIncomingBufferDropsStaleEntriesOnCollect(t *testing.T) {
	b := NewIncomingBuffer()
	require.True(t, b.PushBack(10, 0, 0, "ten"))
	require.True(t, b.PushBack(11, 0, 0, "eleven"))

	// Collecting at 11 discards the stale tick-10 entry before matching.
	out := b.CollectIncomingMessages(11)
	require.Equal(t, []command.Payload{"eleven"}, out)
	require.Equal(t, 0, b.Len())
}
