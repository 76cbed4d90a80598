package tickchannel

import (
	"sync"
	"time"

	"github.com/appnet-org/tickrelay/pkg/command"
	"github.com/appnet-org/tickrelay/pkg/tick"
	"github.com/appnet-org/tickrelay/pkg/wire"
)

// Channel is one tick-buffered message channel: the per-tick outgoing
// retransmit queue and the incoming dedup/reorder buffer, plus the staged
// send queue that bridges the resend-interval cadence of
// CollectOutgoingMessages to the per-frame cadence of WriteMessages.
type Channel struct {
	mu sync.Mutex

	out   *OutgoingBuffer
	in    *IncomingBuffer
	table *command.Table

	pending []StagedGroup

	resendInterval time.Duration
	lastCollect    time.Time
	now            func() time.Time
}

// NewChannel builds a channel bounded by historySize tick groups
// (MESSAGE_HISTORY_SIZE) that restages at most once per resendInterval.
func NewChannel(table *command.Table, historySize int, resendInterval time.Duration, now func() time.Time) *Channel {
	if now == nil {
		now = time.Now
	}
	return &Channel{
		out:            NewOutgoingBuffer(historySize),
		in:             NewIncomingBuffer(),
		table:          table,
		resendInterval: resendInterval,
		now:            now,
	}
}

// SendMessage appends message into the per-tick message map at hostTick.
func (c *Channel) SendMessage(hostTick tick.Tick, kind command.Kind, payload command.Payload) int {
	return c.out.Push(hostTick, kind, payload)
}

// CollectOutgoingMessages runs at most once per resendInterval: it prunes
// entries the server can no longer consume, then rebuilds the pending send
// queue from what remains, up to clientSendingTick.
func (c *Channel) CollectOutgoingMessages(clientSendingTick, serverReceivableTick tick.Tick) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lastCollect.IsZero() && c.now().Sub(c.lastCollect) < c.resendInterval {
		return
	}
	c.lastCollect = c.now()

	c.out.Prune(serverReceivableTick)
	c.pending = c.out.Stage(clientSendingTick)
}

// WriteMessages drains as much of the pending queue as fits within
// remainingBits into w, returning the (tick, MessageId) pairs written so
// the base connection can register them as in-flight against the packet
// it is assembling.
func (c *Channel) WriteMessages(w *wire.BitWriter, hostTick tick.Tick, remainingBits int) ([]Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return WriteMessages(w, hostTick, &c.pending, c.table, remainingBits)
}

// ReadMessages decodes this channel's segment of an inbound Data packet.
func (c *Channel) ReadMessages(r *wire.BitReader, hostTick, remoteTick tick.Tick) error {
	return ReadMessages(r, hostTick, remoteTick, c.table, c.in)
}

// NotifyMessageDelivered hole-punches the outgoing slot for (t, messageID)
// once the packet that carried it has been acknowledged.
func (c *Channel) NotifyMessageDelivered(t tick.Tick, messageID int) {
	c.out.NotifyDelivered(t, messageID)
}

// CollectIncomingMessages drains every payload applicable to tick t from
// the incoming buffer.
func (c *Channel) CollectIncomingMessages(t tick.Tick) []command.Payload {
	return c.in.CollectIncomingMessages(t)
}

// PendingCount reports how many tick groups are currently staged for send,
// for tests and diagnostics.
func (c *Channel) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// OutgoingLen reports how many distinct tick groups remain in the outgoing
// retransmit buffer, for tests and diagnostics.
func (c *Channel) OutgoingLen() int {
	return c.out.Len()
}
