package tickchannel

import (
	"github.com/appnet-org/tickrelay/pkg/command"
	"github.com/appnet-org/tickrelay/pkg/tick"
	"github.com/appnet-org/tickrelay/pkg/wire"
)

// Delivery is a (tick, MessageId) pair written into a packet, returned so
// the base connection can register it as in-flight against that packet's
// index and later forward the matching ACK into NotifyMessageDelivered.
type Delivery struct {
	Tick      tick.Tick
	MessageID int
}

type encodedMessage struct {
	id   int
	kind command.Kind
	data []byte
}

type encodedGroup struct {
	tick tick.Tick
	msgs []encodedMessage
}

func encodeGroups(groups []StagedGroup, table *command.Table) ([]encodedGroup, error) {
	out := make([]encodedGroup, len(groups))
	for i, g := range groups {
		msgs := make([]encodedMessage, len(g.Messages))
		for j, m := range g.Messages {
			data, err := table.Encode(m.Kind, m.Payload)
			if err != nil {
				return nil, err
			}
			msgs[j] = encodedMessage{id: m.ID, kind: m.Kind, data: data}
		}
		out[i] = encodedGroup{tick: g.Tick, msgs: msgs}
	}
	return out, nil
}

// writeEncodedGroups writes the message-list header (group count) followed
// by each group's tick_diff/count/messages. hostTick is the baseline for
// the first group's tick_diff; subsequent groups diff against the
// previous group's tick.
func writeEncodedGroups(w *wire.BitWriter, hostTick tick.Tick, groups []encodedGroup) error {
	if err := wire.WriteMessageListHeader(w, uint64(len(groups))); err != nil {
		return err
	}
	last := hostTick
	for _, g := range groups {
		diff := tick.WrappingDiff(last, g.tick)
		if err := wire.WriteVarint(w, uint64(diff)); err != nil {
			return err
		}
		if err := wire.WriteVarint(w, uint64(len(g.msgs))); err != nil {
			return err
		}
		for _, m := range g.msgs {
			w.WriteBits(uint64(uint8(m.id)), 8)
			w.WriteBits(uint64(m.kind), 8)
			if err := wire.WriteVarint(w, uint64(len(m.data))); err != nil {
				return err
			}
			for _, b := range m.data {
				w.WriteBits(uint64(b), 8)
			}
		}
		last = g.tick
	}
	return nil
}

func bitsFor(hostTick tick.Tick, groups []encodedGroup) (int, error) {
	mw := wire.NewMeasuringWriter()
	if err := writeEncodedGroups(mw, hostTick, groups); err != nil {
		return 0, err
	}
	return mw.BitLength(), nil
}

// WriteMessages finds the longest leading prefix of pending that fits
// within remainingBits (the MTU discipline of §4.5.3: every staged group
// either fits entirely or is not sent this packet), writes it to w, pops
// it from pending, and returns the (tick, MessageId) pairs written so the
// caller can register them as in-flight. If nothing fits, it writes a
// zero message-list header and returns no deliveries.
func WriteMessages(w *wire.BitWriter, hostTick tick.Tick, pending *[]StagedGroup, table *command.Table, remainingBits int) ([]Delivery, error) {
	encoded, err := encodeGroups(*pending, table)
	if err != nil {
		return nil, err
	}

	n := len(encoded)
	for n > 0 {
		bits, err := bitsFor(hostTick, encoded[:n])
		if err != nil {
			return nil, err
		}
		if bits <= remainingBits {
			break
		}
		n--
	}

	if err := writeEncodedGroups(w, hostTick, encoded[:n]); err != nil {
		return nil, err
	}

	var delivered []Delivery
	for i := 0; i < n; i++ {
		g := (*pending)[i]
		for _, m := range g.Messages {
			delivered = append(delivered, Delivery{Tick: g.Tick, MessageID: m.ID})
		}
	}
	*pending = (*pending)[n:]
	return delivered, nil
}

// ReadMessages is the decode mirror of WriteMessages (§4.6.1): it reads the
// message-list header and each group, reconstructs ticks by walking the
// decreasing tick_diff chain starting at remoteTick, and pushes every
// decoded message into incoming.
func ReadMessages(r *wire.BitReader, hostTick, remoteTick tick.Tick, table *command.Table, incoming *IncomingBuffer) error {
	count, err := wire.ReadMessageListHeader(r)
	if err != nil {
		return err
	}

	last := remoteTick
	for i := uint64(0); i < count; i++ {
		diff, err := wire.ReadVarint(r)
		if err != nil {
			return err
		}
		groupTick := last - tick.Tick(diff)
		last = groupTick

		n, err := wire.ReadVarint(r)
		if err != nil {
			return err
		}
		for j := uint64(0); j < n; j++ {
			shortIDBits, err := r.ReadBits(8)
			if err != nil {
				return err
			}
			kindBits, err := r.ReadBits(8)
			if err != nil {
				return err
			}
			payloadLen, err := wire.ReadVarint(r)
			if err != nil {
				return err
			}
			data := make([]byte, payloadLen)
			for k := range data {
				b, err := r.ReadBits(8)
				if err != nil {
					return err
				}
				data[k] = byte(b)
			}
			payload, err := table.Decode(command.Kind(kindBits), data)
			if err != nil {
				return err
			}
			incoming.PushBack(groupTick, hostTick, uint8(shortIDBits), payload)
		}
	}
	return nil
}
