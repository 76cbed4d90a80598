// Package tick implements the 16-bit wrap-around counters used throughout
// tickrelay: simulation ticks and outgoing packet indices share the same
// comparison rules, so both are modeled with the Seq type.
package tick

// Seq is a 16-bit wrap-around counter. Tick and PacketIndex are aliases of
// Seq (and so of uint16): the separate names document which domain a value
// belongs to, but the compiler does not distinguish them.
type Seq = uint16

// Tick is a discrete simulation step.
type Tick = Seq

// PacketIndex is a sender-assigned wrap-around counter used as the primary
// key for ACK tracking.
type PacketIndex = Seq

// GreaterThan reports whether a is strictly "after" b in wrap-around order:
// (a-b) mod 2^16 is in the open interval (0, 2^15).
func GreaterThan(a, b Seq) bool {
	d := a - b
	return d != 0 && d < 1<<15
}

// LessThan is the mirror of GreaterThan.
func LessThan(a, b Seq) bool {
	return GreaterThan(b, a)
}

// WrappingDiff returns the signed shortest distance from b to a, i.e. the
// value x such that b+x == a (mod 2^16) and |x| <= 2^15.
func WrappingDiff(a, b Seq) int32 {
	d := int32(a) - int32(b)
	switch {
	case d > 1<<15:
		return d - 1<<16
	case d < -(1 << 15):
		return d + 1<<16
	default:
		return d
	}
}
