// Package config holds the tunables the core consumes as a plain struct.
// The surrounding CLI/config glue that populates it (flag parsing, env vars,
// config files) is a collaborator outside this module's scope; Defaults
// exists so tests and small examples don't need to duplicate the table from
// the specification's external-interfaces section.
package config

import "time"

// Config collects every tunable the handshake, base connection, and
// tick-buffer channel read.
type Config struct {
	// SendHandshakeInterval is the handshake resend period.
	SendHandshakeInterval time.Duration
	// HeartbeatInterval is the idle keepalive period. Must be strictly
	// less than half of DisconnectionTimeout.
	HeartbeatInterval time.Duration
	// DisconnectionTimeout is the peer-silent deadline.
	DisconnectionTimeout time.Duration
	// PingInterval is the RTT probe period.
	PingInterval time.Duration
	// RTTSampleSize is the smoothing window for RTT estimation.
	RTTSampleSize int
	// MinimumCommandLatency floors the computed RTT used for command
	// dispatch pacing. Zero disables the floor.
	MinimumCommandLatency time.Duration
	// ResendInterval is the tick-buffer channel's retransmit cadence.
	ResendInterval time.Duration
	// BandwidthMeasureDuration is the window for outbound-rate reporting.
	// No package in this module reads it or reports bandwidth.
	BandwidthMeasureDuration time.Duration
	// MTUSizeBits bounds the size in bits of one outgoing Data packet,
	// standard header and remote tick included.
	MTUSizeBits int
	// MessageHistorySize caps the number of distinct tick groups retained
	// in a channel's outgoing buffer.
	MessageHistorySize int
}

// Defaults returns the configuration documented in the external interfaces
// table.
func Defaults() Config {
	return Config{
		SendHandshakeInterval:    1 * time.Second,
		HeartbeatInterval:        3 * time.Second,
		DisconnectionTimeout:     10 * time.Second,
		PingInterval:             1 * time.Second,
		RTTSampleSize:            20,
		MinimumCommandLatency:    0,
		ResendInterval:           100 * time.Millisecond,
		BandwidthMeasureDuration: 0,
		MTUSizeBits:              (1200 - 28) * 8, // 1200-byte UDP payload minus header overhead
		MessageHistorySize:       64,
	}
}

// Validate enforces the invariant from the base-connection design: two lost
// heartbeats must be required before a healthy peer is dropped.
func (c Config) Validate() error {
	if c.HeartbeatInterval*2 >= c.DisconnectionTimeout {
		return errHeartbeatTooSlow
	}
	return nil
}

var errHeartbeatTooSlow = configError("config: heartbeat_interval must be strictly less than half of disconnection_timeout_duration")

type configError string

func (e configError) Error() string { return string(e) }
