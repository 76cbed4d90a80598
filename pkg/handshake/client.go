package handshake

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/appnet-org/tickrelay/pkg/logging"
	"github.com/appnet-org/tickrelay/pkg/packet"
	"github.com/appnet-org/tickrelay/pkg/timer"
)

// resendTimerKey names the periodic timer that drives the client state
// machine forward, independent of any single connection instance.
const resendTimerKey timer.TimerKey = "handshake_resend"

// Sender is the narrow capability the handshake manager needs from its
// owning connection: emit a handshake packet to the peer. The base
// connection supplies the StandardHeader and does the actual socket write.
type Sender interface {
	SendHandshakePacket(pt packet.Type, body []byte) error
}

// ClientHandshake drives a client through AwaitingChallengeResponse ->
// AwaitingConnectResponse -> Connected.
type ClientHandshake struct {
	mu sync.Mutex

	state     State
	timestamp int64
	digest    Digest
	haveAuth  bool
	auth      *AuthMessage

	sender   Sender
	timerMgr *timer.TimerManager
	interval time.Duration

	onConnected func()
}

// NewClientHandshake starts the handshake: it captures the pre-connection
// timestamp nonce and schedules the periodic resend loop immediately.
func NewClientHandshake(sender Sender, timerMgr *timer.TimerManager, interval time.Duration, auth *AuthMessage, now func() time.Time, onConnected func()) *ClientHandshake {
	if now == nil {
		now = time.Now
	}
	c := &ClientHandshake{
		state:       AwaitingChallengeResponse,
		timestamp:   now().UnixNano(),
		auth:        auth,
		haveAuth:    auth != nil,
		sender:      sender,
		timerMgr:    timerMgr,
		interval:    interval,
		onConnected: onConnected,
	}
	c.timerMgr.SchedulePeriodic(resendTimerKey, interval, timer.TimerCallback(c.onResendTick))
	return c
}

// State returns the current handshake state.
func (c *ClientHandshake) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// onResendTick fires every send_handshake_interval; it emits whichever
// packet corresponds to the current state, or stays quiet once Connected.
func (c *ClientHandshake) onResendTick() {
	c.mu.Lock()
	state := c.state
	body := c.packetForState(state)
	c.mu.Unlock()

	if body == nil {
		return
	}
	if err := c.sender.SendHandshakePacket(body.packetType, body.payload); err != nil {
		logging.Warn("handshake resend failed", zap.Error(err), zap.String("state", state.String()))
	}
}

type handshakePacket struct {
	packetType packet.Type
	payload    []byte
}

func (c *ClientHandshake) packetForState(state State) *handshakePacket {
	switch state {
	case AwaitingChallengeResponse:
		return &handshakePacket{packet.TypeClientChallengeRequest, ChallengeRequestBody{Timestamp: c.timestamp}.Encode()}
	case AwaitingConnectResponse:
		var auth *AuthMessage
		if c.haveAuth {
			auth = c.auth
		}
		return &handshakePacket{packet.TypeClientConnectRequest, ConnectRequestBody{
			Timestamp: c.timestamp,
			Digest:    c.digest,
			Auth:      auth,
		}.Encode()}
	default:
		return nil
	}
}

// OnServerChallengeResponse processes step 2. A wrong state or a timestamp
// that doesn't bit-exactly match the locally stored nonce silently drops
// the packet: no retry state is perturbed.
func (c *ClientHandshake) OnServerChallengeResponse(data []byte) error {
	body, err := DecodeChallengeResponse(data)
	if err != nil {
		return nil // MalformedPacket: drop, no error surfaced upward.
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != AwaitingChallengeResponse {
		return nil
	}
	if body.Timestamp != c.timestamp {
		return nil
	}

	c.digest = body.Digest
	c.state = AwaitingConnectResponse
	logging.Debug("handshake advanced", zap.String("state", c.state.String()))
	return nil
}

// OnServerConnectResponse processes step 4: its mere (well-formed) arrival
// unconditionally advances the client to Connected.
func (c *ClientHandshake) OnServerConnectResponse(data []byte) error {
	c.mu.Lock()
	already := c.state == Connected
	c.state = Connected
	c.mu.Unlock()

	if already {
		return nil
	}
	logging.Info("handshake connected")
	if c.onConnected != nil {
		c.onConnected()
	}
	return nil
}

// Disconnect emits a disconnect packet ten times back-to-back so that at
// least one is likely to arrive, then stops the resend loop. It is a no-op
// if the client never received a digest (disconnecting before the
// challenge completed has nothing to authenticate with).
func (c *ClientHandshake) Disconnect() {
	c.mu.Lock()
	ts := c.timestamp
	d := c.digest
	haveDigest := c.state != AwaitingChallengeResponse
	c.mu.Unlock()

	c.timerMgr.StopTimer(resendTimerKey)

	if !haveDigest {
		return
	}
	body := DisconnectBody{Timestamp: ts, Digest: d}.Encode()
	for i := 0; i < 10; i++ {
		if err := c.sender.SendHandshakePacket(packet.TypeDisconnect, body); err != nil {
			logging.Warn("disconnect send failed", zap.Error(err), zap.Int("attempt", i))
		}
	}
}
