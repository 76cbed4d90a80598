// Package connection implements the base connection: the layer that
// composes the ack manager, heartbeat/timeout timers, and handshake
// manager for one peer, frames outbound packets, and routes inbound
// packets by header type to the handshake layer or to tick-buffer
// channels. It owns no game-simulation state; the caller drives it once
// per frame per §5 of the connection lifecycle design (read available
// datagrams, collect_outgoing_messages per channel, assemble one outbound
// packet, check timers).
package connection

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/appnet-org/tickrelay/pkg/ack"
	"github.com/appnet-org/tickrelay/pkg/config"
	"github.com/appnet-org/tickrelay/pkg/handshake"
	"github.com/appnet-org/tickrelay/pkg/logging"
	"github.com/appnet-org/tickrelay/pkg/packet"
	"github.com/appnet-org/tickrelay/pkg/socket"
	"github.com/appnet-org/tickrelay/pkg/tick"
	"github.com/appnet-org/tickrelay/pkg/tickchannel"
	"github.com/appnet-org/tickrelay/pkg/timer"
	"github.com/appnet-org/tickrelay/pkg/wire"
)

// Role distinguishes which side of the handshake a Connection drives.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// Callbacks groups the lifecycle events a Connection surfaces upward; all
// of them are optional.
type Callbacks struct {
	OnConnected    func()
	OnDisconnected func(reason string)
}

type inflightEntry struct {
	channelID uint8
	tick      tick.Tick
	messageID int
}

// Connection is the per-peer base connection.
type Connection struct {
	mu sync.Mutex

	role Role
	sock socket.Socket
	peer net.Addr
	cfg  config.Config

	ackMgr    *ack.Manager
	heartbeat *timer.HeartbeatTimer
	timeout   *timer.TimeoutTimer
	rtt       *RTTEstimator

	channels map[uint8]*tickchannel.Channel
	inflight map[tick.PacketIndex][]inflightEntry

	client    *handshake.ClientHandshake
	server    *handshake.Server
	connected bool

	cb Callbacks
}

func newConnection(role Role, sock socket.Socket, peer net.Addr, cfg config.Config, cb Callbacks) *Connection {
	c := &Connection{
		role:     role,
		sock:     sock,
		peer:     peer,
		cfg:      cfg,
		ackMgr:   ack.NewManager(),
		channels: make(map[uint8]*tickchannel.Channel),
		inflight: make(map[tick.PacketIndex][]inflightEntry),
		rtt:      NewRTTEstimator(cfg.RTTSampleSize, cfg.MinimumCommandLatency),
		cb:       cb,
	}
	c.heartbeat = timer.NewHeartbeatTimer(cfg.HeartbeatInterval, socket.Now)
	c.timeout = timer.NewTimeoutTimer(cfg.DisconnectionTimeout, socket.Now)
	c.ackMgr.Subscribe(c)
	return c
}

// NewClientConnection drives the client side of the handshake against a
// server at peer, using timerMgr to schedule the handshake resend loop.
func NewClientConnection(sock socket.Socket, peer net.Addr, cfg config.Config, timerMgr *timer.TimerManager, auth *handshake.AuthMessage, cb Callbacks) *Connection {
	c := newConnection(RoleClient, sock, peer, cfg, cb)
	c.client = handshake.NewClientHandshake(c, timerMgr, cfg.SendHandshakeInterval, auth, socket.Now, func() {
		if c.cb.OnConnected != nil {
			c.cb.OnConnected()
		}
	})
	return c
}

// NewServerConnection creates the server-side record for a peer as soon as
// its first handshake packet arrives (the "first accept" in the lifecycle
// design); server holds the pre-shared HMAC key and is shared across every
// peer the listener serves.
func NewServerConnection(sock socket.Socket, peer net.Addr, cfg config.Config, server *handshake.Server, cb Callbacks) *Connection {
	c := newConnection(RoleServer, sock, peer, cfg, cb)
	c.server = server
	return c
}

// RegisterChannel attaches a tick-buffer channel under id. Must be called
// before the connection starts exchanging Data packets.
func (c *Connection) RegisterChannel(id uint8, ch *tickchannel.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[id] = ch
}

// IsConnected reports whether the handshake has reached Connected.
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role == RoleClient {
		return c.client.State() == handshake.Connected
	}
	return c.connected
}

// MarkSent resets the heartbeat deadline; called by every outbound send path.
func (c *Connection) MarkSent() { c.heartbeat.MarkSent() }

// ShouldSendHeartbeat is a pure read of the heartbeat timer.
func (c *Connection) ShouldSendHeartbeat() bool { return c.heartbeat.ShouldSendHeartbeat() }

// ShouldDrop is a pure read of the timeout timer.
func (c *Connection) ShouldDrop() bool { return c.timeout.ShouldDrop() }

// SendHeartbeat emits a bare heartbeat packet (header only).
func (c *Connection) SendHeartbeat() error {
	return c.sendRaw(packet.TypeHeartbeat, nil)
}

// SendPing emits a ping and records its send time for RTT sampling.
func (c *Connection) SendPing() error {
	idx, err := c.sendRawIndexed(packet.TypePing, nil)
	if err != nil {
		return err
	}
	c.rtt.RecordPingSent(idx, socket.Now())
	return nil
}

// EstimatedRTT returns the current smoothed round-trip estimate, floored at
// MinimumCommandLatency.
func (c *Connection) EstimatedRTT() (d time.Duration, ok bool) {
	return c.rtt.Estimate()
}

// Disconnect initiates a graceful local disconnect: it emits the
// disconnect burst (client role) and notifies the upward callback.
func (c *Connection) Disconnect() {
	if c.role == RoleClient && c.client != nil {
		c.client.Disconnect()
	}
	if c.cb.OnDisconnected != nil {
		c.cb.OnDisconnected("local_disconnect")
	}
}

// SendHandshakePacket implements handshake.Sender for the client role.
func (c *Connection) SendHandshakePacket(pt packet.Type, body []byte) error {
	return c.sendRaw(pt, body)
}

func (c *Connection) sendRaw(pt packet.Type, body []byte) error {
	_, err := c.sendRawIndexed(pt, body)
	return err
}

func (c *Connection) sendRawIndexed(pt packet.Type, body []byte) (tick.PacketIndex, error) {
	header := c.ackMgr.NextOutgoingHeader(pt)
	buf := append(header.Encode(), body...)
	if err := c.sock.SendTo(c.peer, buf); err != nil {
		return 0, err
	}
	c.heartbeat.MarkSent()
	return header.PacketIndex, nil
}

// WriteOutgoingPacket assembles one Data packet for hostTick: header, the
// sender's current tick (the baseline channels decode tick_diff against),
// then each registered channel's segment, gated by a one-bit continuation
// flag and terminated by a zero bit once every channel has been written or
// skipped for lack of room.
func (c *Connection) WriteOutgoingPacket(hostTick tick.Tick) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	header := c.ackMgr.NextOutgoingHeader(packet.TypeData)
	headerBytes := header.Encode()

	prefix := new(bytes.Buffer)
	prefix.Write(headerBytes)
	binary.Write(prefix, binary.BigEndian, hostTick)

	w := wire.NewBitWriter()

	ids := make([]uint8, 0, len(c.channels))
	for id := range c.channels {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		ch := c.channels[id]
		remaining := c.cfg.MTUSizeBits - prefix.Len()*8 - w.BitLength() - 1 - 8
		if remaining <= 0 {
			continue
		}
		w.WriteBit(1)
		w.WriteBits(uint64(id), 8)
		deliveries, err := ch.WriteMessages(w, hostTick, remaining)
		if err != nil {
			return nil, err
		}
		for _, d := range deliveries {
			c.inflight[header.PacketIndex] = append(c.inflight[header.PacketIndex], inflightEntry{
				channelID: id, tick: d.Tick, messageID: d.MessageID,
			})
		}
	}
	w.WriteBit(0)

	c.heartbeat.MarkSent()

	full := append(prefix.Bytes(), w.Bytes()...)
	if len(full)*8 > c.cfg.MTUSizeBits {
		logging.Warn("outgoing packet exceeded MTU", zap.Int("bits", len(full)*8), zap.Int("limit", c.cfg.MTUSizeBits))
	}
	return full, nil
}

// ReadIncomingPacket decodes one inbound datagram and dispatches it. hostTick
// is the local simulator's current tick, needed to evaluate IncomingBuffer's
// staleness check on any Data packet.
func (c *Connection) ReadIncomingPacket(data []byte, hostTick tick.Tick) error {
	header, rest, err := packet.DecodeHeader(data)
	if err != nil {
		return nil // MalformedPacket: drop, do not mark_heard.
	}

	c.ackMgr.ProcessIncomingHeader(header)
	c.timeout.MarkHeard()

	switch header.PacketType {
	case packet.TypeClientChallengeRequest:
		return c.handleChallengeRequest(rest)
	case packet.TypeServerChallengeResponse:
		return c.handleServerChallengeResponse(rest)
	case packet.TypeClientConnectRequest:
		return c.handleConnectRequest(rest)
	case packet.TypeServerConnectResponse:
		return c.handleServerConnectResponse(rest)
	case packet.TypeData:
		return c.handleData(rest, hostTick)
	case packet.TypeHeartbeat:
		return nil
	case packet.TypePing:
		echo := make([]byte, 2)
		binary.BigEndian.PutUint16(echo, header.PacketIndex)
		return c.sendRaw(packet.TypePong, echo)
	case packet.TypePong:
		if len(rest) < 2 {
			return nil
		}
		pingIdx := binary.BigEndian.Uint16(rest[:2])
		c.rtt.RecordPongReceived(pingIdx, socket.Now())
		return nil
	case packet.TypeDisconnect:
		return c.handleDisconnect(rest)
	default:
		return nil // UnexpectedType: silently drop.
	}
}

func (c *Connection) handleChallengeRequest(body []byte) error {
	if c.role != RoleServer {
		return nil
	}
	resp, err := c.server.HandleChallengeRequest(body)
	if err != nil {
		return nil
	}
	return c.sendRaw(packet.TypeServerChallengeResponse, resp.Encode())
}

func (c *Connection) handleServerChallengeResponse(body []byte) error {
	if c.role != RoleClient {
		return nil
	}
	return c.client.OnServerChallengeResponse(body)
}

func (c *Connection) handleConnectRequest(body []byte) error {
	if c.role != RoleServer {
		return nil
	}
	req, err := handshake.DecodeConnectRequest(body)
	if err != nil {
		return nil
	}
	if !c.server.VerifyConnectRequest(req) {
		return nil
	}
	c.mu.Lock()
	alreadyConnected := c.connected
	c.connected = true
	c.mu.Unlock()

	if err := c.sendRaw(packet.TypeServerConnectResponse, c.server.ConnectResponse().Encode()); err != nil {
		return err
	}
	if !alreadyConnected && c.cb.OnConnected != nil {
		c.cb.OnConnected()
	}
	return nil
}

func (c *Connection) handleServerConnectResponse(body []byte) error {
	if c.role != RoleClient {
		return nil
	}
	return c.client.OnServerConnectResponse(body)
}

func (c *Connection) handleDisconnect(body []byte) error {
	req, err := handshake.DecodeDisconnect(body)
	if err != nil {
		return nil
	}
	if c.role == RoleServer && !c.server.VerifyDisconnect(req) {
		return nil // DigestMismatch: silently drop, could be a blind spoof.
	}
	if c.cb.OnDisconnected != nil {
		c.cb.OnDisconnected("peer_disconnect")
	}
	return nil
}

func (c *Connection) handleData(body []byte, hostTick tick.Tick) error {
	if len(body) < 2 {
		return nil
	}
	remoteTick := tick.Tick(binary.BigEndian.Uint16(body[:2]))
	r := wire.NewBitReader(body[2:])

	for {
		more, err := r.ReadBit()
		if err != nil {
			return nil // truncated continuation flag: treat as end of body.
		}
		if more == 0 {
			return nil
		}
		idBits, err := r.ReadBits(8)
		if err != nil {
			return nil
		}
		ch, ok := c.channels[uint8(idBits)]
		if !ok {
			return errors.New("connection: data packet references unregistered channel")
		}
		if err := ch.ReadMessages(r, hostTick, remoteTick); err != nil {
			return nil // MalformedPacket within a channel segment: drop rest.
		}
	}
}

// NotifyPacketDelivered implements ack.Notifiable: it forwards delivery to
// every channel that had an in-flight message on this packet index.
func (c *Connection) NotifyPacketDelivered(idx tick.PacketIndex) {
	c.mu.Lock()
	entries := c.inflight[idx]
	delete(c.inflight, idx)
	channels := c.channels
	c.mu.Unlock()

	for _, e := range entries {
		if ch, ok := channels[e.channelID]; ok {
			ch.NotifyMessageDelivered(e.tick, e.messageID)
		}
	}
}

// NotifyPacketDropped implements ack.Notifiable. No action is needed: the
// message stays in its MessageMap slot and is re-staged by the next
// CollectOutgoingMessages call until it is delivered or pruned.
func (c *Connection) NotifyPacketDropped(idx tick.PacketIndex) {
	c.mu.Lock()
	delete(c.inflight, idx)
	c.mu.Unlock()
}
