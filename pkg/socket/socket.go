// Package socket is the L0 packet I/O layer: it owns the raw UDP connection
// and exposes a minimal non-blocking Send/Receive surface plus a monotonic
// clock. Everything above this layer (ack management, handshake, the
// tick-buffer channel) is agnostic to the concrete transport, matching how
// aRPC's UDPTransport is the one place net.UDPConn appears.
package socket

import (
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/appnet-org/tickrelay/pkg/logging"
)

// ErrWouldBlock is returned by Receive when no datagram is currently
// available; callers poll in a loop rather than blocking the single
// cooperative task described by the connection's scheduling model.
var ErrWouldBlock = errors.New("socket: no datagram available")

// Socket is the collaborator boundary the rest of the package depends on.
// Production code uses UDPSocket; tests substitute an in-memory pair.
type Socket interface {
	SendTo(addr net.Addr, data []byte) error
	Receive(buf []byte) (int, net.Addr, error)
	LocalAddr() net.Addr
	Close() error
}

// UDPSocket implements Socket over a bound net.UDPConn in non-blocking mode.
type UDPSocket struct {
	conn *net.UDPConn
}

// Listen binds a UDP socket at address (host:port, or :port to bind all
// interfaces). Receive, not Listen, makes reads non-blocking by setting a
// read deadline on every call.
func Listen(address string) (*UDPSocket, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	logging.Info("socket listening", zap.String("addr", conn.LocalAddr().String()))
	return &UDPSocket{conn: conn}, nil
}

// SendTo writes one datagram to addr.
func (s *UDPSocket) SendTo(addr net.Addr, data []byte) error {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return errors.New("socket: addr is not a *net.UDPAddr")
	}
	_, err := s.conn.WriteToUDP(data, udpAddr)
	return err
}

// Receive performs a non-blocking read: it returns ErrWouldBlock instead of
// blocking when nothing is queued, so the caller's per-frame poll loop never
// stalls on an idle socket.
func (s *UDPSocket) Receive(buf []byte) (int, net.Addr, error) {
	if err := s.conn.SetReadDeadline(time.Now()); err != nil {
		return 0, nil, err
	}
	n, addr, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, nil, ErrWouldBlock
		}
		return 0, nil, err
	}
	return n, addr, nil
}

// LocalAddr returns the bound local address.
func (s *UDPSocket) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// Close releases the underlying connection.
func (s *UDPSocket) Close() error { return s.conn.Close() }

// Now returns the monotonic wall-clock instant used for timers and the
// handshake's pre-connection timestamp nonce.
func Now() time.Time { return time.Now() }
