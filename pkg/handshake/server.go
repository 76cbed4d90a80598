package handshake

import (
	"go.uber.org/zap"

	"github.com/appnet-org/tickrelay/pkg/logging"
)

// Server is the server side of the handshake protocol. Unlike the client it
// carries no per-peer mutable state of its own: every request stands alone,
// verified against the shared key, which is exactly what lets a single
// Server instance serve every connecting peer without a lookup table.
type Server struct {
	key []byte
}

// NewServer builds a Server around the pre-shared HMAC key used to sign
// challenge digests.
func NewServer(key []byte) *Server {
	return &Server{key: append([]byte(nil), key...)}
}

// HandleChallengeRequest answers step 1: echo the timestamp back with a
// digest the client must return verbatim on its connect request.
func (s *Server) HandleChallengeRequest(data []byte) (ChallengeResponseBody, error) {
	req, err := DecodeChallengeRequest(data)
	if err != nil {
		return ChallengeResponseBody{}, err
	}
	return ChallengeResponseBody{
		Timestamp: req.Timestamp,
		Digest:    Sign(s.key, req.Timestamp),
	}, nil
}

// VerifyConnectRequest reports whether a decoded connect request carries a
// digest this server actually signed. A forged or stale digest from a
// different key fails here and the caller silently drops the packet.
func (s *Server) VerifyConnectRequest(body ConnectRequestBody) bool {
	ok := Verify(s.key, body.Timestamp, body.Digest)
	if !ok {
		logging.Debug("handshake: connect request failed verification", zap.Int64("timestamp", body.Timestamp))
	}
	return ok
}

// VerifyDisconnect reports whether a decoded disconnect body carries a
// digest this server signed, distinguishing a genuine peer-initiated
// disconnect from a blind spoof by an attacker who never completed the
// challenge.
func (s *Server) VerifyDisconnect(body DisconnectBody) bool {
	return Verify(s.key, body.Timestamp, body.Digest)
}

// ConnectResponse builds the (empty) step-4 body sent once a connect
// request verifies.
func (s *Server) ConnectResponse() ConnectResponseBody {
	return ConnectResponseBody{}
}
