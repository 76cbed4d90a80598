// Package handshake drives the pre-connection state machine that
// establishes a verified, replay-resistant session over unreliable packets.
// The client/server split and the embedded-base-plus-specialized-handler
// shape follow aRPC's ReliableClientHandler/ReliableServerHandler pair; the
// actual challenge/digest protocol is new, since request/response
// reliability and session establishment are different problems.
package handshake

// State is a position in the client-side handshake state machine.
type State int

const (
	// AwaitingChallengeResponse is the initial state: a ClientChallengeRequest
	// has been (or is about to be) sent and the client is waiting for the
	// server to echo its nonce and a verification digest.
	AwaitingChallengeResponse State = iota
	// AwaitingConnectResponse is reached once the challenge response has
	// been verified; a ClientConnectRequest carrying the signed timestamp
	// has been sent.
	AwaitingConnectResponse
	// Connected is terminal: reached only via a valid ServerConnectResponse.
	Connected
)

func (s State) String() string {
	switch s {
	case AwaitingChallengeResponse:
		return "AwaitingChallengeResponse"
	case AwaitingConnectResponse:
		return "AwaitingConnectResponse"
	case Connected:
		return "Connected"
	default:
		return "Unknown"
	}
}
