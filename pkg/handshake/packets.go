package handshake

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// ErrTruncated is returned whenever a handshake packet body is shorter than
// its fixed layout requires. The base connection drops such a packet
// silently; it has already absorbed the packet's standard header by then, so
// the ack window and the peer's liveness timer are updated from a packet
// whose body is truncated.
var ErrTruncated = errors.New("handshake: truncated packet body")

// signedTimestampSize is the wire size of a timestamp + digest block,
// carried on every privileged packet (connect request and disconnect).
const signedTimestampSize = 8 + DigestSize

// writeSignedTimestamp appends the 40-byte timestamp+digest block.
func writeSignedTimestamp(buf *bytes.Buffer, timestamp int64, digest Digest) {
	binary.Write(buf, binary.BigEndian, timestamp)
	buf.Write(digest[:])
}

func readSignedTimestamp(data []byte) (int64, Digest, []byte, error) {
	if len(data) < signedTimestampSize {
		return 0, Digest{}, nil, ErrTruncated
	}
	ts := int64(binary.BigEndian.Uint64(data[:8]))
	var d Digest
	copy(d[:], data[8:signedTimestampSize])
	return ts, d, data[signedTimestampSize:], nil
}

// ChallengeRequestBody is step 1: the client's bare nonce.
type ChallengeRequestBody struct {
	Timestamp int64
}

func (b ChallengeRequestBody) Encode() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, b.Timestamp)
	return buf.Bytes()
}

func DecodeChallengeRequest(data []byte) (ChallengeRequestBody, error) {
	if len(data) < 8 {
		return ChallengeRequestBody{}, ErrTruncated
	}
	return ChallengeRequestBody{Timestamp: int64(binary.BigEndian.Uint64(data[:8]))}, nil
}

// ChallengeResponseBody is step 2: the echoed timestamp plus the server's digest.
type ChallengeResponseBody struct {
	Timestamp int64
	Digest    Digest
}

func (b ChallengeResponseBody) Encode() []byte {
	buf := new(bytes.Buffer)
	writeSignedTimestamp(buf, b.Timestamp, b.Digest)
	return buf.Bytes()
}

func DecodeChallengeResponse(data []byte) (ChallengeResponseBody, error) {
	ts, d, _, err := readSignedTimestamp(data)
	if err != nil {
		return ChallengeResponseBody{}, err
	}
	return ChallengeResponseBody{Timestamp: ts, Digest: d}, nil
}

// AuthMessage is an optional, application-defined credential carried on the
// connect request. Its kind/payload are opaque to the handshake layer;
// interpreting them is the server's collaborator (application authorization
// rules are an explicit non-goal of this core).
type AuthMessage struct {
	Kind    uint8
	Payload []byte
}

// ConnectRequestBody is step 3: the signed timestamp block plus an optional
// auth message.
type ConnectRequestBody struct {
	Timestamp int64
	Digest    Digest
	Auth      *AuthMessage
}

func (b ConnectRequestBody) Encode() []byte {
	buf := new(bytes.Buffer)
	writeSignedTimestamp(buf, b.Timestamp, b.Digest)
	if b.Auth == nil {
		buf.WriteByte(0)
		return buf.Bytes()
	}
	buf.WriteByte(1)
	buf.WriteByte(b.Auth.Kind)
	binary.Write(buf, binary.BigEndian, uint32(len(b.Auth.Payload)))
	buf.Write(b.Auth.Payload)
	return buf.Bytes()
}

func DecodeConnectRequest(data []byte) (ConnectRequestBody, error) {
	ts, d, rest, err := readSignedTimestamp(data)
	if err != nil {
		return ConnectRequestBody{}, err
	}
	if len(rest) < 1 {
		return ConnectRequestBody{}, ErrTruncated
	}
	present := rest[0]
	rest = rest[1:]
	body := ConnectRequestBody{Timestamp: ts, Digest: d}
	if present == 0 {
		return body, nil
	}
	if len(rest) < 5 {
		return ConnectRequestBody{}, ErrTruncated
	}
	kind := rest[0]
	payloadLen := binary.BigEndian.Uint32(rest[1:5])
	rest = rest[5:]
	if uint32(len(rest)) < payloadLen {
		return ConnectRequestBody{}, ErrTruncated
	}
	body.Auth = &AuthMessage{Kind: kind, Payload: append([]byte(nil), rest[:payloadLen]...)}
	return body, nil
}

// ConnectResponseBody is step 4: an empty body, its mere arrival is the
// signal to advance to Connected.
type ConnectResponseBody struct{}

func (ConnectResponseBody) Encode() []byte { return nil }

// DisconnectBody carries the same capability as the connect request so the
// server can distinguish a genuine disconnect from a blind spoof.
type DisconnectBody struct {
	Timestamp int64
	Digest    Digest
}

func (b DisconnectBody) Encode() []byte {
	buf := new(bytes.Buffer)
	writeSignedTimestamp(buf, b.Timestamp, b.Digest)
	return buf.Bytes()
}

func DecodeDisconnect(data []byte) (DisconnectBody, error) {
	ts, d, _, err := readSignedTimestamp(data)
	if err != nil {
		return DisconnectBody{}, err
	}
	return DisconnectBody{Timestamp: ts, Digest: d}, nil
}
