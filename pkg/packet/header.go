// Package packet implements the standard packet header shared by every
// tickrelay datagram and the codec that (de)serializes it. The layout
// mirrors the fixed-field binary.Write/binary.Read codecs used for aRPC's
// DataPacket and ErrorPacket, adapted to the header fields this protocol's
// handshake, ack manager, and tick-buffer channel actually need.
package packet

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/appnet-org/tickrelay/pkg/tick"
)

// Type selects the packet's role. 0 is reserved so a zeroed header is never
// mistaken for a valid packet.
type Type uint8

const (
	TypeUnknown                  Type = 0
	TypeClientChallengeRequest   Type = 1
	TypeServerChallengeResponse  Type = 2
	TypeClientConnectRequest     Type = 3
	TypeServerConnectResponse    Type = 4
	TypeData                     Type = 5
	TypeHeartbeat                Type = 6
	TypePing                     Type = 7
	TypePong                     Type = 8
	TypeDisconnect               Type = 9
)

func (t Type) String() string {
	switch t {
	case TypeClientChallengeRequest:
		return "ClientChallengeRequest"
	case TypeServerChallengeResponse:
		return "ServerChallengeResponse"
	case TypeClientConnectRequest:
		return "ClientConnectRequest"
	case TypeServerConnectResponse:
		return "ServerConnectResponse"
	case TypeData:
		return "Data"
	case TypeHeartbeat:
		return "Heartbeat"
	case TypePing:
		return "Ping"
	case TypePong:
		return "Pong"
	case TypeDisconnect:
		return "Disconnect"
	default:
		return "Unknown"
	}
}

// HeaderSize is the fixed wire size of StandardHeader in bytes.
const HeaderSize = 8

// StandardHeader is carried by every packet: type, sender-assigned index,
// highest remote index the sender has observed, and a bitfield recording
// the 16 indices below that high-water mark.
type StandardHeader struct {
	PacketType      Type
	PacketIndex     tick.PacketIndex
	LastRemoteIndex tick.PacketIndex
	AckBitfield     uint16
	Extra           uint8
}

var ErrHeaderTooShort = errors.New("packet: buffer too short for standard header")

// Encode serializes the header in network byte order.
func (h StandardHeader) Encode() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(byte(h.PacketType))
	binary.Write(buf, binary.BigEndian, h.PacketIndex)
	binary.Write(buf, binary.BigEndian, h.LastRemoteIndex)
	binary.Write(buf, binary.BigEndian, h.AckBitfield)
	buf.WriteByte(h.Extra)
	return buf.Bytes()
}

// DecodeHeader reads a StandardHeader from the front of data and returns the
// remaining, unconsumed bytes.
func DecodeHeader(data []byte) (StandardHeader, []byte, error) {
	if len(data) < HeaderSize {
		return StandardHeader{}, nil, ErrHeaderTooShort
	}
	r := bytes.NewReader(data[:HeaderSize])
	var h StandardHeader
	pt, _ := r.ReadByte()
	h.PacketType = Type(pt)
	binary.Read(r, binary.BigEndian, &h.PacketIndex)
	binary.Read(r, binary.BigEndian, &h.LastRemoteIndex)
	binary.Read(r, binary.BigEndian, &h.AckBitfield)
	extra, _ := r.ReadByte()
	h.Extra = extra
	return h, data[HeaderSize:], nil
}
