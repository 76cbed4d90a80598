package command

import (
	"errors"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// KindBytes is the built-in kind for an opaque byte-string payload, wire-
// encoded as a protobuf BytesValue. It follows the aRPC benchmark suite's
// pattern of wrapping arbitrary payloads in a well-known proto message
// (serializeProto(msg proto.Message) []byte, error) rather than a bespoke
// length-prefixed encoding, so the channel genuinely exercises the proto
// runtime instead of just linking it.
const KindBytes Kind = 1

// RegisterBuiltins adds the built-in kinds to t. Applications register
// their own component/command kinds alongside these at startup.
func RegisterBuiltins(t *Table) {
	t.Register(KindBytes, serializeBytes, deserializeBytes)
}

func serializeBytes(p Payload) ([]byte, error) {
	b, ok := p.([]byte)
	if !ok {
		return nil, errors.New("command: KindBytes payload must be []byte")
	}
	return proto.Marshal(wrapperspb.Bytes(b))
}

func deserializeBytes(data []byte) (Payload, error) {
	var w wrapperspb.BytesValue
	if err := proto.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return w.GetValue(), nil
}
