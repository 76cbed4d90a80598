// Package command implements the kind table that replaces the source
// protocol's generic payload parameter (§9 Design Notes: "Dynamic component
// kinds"). A command or component payload is opaque to the tick-buffer
// channel; it is identified on the wire by a single-byte kind id, and the
// table here is a closed-world lookup from that id to a serialize/
// deserialize pair, registered once at startup rather than resolved through
// dynamic dispatch.
package command

import (
	"fmt"
	"sync"
)

// Kind is the wire discriminator for a payload's registered type.
type Kind uint8

// Payload is an opaque, already-decoded command or component value. The
// channel and base connection never inspect it beyond calling its kind's
// registered serializer.
type Payload interface{}

// Serializer encodes a Payload to bytes.
type Serializer func(Payload) ([]byte, error)

// Deserializer decodes bytes into a Payload.
type Deserializer func([]byte) (Payload, error)

type entry struct {
	serialize   Serializer
	deserialize Deserializer
}

// Table is a registry of kind -> (serialize, deserialize) function pairs.
// It is built once at startup and treated as read-only afterward; the
// mutex exists only to make concurrent registration during init safe, not
// because the table changes at steady state.
type Table struct {
	mu      sync.RWMutex
	entries map[Kind]entry
}

// NewTable returns an empty kind table.
func NewTable() *Table {
	return &Table{entries: make(map[Kind]entry)}
}

// Register binds a kind id to its serialize/deserialize pair. Registering
// the same kind twice is a programming error: it panics rather than
// silently shadowing the first registration.
func (t *Table) Register(k Kind, ser Serializer, de Deserializer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[k]; exists {
		panic(fmt.Sprintf("command: kind %d registered twice", k))
	}
	t.entries[k] = entry{serialize: ser, deserialize: de}
}

// ErrUnknownKind is returned when encoding or decoding references a kind id
// with no registered entry.
type ErrUnknownKind Kind

func (e ErrUnknownKind) Error() string {
	return fmt.Sprintf("command: unknown kind %d", Kind(e))
}

// Encode serializes payload using the serializer registered for k.
func (t *Table) Encode(k Kind, p Payload) ([]byte, error) {
	t.mu.RLock()
	e, ok := t.entries[k]
	t.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownKind(k)
	}
	return e.serialize(p)
}

// Decode deserializes data using the deserializer registered for k.
func (t *Table) Decode(k Kind, data []byte) (Payload, error) {
	t.mu.RLock()
	e, ok := t.entries[k]
	t.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownKind(k)
	}
	return e.deserialize(data)
}
