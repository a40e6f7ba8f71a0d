// Package codec implements the replication wire format: a framed,
// self-describing packet with a dispatch table (spec.md §4.3), plus the
// fixed-schema entity snapshot sub-codec used inside TRACKER_UPDATE
// blobs (see snapshot.go).
//
// Every frame is a two-element MessagePack array: a packet id (bounded to
// 16 bits) and an opaque body blob. The body is itself a
// MessagePack array whose field count and types are fixed per packet id,
// mirroring the original's cwpack-based two-level framing.
package codec

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// PacketID identifies a packet kind. The wire representation is a
// non-negative integer bounded to 16 bits.
type PacketID uint16

const (
	PacketWelcome       PacketID = 0x01
	PacketKeyState      PacketID = 0x02
	PacketTrackerUpdate PacketID = 0x03
	PacketSpawnCar      PacketID = 0x04
	PacketKeepAlive     PacketID = 0x05
)

// Payload is implemented by every packet's body type. encodeFields and
// decodeFields write/read the body's fixed field list, in order, as their
// own MessagePack array — a framed record nested inside the top-level
// frame.
type Payload interface {
	PacketID() PacketID
	encodeFields(enc *msgpack.Encoder) error
	decodeFields(dec *msgpack.Decoder) error
}

// EncodeFrame wraps a packet id and an already-encoded body into the
// top-level two-field frame.
func EncodeFrame(id PacketID, body []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(2); err != nil {
		return nil, fmt.Errorf("codec: encode frame header: %w", err)
	}
	if err := enc.EncodeUint16(uint16(id)); err != nil {
		return nil, fmt.Errorf("codec: encode packet id: %w", err)
	}
	if err := enc.EncodeBytes(body); err != nil {
		return nil, fmt.Errorf("codec: encode body: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeFrame splits a raw datagram into its packet id and body, rejecting
// any frame with the wrong top-level arity, an out-of-range id, or
// unconsumed trailing bytes (the EOF check spec.md §4.3 requires).
func DecodeFrame(data []byte) (PacketID, []byte, error) {
	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)

	n, err := dec.DecodeArrayLen()
	if err != nil {
		return 0, nil, fmt.Errorf("codec: malformed frame: %w", err)
	}
	if n != 2 {
		return 0, nil, fmt.Errorf("codec: malformed frame: expected 2 top-level fields, got %d", n)
	}

	rawID, err := dec.DecodeUint64()
	if err != nil {
		return 0, nil, fmt.Errorf("codec: malformed frame: decode packet id: %w", err)
	}
	if rawID > 0xFFFF {
		return 0, nil, fmt.Errorf("codec: malformed frame: packet id %d out of range", rawID)
	}

	body, err := dec.DecodeBytes()
	if err != nil {
		return 0, nil, fmt.Errorf("codec: malformed frame: decode body: %w", err)
	}

	if r.Len() != 0 {
		return 0, nil, fmt.Errorf("codec: malformed frame: %d trailing bytes", r.Len())
	}

	return PacketID(rawID), body, nil
}

// Encode serializes a full packet: its payload's fields, then the
// top-level frame around them.
func Encode(p Payload) ([]byte, error) {
	var bodyBuf bytes.Buffer
	enc := msgpack.NewEncoder(&bodyBuf)
	if err := p.encodeFields(enc); err != nil {
		return nil, fmt.Errorf("codec: encode %s body: %w", p.PacketID(), err)
	}
	return EncodeFrame(p.PacketID(), bodyBuf.Bytes())
}

type decodeFunc func([]byte) (Payload, error)

var dispatch = map[PacketID]decodeFunc{
	PacketWelcome:       decodeWelcome,
	PacketKeyState:      decodeKeyState,
	PacketTrackerUpdate: decodeTrackerUpdate,
	PacketSpawnCar:      decodeSpawnCar,
	PacketKeepAlive:     decodeKeepAlive,
}

// Decode identifies a datagram's packet and decodes its fields. An unknown
// packet id is a decode error; the tick loop logs and drops it and counts
// it toward the same three-strikes disconnect policy as a malformed frame.
func Decode(data []byte) (PacketID, Payload, error) {
	id, body, err := DecodeFrame(data)
	if err != nil {
		return 0, nil, err
	}

	fn, ok := dispatch[id]
	if !ok {
		return id, nil, fmt.Errorf("codec: unknown packet id 0x%04x", uint16(id))
	}

	payload, err := fn(body)
	if err != nil {
		return id, nil, fmt.Errorf("codec: decode 0x%04x body: %w", uint16(id), err)
	}
	return id, payload, nil
}

func decodeBody(body []byte, n int, fn func(dec *msgpack.Decoder) error) error {
	r := bytes.NewReader(body)
	dec := msgpack.NewDecoder(r)

	got, err := dec.DecodeArrayLen()
	if err != nil {
		return fmt.Errorf("decode body header: %w", err)
	}
	if got != n {
		return fmt.Errorf("expected %d fields, got %d", n, got)
	}
	if err := fn(dec); err != nil {
		return err
	}
	if r.Len() != 0 {
		return fmt.Errorf("%d trailing bytes in body", r.Len())
	}
	return nil
}

func (id PacketID) String() string {
	switch id {
	case PacketWelcome:
		return "WELCOME"
	case PacketKeyState:
		return "KEYSTATE"
	case PacketTrackerUpdate:
		return "TRACKER_UPDATE"
	case PacketSpawnCar:
		return "SPAWN_CAR"
	case PacketKeepAlive:
		return "KEEPALIVE"
	default:
		return fmt.Sprintf("PACKET(0x%04x)", uint16(id))
	}
}
