package codec

import "github.com/vmihailenco/msgpack/v5"

// Welcome is sent on the reliable channel immediately after a peer
// connects (spec.md §4.3, §4.5).
type Welcome struct {
	BlockSize uint16
	ChunkSize uint16
	WorldSize uint16
	ViewID    uint16
}

func (Welcome) PacketID() PacketID { return PacketWelcome }

func (w Welcome) encodeFields(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(4); err != nil {
		return err
	}
	for _, v := range []uint16{w.BlockSize, w.ChunkSize, w.WorldSize, w.ViewID} {
		if err := enc.EncodeUint16(v); err != nil {
			return err
		}
	}
	return nil
}

func (w *Welcome) decodeFields(dec *msgpack.Decoder) error {
	values := make([]uint16, 4)
	for i := range values {
		v, err := dec.DecodeUint64()
		if err != nil {
			return err
		}
		if v > 0xFFFF {
			return errFieldRange("welcome", i)
		}
		values[i] = uint16(v)
	}
	w.BlockSize, w.ChunkSize, w.WorldSize, w.ViewID = values[0], values[1], values[2], values[3]
	return nil
}

func decodeWelcome(body []byte) (Payload, error) {
	w := &Welcome{}
	err := decodeBody(body, 4, w.decodeFields)
	return w, err
}

// KeyState carries the owning client's current input state, sent on the
// unreliable channel at a fixed rate.
type KeyState struct {
	X, Y        int8
	Use, Sprint bool
}

func (KeyState) PacketID() PacketID { return PacketKeyState }

func (k KeyState) encodeFields(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(4); err != nil {
		return err
	}
	if err := enc.EncodeInt8(k.X); err != nil {
		return err
	}
	if err := enc.EncodeInt8(k.Y); err != nil {
		return err
	}
	if err := enc.EncodeBool(k.Use); err != nil {
		return err
	}
	return enc.EncodeBool(k.Sprint)
}

func (k *KeyState) decodeFields(dec *msgpack.Decoder) error {
	x, err := dec.DecodeInt64()
	if err != nil {
		return err
	}
	y, err := dec.DecodeInt64()
	if err != nil {
		return err
	}
	use, err := dec.DecodeBool()
	if err != nil {
		return err
	}
	sprint, err := dec.DecodeBool()
	if err != nil {
		return err
	}
	if x < -128 || x > 127 || y < -128 || y > 127 {
		return errFieldRange("keystate", 0)
	}
	k.X, k.Y, k.Use, k.Sprint = int8(x), int8(y), use, sprint
	return nil
}

func decodeKeyState(body []byte) (Payload, error) {
	k := &KeyState{}
	err := decodeBody(body, 4, k.decodeFields)
	return k, err
}

// TrackerUpdate wraps one interest-tracker write pass's byte stream
// (spec.md §4.4) as the blob field of a TRACKER_UPDATE packet.
type TrackerUpdate struct {
	Blob []byte
}

func (TrackerUpdate) PacketID() PacketID { return PacketTrackerUpdate }

func (t TrackerUpdate) encodeFields(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(1); err != nil {
		return err
	}
	return enc.EncodeBytes(t.Blob)
}

func (t *TrackerUpdate) decodeFields(dec *msgpack.Decoder) error {
	blob, err := dec.DecodeBytes()
	if err != nil {
		return err
	}
	t.Blob = blob
	return nil
}

func decodeTrackerUpdate(body []byte) (Payload, error) {
	t := &TrackerUpdate{}
	err := decodeBody(body, 1, t.decodeFields)
	return t, err
}

// SpawnCar carries no fields; it requests that the simulation spawn a car
// entity owned by the sending peer.
type SpawnCar struct{}

func (SpawnCar) PacketID() PacketID { return PacketSpawnCar }

func (SpawnCar) encodeFields(enc *msgpack.Encoder) error {
	return enc.EncodeArrayLen(0)
}

func (*SpawnCar) decodeFields(*msgpack.Decoder) error {
	return nil
}

func decodeSpawnCar(body []byte) (Payload, error) {
	s := &SpawnCar{}
	err := decodeBody(body, 0, s.decodeFields)
	return s, err
}

// KeepAlive carries no fields. worldsync-client sends it periodically on
// the reliable channel; the server decodes it and takes no further action,
// so peer liveness rests on the transport's disconnect events.
type KeepAlive struct{}

func (KeepAlive) PacketID() PacketID { return PacketKeepAlive }

func (KeepAlive) encodeFields(enc *msgpack.Encoder) error {
	return enc.EncodeArrayLen(0)
}

func (*KeepAlive) decodeFields(*msgpack.Decoder) error {
	return nil
}

func decodeKeepAlive(body []byte) (Payload, error) {
	k := &KeepAlive{}
	err := decodeBody(body, 0, k.decodeFields)
	return k, err
}

func errFieldRange(packet string, field int) error {
	return &FieldRangeError{packet: packet, field: field}
}

// FieldRangeError reports a decoded field that parsed successfully at the
// wire level but fell outside the type it is assigned to.
// It is distinct from a malformed or unknown-packet-id frame: the three-
// strikes disconnect policy does not count it, since the peer is sending
// well-formed frames that just disagree with this server's field ranges.
type FieldRangeError struct {
	packet string
	field  int
}

func (e *FieldRangeError) Error() string {
	return e.packet + ": field " + itoa(e.field) + " out of range"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
