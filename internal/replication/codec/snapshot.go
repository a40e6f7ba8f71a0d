// Snapshot records are the fixed-layout entity records packed into a
// TRACKER_UPDATE blob by the interest tracker (spec.md §4.4). Unlike the
// rest of the protocol these are raw binary, not MessagePack: the original
// packs them with a direct memcpy into a preallocated buffer
// (entity_view_pack_struct). Records are not padded to a fixed size: each
// one is snapshotHeaderSize plus len(Extra) bytes, at most
// snapshotHeaderSize+MaxSnapshotExtra, and the tracker encodes each record
// before checking whether it fits the caller-supplied buffer.
package codec

import (
	"encoding/binary"
	"fmt"
)

// MaxSnapshotExtra bounds the Extra field so every record has the same
// maximum size regardless of kind.
const MaxSnapshotExtra = 32

// snapshotHeaderSize is the size of the fixed portion of a record: x(2) +
// y(2) + kind(1) + extra length(1).
const snapshotHeaderSize = 6

// SnapshotKind distinguishes what a tracked entity is, for client-side
// rendering decisions. It is intentionally a single byte.
type SnapshotKind uint8

// Snapshot is one entity's replicated state for one observer, as it appears
// inside a CREATE or UPDATE record of a TRACKER_UPDATE blob.
type Snapshot struct {
	X, Y  int16
	Kind  SnapshotKind
	Extra []byte
}

// Size returns the encoded size of s in bytes.
func (s Snapshot) Size() int {
	return snapshotHeaderSize + len(s.Extra)
}

// EncodeSnapshot appends s's fixed-layout encoding to dst and returns the
// extended slice. It returns an error without modifying dst if len(Extra)
// exceeds MaxSnapshotExtra.
func EncodeSnapshot(dst []byte, s Snapshot) ([]byte, error) {
	if len(s.Extra) > MaxSnapshotExtra {
		return dst, fmt.Errorf("codec: snapshot extra field too long: %d > %d", len(s.Extra), MaxSnapshotExtra)
	}
	var hdr [snapshotHeaderSize]byte
	binary.LittleEndian.PutUint16(hdr[0:2], uint16(s.X))
	binary.LittleEndian.PutUint16(hdr[2:4], uint16(s.Y))
	hdr[4] = byte(s.Kind)
	hdr[5] = byte(len(s.Extra))
	dst = append(dst, hdr[:]...)
	dst = append(dst, s.Extra...)
	return dst, nil
}

// DecodeSnapshot reads one fixed-layout record from the front of src,
// returning the decoded record and the number of bytes consumed. It returns
// an error if src is too short to hold a full record.
func DecodeSnapshot(src []byte) (Snapshot, int, error) {
	if len(src) < snapshotHeaderSize {
		return Snapshot{}, 0, fmt.Errorf("codec: truncated snapshot header: %d bytes", len(src))
	}
	x := int16(binary.LittleEndian.Uint16(src[0:2]))
	y := int16(binary.LittleEndian.Uint16(src[2:4]))
	kind := SnapshotKind(src[4])
	extraLen := int(src[5])
	total := snapshotHeaderSize + extraLen
	if len(src) < total {
		return Snapshot{}, 0, fmt.Errorf("codec: truncated snapshot body: need %d bytes, have %d", total, len(src))
	}
	var extra []byte
	if extraLen > 0 {
		extra = make([]byte, extraLen)
		copy(extra, src[snapshotHeaderSize:total])
	}
	return Snapshot{X: x, Y: y, Kind: kind, Extra: extra}, total, nil
}
