// Package replay implements the replay file header and frame framing
// contract: the recorder itself lives outside this module (an external
// collaborator), but the header format and the record reader/writer live
// here. Records carry the same packet id and body as a live wire frame,
// under their own binary record header.
package replay

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/zaklaus-sim/worldsync/internal/replication/codec"
)

// Magic identifies a worldsync replay file.
const Magic uint32 = 0x421DC97E

// Version is the replay format version this package writes and the only
// version it accepts on read.
const Version uint32 = 1

// maxRecordBytes bounds a single record's payload, guarding against a
// corrupt length field driving an unbounded allocation.
const maxRecordBytes = 1 << 20

// Header is the fixed 8-byte prefix of every replay file.
type Header struct {
	Magic   uint32
	Version uint32
}

// Record is one captured packet frame plus the offset, in milliseconds
// from recording start, at which it was captured.
type Record struct {
	OffsetMillis uint32
	PacketID     codec.PacketID
	Body         []byte
}

// WriteHeader writes the fixed replay header to w.
func WriteHeader(w io.Writer) error {
	var buf [8]byte
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	binary.BigEndian.PutUint32(buf[4:8], Version)
	_, err := w.Write(buf[:])
	return err
}

// ReadHeader reads and validates the fixed replay header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, fmt.Errorf("replay: read header: %w", err)
	}
	h := Header{
		Magic:   binary.BigEndian.Uint32(buf[0:4]),
		Version: binary.BigEndian.Uint32(buf[4:8]),
	}
	if h.Magic != Magic {
		return Header{}, fmt.Errorf("replay: bad magic %#x, want %#x", h.Magic, Magic)
	}
	if h.Version != Version {
		return Header{}, fmt.Errorf("replay: unsupported version %d, want %d", h.Version, Version)
	}
	return h, nil
}

// WriteRecord appends one captured frame. offset is the time since
// recording start; id and body are the already-framed codec payload, as
// returned by codec.DecodeFrame.
func WriteRecord(w io.Writer, offset time.Duration, id codec.PacketID, body []byte) error {
	var hdr [10]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(offset.Milliseconds()))
	binary.BigEndian.PutUint16(hdr[4:6], uint16(id))
	binary.BigEndian.PutUint32(hdr[6:10], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("replay: write record header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("replay: write record body: %w", err)
	}
	return nil
}

// ReadRecord reads one record written by WriteRecord. It returns io.EOF
// once the stream is exhausted cleanly between records.
func ReadRecord(r io.Reader) (Record, error) {
	var hdr [10]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Record{}, fmt.Errorf("replay: truncated record header")
		}
		return Record{}, err
	}

	n := binary.BigEndian.Uint32(hdr[6:10])
	if n > maxRecordBytes {
		return Record{}, fmt.Errorf("replay: record of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Record{}, fmt.Errorf("replay: read record body: %w", err)
	}

	return Record{
		OffsetMillis: binary.BigEndian.Uint32(hdr[0:4]),
		PacketID:     codec.PacketID(binary.BigEndian.Uint16(hdr[4:6])),
		Body:         body,
	}, nil
}

// WriteFrame captures an already-assembled wire frame (as produced by
// codec.EncodeFrame/codec.Encode) by splitting it back into id and body
// and delegating to WriteRecord, so a recorder can tap live traffic
// without re-encoding it.
func WriteFrame(w io.Writer, offset time.Duration, frame []byte) error {
	id, body, err := codec.DecodeFrame(frame)
	if err != nil {
		return fmt.Errorf("replay: decode frame for capture: %w", err)
	}
	return WriteRecord(w, offset, id, body)
}
