package record

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/kstaniek/go-dronecan-server/internal/metrics"

	"github.com/kstaniek/go-dronecan-server/internal/can"
)

// Record is one unit on the client wire: a 29-bit extended identifier plus
// a payload. Server to client it carries a completed transfer payload;
// client to server it carries a single raw CAN frame to inject (payload
// at most 8 bytes including the tail byte).
type Record struct {
	ID   uint32
	Data []byte
}

// MaxDataLen bounds a record payload on the wire. Reassembled DroneCAN
// payloads are small; anything bigger is a framing error.
const MaxDataLen = 4096

// FromFrame wraps a raw CAN frame as an injection record.
func FromFrame(f can.Frame) Record {
	r := Record{ID: f.ExtID(), Data: make([]byte, f.Len)}
	copy(r.Data, f.Data[:f.Len])
	return r
}

// Frame converts an injection record into a CAN frame. Returns false if
// the payload cannot fit a classic CAN frame.
func (r Record) Frame() (can.Frame, bool) {
	if len(r.Data) > can.MaxDataLen {
		return can.Frame{}, false
	}
	var f can.Frame
	f.CANID = (r.ID & can.CAN_EFF_MASK) | can.CAN_EFF_FLAG
	f.Len = uint8(len(r.Data))
	copy(f.Data[:], r.Data)
	return f, true
}

// Codec encodes/decodes transfer records. Stateless and safe for concurrent use.
type Codec struct{}

// ErrDataTooLong is returned when a record length field exceeds MaxDataLen.
var ErrDataTooLong = errors.New("record: data too long")

// ErrTruncated is returned when the underlying reader ends mid-record.
var ErrTruncated = errors.New("record: truncated")

// Encode packs records into a single wire buffer.
func (c *Codec) Encode(recs []Record) []byte {
	if len(recs) == 0 {
		return nil
	}
	n := 0
	for _, r := range recs {
		n += 4 + 2 + len(r.Data)
	}
	var buf bytes.Buffer
	buf.Grow(n)
	_, _ = c.EncodeTo(&buf, recs)
	return buf.Bytes()
}

// EncodeTo writes the wire representation of recs to w and returns bytes written.
// Each record is encoded as: 4-byte BE identifier, 2-byte BE length, payload.
func (c *Codec) EncodeTo(w io.Writer, recs []Record) (int, error) {
	var total int
	var hdr [6]byte
	for _, r := range recs {
		if len(r.Data) > MaxDataLen {
			return total, fmt.Errorf("record encode: %w (%d)", ErrDataTooLong, len(r.Data))
		}
		binary.BigEndian.PutUint32(hdr[:4], r.ID&can.CAN_EFF_MASK)
		binary.BigEndian.PutUint16(hdr[4:6], uint16(len(r.Data)))
		n, err := w.Write(hdr[:])
		total += n
		if err != nil {
			return total, fmt.Errorf("record encode header: %w", err)
		}
		if len(r.Data) > 0 {
			n, err = w.Write(r.Data)
			total += n
			if err != nil {
				return total, fmt.Errorf("record encode data: %w", err)
			}
		}
	}
	return total, nil
}

// Decode reads exactly one record from r.
// It returns io.EOF if called at a clean record boundary and no more data is available.
func (c *Codec) Decode(r io.Reader) (Record, error) {
	var rec Record
	var hdr [6]byte
	if _, err := io.ReadFull(r, hdr[:4]); err != nil {
		return rec, err
	}
	rec.ID = binary.BigEndian.Uint32(hdr[:4]) & can.CAN_EFF_MASK
	if _, err := io.ReadFull(r, hdr[4:6]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			metrics.IncMalformed()
			return rec, fmt.Errorf("record decode length: %w", ErrTruncated)
		}
		return rec, err
	}
	ln := int(binary.BigEndian.Uint16(hdr[4:6]))
	if ln > MaxDataLen {
		metrics.IncMalformed()
		return rec, fmt.Errorf("record decode: %w (%d)", ErrDataTooLong, ln)
	}
	if ln > 0 {
		rec.Data = make([]byte, ln)
		if _, err := io.ReadFull(r, rec.Data); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				metrics.IncMalformed()
				return rec, fmt.Errorf("record decode payload: %w", ErrTruncated)
			}
			metrics.IncMalformed()
			return rec, fmt.Errorf("record decode payload: %w", err)
		}
	}
	return rec, nil
}

// DecodeN decodes up to max records (if max>0) or until EOF (if max<=0) invoking onRecord for each.
// It returns the number of records decoded and the terminal error (which can be io.EOF).
func (c *Codec) DecodeN(r io.Reader, max int, onRecord func(Record)) (int, error) {
	var n int
	for max <= 0 || n < max {
		rec, err := c.Decode(r)
		if err != nil {
			return n, err
		}
		onRecord(rec)
		n++
	}
	return n, nil
}
