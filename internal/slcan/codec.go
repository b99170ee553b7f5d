package slcan

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/kstaniek/go-dronecan-server/internal/can"
	"github.com/kstaniek/go-dronecan-server/internal/metrics"
)

// Codec encodes/decodes the Lawicel SLCAN ASCII framing used by common
// USB-serial CAN adapters. Only extended data frames ('T') matter for
// DroneCAN; standard and remote frames are skipped on receive.
type Codec struct{}

const (
	// cr terminates every SLCAN command.
	cr = '\r'
	// bell is sent by adapters to reject a command.
	bell = 0x07
	// maxLineLen bounds a well-formed extended data frame line:
	// 'T' + 8 id digits + 1 dlc digit + 16 data digits.
	maxLineLen = 1 + 8 + 1 + 16
)

// CompactBuffer reclaims consumed prefix capacity when underlying buffer
// grows too large relative to unread bytes. It returns true if compaction
// occurred. Thresholds chosen to avoid excessive copying.
func CompactBuffer(b *bytes.Buffer) bool {
	data := b.Bytes()
	// If buffer size < 1KB, skip.
	if len(data) < 1024 {
		return false
	}
	// If unread < 25% of capacity, compact.
	if cap(data) > 0 && len(data)*4 < cap(data) {
		clone := make([]byte, len(data))
		copy(clone, data)
		b.Reset()
		_, _ = b.Write(clone)
		return true
	}
	return false
}

// Encode renders one extended data frame as an SLCAN line:
// 'T' + 8 hex id digits + dlc digit + 2 hex digits per data byte + CR.
func (Codec) Encode(f can.Frame) []byte {
	ln := f.Len
	if ln > can.MaxDataLen {
		ln = can.MaxDataLen
	}
	out := make([]byte, 0, maxLineLen+1)
	out = fmt.Appendf(out, "T%08X%d", f.ExtID(), ln)
	out = append(out, hex.EncodeToString(f.Data[:ln])...)
	out = bytes.ToUpper(out)
	return append(out, cr)
}

// DecodeStream consumes complete SLCAN lines from in and emits decoded
// extended data frames via out. Partial lines stay buffered for the next
// call. It returns nil if no error occurred; garbage lines are counted as
// malformed and skipped.
func (Codec) DecodeStream(in *bytes.Buffer, out func(can.Frame)) error {
	for {
		_ = CompactBuffer(in)
		data := in.Bytes()
		i := bytes.IndexByte(data, cr)
		if i < 0 {
			// a line longer than any valid frame can never complete
			if len(data) > maxLineLen {
				metrics.IncMalformed()
				in.Next(len(data))
			}
			return nil
		}
		line := data[:i]
		fr, ok := parseLine(line)
		in.Next(i + 1)
		if ok {
			out(fr)
			metrics.IncSerialRx()
		}
	}
}

// parseLine decodes one CR-stripped SLCAN line. Returns false for lines
// that are not extended data frames (acks, status, standard frames) or are
// malformed.
func parseLine(line []byte) (can.Frame, bool) {
	if len(line) == 0 || line[0] == bell {
		// command ack / reject from the adapter
		return can.Frame{}, false
	}
	switch line[0] {
	case 'T':
	case 't', 'r', 'R':
		// standard or remote frame; carries no DroneCAN traffic
		return can.Frame{}, false
	default:
		// adapter status/version responses
		return can.Frame{}, false
	}
	if len(line) < 10 {
		metrics.IncMalformed()
		return can.Frame{}, false
	}
	var id uint32
	for _, c := range line[1:9] {
		d, ok := hexDigit(c)
		if !ok {
			metrics.IncMalformed()
			return can.Frame{}, false
		}
		id = id<<4 | uint32(d)
	}
	dlc, ok := hexDigit(line[9])
	if !ok || dlc > can.MaxDataLen {
		metrics.IncMalformed()
		return can.Frame{}, false
	}
	if len(line) != 10+2*int(dlc) {
		metrics.IncMalformed()
		return can.Frame{}, false
	}
	var fr can.Frame
	fr.CANID = (id & can.CAN_EFF_MASK) | can.CAN_EFF_FLAG
	fr.Len = dlc
	for i := 0; i < int(dlc); i++ {
		hi, ok1 := hexDigit(line[10+2*i])
		lo, ok2 := hexDigit(line[11+2*i])
		if !ok1 || !ok2 {
			metrics.IncMalformed()
			return can.Frame{}, false
		}
		fr.Data[i] = hi<<4 | lo
	}
	return fr, true
}

func hexDigit(c byte) (uint8, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}
