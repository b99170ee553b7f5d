package transport

import (
	"io"

	"github.com/kstaniek/go-dronecan-server/internal/can"
	"github.com/kstaniek/go-dronecan-server/internal/record"
)

// RecordDecoder decodes a single record from a stream.
type RecordDecoder interface {
	Decode(r io.Reader) (record.Record, error)
}

// MultiRecordDecoder optionally drains multiple records from a stream.
type MultiRecordDecoder interface {
	DecodeN(r io.Reader, max int, onRecord func(record.Record)) (int, error)
}

// RecordBatchEncoder can encode batches efficiently (either to bytes or directly to writer).
type RecordBatchEncoder interface {
	Encode([]record.Record) []byte
	EncodeTo(w io.Writer, recs []record.Record) (int, error)
}

// FrameSink is a generic CAN frame transmission target.
type FrameSink interface {
	SendFrame(can.Frame) error
}

// Compile-time assertions that *record.Codec satisfies the optional capabilities.
var (
	_ RecordDecoder      = (*record.Codec)(nil)
	_ MultiRecordDecoder = (*record.Codec)(nil)
	_ RecordBatchEncoder = (*record.Codec)(nil)
)
