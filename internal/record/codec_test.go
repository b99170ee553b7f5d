package record

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"github.com/kstaniek/go-dronecan-server/internal/can"
)

func mkRecord(id uint32, n int) Record {
	r := Record{ID: id & can.CAN_EFF_MASK}
	if n > 0 {
		r.Data = make([]byte, n)
		rand.Read(r.Data)
	}
	return r
}

func TestCodec_RoundTrip(t *testing.T) {
	codec := Codec{}
	in := []Record{
		mkRecord(0x0803F20A, 46),
		mkRecord(0x184E270A, 7),
		mkRecord(0x12345, 0),
	}

	wire := codec.Encode(in)
	var out []Record
	br := bytes.NewReader(wire)
	n, err := codec.DecodeN(br, 0, func(r Record) { out = append(out, r) })
	if err != io.EOF && err != nil { // expect EOF at clean end
		t.Fatalf("DecodeN unexpected err: %v", err)
	}
	if n != len(in) {
		t.Fatalf("decoded %d, want %d", n, len(in))
	}
	for i := range in {
		if out[i].ID != in[i].ID || !bytes.Equal(out[i].Data, in[i].Data) {
			t.Fatalf("record %d mismatch", i)
		}
	}
}

func TestCodec_EncodeToMatchesEncode(t *testing.T) {
	codec := Codec{}
	recs := []Record{mkRecord(0x10, 8), mkRecord(0x11, 3)}
	a := codec.Encode(recs)
	var buf bytes.Buffer
	if _, err := codec.EncodeTo(&buf, recs); err != nil {
		t.Fatalf("EncodeTo error: %v", err)
	}
	if !bytes.Equal(a, buf.Bytes()) {
		t.Fatalf("Encode vs EncodeTo mismatch\nenc=% X\nencTo=% X", a, buf.Bytes())
	}
}

func TestCodec_DecodeErrors(t *testing.T) {
	codec := Codec{}
	// Length above MaxDataLen
	var bad bytes.Buffer
	bad.Write([]byte{0, 0, 0, 1})
	bad.Write([]byte{0xFF, 0xFF}) // 65535 > MaxDataLen
	if _, err := codec.Decode(&bad); err == nil {
		t.Fatalf("expected error for oversized length")
	}

	// Truncated payload
	var trunc bytes.Buffer
	trunc.Write([]byte{0, 0, 0, 2})
	trunc.Write([]byte{0, 5})
	trunc.Write([]byte{1, 2, 3}) // only 3 bytes instead of 5
	if _, err := codec.Decode(&trunc); err == nil {
		t.Fatalf("expected truncated error")
	}
}

func TestCodec_DecodeN_MultiRecord(t *testing.T) {
	c := Codec{}
	in := []Record{mkRecord(0x10, 8), mkRecord(0x11, 5), mkRecord(0x12, 0)}
	buf := bytes.NewReader(c.Encode(in))
	var out []Record
	n, err := c.DecodeN(buf, 0, func(r Record) { out = append(out, r) })
	if err != io.EOF && err != nil { // EOF expected at clean end
		t.Fatalf("DecodeN err=%v", err)
	}
	if n != len(in) || len(out) != len(in) {
		t.Fatalf("decoded %d collected %d want %d", n, len(out), len(in))
	}
}

func TestRecordFrameConversion(t *testing.T) {
	fr := can.Frame{CANID: 0x0803F20A | can.CAN_EFF_FLAG, Len: 5}
	copy(fr.Data[:], []byte{1, 2, 3, 4, 0xFF})
	r := FromFrame(fr)
	if r.ID != 0x0803F20A || len(r.Data) != 5 {
		t.Fatalf("unexpected record: %+v", r)
	}
	back, ok := r.Frame()
	if !ok || back.CANID != fr.CANID || back.Len != fr.Len {
		t.Fatalf("frame mismatch: %+v vs %+v", back, fr)
	}

	// a reassembled payload does not fit a single frame
	if _, ok := mkRecord(0x1, 20).Frame(); ok {
		t.Fatalf("expected conversion failure for 20-byte record")
	}
}

func BenchmarkCodec_Encode(b *testing.B) {
	codec := Codec{}
	recs := make([]Record, 64)
	for i := range recs {
		recs[i] = mkRecord(uint32(0x100+i), 32)
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = codec.Encode(recs)
	}
}

func BenchmarkCodec_DecodeN(b *testing.B) {
	codec := Codec{}
	recs := make([]Record, 64)
	for i := range recs {
		recs[i] = mkRecord(uint32(0x300+i), 32)
	}
	wire := codec.Encode(recs)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		r := bytes.NewReader(wire)
		_, _ = codec.DecodeN(r, 0, func(Record) {})
	}
}
