package record

import (
	"bytes"
	"testing"
)

// FuzzCodecRoundTrip ensures arbitrary wire bytes never panic the decoder.
func FuzzCodecRoundTrip(f *testing.F) {
	c := Codec{}
	seed := [][]Record{{mkRecord(0x100, 0)}, {mkRecord(0x200, 8)}, {mkRecord(0x300, 3), mkRecord(0x301, 64)}}
	for _, s := range seed {
		f.Add(c.Encode(s))
	}
	f.Fuzz(func(t *testing.T, data []byte) {
		r := bytes.NewReader(data)
		_, _ = c.DecodeN(r, 16, func(Record) {})
	})
}

// FuzzCodecDecodeInvalid ensures decoder doesn't panic with random input.
func FuzzCodecDecodeInvalid(f *testing.F) {
	c := Codec{}
	f.Add([]byte{0, 0, 0, 1, 0, 0})
	f.Fuzz(func(t *testing.T, data []byte) {
		r := bytes.NewReader(data)
		_, _ = c.Decode(r)
	})
}
