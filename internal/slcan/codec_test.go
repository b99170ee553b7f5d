package slcan

import (
	"bytes"
	"testing"

	"github.com/kstaniek/go-dronecan-server/internal/can"
)

func f(id uint32, data ...byte) can.Frame {
	var fr can.Frame
	fr.CANID = (id & can.CAN_EFF_MASK) | can.CAN_EFF_FLAG
	fr.Len = uint8(len(data))
	copy(fr.Data[:], data)
	return fr
}

func TestCodec_Encode(t *testing.T) {
	codec := Codec{}
	got := codec.Encode(f(0x0803F20A, 0x01, 0x02, 0x03, 0x04, 0xFF))
	want := "T0803F20A501020304FF\r"
	if string(got) != want {
		t.Fatalf("encode mismatch\n got=%q\nwant=%q", got, want)
	}

	got = codec.Encode(f(0x1FFFFFFF))
	if string(got) != "T1FFFFFFF0\r" {
		t.Fatalf("empty frame encode mismatch: %q", got)
	}
}

func TestCodec_RoundTrip_Chunked(t *testing.T) {
	codec := Codec{}

	want := []can.Frame{
		f(0x0001E5A, 0x34, 0x7B, 0x70, 0xD7, 0x94, 0x10, 0x0D, 0xF7), // 8B
		f(0x0001F55, 0xA1, 0xB2, 0xC3, 0xD4, 0xE5, 0xF6),             // 6B
		f(0x0123456, 0x9A, 0xBC),                                     // 2B
		f(0x1ABCDEF),                                                 // 0B
	}

	// Build a continuous RX stream with adapter chatter interleaved.
	stream := make([]byte, 0, 512)
	stream = append(stream, '\r') // ack from a previous command
	for i, fr := range want {
		stream = append(stream, codec.Encode(fr)...)
		if i == 1 {
			stream = append(stream, "t1002AABB\r"...) // standard frame, skipped
		}
	}

	var buf bytes.Buffer
	got := make([]can.Frame, 0, len(want))

	// Feed in irregular small chunks to stress partial-line buffering.
	chunkSizes := []int{1, 2, 3, 4, 5, 7, 11}
	cs := 0
	for pos := 0; pos < len(stream); {
		n := chunkSizes[cs%len(chunkSizes)]
		cs++
		if pos+n > len(stream) {
			n = len(stream) - pos
		}
		buf.Write(stream[pos : pos+n])
		pos += n

		if err := codec.DecodeStream(&buf, func(fr can.Frame) {
			got = append(got, fr.CopyShallow())
		}); err != nil {
			t.Fatalf("DecodeStream error: %v", err)
		}
	}

	if len(got) != len(want) {
		t.Fatalf("decoded %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].CANID != want[i].CANID ||
			got[i].Len != want[i].Len ||
			string(got[i].Data[:got[i].Len]) != string(want[i].Data[:want[i].Len]) {
			t.Fatalf("frame %d mismatch\n got  id=0x%X len=%d data=% X\n want id=0x%X len=%d data=% X",
				i,
				got[i].CANID, got[i].Len, got[i].Data[:got[i].Len],
				want[i].CANID, want[i].Len, want[i].Data[:want[i].Len])
		}
	}
}
