package dronecan

import "errors"

// Reassembly errors. Each one means the ongoing transfer has become
// inconsistent; the recommended recovery is to abandon the Transfer and
// start a fresh one on the next observed start frame.
var (
	// ErrDataLength - frame payload length is outside 1..8, or a leading
	// multi-frame frame is too short to carry its 2 reserved CRC bytes.
	ErrDataLength = errors.New("dronecan: invalid data length")
	// ErrBufferTooSmall - fixed-capacity storage would overflow.
	ErrBufferTooSmall = errors.New("dronecan: buffer too small")
	// ErrFrameOrder - a start frame arrived mid-transfer, or an end frame
	// arrived with no transfer in progress.
	ErrFrameOrder = errors.New("dronecan: transfer frame out of order")
	// ErrCRC - transfer checksum mismatch. Never produced yet; payload
	// CRC verification is not implemented.
	ErrCRC = errors.New("dronecan: crc check failed")
	// ErrIDMismatch - continuation frame belongs to a different transfer.
	ErrIDMismatch = errors.New("dronecan: transfer id mismatch")
	// ErrToggle - toggle bit failed to alternate between frames.
	ErrToggle = errors.New("dronecan: toggle bit incorrect")
)

// Tail interprets the last payload byte of every frame:
// bit7 start, bit6 end, bit5 toggle, bits4-0 transfer id.
type Tail uint8

func (t Tail) Start() bool { return t&(1<<7) != 0 }

func (t Tail) End() bool { return t&(1<<6) != 0 }

func (t Tail) Toggle() bool { return t&(1<<5) != 0 }

func (t Tail) TransferID() uint8 { return uint8(t) & 0x1F }

// Transfer reassembles a single-frame or multi-frame payload transfer.
//
// Storage is either growable (owned by the Transfer) or a caller-supplied
// fixed-capacity buffer, selected at construction. A completed or errored
// Transfer is not reset automatically; discard it and build a new one.
//
// Payload CRC verification is not implemented yet: the two reserved bytes
// at the head of a multi-frame transfer's first frame are skipped, never
// checked.
//
// A Transfer is not safe for concurrent use.
type Transfer struct {
	storage    []byte
	fixed      bool
	length     int
	transferID uint8
	toggle     bool
}

// NewTransfer creates an empty transfer with growable storage. The caller
// bears the cost of unbounded growth if frames never mark an end.
func NewTransfer() *Transfer {
	return &Transfer{}
}

// NewTransferBuffer creates an empty transfer writing into buf. The buffer
// stays owned by the caller and must outlive the Transfer; reassembly
// fails with ErrBufferTooSmall once len(buf) would be exceeded.
func NewTransferBuffer(buf []byte) *Transfer {
	return &Transfer{storage: buf, fixed: true}
}

// Len returns the number of payload bytes accumulated so far.
func (t *Transfer) Len() int { return t.length }

// TransferID returns the 5-bit transfer id captured from the start frame.
func (t *Transfer) TransferID() uint8 { return t.transferID }

// Bytes returns the accumulated payload. Only meaningful once AddFrame has
// reported completion.
func (t *Transfer) Bytes() []byte { return t.storage[:t.length] }

// AddFrame feeds one frame payload (tail byte included) to the ongoing
// transfer. It returns (nil, nil) when the frame was accepted and more
// frames are expected, or the complete reassembled payload once a frame
// marked as end of transfer is accepted. The returned slice aliases the
// transfer's storage.
//
// On a non-nil error the transfer should be abandoned.
func (t *Transfer) AddFrame(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data) > 8 {
		return nil, ErrDataLength
	}
	tail := Tail(data[len(data)-1])

	if tail.Start() {
		if t.length != 0 {
			// a transfer is already in progress
			return nil, ErrFrameOrder
		}
		t.transferID = tail.TransferID()
		t.toggle = tail.Toggle()
	} else {
		// we cannot start with an end frame
		if t.length == 0 && tail.End() {
			return nil, ErrFrameOrder
		}
		if t.transferID != tail.TransferID() {
			return nil, ErrIDMismatch
		}
		if t.toggle == tail.Toggle() {
			return nil, ErrToggle
		}
		t.toggle = tail.Toggle()
	}

	var inner []byte
	if tail.Start() && !tail.End() {
		// leading frame of a multi-frame transfer: the first two bytes
		// hold the transfer CRC and are not part of the payload
		if len(data) < 3 {
			return nil, ErrDataLength
		}
		inner = data[2 : len(data)-1]
	} else {
		// single frame transfers don't start with crc
		inner = data[:len(data)-1]
	}

	if t.fixed {
		if t.length+len(inner) > len(t.storage) {
			return nil, ErrBufferTooSmall
		}
		copy(t.storage[t.length:], inner)
	} else {
		t.storage = append(t.storage[:t.length], inner...)
	}
	t.length += len(inner)

	if tail.End() {
		// todo: crc check
		return t.storage[:t.length], nil
	}
	return nil, nil
}
