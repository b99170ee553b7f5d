package can

// SocketCAN flag bits for can_id (same values as <linux/can.h>)
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

// MaxDataLen is the classic CAN payload limit. DroneCAN runs on classic
// CAN 2.0B, so frames never carry more than 8 data bytes.
const MaxDataLen = 8

// Frame is a classic CAN frame holder used across the monitor.
// CANID contains EFF/RTR/ERR flags in its upper bits like SocketCAN.
// Len is payload length (0..8); only the first Len bytes of Data are valid.
type Frame struct {
	CANID uint32
	Len   uint8
	Data  [MaxDataLen]byte
}

// ExtID returns the 29-bit extended identifier with SocketCAN flags stripped.
func (f Frame) ExtID() uint32 { return f.CANID & CAN_EFF_MASK }

// IsExtended reports whether the frame carries a 29-bit identifier.
func (f Frame) IsExtended() bool { return f.CANID&CAN_EFF_FLAG != 0 }

func (f Frame) CopyShallow() Frame { // handy for tests
	var g Frame
	g.CANID, g.Len = f.CANID, f.Len
	copy(g.Data[:], f.Data[:])
	return g
}
