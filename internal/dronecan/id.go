package dronecan

// 29-bit extended identifier mask.
const idMask = 0x1FFFFFFF

// Identifier field limits.
const (
	MaxPriority      = 31    // 5 bits
	MaxNodeID        = 127   // 7 bits, 0 reserved for anonymous
	MaxDiscriminator = 16383 // 14 bits
)

// Kind discriminates the three identifier layouts. Exactly one applies to
// any 29-bit value; classification is derived from bit content alone.
type Kind uint8

const (
	// KindMessage is a broadcast message from an addressed node.
	KindMessage Kind = iota
	// KindAnonymous is a broadcast message from a node without an
	// allocated node id (source node field reads 0).
	KindAnonymous
	// KindService is a request or response addressed to a single node.
	KindService
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindAnonymous:
		return "anonymous"
	case KindService:
		return "service"
	}
	return "unknown"
}

// Identifier is a classified 29-bit DroneCAN extended CAN identifier.
// Kind selects which fields are meaningful:
//
//	KindMessage:   Priority, TypeID (16 bits), SourceNode
//	KindAnonymous: Priority, Discriminator, TypeID (2 bits)
//	KindService:   Priority, ServiceType, Request, DestinationNode, SourceNode
//
// Fields outside the active layout are zero.
type Identifier struct {
	Kind            Kind
	Priority        uint8
	TypeID          uint16
	SourceNode      uint8
	DestinationNode uint8
	ServiceType     uint8
	Request         bool
	Discriminator   uint16
}

// Classify interprets a raw extended identifier. The input is masked to
// 29 bits first; every possible value maps to some Identifier, so this
// never fails. Non-DroneCAN traffic yields deterministic garbage fields.
func Classify(raw uint32) Identifier {
	raw &= idMask
	priority := uint8(raw >> 24)
	sourceNode := uint8(raw & 0x7F)
	serviceNotMessage := raw&(1<<7) != 0

	switch {
	case serviceNotMessage:
		return Identifier{
			Kind:            KindService,
			Priority:        priority,
			ServiceType:     uint8(raw >> 16),
			Request:         raw&(1<<15) != 0,
			DestinationNode: uint8(raw>>8) & 0x7F,
			SourceNode:      sourceNode,
		}
	case sourceNode == 0:
		return Identifier{
			Kind:          KindAnonymous,
			Priority:      priority,
			Discriminator: uint16(raw>>10) & 0x3FFF,
			TypeID:        uint16(raw>>8) & 0x3,
		}
	default:
		return Identifier{
			Kind:       KindMessage,
			Priority:   priority,
			TypeID:     uint16(raw >> 8),
			SourceNode: sourceNode,
		}
	}
}

// Encode packs the identifier back into its raw 29-bit form. Every field
// is masked to its allotted width, so even an Identifier populated with
// out-of-range values by hand encodes to a well-formed identifier.
func (id Identifier) Encode() uint32 {
	raw := uint32(id.Priority&0x1F) << 24
	switch id.Kind {
	case KindService:
		raw |= uint32(id.ServiceType) << 16
		if id.Request {
			raw |= 1 << 15
		}
		raw |= uint32(id.DestinationNode&0x7F) << 8
		raw |= 1 << 7
		raw |= uint32(id.SourceNode & 0x7F)
	case KindAnonymous:
		raw |= uint32(id.Discriminator&0x3FFF) << 10
		raw |= uint32(id.TypeID&0x3) << 8
	default:
		raw |= uint32(id.TypeID) << 8
		raw |= uint32(id.SourceNode & 0x7F)
	}
	return raw
}

// FromExtended converts a generic 29-bit extended CAN identifier as held
// by a CAN driver. Equivalent to Classify.
func FromExtended(ext uint32) Identifier { return Classify(ext) }

// Extended returns the raw 29-bit identifier for handing to a CAN driver.
// Equivalent to Encode.
func (id Identifier) Extended() uint32 { return id.Encode() }

// NewMessageID builds a message identifier. Returns false if priority,
// or source node are out of range (node 0 is reserved for anonymous
// traffic). Any 16-bit type id is valid.
func NewMessageID(sourceNode uint8, typeID uint16, priority uint8) (Identifier, bool) {
	if priority > MaxPriority || sourceNode == 0 || sourceNode > MaxNodeID {
		return Identifier{}, false
	}
	return Identifier{
		Kind:       KindMessage,
		Priority:   priority,
		TypeID:     typeID,
		SourceNode: sourceNode,
	}, true
}

// NewAnonymousID builds an anonymous message identifier. Returns false if
// priority or discriminator are out of range. Only the low 2 bits of
// typeID are representable; the rest are masked off.
func NewAnonymousID(typeID uint8, discriminator uint16, priority uint8) (Identifier, bool) {
	if priority > MaxPriority || discriminator > MaxDiscriminator {
		return Identifier{}, false
	}
	return Identifier{
		Kind:          KindAnonymous,
		Priority:      priority,
		Discriminator: discriminator,
		TypeID:        uint16(typeID & 0x3),
	}, true
}

// NewServiceID builds a service request/response identifier. Returns false
// if priority or either node id is out of range; services are always
// node-to-node, so neither end may be the anonymous node 0.
func NewServiceID(sourceNode, destinationNode, serviceType uint8, request bool, priority uint8) (Identifier, bool) {
	if priority > MaxPriority ||
		sourceNode == 0 || sourceNode > MaxNodeID ||
		destinationNode == 0 || destinationNode > MaxNodeID {
		return Identifier{}, false
	}
	return Identifier{
		Kind:            KindService,
		Priority:        priority,
		ServiceType:     serviceType,
		Request:         request,
		DestinationNode: destinationNode,
		SourceNode:      sourceNode,
	}, true
}
