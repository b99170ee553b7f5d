package dronecan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	var testCases = []struct {
		name   string
		given  uint32
		expect Identifier
	}{
		{
			// uavcan.equipment.actuator.ArrayCommand from node 10
			name:  "message, actuator array command",
			given: 0x0803F20A,
			expect: Identifier{
				Kind:       KindMessage,
				Priority:   8,
				TypeID:     1010,
				SourceNode: 10,
			},
		},
		{
			// ardupilot.indication.NotifyState from node 10
			name:  "message, notify state",
			given: 0x184E270A,
			expect: Identifier{
				Kind:       KindMessage,
				Priority:   24,
				TypeID:     20007,
				SourceNode: 10,
			},
		},
		{
			name:  "anonymous, source node field zero",
			given: 0x10ABCD00,
			expect: Identifier{
				Kind:          KindAnonymous,
				Priority:      16,
				Discriminator: 0x2AF3, // bits 23-10
				TypeID:        1,      // bits 9-8
			},
		},
		{
			name:  "service request",
			given: 0x1F2285FF,
			expect: Identifier{
				Kind:            KindService,
				Priority:        31,
				ServiceType:     0x22,
				Request:         true,
				DestinationNode: 5,
				SourceNode:      127,
			},
		},
		{
			name:  "service response",
			given: 0x002201FF,
			expect: Identifier{
				Kind:            KindService,
				Priority:        0,
				ServiceType:     0x22,
				Request:         false,
				DestinationNode: 1,
				SourceNode:      127,
			},
		},
		{
			name:  "flag bits above bit 28 are masked off",
			given: 0x80000000 | 0x0803F20A,
			expect: Identifier{
				Kind:       KindMessage,
				Priority:   8,
				TypeID:     1010,
				SourceNode: 10,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expect, Classify(tc.given))
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	// conformant raw values reproduce themselves exactly
	raws := []uint32{
		0x0803F20A, // message
		0x184E270A, // message
		0x10ABCD00, // anonymous
		0x1F2285FF, // service (bit 7 set)
		0x00000000,
		0x1FFFFFFF, // service with all fields saturated
	}
	for _, raw := range raws {
		assert.Equal(t, raw, Classify(raw).Encode(), "raw=0x%08X", raw)
	}
}

func TestEncodeMasksOutOfRangeFields(t *testing.T) {
	// hand-built identifiers with oversized fields still encode to a
	// well-formed 29-bit value
	id := Identifier{Kind: KindMessage, Priority: 0xFF, TypeID: 1010, SourceNode: 0xFF}
	raw := id.Encode()
	assert.Equal(t, raw, raw&idMask)
	got := Classify(raw)
	assert.Equal(t, uint8(31), got.Priority)
	assert.Equal(t, uint8(127), got.SourceNode)
	assert.Equal(t, uint16(1010), got.TypeID)

	anon := Identifier{Kind: KindAnonymous, Priority: 1, Discriminator: 0xFFFF, TypeID: 0xFF}
	got = Classify(anon.Encode())
	assert.Equal(t, KindAnonymous, got.Kind)
	assert.Equal(t, uint16(MaxDiscriminator), got.Discriminator)
	assert.Equal(t, uint16(3), got.TypeID)
}

func TestFromExtended(t *testing.T) {
	id := FromExtended(0x0803F20A)
	assert.Equal(t, KindMessage, id.Kind)
	assert.Equal(t, uint32(0x0803F20A), id.Extended())
}

func TestNewMessageID(t *testing.T) {
	id, ok := NewMessageID(127, 0xFFFF, 31)
	assert.True(t, ok)
	assert.Equal(t, Identifier{Kind: KindMessage, Priority: 31, TypeID: 0xFFFF, SourceNode: 127}, id)

	_, ok = NewMessageID(127, 0xFFFF, 32)
	assert.False(t, ok, "priority 32 out of range")
	_, ok = NewMessageID(0, 1, 0)
	assert.False(t, ok, "node 0 is anonymous")
	_, ok = NewMessageID(128, 1, 0)
	assert.False(t, ok, "node above 127")
}

func TestNewAnonymousID(t *testing.T) {
	id, ok := NewAnonymousID(3, MaxDiscriminator, 31)
	assert.True(t, ok)
	assert.Equal(t, Identifier{Kind: KindAnonymous, Priority: 31, Discriminator: MaxDiscriminator, TypeID: 3}, id)

	// type id is truncated to its 2 bits, not rejected
	id, ok = NewAnonymousID(0xFF, 0, 0)
	assert.True(t, ok)
	assert.Equal(t, uint16(3), id.TypeID)

	_, ok = NewAnonymousID(0, 0, 32)
	assert.False(t, ok, "priority 32 out of range")
	_, ok = NewAnonymousID(0, MaxDiscriminator+1, 0)
	assert.False(t, ok, "discriminator above 14 bits")
}

func TestNewServiceID(t *testing.T) {
	id, ok := NewServiceID(127, 127, 0xFF, true, 31)
	assert.True(t, ok)
	assert.Equal(t, Identifier{
		Kind:            KindService,
		Priority:        31,
		ServiceType:     0xFF,
		Request:         true,
		DestinationNode: 127,
		SourceNode:      127,
	}, id)

	_, ok = NewServiceID(127, 127, 0, false, 32)
	assert.False(t, ok, "priority 32 out of range")
	_, ok = NewServiceID(0, 1, 0, false, 0)
	assert.False(t, ok, "anonymous source")
	_, ok = NewServiceID(1, 0, 0, false, 0)
	assert.False(t, ok, "anonymous destination")
	_, ok = NewServiceID(1, 128, 0, false, 0)
	assert.False(t, ok, "destination above 127")
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "message", KindMessage.String())
	assert.Equal(t, "anonymous", KindAnonymous.String())
	assert.Equal(t, "service", KindService.String())
	assert.Equal(t, "unknown", Kind(42).String())
}
