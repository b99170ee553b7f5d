package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-dronecan-server/internal/can"
	"github.com/kstaniek/go-dronecan-server/internal/dronecan"
)

func frame(id uint32, data ...byte) can.Frame {
	var fr can.Frame
	fr.CANID = (id & can.CAN_EFF_MASK) | can.CAN_EFF_FLAG
	fr.Len = uint8(len(data))
	copy(fr.Data[:], data)
	return fr
}

func TestDemuxSingleFrameTransfer(t *testing.T) {
	d := New()
	done, err := d.Feed(frame(0x0803F20A, 0x01, 0x02, 0x03, 0x04, 0xFF))
	require.NoError(t, err)
	require.NotNil(t, done)
	assert.Equal(t, dronecan.KindMessage, done.ID.Kind)
	assert.Equal(t, uint16(1010), done.ID.TypeID)
	assert.Equal(t, uint8(10), done.ID.SourceNode)
	assert.Equal(t, uint8(31), done.TransferID)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, done.Payload)
	assert.Equal(t, 0, d.Sessions())
}

func TestDemuxInterleavedTransfers(t *testing.T) {
	d := New()

	// two multi-frame transfers from different nodes, frames interleaved
	done, err := d.Feed(frame(0x0803F20A, 0x01, 0x98, 0x01, 0x00, 0x68, 0xB5, 0x02, 0x9D))
	require.NoError(t, err)
	assert.Nil(t, done)
	done, err = d.Feed(frame(0x0803F20B, 0x55, 0x66, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0x81))
	require.NoError(t, err)
	assert.Nil(t, done)
	assert.Equal(t, 2, d.Sessions())

	done, err = d.Feed(frame(0x0803F20A, 0x00, 0x7D, 0x33, 0x7D))
	require.NoError(t, err)
	require.NotNil(t, done)
	assert.Equal(t, []byte{0x01, 0x00, 0x68, 0xB5, 0x02, 0x00, 0x7D, 0x33}, done.Payload)
	assert.Equal(t, uint8(10), done.ID.SourceNode)

	done, err = d.Feed(frame(0x0803F20B, 0x11, 0x61))
	require.NoError(t, err)
	require.NotNil(t, done)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0x11}, done.Payload)
	assert.Equal(t, uint8(11), done.ID.SourceNode)
	assert.Equal(t, 0, d.Sessions())
}

func TestDemuxOrphanContinuation(t *testing.T) {
	d := New()
	_, err := d.Feed(frame(0x0803F20A, 0x00, 0x7D, 0x33, 0x7D))
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Equal(t, 0, d.Sessions())
}

func TestDemuxErrorAbandonsSession(t *testing.T) {
	d := New()
	_, err := d.Feed(frame(0x0803F20A, 0x01, 0x98, 0x01, 0x00, 0x68, 0xB5, 0x02, 0x9D))
	require.NoError(t, err)
	assert.Equal(t, 1, d.Sessions())

	// toggle violation kills the session
	_, err = d.Feed(frame(0x0803F20A, 0x00, 0x1D))
	assert.ErrorIs(t, err, dronecan.ErrToggle)
	assert.Equal(t, 0, d.Sessions())

	// the next start frame opens a fresh one
	done, err := d.Feed(frame(0x0803F20A, 0x01, 0x02, 0xFF))
	require.NoError(t, err)
	require.NotNil(t, done)
	assert.Equal(t, []byte{0x01, 0x02}, done.Payload)
}

func TestDemuxFixedBuffers(t *testing.T) {
	d := New(WithBufferSize(4))
	done, err := d.Feed(frame(0x0803F20A, 0x01, 0x02, 0x03, 0x04, 0xFF))
	require.NoError(t, err)
	require.NotNil(t, done)

	// a transfer bigger than the buffer fails and is abandoned
	_, err = d.Feed(frame(0x0803F20A, 0x01, 0x98, 0x01, 0x00, 0x68, 0xB5, 0x02, 0x9D))
	assert.ErrorIs(t, err, dronecan.ErrBufferTooSmall)
	assert.Equal(t, 0, d.Sessions())
}

func TestDemuxEvictsStaleSessions(t *testing.T) {
	now := time.Unix(1700000000, 0)
	d := New(WithTimeout(time.Second))
	d.now = func() time.Time { return now }

	_, err := d.Feed(frame(0x0803F20A, 0x01, 0x98, 0x01, 0x00, 0x68, 0xB5, 0x02, 0x9D))
	require.NoError(t, err)
	assert.Equal(t, 1, d.Sessions())

	// the stalled transfer is evicted when a new session opens much later
	now = now.Add(5 * time.Second)
	_, err = d.Feed(frame(0x0803F20B, 0x55, 0x66, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0x81))
	require.NoError(t, err)
	assert.Equal(t, 1, d.Sessions())
}

func TestDemuxMaxSessions(t *testing.T) {
	d := New(WithMaxSessions(2), WithTimeout(time.Hour))
	start := []byte{0x01, 0x98, 0x01, 0x00, 0x68, 0xB5, 0x02, 0x9D}
	for i := uint32(1); i <= 3; i++ {
		_, err := d.Feed(frame(0x0803F200|i, start...))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, d.Sessions())
}
