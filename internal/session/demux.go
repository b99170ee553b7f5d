package session

import (
	"errors"
	"sync"
	"time"

	"github.com/kstaniek/go-dronecan-server/internal/can"
	"github.com/kstaniek/go-dronecan-server/internal/dronecan"
	"github.com/kstaniek/go-dronecan-server/internal/metrics"
)

// ErrNoSession is returned for a continuation frame with no transfer in
// progress on its identifier. Expected while joining a bus mid-transfer;
// callers typically just wait for the next start frame.
var ErrNoSession = errors.New("session: no transfer in progress")

// Completed is one fully reassembled transfer.
type Completed struct {
	ID         dronecan.Identifier
	Raw        uint32 // 29-bit identifier as seen on the bus
	TransferID uint8
	Payload    []byte
}

// Demux reassembles concurrent transfers from interleaved bus traffic.
// Frames of one transfer all carry the same 29-bit identifier, so each
// distinct identifier gets its own reassembly session. Sessions end on
// completion or on any reassembly error; stale ones are evicted.
//
// Safe for use from a single RX goroutine plus inspection from others:
// all state is guarded by one mutex.
type Demux struct {
	mu       sync.Mutex
	sessions map[uint32]*state

	bufSize     int // >0: fixed per-session buffers, 0: growable
	maxSessions int
	timeout     time.Duration
	now         func() time.Time
}

type state struct {
	tr   *dronecan.Transfer
	last time.Time
}

const (
	defaultMaxSessions = 256
	defaultTimeout     = 2 * time.Second
)

type Option func(*Demux)

// WithBufferSize makes sessions use fixed buffers of n bytes instead of
// growable storage. Transfers larger than n fail with ErrBufferTooSmall.
func WithBufferSize(n int) Option {
	return func(d *Demux) {
		if n > 0 {
			d.bufSize = n
		}
	}
}

// WithMaxSessions caps the number of concurrent reassembly sessions.
func WithMaxSessions(n int) Option {
	return func(d *Demux) {
		if n > 0 {
			d.maxSessions = n
		}
	}
}

// WithTimeout sets how long an idle session survives before eviction.
func WithTimeout(t time.Duration) Option {
	return func(d *Demux) {
		if t > 0 {
			d.timeout = t
		}
	}
}

func New(opts ...Option) *Demux {
	d := &Demux{
		sessions:    make(map[uint32]*state),
		maxSessions: defaultMaxSessions,
		timeout:     defaultTimeout,
		now:         time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Feed routes one received frame to its reassembly session. It returns a
// non-nil Completed once the frame finished a transfer. Errors mean the
// frame was dropped and, for reassembly errors, that the ongoing transfer
// on that identifier was abandoned.
func (d *Demux) Feed(fr can.Frame) (*Completed, error) {
	raw := fr.ExtID()
	data := fr.Data[:fr.Len]

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	st, open := d.sessions[raw]
	if !open {
		if fr.Len == 0 {
			metrics.IncTransferError("data_length")
			return nil, dronecan.ErrDataLength
		}
		if !dronecan.Tail(data[len(data)-1]).Start() {
			metrics.IncOrphan()
			return nil, ErrNoSession
		}
		d.evict(now)
		st = &state{tr: d.newTransfer()}
		d.sessions[raw] = st
		metrics.SetSessions(len(d.sessions))
	}
	st.last = now

	payload, err := st.tr.AddFrame(data)
	if err != nil {
		d.drop(raw)
		metrics.IncTransferError(errorLabel(err))
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}

	id := dronecan.Classify(raw)
	done := &Completed{
		ID:         id,
		Raw:        raw,
		TransferID: st.tr.TransferID(),
		Payload:    append([]byte(nil), payload...),
	}
	d.drop(raw)
	metrics.IncTransferCompleted(id.Kind.String())
	return done, nil
}

// Sessions returns the number of transfers currently being reassembled.
func (d *Demux) Sessions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

func (d *Demux) newTransfer() *dronecan.Transfer {
	if d.bufSize > 0 {
		return dronecan.NewTransferBuffer(make([]byte, d.bufSize))
	}
	return dronecan.NewTransfer()
}

// drop removes a finished or broken session. Caller holds d.mu.
func (d *Demux) drop(raw uint32) {
	delete(d.sessions, raw)
	metrics.SetSessions(len(d.sessions))
}

// evict clears stale sessions, and the oldest one if the table is still
// full. Caller holds d.mu.
func (d *Demux) evict(now time.Time) {
	for raw, st := range d.sessions {
		if now.Sub(st.last) > d.timeout {
			delete(d.sessions, raw)
			metrics.IncEvicted()
		}
	}
	if len(d.sessions) < d.maxSessions {
		metrics.SetSessions(len(d.sessions))
		return
	}
	var oldestRaw uint32
	var oldest time.Time
	first := true
	for raw, st := range d.sessions {
		if first || st.last.Before(oldest) {
			oldestRaw, oldest = raw, st.last
			first = false
		}
	}
	if !first {
		delete(d.sessions, oldestRaw)
		metrics.IncEvicted()
	}
	metrics.SetSessions(len(d.sessions))
}

// errorLabel maps reassembly errors to metric label values.
func errorLabel(err error) string {
	switch {
	case errors.Is(err, dronecan.ErrDataLength):
		return "data_length"
	case errors.Is(err, dronecan.ErrFrameOrder):
		return "frame_order"
	case errors.Is(err, dronecan.ErrIDMismatch):
		return "id_mismatch"
	case errors.Is(err, dronecan.ErrToggle):
		return "toggle"
	case errors.Is(err, dronecan.ErrBufferTooSmall):
		return "buffer"
	case errors.Is(err, dronecan.ErrCRC):
		return "crc"
	default:
		return "other"
	}
}
