package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/kstaniek/go-dronecan-server/internal/can"
	"github.com/kstaniek/go-dronecan-server/internal/hub"
	"github.com/kstaniek/go-dronecan-server/internal/mqtt"
	"github.com/kstaniek/go-dronecan-server/internal/record"
	"github.com/kstaniek/go-dronecan-server/internal/session"
)

// monitor turns the raw frame stream from the bus backend into completed
// transfer records fanned out to TCP clients and, optionally, MQTT.
type monitor struct {
	demux *session.Demux
	hb    *hub.Hub
	pub   *mqtt.Publisher // nil when publishing disabled
	l     *slog.Logger
}

func newMonitor(cfg *appConfig, hb *hub.Hub, pub *mqtt.Publisher, l *slog.Logger) *monitor {
	opts := []session.Option{
		session.WithMaxSessions(cfg.sessionMax),
		session.WithTimeout(cfg.sessionTO),
	}
	if cfg.sessionBuf > 0 {
		opts = append(opts, session.WithBufferSize(cfg.sessionBuf))
	}
	return &monitor{demux: session.New(opts...), hb: hb, pub: pub, l: l}
}

// OnFrame is invoked by the backend RX loop for every received frame.
func (m *monitor) OnFrame(fr can.Frame) {
	if !fr.IsExtended() {
		return
	}
	done, err := m.demux.Feed(fr)
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			m.l.Debug("orphan_frame", "can_id", fmt.Sprintf("0x%X", fr.ExtID()))
		} else {
			m.l.Debug("transfer_abandoned", "can_id", fmt.Sprintf("0x%X", fr.ExtID()), "error", err)
		}
		return
	}
	if done == nil {
		return
	}
	m.l.Debug("transfer_complete",
		"kind", done.ID.Kind.String(),
		"can_id", fmt.Sprintf("0x%X", done.Raw),
		"transfer_id", done.TransferID,
		"len", len(done.Payload),
	)
	m.hb.Broadcast(record.Record{ID: done.Raw, Data: done.Payload})
	if m.pub != nil {
		m.pub.Publish(done)
	}
}
