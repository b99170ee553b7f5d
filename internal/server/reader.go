package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-dronecan-server/internal/hub"
	"github.com/kstaniek/go-dronecan-server/internal/metrics"
	"github.com/kstaniek/go-dronecan-server/internal/record"
	"github.com/kstaniek/go-dronecan-server/internal/slcan"
	"github.com/kstaniek/go-dronecan-server/internal/socketcan"
	"github.com/kstaniek/go-dronecan-server/internal/transport"
)

// inject validates a client record and forwards it toward the bus backend.
func (s *Server) inject(rec record.Record, logger *slog.Logger) {
	metrics.IncTCPRx()
	if !s.injectEnabled {
		s.totalInjectRejected.Add(1)
		logger.Debug("inject_rejected", "can_id", fmt.Sprintf("0x%X", rec.ID))
		return
	}
	fr, ok := rec.Frame()
	if !ok {
		metrics.IncMalformed()
		logger.Warn("inject_oversized", "can_id", fmt.Sprintf("0x%X", rec.ID), "len", len(rec.Data))
		return
	}
	if err := s.Send(fr); err != nil {
		if errors.Is(err, slcan.ErrTxOverflow) || errors.Is(err, socketcan.ErrTxOverflow) {
			s.totalBackendOverflow.Add(1)
			logger.Debug("backend_overflow_drop", "can_id", fmt.Sprintf("0x%X", fr.CANID), "len", fr.Len)
		} else {
			wrap := fmt.Errorf("%w: %v", ErrBackendTx, err)
			s.setError(wrap)
			s.totalBackendErrors.Add(1)
			logger.Error("backend_tx_error", "error", wrap, "can_id", fmt.Sprintf("0x%X", fr.CANID))
		}
	}
}

func (s *Server) startReader(ctxDone <-chan struct{}, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = conn.Close() }()
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			var count int
			if mrd, ok := s.Codec.(transport.MultiRecordDecoder); ok {
				var err error
				count, err = mrd.DecodeN(conn, 16, func(rec record.Record) {
					s.inject(rec, logger)
				})
				if err != nil {
					if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
						return
					}
					if ne, ok := err.(net.Error); ok && ne.Timeout() {
						continue
					}
					wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
					metrics.IncError(mapErrToMetric(wrap))
					s.setError(wrap)
					return
				}
			} else {
				rec, err := s.Codec.Decode(conn)
				if err != nil {
					if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
						return
					}
					if ne, ok := err.(net.Error); ok && ne.Timeout() {
						continue
					}
					wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
					metrics.IncError(mapErrToMetric(wrap))
					s.setError(wrap)
					return
				}
				s.inject(rec, logger)
				count = 1
			}
			if count == 0 {
				time.Sleep(100 * time.Microsecond)
			}
			select {
			case <-ctxDone:
				return
			default:
			}
		}
	}()
}
