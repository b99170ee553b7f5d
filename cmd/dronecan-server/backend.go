package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-dronecan-server/internal/can"
)

// initBackend selects the backend, starts its RX loop and returns a frame sender and cleanup.
// Received frames are handed to onFrame. It returns an error instead of exiting
// the process to allow graceful handling by the caller.
func initBackend(ctx context.Context, cfg *appConfig, onFrame func(can.Frame), l *slog.Logger, wg *sync.WaitGroup) (func(can.Frame) error, func(), error) {
	switch cfg.backend {
	case "serial":
		return initSerialBackend(ctx, cfg, onFrame, l, wg)
	case "socketcan":
		return initSocketCANBackend(ctx, cfg, onFrame, l, wg)
	default:
		return nil, func() {}, fmt.Errorf("unknown backend %q (use serial|socketcan)", cfg.backend)
	}
}
