package server

import (
	"context"
	"net"

	"github.com/kstaniek/go-dronecan-server/internal/record"
)

// handshake runs the required TCP hello exchange.
func (s *Server) handshake(ctx context.Context, c net.Conn) error {
	return record.Handshake(ctx, c, s.handshakeTimeout)
}
