package server

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/kstaniek/go-dronecan-server/internal/can"
	"github.com/kstaniek/go-dronecan-server/internal/hub"
	"github.com/kstaniek/go-dronecan-server/internal/logging"
	"github.com/kstaniek/go-dronecan-server/internal/record"
)

// BenchmarkBroadcastFanout measures hub to single client throughput over TCP.
func BenchmarkBroadcastFanout(b *testing.B) {
	hb := hub.New()
	hb.OutBufSize = 4096
	srv := NewServer(
		WithListenAddr("127.0.0.1:0"),
		WithHub(hb),
		WithCodec(&record.Codec{}),
		WithSend(func(can.Frame) error { return nil }),
		WithLogger(logging.Nop()),
		WithBatchSize(256),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Serve(ctx) }()
	<-srv.Ready()

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		b.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := record.Handshake(context.Background(), conn, 2*time.Second); err != nil {
		b.Fatalf("handshake: %v", err)
	}
	go func() { _, _ = io.Copy(io.Discard, conn) }()

	for hb.Count() == 0 {
		time.Sleep(time.Millisecond)
	}

	rec := record.Record{ID: 0x0803F20A, Data: []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}}
	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		hb.Broadcast(rec)
	}
}
