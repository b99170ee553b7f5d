package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-dronecan-server/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	SerialRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_rx_frames_total",
		Help: "Total CAN frames decoded from the SLCAN serial link.",
	})
	SocketCANRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socketcan_rx_frames_total",
		Help: "Total CAN frames read from the SocketCAN interface.",
	})
	SerialTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_tx_frames_total",
		Help: "Total CAN frames written to the SLCAN serial link.",
	})
	SocketCANTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socketcan_tx_frames_total",
		Help: "Total CAN frames written to the SocketCAN interface.",
	})
	TCPRxRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_rx_records_total",
		Help: "Total injection records received from TCP clients.",
	})
	TCPTxRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_tx_records_total",
		Help: "Total transfer records sent to TCP clients.",
	})
	TransfersCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transfers_completed_total",
		Help: "Total reassembled transfers by identifier kind.",
	}, []string{"kind"})
	TransferErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transfer_errors_total",
		Help: "Total abandoned transfers by reassembly error kind.",
	}, []string{"kind"})
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sessions_active",
		Help: "Transfers currently being reassembled.",
	})
	SessionsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessions_evicted_total",
		Help: "Total reassembly sessions evicted (stale or table full).",
	})
	OrphanFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orphan_frames_total",
		Help: "Continuation frames ignored because no transfer was in progress.",
	})
	HubDroppedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_records_total",
		Help: "Total transfer records dropped by hub due to slow clients.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_kicked_clients_total",
		Help: "Total clients disconnected due to backpressure kick policy.",
	})
	HubRejectedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_rejected_clients_total",
		Help: "Total client connection attempts rejected (e.g., max-clients).",
	})
	HubActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_active_clients",
		Help: "Current number of active connected clients.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total rejected malformed frames (protocol violations, invalid length, truncated).",
	})
	MQTTPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_published_total",
		Help: "Total transfer payloads published to the MQTT broker.",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrTCPRead        = "tcp_read"
	ErrTCPWrite       = "tcp_write"
	ErrHandshake      = "handshake"
	ErrSerialWrite    = "serial_write"
	ErrSerialOverflow = "serial_tx_overflow"
	ErrSocketCANWrite = "socketcan_write"
	ErrSocketCANOver  = "socketcan_tx_overflow"
	ErrSerialRead     = "serial_read"
	ErrSocketCANRead  = "socketcan_read"
	ErrMQTTPublish    = "mqtt_publish"
)

// StartHTTP serves Prometheus metrics at /metrics plus a /ready probe.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localSerialRx     uint64
	localSerialTx     uint64
	localSocketCANTx  uint64
	localSocketCANRx  uint64
	localTCPRx        uint64
	localTCPTx        uint64
	localCompleted    uint64
	localTransferErrs uint64
	localSessions     uint64
	localEvicted      uint64
	localOrphans      uint64
	localHubDrop      uint64
	localHubKick      uint64
	localHubReject    uint64
	localErrors       uint64
	localHubClients   uint64
	localMalformed    uint64
	localMQTTPub      uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	SerialRx       uint64
	SocketCANRx    uint64
	SerialTx       uint64
	SocketCANTx    uint64
	TCPRx          uint64
	TCPTx          uint64
	Completed      uint64
	TransferErrors uint64
	Sessions       uint64
	Evicted        uint64
	Orphans        uint64
	HubDrops       uint64
	HubKicks       uint64
	HubRejects     uint64
	Errors         uint64 // sum across error labels
	HubClients     uint64
	Malformed      uint64
	MQTTPublished  uint64
}

func Snap() Snapshot {
	return Snapshot{
		SerialRx:       atomic.LoadUint64(&localSerialRx),
		SocketCANRx:    atomic.LoadUint64(&localSocketCANRx),
		SerialTx:       atomic.LoadUint64(&localSerialTx),
		SocketCANTx:    atomic.LoadUint64(&localSocketCANTx),
		TCPRx:          atomic.LoadUint64(&localTCPRx),
		TCPTx:          atomic.LoadUint64(&localTCPTx),
		Completed:      atomic.LoadUint64(&localCompleted),
		TransferErrors: atomic.LoadUint64(&localTransferErrs),
		Sessions:       atomic.LoadUint64(&localSessions),
		Evicted:        atomic.LoadUint64(&localEvicted),
		Orphans:        atomic.LoadUint64(&localOrphans),
		HubDrops:       atomic.LoadUint64(&localHubDrop),
		HubKicks:       atomic.LoadUint64(&localHubKick),
		HubRejects:     atomic.LoadUint64(&localHubReject),
		Errors:         atomic.LoadUint64(&localErrors),
		HubClients:     atomic.LoadUint64(&localHubClients),
		Malformed:      atomic.LoadUint64(&localMalformed),
		MQTTPublished:  atomic.LoadUint64(&localMQTTPub),
	}
}

// Wrapper helpers to keep call sites simple.
func IncSerialRx() {
	SerialRxFrames.Inc()
	atomic.AddUint64(&localSerialRx, 1)
}

func IncSocketCANRx() {
	SocketCANRxFrames.Inc()
	atomic.AddUint64(&localSocketCANRx, 1)
}

func IncSerialTx() {
	SerialTxFrames.Inc()
	atomic.AddUint64(&localSerialTx, 1)
}

func IncSocketCANTx() {
	SocketCANTxFrames.Inc()
	atomic.AddUint64(&localSocketCANTx, 1)
}

func IncTCPRx() {
	TCPRxRecords.Inc()
	atomic.AddUint64(&localTCPRx, 1)
}

func AddTCPTx(n int) {
	TCPTxRecords.Add(float64(n))
	atomic.AddUint64(&localTCPTx, uint64(n))
}

// IncTransferCompleted counts a reassembled transfer; kind is the
// identifier kind label (message|anonymous|service).
func IncTransferCompleted(kind string) {
	TransfersCompleted.WithLabelValues(kind).Inc()
	atomic.AddUint64(&localCompleted, 1)
}

// IncTransferError counts an abandoned transfer; kind is the reassembly
// error label (data_length, frame_order, id_mismatch, toggle, buffer, crc).
func IncTransferError(kind string) {
	TransferErrors.WithLabelValues(kind).Inc()
	atomic.AddUint64(&localTransferErrs, 1)
}

func SetSessions(n int) {
	SessionsActive.Set(float64(n))
	atomic.StoreUint64(&localSessions, uint64(n))
}

func IncEvicted() {
	SessionsEvicted.Inc()
	atomic.AddUint64(&localEvicted, 1)
}

func IncOrphan() {
	OrphanFrames.Inc()
	atomic.AddUint64(&localOrphans, 1)
}

func IncHubDrop() {
	HubDroppedRecords.Inc()
	atomic.AddUint64(&localHubDrop, 1)
}

func IncHubKick() {
	HubKickedClients.Inc()
	atomic.AddUint64(&localHubKick, 1)
}

func IncHubReject() {
	HubRejectedClients.Inc()
	atomic.AddUint64(&localHubReject, 1)
}

func SetHubClients(n int) {
	HubActiveClients.Set(float64(n))
	atomic.StoreUint64(&localHubClients, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

func IncMQTTPublished() {
	MQTTPublished.Inc()
	atomic.AddUint64(&localMQTTPub, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrTCPRead, ErrTCPWrite, ErrHandshake,
		ErrSerialWrite, ErrSerialOverflow, ErrSerialRead,
		ErrSocketCANWrite, ErrSocketCANOver, ErrSocketCANRead,
		ErrMQTTPublish,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
