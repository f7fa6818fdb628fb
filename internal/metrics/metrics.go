package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/keskad/xpressnet-gateway/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	SerialRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_rx_frames_total",
		Help: "Total XpressNet frames decoded from the serial link.",
	})
	SerialTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_tx_frames_total",
		Help: "Total XpressNet frames written to the serial link.",
	})
	WSRxMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_rx_messages_total",
		Help: "Total JSON command messages received from websocket clients.",
	})
	WSTxMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_tx_messages_total",
		Help: "Total JSON envelopes sent to websocket clients.",
	})
	HubDroppedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_messages_total",
		Help: "Total broadcast envelopes dropped by hub due to slow clients.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_kicked_clients_total",
		Help: "Total clients disconnected due to backpressure kick policy.",
	})
	HubActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_active_clients",
		Help: "Current number of active connected websocket clients.",
	})
	HubBroadcastFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_broadcast_fanout",
		Help: "Number of clients targeted in the most recent broadcast.",
	})
	HubQueueDepthMax = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_queue_depth_max",
		Help: "Observed max queued envelopes among clients since last sample window.",
	})
	HubQueueDepthAvg = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_queue_depth_avg",
		Help: "Approximate average queued envelopes per client in last sample.",
	})
	GetStateTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "getstate_timeouts_total",
		Help: "Total getState requests that did not complete within the per-phase deadline.",
	})
	ControllerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "controller_connected",
		Help: "1 if the command station link is Connected, 0 otherwise.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	ChecksumErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checksum_errors_total",
		Help: "Total frames rejected due to checksum mismatch.",
	})
	FramingErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "framing_errors_total",
		Help: "Total framing errors. The streaming framer counts its byte-resync events under checksum_errors_total, not here.",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrWSRead         = "ws_read"
	ErrWSWrite        = "ws_write"
	ErrWSUpgrade      = "ws_upgrade"
	ErrSerialWrite    = "serial_write"
	ErrSerialOverflow = "serial_tx_overflow"
	ErrSerialRead     = "serial_read"
	ErrChecksum       = "checksum"
	ErrFraming        = "framing"
	ErrDispatch       = "dispatch"
)

// StartHTTP serves Prometheus metrics at /metrics and a readiness probe at
// /ready on the given address.
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
	localSerialRx    uint64
	localSerialTx    uint64
	localWSRx        uint64
	localWSTx        uint64
	localHubDrop     uint64
	localHubKick     uint64
	localErrors      uint64
	localHubClients  uint64
	localFanout      uint64
	localChecksum    uint64
	localFraming     uint64
	localGetStateTmo uint64
	localQDMax       uint64
	localQDAvg       uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	SerialRx        uint64
	SerialTx        uint64
	WSRx            uint64
	WSTx            uint64
	HubDrops        uint64
	HubKicks        uint64
	Errors          uint64 // sum across error labels
	HubClients      uint64
	Fanout          uint64
	ChecksumErrors  uint64
	FramingErrors   uint64
	GetStateTimeout uint64
	QueueDepthMax   uint64
	QueueDepthAvg   uint64
}

func Snap() Snapshot {
	return Snapshot{
		SerialRx:        atomic.LoadUint64(&localSerialRx),
		SerialTx:        atomic.LoadUint64(&localSerialTx),
		WSRx:            atomic.LoadUint64(&localWSRx),
		WSTx:            atomic.LoadUint64(&localWSTx),
		HubDrops:        atomic.LoadUint64(&localHubDrop),
		HubKicks:        atomic.LoadUint64(&localHubKick),
		Errors:          atomic.LoadUint64(&localErrors),
		HubClients:      atomic.LoadUint64(&localHubClients),
		Fanout:          atomic.LoadUint64(&localFanout),
		ChecksumErrors:  atomic.LoadUint64(&localChecksum),
		FramingErrors:   atomic.LoadUint64(&localFraming),
		GetStateTimeout: atomic.LoadUint64(&localGetStateTmo),
		QueueDepthMax:   atomic.LoadUint64(&localQDMax),
		QueueDepthAvg:   atomic.LoadUint64(&localQDAvg),
	}
}

// Wrapper helpers to keep call sites simple.
func IncSerialRx() {
	SerialRxFrames.Inc()
	atomic.AddUint64(&localSerialRx, 1)
}

func IncSerialTx() {
	SerialTxFrames.Inc()
	atomic.AddUint64(&localSerialTx, 1)
}

func IncWSRx() {
	WSRxMessages.Inc()
	atomic.AddUint64(&localWSRx, 1)
}

func IncWSTx() {
	WSTxMessages.Inc()
	atomic.AddUint64(&localWSTx, 1)
}

func IncHubDrop() {
	HubDroppedMessages.Inc()
	atomic.AddUint64(&localHubDrop, 1)
}

func IncHubKick() {
	HubKickedClients.Inc()
	atomic.AddUint64(&localHubKick, 1)
}

func SetHubClients(n int) {
	HubActiveClients.Set(float64(n))
	atomic.StoreUint64(&localHubClients, uint64(n))
}

func SetBroadcastFanout(n int) {
	HubBroadcastFanout.Set(float64(n))
	atomic.StoreUint64(&localFanout, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
	switch label {
	case ErrChecksum:
		ChecksumErrors.Inc()
		atomic.AddUint64(&localChecksum, 1)
	case ErrFraming:
		FramingErrors.Inc()
		atomic.AddUint64(&localFraming, 1)
	}
}

// IncGetStateTimeout records a getState request that missed its deadline.
func IncGetStateTimeout() {
	GetStateTimeouts.Inc()
	atomic.AddUint64(&localGetStateTmo, 1)
}

// SetControllerConnected mirrors the command station Connection state.
func SetControllerConnected(connected bool) {
	if connected {
		ControllerConnected.Set(1)
		return
	}
	ControllerConnected.Set(0)
}

// SetQueueDepth records a snapshot of max and avg queue depth.
func SetQueueDepth(max, avg int) {
	HubQueueDepthMax.Set(float64(max))
	HubQueueDepthAvg.Set(float64(avg))
	atomic.StoreUint64(&localQDMax, uint64(max))
	atomic.StoreUint64(&localQDAvg, uint64(avg))
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{
		ErrWSRead, ErrWSWrite, ErrWSUpgrade,
		ErrSerialWrite, ErrSerialOverflow, ErrSerialRead,
		ErrChecksum, ErrFraming, ErrDispatch,
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
	if fn == nil {
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
