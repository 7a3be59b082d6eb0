package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-chat-server/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_received_total",
		Help: "Total SEND commands received from clients.",
	})
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Total messages delivered to recipient sockets.",
	})
	QueueDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_queue_dropped_total",
		Help: "Messages dropped or rejected by the dispatcher queue, by policy.",
	}, []string{"policy"})
	HeartbeatEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_heartbeat_evictions_total",
		Help: "Clients evicted after missing heartbeat PONGs.",
	})
	BannedConnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_banned_connects_total",
		Help: "CONNECT attempts refused because the username is banned.",
	})
	ActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_active_clients",
		Help: "Current number of registered clients.",
	})
	BroadcastFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_broadcast_fanout",
		Help: "Number of recipients of the most recent broadcast.",
	})
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_queue_depth",
		Help: "Messages currently waiting in the dispatcher queue.",
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
		Help: "Total rejected malformed frames (oversized, truncated, empty payload).",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrTCPRead   = "tcp_read"
	ErrTCPWrite  = "tcp_write"
	ErrDispatch  = "dispatch"
	ErrBanlistIO = "banlist_io"
	ErrLogIO     = "log_io"
	ErrConsole   = "console"
)

// Queue drop policy labels.
const (
	DropReject = "reject"
	DropOldest = "drop_oldest"
	DropNewest = "drop_newest"
)

// StartHTTP serves Prometheus metrics at /metrics on the given addr.
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
	localReceived   uint64
	localSent       uint64
	localDropped    uint64
	localEvictions  uint64
	localBanRefused uint64
	localErrors     uint64
	localClients    uint64
	localFanout     uint64
	localMalformed  uint64
	localQDepth     uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	Received   uint64
	Sent       uint64
	Dropped    uint64
	Evictions  uint64
	BanRefused uint64
	Errors     uint64 // sum across error labels
	Clients    uint64
	Fanout     uint64
	Malformed  uint64
	QueueDepth uint64
}

func Snap() Snapshot {
	return Snapshot{
		Received:   atomic.LoadUint64(&localReceived),
		Sent:       atomic.LoadUint64(&localSent),
		Dropped:    atomic.LoadUint64(&localDropped),
		Evictions:  atomic.LoadUint64(&localEvictions),
		BanRefused: atomic.LoadUint64(&localBanRefused),
		Errors:     atomic.LoadUint64(&localErrors),
		Clients:    atomic.LoadUint64(&localClients),
		Fanout:     atomic.LoadUint64(&localFanout),
		Malformed:  atomic.LoadUint64(&localMalformed),
		QueueDepth: atomic.LoadUint64(&localQDepth),
	}
}

// Wrapper helpers to keep call sites simple.
func IncReceived() {
	MessagesReceived.Inc()
	atomic.AddUint64(&localReceived, 1)
}

func IncSent() {
	MessagesSent.Inc()
	atomic.AddUint64(&localSent, 1)
}

func IncQueueDropped(policy string) {
	QueueDropped.WithLabelValues(policy).Inc()
	atomic.AddUint64(&localDropped, 1)
}

func IncEviction() {
	HeartbeatEvictions.Inc()
	atomic.AddUint64(&localEvictions, 1)
}

func IncBannedConnect() {
	BannedConnects.Inc()
	atomic.AddUint64(&localBanRefused, 1)
}

func SetClients(n int) {
	ActiveClients.Set(float64(n))
	atomic.StoreUint64(&localClients, uint64(n))
}

func SetBroadcastFanout(n int) {
	BroadcastFanout.Set(float64(n))
	atomic.StoreUint64(&localFanout, uint64(n))
}

func SetQueueDepth(n int) {
	QueueDepth.Set(float64(n))
	atomic.StoreUint64(&localQDepth, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common label series so the first error does not pay the
	// registration latency.
	for _, lbl := range []string{
		ErrTCPRead, ErrTCPWrite, ErrDispatch,
		ErrBanlistIO, ErrLogIO, ErrConsole,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
	for _, lbl := range []string{DropReject, DropOldest, DropNewest} {
		QueueDropped.WithLabelValues(lbl).Add(0)
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
