// Package metrics exposes Prometheus counters/gauges for canhackd attack
// cycles, plus the /metrics and /ready HTTP endpoints, in the same shape
// the teacher's hub/server metrics used (promauto-registered globals, a
// local atomic mirror for cheap in-process reads, a registered readiness
// function).
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/dene67/canhack/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus series.
var (
	FramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canhack_frames_sent_total",
		Help: "Total frames successfully driven onto the bus (send_frame / send_janus_frame).",
	})
	FramesRetried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canhack_frame_retries_total",
		Help: "Total SOF-wait retries consumed after arbitration loss.",
	})
	ArbitrationLosses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canhack_arbitration_losses_total",
		Help: "Total times a sampled RX bit disagreed with the driven TX bit.",
	})
	SpoofMatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canhack_spoof_matches_total",
		Help: "Total identifier-template matches that triggered a spoof primitive.",
	})
	ErrorAttackCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canhack_error_attack_cycles_total",
		Help: "Total error_attack operations that completed all their repeat cycles (one count per operation).",
	})
	Timeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canhack_timeouts_total",
		Help: "Total primitives aborted by the watchdog before completion.",
	})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canhack_malformed_frames_total",
		Help: "Total set_frame calls rejected (capacity overflow, bad frame index).",
	})
	SquareWaveRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canhack_square_wave_runs_total",
		Help: "Total send_square_wave calibration runs.",
	})
	LoopbackRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canhack_loopback_runs_total",
		Help: "Total loopback(fd) debug-pin mirror runs.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrEncode          = "encode"
	ErrTimeout         = "timeout"
	ErrArbitrationLost = "arbitration_lost"
	ErrNoMatch         = "no_match"
	ErrPlatformSerial  = "platform_serial"
	ErrPlatformMDNS    = "platform_mdns"
)

// StartHTTP serves Prometheus metrics at /metrics (and /ready) on addr.
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

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters, read without touching the Prometheus registry.
var (
	localFramesSent  uint64
	localRetries     uint64
	localArbLoss     uint64
	localSpoofMatch  uint64
	localErrorCycles uint64
	localTimeouts    uint64
	localMalformed   uint64
	localErrors      uint64
)

// Snapshot is a cheap copy of the local counters.
type Snapshot struct {
	FramesSent        uint64
	Retries           uint64
	ArbitrationLosses uint64
	SpoofMatches      uint64
	ErrorCycles       uint64
	Timeouts          uint64
	Malformed         uint64
	Errors            uint64
}

func Snap() Snapshot {
	return Snapshot{
		FramesSent:        atomic.LoadUint64(&localFramesSent),
		Retries:           atomic.LoadUint64(&localRetries),
		ArbitrationLosses: atomic.LoadUint64(&localArbLoss),
		SpoofMatches:      atomic.LoadUint64(&localSpoofMatch),
		ErrorCycles:       atomic.LoadUint64(&localErrorCycles),
		Timeouts:          atomic.LoadUint64(&localTimeouts),
		Malformed:         atomic.LoadUint64(&localMalformed),
		Errors:            atomic.LoadUint64(&localErrors),
	}
}

// IncFramesSent records a successfully completed send_frame/send_janus_frame.
func IncFramesSent() {
	FramesSent.Inc()
	atomic.AddUint64(&localFramesSent, 1)
}

// AddRetries records SOF-wait retries consumed by one SendFrame/SendJanusFrame call.
func AddRetries(n int) {
	if n <= 0 {
		return
	}
	FramesRetried.Add(float64(n))
	atomic.AddUint64(&localRetries, uint64(n))
}

func IncArbitrationLoss() {
	ArbitrationLosses.Inc()
	atomic.AddUint64(&localArbLoss, 1)
}

func IncSpoofMatch() {
	SpoofMatches.Inc()
	atomic.AddUint64(&localSpoofMatch, 1)
}

func IncErrorAttackCycle() {
	ErrorAttackCycles.Inc()
	atomic.AddUint64(&localErrorCycles, 1)
}

func IncTimeout() {
	Timeouts.Inc()
	atomic.AddUint64(&localTimeouts, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

func IncSquareWave()  { SquareWaveRuns.Inc() }
func IncLoopbackRun() { LoopbackRuns.Inc() }

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge and pre-registers error label
// series (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{
		ErrEncode, ErrTimeout, ErrArbitrationLost, ErrNoMatch,
		ErrPlatformSerial, ErrPlatformMDNS,
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
