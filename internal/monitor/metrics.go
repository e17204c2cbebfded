package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	// Link metrics
	ScannerConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sds200_connected",
		Help: "1 while the scanner link is connected",
	})

	ConnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sds200_connect_attempts_total",
		Help: "Connection attempts to the scanner",
	})

	ConnectFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sds200_connect_failures_total",
		Help: "Failed connection attempts to the scanner",
	})

	// Command metrics
	CommandErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sds200_command_errors_total",
			Help: "Failed commands by mnemonic and error kind",
		},
		[]string{"command", "kind"},
	)

	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sds200_command_duration_seconds",
			Help:    "Round-trip time of scanner commands",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	DegradedParses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sds200_degraded_parses_total",
			Help: "Replies shorter than the expected field layout",
		},
		[]string{"command"},
	)

	// Cycle metrics
	PollCycles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sds200_poll_cycles_total",
		Help: "Completed poll cycles",
	})

	CycleFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sds200_cycle_failures_total",
		Help: "Poll cycles aborted by an unexpected failure",
	})

	PublishErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sds200_publish_errors_total",
			Help: "Snapshot publication failures by sink",
		},
		[]string{"sink"},
	)

	LastPublish = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sds200_last_publish_timestamp_seconds",
		Help: "Unix time of the last published snapshot",
	})

	// Runtime metrics
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sds200_goroutines",
		Help: "Current goroutine count",
	})

	MemoryUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sds200_memory_usage_bytes",
		Help: "Allocated heap bytes",
	})
)

var registerOnce sync.Once

type Monitor struct {
	log    *logrus.Logger
	server *http.Server
}

func NewMonitor(log *logrus.Logger) *Monitor {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ScannerConnected,
			ConnectAttempts,
			ConnectFailures,
			CommandErrors,
			CommandDuration,
			DegradedParses,
			PollCycles,
			CycleFailures,
			PublishErrors,
			LastPublish,
			GoroutineCount,
			MemoryUsage,
		)
	})

	return &Monitor{log: log}
}

// Handler serves /metrics and /health.
func (m *Monitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// StartMetricsServer serves Handler on port in the background.
func (m *Monitor) StartMetricsServer(port int) {
	addr := fmt.Sprintf(":%d", port)
	m.server = &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	m.log.Infof("metrics server listening on %s", addr)

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Errorf("metrics server: %v", err)
		}
	}()
}

// StartRuntimeMonitor samples goroutine and heap usage every interval until
// ctx is done.
func (m *Monitor) StartRuntimeMonitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sample()
			}
		}
	}()
}

func (m *Monitor) sample() {
	GoroutineCount.Set(float64(runtime.NumGoroutine()))

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	MemoryUsage.Set(float64(memStats.Alloc))

	m.log.Debugf("goroutines: %d, heap: %.2f MB",
		runtime.NumGoroutine(),
		float64(memStats.Alloc)/1024/1024,
	)
}

// Shutdown stops the metrics server if it was started.
func (m *Monitor) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}

// SetConnected mirrors the link state into ScannerConnected.
func SetConnected(connected bool) {
	if connected {
		ScannerConnected.Set(1)
		return
	}
	ScannerConnected.Set(0)
}
