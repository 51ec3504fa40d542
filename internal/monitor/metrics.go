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
	// Serial input
	LinesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "serial_logger_lines_read_total",
		Help: "Lines returned by the serial reader, timeouts included",
	})

	BytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "serial_logger_bytes_received_total",
		Help: "Bytes received from the serial port",
	})

	LinesSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serial_logger_lines_skipped_total",
			Help: "Lines dropped without a history write",
		},
		[]string{"reason"},
	)

	// History
	EventsRecorded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "serial_logger_events_recorded_total",
		Help: "EVENT elements appended to the history file",
	})

	HistoryEvents = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "serial_logger_history_events",
		Help: "EVENT elements in the history file after the last append",
	})

	AppendDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "serial_logger_append_duration_seconds",
		Help:    "Time to load, append to and rewrite the history file",
		Buckets: prometheus.DefBuckets,
	})

	Errors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serial_logger_errors_total",
			Help: "Errors by processing stage",
		},
		[]string{"stage"},
	)

	// Fan-out
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serial_logger_events_published_total",
			Help: "Events forwarded to a publisher",
		},
		[]string{"publisher"},
	)

	// Runtime
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "serial_logger_goroutines",
		Help: "Current goroutine count",
	})

	MemoryUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "serial_logger_memory_usage_bytes",
		Help: "Heap bytes allocated",
	})
)

// Skip reasons and error stages
const (
	ReasonEmpty     = "empty"
	ReasonMalformed = "malformed"

	StageRead    = "read"
	StageParse   = "parse"
	StageHistory = "history"
	StagePublish = "publish"
)

var registerOnce sync.Once

type Monitor struct {
	log    *logrus.Logger
	server *http.Server
	stop   chan struct{}
}

func NewMonitor(log *logrus.Logger) *Monitor {
	Register()
	return &Monitor{log: log, stop: make(chan struct{})}
}

// Register adds the collectors to the default registry once per process.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			LinesRead,
			BytesReceived,
			LinesSkipped,
			EventsRecorded,
			HistoryEvents,
			AppendDuration,
			Errors,
			EventsPublished,
			GoroutineCount,
			MemoryUsage,
		)
	})
}

// StartMetricsServer serves /metrics and /health on port.
func (m *Monitor) StartMetricsServer(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf(":%d", port)
	m.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	m.log.Infof("Metrics server listening on %s", addr)

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Errorf("Metrics server error: %v", err)
		}
	}()
}

// StartRuntimeMonitor samples goroutines and heap every 10 seconds.
func (m *Monitor) StartRuntimeMonitor() {
	ticker := time.NewTicker(10 * time.Second)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
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

	m.log.Debugf("Goroutines: %d, memory: %.2f MB",
		runtime.NumGoroutine(),
		float64(memStats.Alloc)/1024/1024,
	)
}

// Stop shuts the metrics server and the runtime sampler down.
func (m *Monitor) Stop(ctx context.Context) error {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}

	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
