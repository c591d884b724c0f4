package output

import (
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/logsift/internal/domain"
)

const DefaultNamespace = "logsift"

// Upload outcomes used as the "outcome" label.
const (
	UploadAccepted = "accepted"
	UploadRejected = "rejected"
	UploadFailed   = "failed"
)

// PrometheusMetrics exposes pipeline counters. It implements
// ports.ProcessingObserver.
type PrometheusMetrics struct {
	linesTotal       prometheus.CounterFunc
	linesByResult    *prometheus.CounterVec
	analysesTotal    prometheus.Counter
	analysisDuration prometheus.Histogram
	insights         *prometheus.CounterVec
	uploads          *prometheus.CounterVec
	queueSize        prometheus.GaugeFunc
	memoryUsage      prometheus.GaugeFunc

	queueSource atomic.Pointer[func() int]
	gatherer    prometheus.Gatherer

	server *http.Server
	mu     sync.Mutex
}

type MetricsConfig struct {
	Addr string
	Path string
}

func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Addr: ":9090",
		Path: "/metrics",
	}
}

// NewPrometheusMetrics registers the collectors with reg, or with the default
// registry when reg is nil.
func NewPrometheusMetrics(namespace string, internalMetrics *domain.AnalysisMetrics, reg *prometheus.Registry) *PrometheusMetrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	m := &PrometheusMetrics{gatherer: prometheus.DefaultGatherer}
	factory := promauto.With(prometheus.DefaultRegisterer)
	if reg != nil {
		factory = promauto.With(reg)
		m.gatherer = reg
	}

	m.linesTotal = factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lines_read_total",
		Help:      "Total number of log lines read",
	}, func() float64 {
		if internalMetrics != nil {
			return float64(internalMetrics.TotalLines())
		}
		return 0
	})

	m.linesByResult = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lines_processed_total",
		Help:      "Log lines processed by parse result",
	}, []string{"result"})

	m.analysesTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "analyses_total",
		Help:      "Total number of completed analyses",
	})

	m.analysisDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "analysis_duration_seconds",
		Help:      "Time spent in the analysis engine per batch",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	m.insights = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "insights_total",
		Help:      "Insights emitted by category",
	}, []string{"category"})

	m.uploads = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploads_total",
		Help:      "Uploaded log files by outcome",
	}, []string{"outcome"})

	m.queueSize = factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_queue_size",
		Help:      "Jobs waiting in the background worker queue",
	}, func() float64 {
		if src := m.queueSource.Load(); src != nil {
			return float64((*src)())
		}
		return 0
	})

	m.memoryUsage = factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "memory_bytes",
		Help:      "Current memory usage in bytes",
	}, func() float64 {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		return float64(ms.Alloc)
	})

	return m
}

func (m *PrometheusMetrics) IncrementLinesProcessedByResult(result string) {
	m.linesByResult.WithLabelValues(result).Inc()
}

func (m *PrometheusMetrics) ObserveAnalysis(duration time.Duration, insightsByCategory map[string]int) {
	m.analysesTotal.Inc()
	m.analysisDuration.Observe(duration.Seconds())
	for category, n := range insightsByCategory {
		m.insights.WithLabelValues(category).Add(float64(n))
	}
}

func (m *PrometheusMetrics) IncrementUploads(outcome string) {
	m.uploads.WithLabelValues(outcome).Inc()
}

// SetQueueSource makes the queue gauge read from fn on every scrape.
func (m *PrometheusMetrics) SetQueueSource(fn func() int) {
	m.queueSource.Store(&fn)
}

// Handler serves the registry the collectors were registered with.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *PrometheusMetrics) StartServer(config MetricsConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if config.Path == "" {
		config.Path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(config.Path, m.Handler())

	m.server = &http.Server{
		Addr:              config.Addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv := m.server
	go func() {
		log.Info().Str("addr", config.Addr).Str("path", config.Path).Msg("Starting Prometheus metrics server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	return nil
}

func (m *PrometheusMetrics) StopServer() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server != nil {
		return m.server.Close()
	}
	return nil
}
