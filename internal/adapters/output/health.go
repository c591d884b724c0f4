package output

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xoelrdgz/logsift/internal/app"
	"github.com/xoelrdgz/logsift/internal/domain"
)

// Pinger is implemented by dependencies that can report their own liveness,
// such as storage.SQLiteStore.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthStatus struct {
	Healthy       bool          `json:"healthy"`
	Status        string        `json:"status"`
	Latency       time.Duration `json:"latency_ns"`
	QueueLength   int           `json:"queue_length"`
	QueueCapacity int           `json:"queue_capacity"`
	Utilization   float64       `json:"utilization_percent"`
	FailedJobs    int64         `json:"failed_jobs"`
	Analyses      int64         `json:"analyses"`
	Uptime        time.Duration `json:"uptime_ns"`
	Reason        string        `json:"reason,omitempty"`
}

// HealthChecker probes the worker pool and the record store. Results are
// cached for CheckInterval.
type HealthChecker struct {
	workerPool *app.WorkerPool
	store      Pinger
	metrics    *domain.AnalysisMetrics
	maxLatency time.Duration
	startTime  time.Time

	lastCheck     HealthStatus
	lastCheckTime time.Time
	lastCheckMu   sync.RWMutex
	checkInterval time.Duration
}

type HealthCheckerConfig struct {
	MaxLatency    time.Duration
	CheckInterval time.Duration
}

func DefaultHealthCheckerConfig() HealthCheckerConfig {
	return HealthCheckerConfig{
		MaxLatency:    500 * time.Millisecond,
		CheckInterval: 5 * time.Second,
	}
}

func NewHealthChecker(wp *app.WorkerPool, store Pinger, metrics *domain.AnalysisMetrics, config HealthCheckerConfig) *HealthChecker {
	if config.MaxLatency <= 0 {
		config.MaxLatency = DefaultHealthCheckerConfig().MaxLatency
	}
	return &HealthChecker{
		workerPool:    wp,
		store:         store,
		metrics:       metrics,
		maxLatency:    config.MaxLatency,
		checkInterval: config.CheckInterval,
		startTime:     time.Now(),
	}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.lastCheckMu.RLock()
	if !h.lastCheckTime.IsZero() && time.Since(h.lastCheckTime) < h.checkInterval {
		cached := h.lastCheck
		h.lastCheckMu.RUnlock()
		return cached
	}
	h.lastCheckMu.RUnlock()

	status := h.performCheck(ctx)

	h.lastCheckMu.Lock()
	h.lastCheck = status
	h.lastCheckTime = time.Now()
	h.lastCheckMu.Unlock()

	return status
}

func (h *HealthChecker) performCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Uptime: time.Since(h.startTime),
	}
	if h.metrics != nil {
		status.Analyses = h.metrics.GetSnapshot().Analyses
	}

	if h.workerPool == nil || !h.workerPool.IsRunning() {
		status.Status = "OFFLINE"
		status.Reason = "worker pool not running"
		return status
	}

	stats := h.workerPool.Stats()
	status.QueueLength = stats.QueueLength
	status.QueueCapacity = stats.QueueCapacity
	status.Utilization = stats.Utilization
	status.FailedJobs = stats.Failed

	if status.Utilization >= 95 {
		status.Status = "SATURATED"
		status.Reason = fmt.Sprintf("queue utilization at %.1f%%", status.Utilization)
		return status
	}

	start := time.Now()
	probeCtx, cancel := context.WithTimeout(ctx, h.maxLatency)
	defer cancel()

	if h.store != nil {
		if err := h.store.Ping(probeCtx); err != nil {
			status.Status = "STORE_UNAVAILABLE"
			status.Reason = err.Error()
			return status
		}
	}

	done := make(chan struct{})
	err := h.workerPool.SubmitBlocking(probeCtx, app.Job{
		Name: "health-probe",
		Run: func(context.Context) error {
			close(done)
			return nil
		},
	})
	if err == nil {
		select {
		case <-done:
		case <-probeCtx.Done():
			err = probeCtx.Err()
		}
	}
	status.Latency = time.Since(start)

	if err != nil {
		status.Status = "BLOCKED"
		status.Reason = "pipeline blocked - probe did not complete"
		return status
	}

	if status.Latency > h.maxLatency {
		status.Status = "SLOW"
		status.Reason = fmt.Sprintf("latency %v exceeds threshold %v", status.Latency, h.maxLatency)
		return status
	}

	status.Healthy = true
	if status.Utilization >= 80 {
		status.Status = "DEGRADED"
		status.Reason = fmt.Sprintf("queue utilization elevated at %.1f%%", status.Utilization)
	} else {
		status.Status = "HEALTHY"
	}

	return status
}
