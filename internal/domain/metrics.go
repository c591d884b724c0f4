package domain

import (
	"sync/atomic"
	"time"
)

type MetricsSnapshot struct {
	LinesRead       int64
	LinesParsed     int64
	LinesFailed     int64
	Analyses        int64
	InsightsEmitted int64
	Uploads         int64
	Uptime          time.Duration
	StartTime       time.Time
}

// AnalysisMetrics holds process-wide counters. Safe for concurrent use.
type AnalysisMetrics struct {
	linesParsed     atomic.Int64
	linesFailed     atomic.Int64
	analyses        atomic.Int64
	insightsEmitted atomic.Int64
	uploads         atomic.Int64
	StartTime       time.Time
}

func NewAnalysisMetrics() *AnalysisMetrics {
	return &AnalysisMetrics{
		StartTime: time.Now(),
	}
}

func (m *AnalysisMetrics) AddParsed(n int) {
	m.linesParsed.Add(int64(n))
}

func (m *AnalysisMetrics) AddFailed(n int) {
	m.linesFailed.Add(int64(n))
}

func (m *AnalysisMetrics) IncrementAnalyses() {
	m.analyses.Add(1)
}

func (m *AnalysisMetrics) AddInsights(n int) {
	m.insightsEmitted.Add(int64(n))
}

func (m *AnalysisMetrics) IncrementUploads() {
	m.uploads.Add(1)
}

func (m *AnalysisMetrics) TotalLines() int64 {
	return m.linesParsed.Load() + m.linesFailed.Load()
}

func (m *AnalysisMetrics) GetSnapshot() MetricsSnapshot {
	parsed := m.linesParsed.Load()
	failed := m.linesFailed.Load()
	return MetricsSnapshot{
		LinesRead:       parsed + failed,
		LinesParsed:     parsed,
		LinesFailed:     failed,
		Analyses:        m.analyses.Load(),
		InsightsEmitted: m.insightsEmitted.Load(),
		Uploads:         m.uploads.Load(),
		Uptime:          time.Since(m.StartTime),
		StartTime:       m.StartTime,
	}
}
