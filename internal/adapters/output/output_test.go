package output

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xoelrdgz/logsift/internal/app"
	"github.com/xoelrdgz/logsift/internal/domain"
	"github.com/xoelrdgz/logsift/internal/ports"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func sampleRecords() []domain.LogRecord {
	return []domain.LogRecord{
		{
			RemoteAddr:    "10.0.0.1",
			RemoteUser:    "-",
			TimeLocal:     "01/Jan/2024:12:00:00 +0000",
			OccurredAt:    t0,
			RawRequest:    "GET /index.html HTTP/1.1",
			Method:        "GET",
			Path:          "/index.html",
			Protocol:      "HTTP/1.1",
			Status:        domain.IntField(200),
			BodyBytesSent: domain.IntField(512),
			Referer:       "-",
			UserAgent:     "Mozilla/5.0, \"quoted\"",
		},
		{
			RemoteAddr: "10.0.0.2",
			TimeLocal:  "garbage",
			Status:     domain.ParseNumericField("-"),
			Fields:     map[string]string{"upstream": "app-1"},
		},
	}
}

func sampleReport() *domain.Report {
	return &domain.Report{
		GeneratedAt:      t0,
		TotalRecords:     30,
		FailedLines:      2,
		IPCounts:         domain.FrequencyTable{"10.0.0.1": 20, "45.33.32.156": 10},
		UserAgentCounts:  domain.FrequencyTable{"curl/8.4.0": 10, "Mozilla/5.0": 20},
		HighFrequencyIPs: domain.FrequencyTable{"10.0.0.1": 20},
		BlacklistedIPs:   []string{"45.33.32.156"},
		SuspiciousAgents: domain.Buckets{
			"curl": make([]domain.LogRecord, 10),
		},
		Bursts: map[string]domain.BurstWindow{
			"45.33.32.156": {IP: "45.33.32.156", Start: t0, Hits: []domain.BurstHit{{Elapsed: 0}, {Elapsed: 9}}},
		},
		StatusBuckets: domain.StatusBuckets{"2xx": 25, "3xx": 0, "4xx": 5, "5xx": 0},
		Methods:       domain.FrequencyTable{"GET": 30},
		Paths:         domain.FrequencyTable{"/index.html": 30},
		RequestsPerMinute: []domain.MinuteCount{
			{Minute: t0, Count: 10}, {Minute: t0.Add(time.Minute), Count: 20},
		},
		Bytes: domain.BytesStats{Total: 2048, Average: 68.3, Max: 512},
		ErrorPaths: []domain.ErrorPath{
			{Path: "/wp-admin/", Total: 5, ByStatus: map[int]int{404: 4, 403: 1}},
		},
		MapMarkers: []domain.MapMarker{{ID: 1, IP: "45.33.32.156", Country: "United States", City: "Fremont", RequestCount: 10}},
		GeoMisses:  1,
		Insights: []domain.Insight{
			domain.NewInsight(domain.InsightBlacklist, "1 blacklisted IP(s) seen: 45.33.32.156"),
		},
		Summary: "1 blacklisted IP(s) seen: 45.33.32.156",
	}
}

func TestExportCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExportCSV(&buf, sampleRecords()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	header := rows[0]
	assert.IsIncreasing(t, header)
	assert.Contains(t, header, "upstream")

	col := func(name string) int {
		for i, h := range header {
			if h == name {
				return i
			}
		}
		t.Fatalf("missing column %s", name)
		return -1
	}

	assert.Equal(t, "2024-01-01 12:00:00", rows[1][col("datetime")])
	assert.Equal(t, "Mozilla/5.0, \"quoted\"", rows[1][col("http_user_agent")])
	assert.Equal(t, "", rows[1][col("upstream")])
	assert.Equal(t, "garbage", rows[2][col("datetime")])
	assert.Equal(t, "-", rows[2][col("status")])
	assert.Equal(t, "app-1", rows[2][col("upstream")])
}

func TestExportJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExportJSON(&buf, sampleRecords()))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "10.0.0.1", decoded[0]["remote_addr"])
	assert.EqualValues(t, 200, decoded[0]["status"])

	buf.Reset()
	require.NoError(t, ExportJSON(&buf, nil))
	assert.Equal(t, "[]", strings.TrimSpace(buf.String()))
}

func TestJSONReportWriter(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewJSONReportWriter(JSONReportConfig{Writer: &buf})
	require.NoError(t, err)

	var _ ports.ReportWriter = w
	require.NoError(t, w.WriteReport(sampleReport()))
	require.NoError(t, w.Close())

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.EqualValues(t, 30, decoded["total_records"])
	assert.Equal(t, []any{"45.33.32.156"}, decoded["blacklisted_ips"])
	assert.Contains(t, decoded, "status_counts")
	assert.Contains(t, decoded, "map_markers")
}

func TestJSONReportWriter_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	w, err := NewJSONReportWriter(JSONReportConfig{FilePath: path, Pretty: true})
	require.NoError(t, err)
	require.NoError(t, w.WriteReport(sampleReport()))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"total_records\": 30")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestConsoleRenderer(t *testing.T) {
	var buf bytes.Buffer
	r := NewConsoleRenderer(ConsoleConfig{Writer: &buf, TopN: 5})
	require.NoError(t, r.WriteReport(sampleReport()))

	out := buf.String()
	for _, want := range []string{
		"logsift report",
		"1 blacklisted IP(s) seen: 45.33.32.156",
		"Top IPs",
		"blacklisted",
		"high-frequency",
		"Status classes",
		"Request bursts",
		"/wp-admin/",
		"404×4 403×1",
		"Fremont",
		"1 IP(s) not in the geolocation cache",
		"2.0 kB",
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "\x1b[", "non-terminal writers get no escape codes")
}

func TestConsoleRenderer_SanitizesLogValues(t *testing.T) {
	report := sampleReport()
	report.Paths = domain.FrequencyTable{"/evil\x1b[2J": 3}

	var buf bytes.Buffer
	require.NoError(t, NewConsoleRenderer(ConsoleConfig{Writer: &buf}).WriteReport(report))
	assert.NotContains(t, buf.String(), "\x1b[2J")
}

func TestConsoleRenderer_EmptyReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewConsoleRenderer(ConsoleConfig{Writer: &buf}).WriteReport(&domain.Report{}))
	assert.Contains(t, buf.String(), "nothing noteworthy")
	assert.NotContains(t, buf.String(), "Top IPs")
}

func TestConsoleRenderer_SeriesTruncated(t *testing.T) {
	report := sampleReport()
	var buf bytes.Buffer
	require.NoError(t, NewConsoleRenderer(ConsoleConfig{Writer: &buf}).WriteReport(report))
	assert.NotContains(t, buf.String(), "series limited")

	report.SeriesTruncated = true
	buf.Reset()
	require.NoError(t, NewConsoleRenderer(ConsoleConfig{Writer: &buf}).WriteReport(report))
	assert.Contains(t, buf.String(), "series limited to the most recent minutes")
}

func TestConsoleRenderer_WriteTopN(t *testing.T) {
	var buf bytes.Buffer
	r := NewConsoleRenderer(ConsoleConfig{Writer: &buf})
	require.NoError(t, r.WriteTopN("remote_addr", []domain.Count{
		{Key: "10.0.0.1", Count: 1234},
		{Key: "10.0.0.2", Count: 7},
	}))

	out := buf.String()
	assert.Contains(t, out, "Top 2 remote_addr")
	assert.Contains(t, out, "10.0.0.1")
	assert.Contains(t, out, "1,234")
	assert.Less(t, strings.Index(out, "10.0.0.1"), strings.Index(out, "10.0.0.2"))

	buf.Reset()
	require.NoError(t, r.WriteTopN("path", nil))
	assert.Contains(t, buf.String(), "no values")
}

func TestSparkline(t *testing.T) {
	series := []domain.MinuteCount{{Count: 0}, {Count: 7}, {Count: 14}}
	assert.Equal(t, "▁▄█", Sparkline(series, 10))

	long := make([]domain.MinuteCount, 100)
	long[99].Count = 5
	spark := Sparkline(long, 10)
	assert.Equal(t, 10, len([]rune(spark)))
	assert.True(t, strings.HasSuffix(spark, "█"))

	assert.Empty(t, Sparkline(nil, 10))
}

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	internal := domain.NewAnalysisMetrics()
	internal.AddParsed(3)
	internal.AddFailed(1)

	m := NewPrometheusMetrics("", internal, reg)
	var _ ports.ProcessingObserver = m

	m.IncrementLinesProcessedByResult(ports.ResultParsed)
	m.IncrementLinesProcessedByResult(ports.ResultParsed)
	m.IncrementLinesProcessedByResult(ports.ResultFailed)
	m.ObserveAnalysis(50*time.Millisecond, map[string]int{"blacklist": 1, "bursts": 2})
	m.IncrementUploads(UploadAccepted)
	m.SetQueueSource(func() int { return 7 })

	assert.Equal(t, 2.0, testutil.ToFloat64(m.linesByResult.WithLabelValues("parsed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.linesByResult.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.analysesTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.insights.WithLabelValues("bursts")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploads.WithLabelValues(UploadAccepted)))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.queueSize))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.linesTotal))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "logsift_analyses_total 1")
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestHealthChecker(t *testing.T) {
	pool := app.NewWorkerPool(app.WorkerPoolConfig{WorkerCount: 1, BufferSize: 10})

	checker := NewHealthChecker(pool, stubPinger{}, nil, HealthCheckerConfig{MaxLatency: time.Second})
	status := checker.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.Equal(t, "OFFLINE", status.Status)

	pool.Start(context.Background())
	defer pool.Stop()

	checker = NewHealthChecker(pool, stubPinger{}, domain.NewAnalysisMetrics(), HealthCheckerConfig{MaxLatency: time.Second})
	status = checker.Check(context.Background())
	assert.True(t, status.Healthy)
	assert.Equal(t, "HEALTHY", status.Status)
	assert.Equal(t, 10, status.QueueCapacity)

	checker = NewHealthChecker(pool, stubPinger{err: errors.New("database is locked")}, nil, HealthCheckerConfig{MaxLatency: time.Second})
	status = checker.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.Equal(t, "STORE_UNAVAILABLE", status.Status)
	assert.Equal(t, "database is locked", status.Reason)
}
