package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xoelrdgz/logsift/internal/adapters/input"
	"github.com/xoelrdgz/logsift/internal/adapters/output"
	"github.com/xoelrdgz/logsift/internal/adapters/storage"
	"github.com/xoelrdgz/logsift/internal/app"
	"github.com/xoelrdgz/logsift/internal/domain"
	"github.com/xoelrdgz/logsift/internal/ports"
)

const uploadBody = `192.168.1.1 - - [28/Dec/2025:10:00:00 +0000] "GET / HTTP/1.1" 200 100 "-" "Mozilla/5.0"
192.168.1.1 - - [28/Dec/2025:10:00:05 +0000] "GET /about HTTP/1.1" 200 200 "-" "Mozilla/5.0"
10.0.0.7 - - [28/Dec/2025:10:00:09 +0000] "GET /.env HTTP/1.1" 404 0 "-" "sqlmap/1.7"
this line is not an access log entry
`

type fakeStore struct {
	mu       sync.Mutex
	inserted map[string][]domain.LogRecord
	insertCh chan string

	query     func(ctx context.Context, filter ports.RecordFilter) ([]domain.LogRecord, error)
	queryByIP func(ctx context.Context, ip string, limit int) ([]domain.LogRecord, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		inserted: make(map[string][]domain.LogRecord),
		insertCh: make(chan string, 8),
	}
}

func (f *fakeStore) InsertBatch(_ context.Context, source string, records []domain.LogRecord) (int, error) {
	f.mu.Lock()
	f.inserted[source] = records
	f.mu.Unlock()
	f.insertCh <- source
	return len(records), nil
}

func (f *fakeStore) QueryByIP(ctx context.Context, ip string, limit int) ([]domain.LogRecord, error) {
	return f.queryByIP(ctx, ip, limit)
}

func (f *fakeStore) Query(ctx context.Context, filter ports.RecordFilter) ([]domain.LogRecord, error) {
	return f.query(ctx, filter)
}

func (f *fakeStore) Count(context.Context) (int, error) { return 0, nil }
func (f *fakeStore) Close() error                       { return nil }

var _ ports.RecordStore = (*fakeStore)(nil)

type fakeArchiver struct {
	mu     sync.Mutex
	bodies map[string]string
}

func (a *fakeArchiver) Archive(_ context.Context, name string, body io.Reader) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bodies[name] = string(data)
	return "s3://test/" + name, nil
}

func (a *fakeArchiver) body(name string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.bodies[name]
	return b, ok
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T, cfg Config, deps Dependencies) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if cfg.UploadDir == "" {
		cfg.UploadDir = t.TempDir()
	}
	if deps.Engine == nil {
		deps.Engine = app.NewEngine(app.DefaultOptions(), app.Dependencies{})
	}
	if deps.Parser == nil {
		deps.Parser = input.NewBatchParser(input.NewDefaultLineParser())
	}

	s, err := NewServer(cfg, deps)
	require.NoError(t, err)
	return s
}

func startedPool(t *testing.T) *app.WorkerPool {
	t.Helper()
	pool := app.NewWorkerPool(app.WorkerPoolConfig{WorkerCount: 1, BufferSize: 8})
	pool.Start(context.Background())
	t.Cleanup(pool.Stop)
	return pool
}

func multipartRequest(t *testing.T, field, filename, body string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func TestUpload(t *testing.T) {
	store := newFakeStore()
	archiver := &fakeArchiver{bodies: map[string]string{}}
	counters := domain.NewAnalysisMetrics()
	uploadDir := t.TempDir()

	s := newTestServer(t, Config{UploadDir: uploadDir}, Dependencies{
		Store:    store,
		Archiver: archiver,
		Pool:     startedPool(t),
		Counters: counters,
	})

	w := serve(s, multipartRequest(t, "file", "../../etc/access.log", uploadBody))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	env := decode(t, w)
	assert.True(t, env.Success)
	assert.Equal(t, "file analyzed, indexing queued", env.Message)

	var data struct {
		Filename     string         `json:"filename"`
		LinesIndexed int            `json:"lines_indexed"`
		FailedLines  int            `json:"failed_lines"`
		Report       map[string]any `json:"report"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.True(t, strings.HasSuffix(data.Filename, "_access.log"), data.Filename)
	assert.NotContains(t, data.Filename, "/")
	assert.Equal(t, 3, data.LinesIndexed)
	assert.Equal(t, 1, data.FailedLines)
	assert.EqualValues(t, 3, data.Report["total_records"])

	select {
	case source := <-store.insertCh:
		assert.Equal(t, data.Filename, source)
	case <-time.After(5 * time.Second):
		t.Fatal("records were not indexed")
	}

	require.Eventually(t, func() bool {
		_, ok := archiver.body(data.Filename)
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	body, _ := archiver.body(data.Filename)
	assert.Equal(t, uploadBody, body)

	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(uploadDir)
		return err == nil && len(entries) == 0
	}, 5*time.Second, 10*time.Millisecond, "upload should be removed after indexing")

	assert.EqualValues(t, 1, counters.GetSnapshot().Uploads)
}

func TestUpload_WithoutBackgroundWork(t *testing.T) {
	uploadDir := t.TempDir()
	s := newTestServer(t, Config{UploadDir: uploadDir}, Dependencies{})

	w := serve(s, multipartRequest(t, "file", "access.log", uploadBody))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "file analyzed", decode(t, w).Message)

	entries, err := os.ReadDir(uploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUpload_Rejections(t *testing.T) {
	s := newTestServer(t, Config{MaxUploadMB: 1}, Dependencies{})

	t.Run("missing file field", func(t *testing.T) {
		w := serve(s, multipartRequest(t, "other", "access.log", uploadBody))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.False(t, decode(t, w).Success)
	})

	t.Run("not multipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", strings.NewReader("plain"))
		w := serve(s, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("too large", func(t *testing.T) {
		big := strings.Repeat("x", (1<<20)+10)
		w := serve(s, multipartRequest(t, "file", "big.log", big))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

func TestLogs(t *testing.T) {
	var gotIP string
	var gotLimit int
	store := newFakeStore()
	store.queryByIP = func(_ context.Context, ip string, limit int) ([]domain.LogRecord, error) {
		gotIP, gotLimit = ip, limit
		return []domain.LogRecord{{RemoteAddr: ip, Path: "/"}}, nil
	}
	s := newTestServer(t, Config{}, Dependencies{Store: store})

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantLimit int
	}{
		{"default limit", "?ip=10.0.0.1", http.StatusOK, storage.DefaultQueryLimit},
		{"explicit limit", "?ip=10.0.0.1&limit=5", http.StatusOK, 5},
		{"clamped limit", "?ip=10.0.0.1&limit=999999", http.StatusOK, storage.MaxQueryLimit},
		{"ipv6", "?ip=2001:db8::1", http.StatusOK, storage.DefaultQueryLimit},
		{"missing ip", "", http.StatusBadRequest, 0},
		{"invalid ip", "?ip=not-an-ip", http.StatusBadRequest, 0},
		{"invalid limit", "?ip=10.0.0.1&limit=abc", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotLimit = 0
			w := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/logs"+tt.query, nil))
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			if tt.wantCode != http.StatusOK {
				return
			}
			assert.Equal(t, tt.wantLimit, gotLimit)

			var records []map[string]any
			require.NoError(t, json.Unmarshal(decode(t, w).Data, &records))
			require.Len(t, records, 1)
			assert.Equal(t, gotIP, records[0]["remote_addr"])
		})
	}
}

func TestAnalyse(t *testing.T) {
	var got ports.RecordFilter
	store := newFakeStore()
	store.query = func(_ context.Context, filter ports.RecordFilter) ([]domain.LogRecord, error) {
		got = filter
		parser := input.NewDefaultLineParser()
		var records []domain.LogRecord
		for _, line := range strings.Split(strings.TrimSpace(uploadBody), "\n")[:3] {
			rec, err := parser.Parse(line)
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
		return records, nil
	}
	s := newTestServer(t, Config{}, Dependencies{Store: store})

	body := `{"ip":"192.168.1.1","since":"2025-12-28 09:00:00","until":"2025-12-28T11:00:00Z","limit":50}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyse", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := serve(s, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, "192.168.1.1", got.IP)
	assert.Equal(t, 50, got.Limit)
	assert.Equal(t, time.Date(2025, 12, 28, 9, 0, 0, 0, time.UTC), got.Since)
	assert.Equal(t, time.Date(2025, 12, 28, 11, 0, 0, 0, time.UTC), got.Until)

	var data struct {
		Records int            `json:"records"`
		Report  map[string]any `json:"report"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &data))
	assert.Equal(t, 3, data.Records)
	assert.EqualValues(t, 3, data.Report["total_records"])

	t.Run("empty body uses defaults", func(t *testing.T) {
		w := serve(s, httptest.NewRequest(http.MethodPost, "/api/v1/analyse", nil))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, storage.DefaultQueryLimit, got.Limit)
		assert.Empty(t, got.IP)
	})

	for _, bad := range []string{`{"since":"yesterday"}`, `{"ip":"999.1.1.1"}`, `{not json`} {
		t.Run("rejects "+bad, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/analyse", strings.NewReader(bad))
			req.Header.Set("Content-Type", "application/json")
			assert.Equal(t, http.StatusBadRequest, serve(s, req).Code)
		})
	}
}

func TestStoreNotConfigured(t *testing.T) {
	s := newTestServer(t, Config{}, Dependencies{})

	w := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/logs?ip=10.0.0.1", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = serve(s, httptest.NewRequest(http.MethodPost, "/api/v1/analyse", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRateLimit(t *testing.T) {
	store := newFakeStore()
	store.queryByIP = func(context.Context, string, int) ([]domain.LogRecord, error) { return nil, nil }
	s := newTestServer(t, Config{RateLimit: 0.001, RateBurst: 2}, Dependencies{Store: store})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/logs?ip=10.0.0.1", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	w := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code, "health checks are not rate limited")
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, Config{}, Dependencies{})

	w := serve(s, httptest.NewRequest(http.MethodOptions, "/api/v1/upload", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthzAndMetrics(t *testing.T) {
	pool := startedPool(t)
	metrics := output.NewPrometheusMetrics("", domain.NewAnalysisMetrics(), prometheus.NewRegistry())
	health := output.NewHealthChecker(pool, nil, nil, output.HealthCheckerConfig{MaxLatency: time.Second})
	s := newTestServer(t, Config{}, Dependencies{Pool: pool, Metrics: metrics, Health: health})

	w := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var status output.HealthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "HEALTHY", status.Status)

	pool.Stop()
	w = serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "logsift_analyses_total")
}

func TestSafeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"access.log", "access.log"},
		{"../../etc/passwd", "passwd"},
		{`C:\logs\nginx.log`, "nginx.log"},
		{"my log (1).gz", "my_log__1_.gz"},
		{".hidden", "hidden"},
		{"", "upload.log"},
		{"..", "upload.log"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, safeFilename(tt.in))
		})
	}
}

func TestClientRateLimiter_PerClient(t *testing.T) {
	rl := NewClientRateLimiter(0.001, 1)
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))
}

func TestUpload_QueueUnavailableWritesDeadLetters(t *testing.T) {
	deadPath := filepath.Join(t.TempDir(), "dead.jsonl")
	deadLetter, err := app.NewDeadLetterWriter(deadPath)
	require.NoError(t, err)
	t.Cleanup(func() { deadLetter.Close() })

	stopped := app.NewWorkerPool(app.WorkerPoolConfig{WorkerCount: 1, BufferSize: 1})
	s := newTestServer(t, Config{}, Dependencies{
		Store:      newFakeStore(),
		Pool:       stopped,
		DeadLetter: deadLetter,
	})

	w := serve(s, multipartRequest(t, "file", "access.log", uploadBody))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "file analyzed, indexing skipped", decode(t, w).Message)
	assert.EqualValues(t, 3, deadLetter.Count())

	data, err := os.ReadFile(deadPath)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(data), "\n"))
	assert.Contains(t, string(data), "worker queue unavailable")
}
