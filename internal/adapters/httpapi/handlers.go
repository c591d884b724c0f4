package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/logsift/internal/adapters/input"
	"github.com/xoelrdgz/logsift/internal/adapters/output"
	"github.com/xoelrdgz/logsift/internal/adapters/storage"
	"github.com/xoelrdgz/logsift/internal/app"
	"github.com/xoelrdgz/logsift/internal/domain"
	"github.com/xoelrdgz/logsift/internal/ports"
)

const (
	maxFilenameLength = 128
	indexJobTimeout   = 10 * time.Minute
	multipartOverhead = 1 << 20
)

type handlers struct {
	engine     *app.Engine
	parser     *input.BatchParser
	store      ports.RecordStore
	archiver   ports.Archiver
	pool       *app.WorkerPool
	metrics    *output.PrometheusMetrics
	health     *output.HealthChecker
	counters   *domain.AnalysisMetrics
	deadLetter *app.DeadLetterWriter
	uploadDir  string
	maxUpload  int64
}

type analyseRequest struct {
	IP    string `json:"ip"`
	Since string `json:"since"`
	Until string `json:"until"`
	Limit int    `json:"limit"`
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "message": msg})
}

// Upload stores the file under a uuid-prefixed name, analyzes it and queues
// background indexing and archival. The stored file is removed once the
// background job finishes, or immediately when nothing is queued.
func (h *handlers) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+multipartOverhead)
	file, err := c.FormFile("file")
	if err != nil {
		h.countUpload(output.UploadRejected)
		fail(c, http.StatusBadRequest, "missing multipart field \"file\"")
		return
	}
	if file.Size > h.maxUpload {
		h.countUpload(output.UploadRejected)
		fail(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", h.maxUpload))
		return
	}

	name := uuid.New().String() + "_" + safeFilename(file.Filename)
	dst := filepath.Join(h.uploadDir, name)
	if err := c.SaveUploadedFile(file, dst); err != nil {
		log.Error().Err(err).Str("file", name).Msg("Failed to store upload")
		h.countUpload(output.UploadFailed)
		fail(c, http.StatusInternalServerError, "failed to store upload")
		return
	}

	queued := false
	defer func() {
		if !queued {
			removeUpload(dst)
		}
	}()

	ctx := c.Request.Context()
	batch, err := h.parser.ParseFile(ctx, dst)
	if err != nil {
		log.Error().Err(err).Str("file", name).Msg("Failed to parse upload")
		h.countUpload(output.UploadFailed)
		fail(c, http.StatusInternalServerError, "failed to parse upload")
		return
	}

	report, err := h.engine.Analyze(ctx, batch)
	if err != nil {
		log.Error().Err(err).Str("file", name).Msg("Failed to analyze upload")
		h.countUpload(output.UploadFailed)
		fail(c, http.StatusInternalServerError, "failed to analyze upload")
		return
	}

	message := "file analyzed"
	if h.store != nil || h.archiver != nil {
		queued = h.queueIndexing(name, dst, batch.Records)
		if queued {
			message = "file analyzed, indexing queued"
		} else {
			message = "file analyzed, indexing skipped"
			h.deadLetterRecords(name, "worker queue unavailable", batch.Records)
		}
	}

	h.countUpload(output.UploadAccepted)
	log.Info().
		Str("file", name).
		Int("records", len(batch.Records)).
		Int("failed", batch.Failed).
		Bool("queued", queued).
		Msg("Upload analyzed")

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": message,
		"data": gin.H{
			"filename":      name,
			"lines_indexed": len(batch.Records),
			"failed_lines":  batch.Failed,
			"report":        report,
		},
	})
}

func (h *handlers) queueIndexing(name, path string, records []domain.LogRecord) bool {
	if h.pool == nil {
		return false
	}
	return h.pool.Submit(app.Job{
		Name: "index:" + name,
		Run: func(ctx context.Context) error {
			defer removeUpload(path)
			ctx, cancel := context.WithTimeout(ctx, indexJobTimeout)
			defer cancel()

			var errs []error
			if h.store != nil {
				if _, err := h.store.InsertBatch(ctx, name, records); err != nil {
					h.deadLetterRecords(name, err.Error(), records)
					errs = append(errs, fmt.Errorf("index %s: %w", name, err))
				}
			}
			if h.archiver != nil {
				if err := h.archive(ctx, name, path); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
	})
}

// deadLetterRecords keeps records the store never received.
func (h *handlers) deadLetterRecords(name, reason string, records []domain.LogRecord) {
	if h.store == nil {
		return
	}
	if err := h.deadLetter.WriteRecords(name, reason, records); err != nil {
		log.Error().Err(err).Str("file", name).Msg("Failed to write dead letters")
	}
}

func (h *handlers) archive(ctx context.Context, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s for archive: %w", name, err)
	}
	defer f.Close()

	if _, err := h.archiver.Archive(ctx, name, f); err != nil {
		if errors.Is(err, storage.ErrArchiveDisabled) {
			return nil
		}
		return err
	}
	return nil
}

// Analyse runs the engine over stored records. An empty body analyzes the
// most recent records up to the default limit.
func (h *handlers) Analyse(c *gin.Context) {
	if h.store == nil {
		fail(c, http.StatusServiceUnavailable, "record store not configured")
		return
	}

	var req analyseRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	filter := ports.RecordFilter{IP: req.IP, Limit: clampLimit(req.Limit)}
	if req.IP != "" && !validIP(req.IP) {
		fail(c, http.StatusBadRequest, "invalid ip")
		return
	}
	var err error
	if filter.Since, err = parseBound(req.Since); err != nil {
		fail(c, http.StatusBadRequest, "invalid since: "+err.Error())
		return
	}
	if filter.Until, err = parseBound(req.Until); err != nil {
		fail(c, http.StatusBadRequest, "invalid until: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	records, err := h.store.Query(ctx, filter)
	if err != nil {
		log.Error().Err(err).Msg("Record query failed")
		fail(c, http.StatusInternalServerError, "query failed")
		return
	}

	report, err := h.engine.Analyze(ctx, &domain.Batch{Records: records, Lines: len(records)})
	if err != nil {
		log.Error().Err(err).Msg("Analysis of stored records failed")
		fail(c, http.StatusInternalServerError, "analysis failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "stored records analyzed",
		"data": gin.H{
			"records": len(records),
			"report":  report,
		},
	})
}

func (h *handlers) Logs(c *gin.Context) {
	if h.store == nil {
		fail(c, http.StatusServiceUnavailable, "record store not configured")
		return
	}

	ip := c.Query("ip")
	if !validIP(ip) {
		fail(c, http.StatusBadRequest, "invalid ip")
		return
	}

	limit := storage.DefaultQueryLimit
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			fail(c, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = clampLimit(v)
	}

	records, err := h.store.QueryByIP(c.Request.Context(), ip, limit)
	if err != nil {
		log.Error().Err(err).Str("ip", ip).Msg("Record query failed")
		fail(c, http.StatusInternalServerError, "query failed")
		return
	}
	if records == nil {
		records = []domain.LogRecord{}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    records,
	})
}

func (h *handlers) Healthz(c *gin.Context) {
	if h.health == nil {
		c.JSON(http.StatusOK, gin.H{"healthy": true, "status": "HEALTHY"})
		return
	}
	status := h.health.Check(c.Request.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *handlers) countUpload(outcome string) {
	if h.metrics != nil {
		h.metrics.IncrementUploads(outcome)
	}
	if h.counters != nil && outcome == output.UploadAccepted {
		h.counters.IncrementUploads()
	}
}

func removeUpload(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("path", path).Msg("Failed to remove upload")
	}
}

func validIP(s string) bool {
	_, err := netip.ParseAddr(s)
	return err == nil
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return storage.DefaultQueryLimit
	case n > storage.MaxQueryLimit:
		return storage.MaxQueryLimit
	default:
		return n
	}
}

// parseBound accepts the export layout or RFC 3339. Bounds without a zone are
// UTC.
func parseBound(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation(domain.ExportLayout, s, time.UTC); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// safeFilename keeps the base name and replaces anything outside
// [A-Za-z0-9._-].
func safeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if out == "" {
		out = "upload.log"
	}
	if len(out) > maxFilenameLength {
		out = out[len(out)-maxFilenameLength:]
	}
	return out
}
