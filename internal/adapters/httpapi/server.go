// Package httpapi exposes the analysis engine over HTTP.
//
// Routes:
//   - POST /api/v1/upload: analyze an uploaded log file, index it in the background
//   - POST /api/v1/analyse: analyze records already in the store
//   - GET  /api/v1/logs: stored records for one address
//   - GET  /healthz: worker pool and store health
//   - GET  /metrics: Prometheus
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/logsift/internal/adapters/input"
	"github.com/xoelrdgz/logsift/internal/adapters/output"
	"github.com/xoelrdgz/logsift/internal/app"
	"github.com/xoelrdgz/logsift/internal/domain"
	"github.com/xoelrdgz/logsift/internal/ports"
)

const (
	DefaultAddr        = ":8080"
	DefaultUploadDir   = "./uploads"
	DefaultMaxUploadMB = 100
	DefaultRateLimit   = 5.0
	DefaultRateBurst   = 10
)

type Config struct {
	Addr        string
	UploadDir   string
	MaxUploadMB int
	RateLimit   float64 // requests per second per client, 0 disables limiting
	RateBurst   int
}

// Dependencies are the collaborators the handlers use. Engine and Parser are
// required; everything else is optional and the matching feature is switched
// off when it is nil.
type Dependencies struct {
	Engine     *app.Engine
	Parser     *input.BatchParser
	Store      ports.RecordStore
	Archiver   ports.Archiver
	Pool       *app.WorkerPool
	Metrics    *output.PrometheusMetrics
	Health     *output.HealthChecker
	Counters   *domain.AnalysisMetrics
	DeadLetter *app.DeadLetterWriter
}

type Server struct {
	cfg        Config
	deps       Dependencies
	router     *gin.Engine
	limiter    *ClientRateLimiter
	httpServer *http.Server
}

func NewServer(cfg Config, deps Dependencies) (*Server, error) {
	if deps.Engine == nil || deps.Parser == nil {
		return nil, errors.New("httpapi: engine and parser are required")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = DefaultUploadDir
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = DefaultMaxUploadMB
	}
	if err := os.MkdirAll(cfg.UploadDir, 0750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	s := &Server{cfg: cfg, deps: deps}
	if cfg.RateLimit > 0 {
		s.limiter = NewClientRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.MaxMultipartMemory = 8 << 20
	router.Use(gin.Recovery(), requestLogger(), cors())

	h := &handlers{
		engine:     s.deps.Engine,
		parser:     s.deps.Parser,
		store:      s.deps.Store,
		archiver:   s.deps.Archiver,
		pool:       s.deps.Pool,
		metrics:    s.deps.Metrics,
		health:     s.deps.Health,
		counters:   s.deps.Counters,
		deadLetter: s.deps.DeadLetter,
		uploadDir:  s.cfg.UploadDir,
		maxUpload:  int64(s.cfg.MaxUploadMB) << 20,
	}

	v1 := router.Group("/api/v1")
	if s.limiter != nil {
		v1.Use(s.limiter.Middleware())
	}
	{
		v1.POST("/upload", h.Upload)
		v1.POST("/analyse", h.Analyse)
		v1.GET("/logs", h.Logs)
	}

	router.GET("/healthz", h.Healthz)
	if s.deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}
	return router
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.cfg.Addr).Str("upload_dir", s.cfg.UploadDir).Msg("Starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
