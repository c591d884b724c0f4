package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xoelrdgz/logsift/internal/adapters/detection"
	"github.com/xoelrdgz/logsift/internal/adapters/httpapi"
	"github.com/xoelrdgz/logsift/internal/adapters/input"
	"github.com/xoelrdgz/logsift/internal/adapters/output"
	"github.com/xoelrdgz/logsift/internal/adapters/storage"
	"github.com/xoelrdgz/logsift/internal/app"
	"github.com/xoelrdgz/logsift/internal/domain"
	"github.com/xoelrdgz/logsift/internal/ports"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP upload and analysis service",
	Long: `Serve accepts access-log uploads over HTTP, analyzes them and indexes
the parsed records into the sqlite store in the background. Raw uploads are
archived to S3 when archive.enabled is set.

The config file and the blacklist file are watched; detection settings and
blacklist entries are reloaded without a restart.

Examples:
  logsift serve
  logsift serve --addr :8080 --config ./configs/config.yaml`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("addr", "", "listen address")
	f.String("store", "", "sqlite record store path")
	f.Int("workers", 0, "background worker count")
	f.String("blacklist", "", "blacklist file, one address per line")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	log.Info().
		Str("addr", cfg.Server.Addr).
		Str("store", cfg.Store.Path).
		Int("workers", cfg.Workers.Count).
		Msg("logsift serve starting")

	parser, err := newLineParser(cfg.Parser)
	if err != nil {
		return err
	}

	counters := domain.NewAnalysisMetrics()
	batchParser := input.NewBatchParser(parser)
	batchParser.SetMetrics(counters)

	var prom *output.PrometheusMetrics
	if cfg.Metrics.Enabled {
		prom = output.NewPrometheusMetrics(output.DefaultNamespace, counters, nil)
		batchParser.SetObserver(prom)
		if cfg.Metrics.Addr != "" && cfg.Metrics.Addr != cfg.Server.Addr {
			if err := prom.StartServer(output.MetricsConfig{Addr: cfg.Metrics.Addr, Path: "/metrics"}); err != nil {
				log.Warn().Err(err).Msg("Failed to start metrics server")
			}
			defer prom.StopServer()
		}
	}

	deps := app.Dependencies{Metrics: counters}
	if prom != nil {
		deps.Observer = prom
	}

	if cfg.Blacklist.Path != "" {
		bl, err := watchedBlacklist(ctx, cfg.Blacklist.Path)
		if err != nil {
			return err
		}
		deps.Blacklist = bl
	}

	if cfg.Geo.DBPath != "" {
		geoCfg := storage.DefaultGeoCacheConfig()
		geoCfg.DBPath = cfg.Geo.DBPath
		geoCfg.ReadOnly = true
		cache, err := storage.OpenGeoCache(geoCfg)
		if err != nil {
			return err
		}
		defer cache.Close()
		deps.Geo = cache
	}

	store, err := storage.OpenSQLiteStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	var archiver ports.Archiver
	if cfg.Archive.Enabled {
		s3a, err := storage.NewS3Archiver(ctx, storage.ArchiveConfig{
			Bucket:  cfg.Archive.Bucket,
			Prefix:  cfg.Archive.Prefix,
			Region:  cfg.Archive.Region,
			Retries: cfg.Archive.Retries,
		})
		if err != nil {
			return fmt.Errorf("configure archive: %w", err)
		}
		archiver = s3a
		log.Info().Str("bucket", cfg.Archive.Bucket).Str("prefix", cfg.Archive.Prefix).Msg("Raw-log archival enabled")
	}

	deadLetter, err := app.NewDeadLetterWriter(cfg.Workers.DeadLetterPath)
	if err != nil {
		return err
	}
	defer deadLetter.Close()

	pool := app.NewWorkerPool(app.WorkerPoolConfig{
		WorkerCount: cfg.Workers.Count,
		BufferSize:  cfg.Workers.BufferSize,
	})
	pool.Start(ctx)
	defer pool.Stop()
	if prom != nil {
		prom.SetQueueSource(pool.QueueLength)
	}

	engine := app.NewEngine(cfg.Options(), deps)

	health := output.NewHealthChecker(pool, store, counters, output.DefaultHealthCheckerConfig())

	server, err := httpapi.NewServer(httpapi.Config{
		Addr:        cfg.Server.Addr,
		UploadDir:   cfg.Server.UploadDir,
		MaxUploadMB: cfg.Server.MaxUploadMB,
		RateLimit:   cfg.Server.RateLimit,
		RateBurst:   cfg.Server.RateBurst,
	}, httpapi.Dependencies{
		Engine:     engine,
		Parser:     batchParser,
		Store:      store,
		Archiver:   archiver,
		Pool:       pool,
		Metrics:    prom,
		Health:     health,
		Counters:   counters,
		DeadLetter: deadLetter,
	})
	if err != nil {
		return err
	}

	// The reloader only swaps engine options; cfg stays the startup snapshot.
	if viper.ConfigFileUsed() != "" {
		app.NewHotReloader(viper.GetViper(), engine, cfg, nil).Start()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}

	stats := pool.Stats()
	snap := counters.GetSnapshot()
	log.Info().
		Int64("analyses", snap.Analyses).
		Int64("uploads", snap.Uploads).
		Int64("jobs_completed", stats.Completed).
		Int64("jobs_failed", stats.Failed).
		Msg("Shutdown complete")
	return nil
}

// watchedBlacklist loads path and reloads it whenever the file changes. A
// reload that fails keeps the previous entries.
func watchedBlacklist(ctx context.Context, path string) (*detection.Blacklist, error) {
	bl := detection.NewBlacklist(detection.DefaultBlacklistConfig())
	n, err := bl.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	log.Info().Int("entries", n).Str("path", path).Msg("Blacklist loaded")

	go func() {
		err := app.WatchFile(ctx, path, app.DefaultDebounceDelay, func() {
			n, err := bl.Load(ctx, path)
			if err != nil {
				log.Error().Err(err).Str("path", path).Msg("Blacklist reload failed, keeping previous entries")
				return
			}
			log.Info().Int("entries", n).Str("path", path).Msg("Blacklist reloaded")
		})
		if err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("path", path).Msg("Blacklist watcher stopped")
		}
	}()
	return bl, nil
}
