package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/xoelrdgz/logsift/internal/adapters/detection"
	"github.com/xoelrdgz/logsift/internal/analysis"
	"github.com/xoelrdgz/logsift/internal/domain"
	"github.com/xoelrdgz/logsift/internal/ports"
)

// Options tunes every detector the engine runs. Zero values fall back to the
// detector defaults.
type Options struct {
	OutlierK            float64
	BurstWindow         time.Duration
	BurstThreshold      int
	SessionTimeout      time.Duration
	SessionKey          detection.SessionKey
	ErrorPathMinTotal   int
	BotLikeMinRequests  int
	BotLikeMaxDiversity int
	TopN                int
	Thresholds          analysis.Thresholds
}

const (
	DefaultBotLikeMinRequests  = 100
	DefaultBotLikeMaxDiversity = 2
	DefaultTopN                = 10
)

func DefaultOptions() Options {
	return Options{
		OutlierK:            detection.DefaultOutlierK,
		BurstWindow:         detection.DefaultBurstWindow,
		BurstThreshold:      detection.DefaultBurstThreshold,
		SessionTimeout:      detection.DefaultSessionTimeout,
		SessionKey:          detection.SessionKeyIP,
		ErrorPathMinTotal:   analysis.DefaultErrorPathMinTotal,
		BotLikeMinRequests:  DefaultBotLikeMinRequests,
		BotLikeMaxDiversity: DefaultBotLikeMaxDiversity,
		TopN:                DefaultTopN,
		Thresholds:          analysis.DefaultThresholds(),
	}
}

// withDefaults fills zero fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.OutlierK <= 0 {
		o.OutlierK = d.OutlierK
	}
	if o.BurstWindow <= 0 {
		o.BurstWindow = d.BurstWindow
	}
	if o.BurstThreshold <= 0 {
		o.BurstThreshold = d.BurstThreshold
	}
	if o.SessionTimeout <= 0 {
		o.SessionTimeout = d.SessionTimeout
	}
	if o.SessionKey == "" {
		o.SessionKey = d.SessionKey
	}
	if o.ErrorPathMinTotal <= 0 {
		o.ErrorPathMinTotal = d.ErrorPathMinTotal
	}
	if o.BotLikeMinRequests <= 0 {
		o.BotLikeMinRequests = d.BotLikeMinRequests
	}
	if o.BotLikeMaxDiversity <= 0 {
		o.BotLikeMaxDiversity = d.BotLikeMaxDiversity
	}
	if o.TopN <= 0 {
		o.TopN = d.TopN
	}
	if o.Thresholds == (analysis.Thresholds{}) {
		o.Thresholds = d.Thresholds
	}
	return o
}

// Dependencies are the read-only collaborators injected by the host. Every
// field is optional.
type Dependencies struct {
	Blacklist ports.AddressSet
	Geo       ports.GeoLookup
	Metrics   *domain.AnalysisMetrics
	Observer  ports.ProcessingObserver
}

// Engine runs the detectors over one batch and assembles the report.
//
// The engine keeps no per-batch state: every derived structure is built fresh
// inside Analyze, so one Engine may serve concurrent callers. Options can be
// swapped at any time with SetOptions; an analysis in flight keeps the
// snapshot it started with.
type Engine struct {
	opts atomic.Pointer[Options]
	deps Dependencies

	agents    *detection.Classifier
	sensitive *detection.Classifier
	injection *detection.Classifier
}

func NewEngine(opts Options, deps Dependencies) *Engine {
	if deps.Blacklist == nil {
		deps.Blacklist = detection.EmptyBlacklist()
	}
	e := &Engine{
		deps:      deps,
		agents:    detection.SuspiciousAgentClassifier(),
		sensitive: detection.SensitivePathClassifier(),
		injection: detection.InjectionClassifier(),
	}
	e.SetOptions(opts)
	return e
}

// SetOptions replaces the options used by subsequent analyses.
func (e *Engine) SetOptions(opts Options) {
	o := opts.withDefaults()
	e.opts.Store(&o)
}

func (e *Engine) Options() Options {
	return *e.opts.Load()
}

// Analyze runs every detector concurrently over the batch. Each goroutine
// writes a distinct report field, and records are never mutated.
//
// Returns:
//   - The finished report
//   - ctx.Err() when the context is cancelled before the report is complete
func (e *Engine) Analyze(ctx context.Context, batch *domain.Batch) (*domain.Report, error) {
	if batch == nil {
		batch = &domain.Batch{}
	}
	start := time.Now()
	opts := e.Options()
	records := batch.Records

	report := &domain.Report{
		GeneratedAt:  start.UTC(),
		TotalRecords: len(records),
		FailedLines:  batch.Failed,
	}

	g, gctx := errgroup.WithContext(ctx)
	run := func(fn func()) {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fn()
			return nil
		})
	}

	run(func() {
		report.IPCounts = detection.CountByIP(records)
		report.UserAgentCounts = detection.CountByUserAgent(records)
		report.UserAgentDiversity = detection.UserAgentDiversity(records)
	})
	run(func() {
		report.HighFrequencyIPs = detection.NewOutlierDetector(opts.OutlierK).Detect(records)
	})
	run(func() {
		report.BotLikeIPs = detection.BotLikeIPs(records, opts.BotLikeMinRequests, opts.BotLikeMaxDiversity)
	})
	run(func() {
		report.BlacklistedIPs = detection.BlacklistedAddrs(records, e.deps.Blacklist)
	})
	run(func() {
		report.SuspiciousAgents = e.agents.Classify(records)
	})
	run(func() {
		report.SensitiveEndpoints = e.sensitive.Classify(records)
	})
	run(func() {
		report.InjectionAttempts = e.injection.Classify(records)
	})
	run(func() {
		report.Bursts = detection.NewBurstDetector(opts.BurstWindow, opts.BurstThreshold).Detect(records)
	})
	run(func() {
		sessions, tally := detection.NewSessionReconstructor(opts.SessionTimeout, opts.SessionKey).Reconstruct(records)
		report.Sessions = sessions
		report.Transitions = tally.Sorted()
		report.EndpointRank = detection.EndpointRank(tally, opts.TopN)
	})
	run(func() {
		report.StatusBuckets = analysis.StatusBuckets(records)
		report.StatusCodes = analysis.StatusCodeCounts(records)
		report.Methods = analysis.MethodCounts(records)
		report.Paths = analysis.PathCounts(records)
		report.Bytes = analysis.BytesSent(records)
		report.ErrorPaths = analysis.ErrorPaths(records, opts.ErrorPathMinTotal)
	})
	run(func() {
		report.RequestsPerMinute = analysis.RequestsPerMinute(records)
		report.SeriesTruncated = analysis.SeriesTruncated(records)
		report.BotVsHuman = analysis.BotVsHumanPerMinute(records, e.isBot)
		report.RequestsPerHour = analysis.RequestsPerHour(records)
		report.RequestsPerDay = analysis.RequestsPerDay(records)
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report.MapMarkers, report.GeoMisses = analysis.MapMarkers(report.IPCounts, e.deps.Geo)

	report.Insights = analysis.NewSynthesizer(opts.Thresholds).Synthesize(analysis.Input{
		Blacklisted:        report.BlacklistedIPs,
		HighFrequency:      report.HighFrequencyIPs,
		Paths:              report.Paths,
		SuspiciousAgents:   report.SuspiciousAgents,
		SuspiciousLabels:   e.agents.Labels(),
		SensitiveEndpoints: report.SensitiveEndpoints,
		SensitiveLabels:    e.sensitive.Labels(),
		Bursts:             report.Bursts,
		UserAgents:         report.UserAgentCounts,
		StatusBuckets:      report.StatusBuckets,
		Methods:            report.Methods,
		PerMinute:          report.RequestsPerMinute,
		ErrorPaths:         report.ErrorPaths,
	})
	report.Summary = domain.Summarize(report.Insights)

	elapsed := time.Since(start)
	e.record(report, elapsed)

	log.Debug().
		Int("records", report.TotalRecords).
		Int("failed", report.FailedLines).
		Int("insights", len(report.Insights)).
		Dur("duration", elapsed).
		Msg("Analysis complete")

	return report, nil
}

func (e *Engine) isBot(r *domain.LogRecord) bool {
	return e.agents.Matches(r)
}

func (e *Engine) record(report *domain.Report, elapsed time.Duration) {
	if e.deps.Metrics != nil {
		e.deps.Metrics.IncrementAnalyses()
		e.deps.Metrics.AddInsights(len(report.Insights))
	}
	if e.deps.Observer != nil {
		byCategory := make(map[string]int, len(report.Insights))
		for _, in := range report.Insights {
			byCategory[string(in.Category)]++
		}
		e.deps.Observer.ObserveAnalysis(elapsed, byCategory)
	}
}
