package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/xoelrdgz/logsift/internal/adapters/detection"
	"github.com/xoelrdgz/logsift/internal/adapters/input"
	"github.com/xoelrdgz/logsift/internal/adapters/output"
	"github.com/xoelrdgz/logsift/internal/adapters/storage"
	"github.com/xoelrdgz/logsift/internal/analysis"
	"github.com/xoelrdgz/logsift/internal/app"
	"github.com/xoelrdgz/logsift/internal/domain"
	"github.com/xoelrdgz/logsift/internal/ports"
)

var (
	filters    []string
	sinceFlag  string
	untilFlag  string
	topN       int
	topField   string
	outputFmt  string
	outputFile string
	storePath  string
	demoCount  int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [file]",
	Short: "Analyze an access log and print a report",
	Long: `Analyze parses a log file (plain or gzip), runs every detector over
the parsed records and prints the report. With no file, or "-", the log is
read from stdin.

Examples:
  logsift analyze /var/log/nginx/access.log
  logsift analyze access.log.gz --blacklist ./blacklist.txt --geo-db ./data/geo.db
  logsift analyze access.log --filter status=5* --since "2024-01-01 00:00:00"
  logsift analyze access.log --top 20 --top-field path
  logsift analyze access.log --output csv --output-file records.csv
  logsift analyze --demo 5000 --output json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	f := analyzeCmd.Flags()
	f.String("format", "", "grammar: default, combined, error, or a name from parser.grammars")
	f.String("pattern", "", "custom grammar (regular expression with named groups)")
	f.StringArrayVar(&filters, "filter", nil, "field=value filter, * wildcards allowed (repeatable)")
	f.StringVar(&sinceFlag, "since", "", "keep records at or after this log time (2006-01-02 15:04:05)")
	f.StringVar(&untilFlag, "until", "", "keep records at or before this log time (2006-01-02 15:04:05)")
	f.IntVar(&topN, "top", 0, "print the N most frequent values of --top-field instead of the report")
	f.StringVar(&topField, "top-field", domain.FieldRemoteAddr, "field used by --top")
	f.StringVarP(&outputFmt, "output", "o", "console", "output format: console, json, csv")
	f.StringVar(&outputFile, "output-file", "", "write output to this file instead of stdout")
	f.String("blacklist", "", "blacklist file, one address per line")
	f.String("session-key", "", "session grouping: ip or ip_ua")
	f.StringVar(&storePath, "store", "", "also index parsed records into this sqlite database")
	f.IntVar(&demoCount, "demo", 0, "analyze N synthetic lines instead of a file")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	switch outputFmt {
	case "console", "json", "csv":
	default:
		return fmt.Errorf("unknown output format %q: use console, json or csv", outputFmt)
	}
	since, err := parseTimeFlag("since", sinceFlag)
	if err != nil {
		return err
	}
	until, err := parseTimeFlag("until", untilFlag)
	if err != nil {
		return err
	}

	parser, err := newLineParser(cfg.Parser)
	if err != nil {
		return err
	}

	metrics := domain.NewAnalysisMetrics()
	batchParser := input.NewBatchParser(parser)
	batchParser.SetMetrics(metrics)

	source, batch, err := readBatch(ctx, batchParser, args)
	if err != nil {
		return err
	}
	log.Info().
		Str("source", source).
		Str("grammar", parser.Grammar()).
		Int("lines", batch.Lines).
		Int("records", len(batch.Records)).
		Int("failed", batch.Failed).
		Msg("Log parsed")

	records := batch.Records
	for _, expr := range filters {
		field, value, ok := strings.Cut(expr, "=")
		if !ok {
			return fmt.Errorf("invalid --filter %q: expected field=value", expr)
		}
		records = analysis.FilterByField(records, field, value)
	}
	records = analysis.FilterByTimeRange(records, since, until)
	if len(records) != len(batch.Records) {
		log.Info().Int("kept", len(records)).Int("dropped", len(batch.Records)-len(records)).Msg("Filters applied")
	}
	batch = &domain.Batch{Records: records, Lines: batch.Lines, Failed: batch.Failed}

	if storePath != "" {
		if err := indexRecords(ctx, storePath, source, records); err != nil {
			return err
		}
	}

	out, closeOut, err := openOutput(outputFile)
	if err != nil {
		return err
	}
	defer closeOut()

	if topN > 0 {
		return writeTopN(out, analysis.TopN(records, topField, topN))
	}
	if outputFmt == "csv" {
		return output.ExportCSV(out, records)
	}

	deps, cleanup, err := loadCollaborators(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	deps.Metrics = metrics

	engine := app.NewEngine(cfg.Options(), deps)
	report, err := engine.Analyze(ctx, batch)
	if err != nil {
		return err
	}

	var writer ports.ReportWriter
	if outputFmt == "json" {
		jw, err := output.NewJSONReportWriter(output.JSONReportConfig{Writer: out, Pretty: true})
		if err != nil {
			return err
		}
		defer jw.Close()
		writer = jw
	} else {
		writer = output.NewConsoleRenderer(output.ConsoleConfig{Writer: out, TopN: cfg.Report.TopN})
	}
	return writer.WriteReport(report)
}

func newLineParser(pc app.ParserConfig) (*input.LineParser, error) {
	registry := input.NewGrammarRegistry()
	for name, pattern := range pc.Grammars {
		if err := registry.Register(name, pattern); err != nil {
			return nil, fmt.Errorf("grammar %q: %w", name, err)
		}
	}
	return input.NewLineParser(registry, pc.Format, pc.Pattern)
}

func readBatch(ctx context.Context, bp *input.BatchParser, args []string) (string, *domain.Batch, error) {
	switch {
	case demoCount > 0:
		lines := input.NewDemoGenerator(input.DefaultDemoConfig()).Lines(demoCount)
		batch, err := bp.ParseLines(ctx, lines)
		return "demo", batch, err
	case len(args) == 0 || args[0] == "-":
		batch, err := bp.Parse(ctx, os.Stdin)
		return "stdin", batch, err
	default:
		batch, err := bp.ParseFile(ctx, args[0])
		return filepath.Base(args[0]), batch, err
	}
}

// loadCollaborators opens the blacklist and geolocation cache named in the
// config. A configured collaborator that cannot be loaded is an error.
func loadCollaborators(ctx context.Context, c *app.Config) (app.Dependencies, func(), error) {
	var deps app.Dependencies
	cleanup := func() {}

	if c.Blacklist.Path != "" {
		bl := detection.NewBlacklist(detection.DefaultBlacklistConfig())
		n, err := bl.Load(ctx, c.Blacklist.Path)
		if err != nil {
			return deps, cleanup, err
		}
		log.Info().Int("entries", n).Str("path", c.Blacklist.Path).Msg("Blacklist loaded")
		deps.Blacklist = bl
	}

	if c.Geo.DBPath != "" {
		geoCfg := storage.DefaultGeoCacheConfig()
		geoCfg.DBPath = c.Geo.DBPath
		geoCfg.ReadOnly = true
		cache, err := storage.OpenGeoCache(geoCfg)
		if err != nil {
			return deps, cleanup, err
		}
		log.Info().Int("entries", cache.Len()).Str("path", c.Geo.DBPath).Msg("Geolocation cache opened")
		deps.Geo = cache
		cleanup = func() {
			if err := cache.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close geolocation cache")
			}
		}
	}

	return deps, cleanup, nil
}

func indexRecords(ctx context.Context, path, source string, records []domain.LogRecord) error {
	store, err := storage.OpenSQLiteStore(path)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.InsertBatch(ctx, source, records)
	if err != nil {
		return err
	}
	log.Info().Int("records", n).Str("store", path).Msg("Records indexed")
	return nil
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, nil, fmt.Errorf("open output file: %w", err)
	}
	return f, func() {
		if err := f.Close(); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to close output file")
		}
	}, nil
}

func writeTopN(w io.Writer, counts []domain.Count) error {
	switch outputFmt {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if counts == nil {
			counts = []domain.Count{}
		}
		return enc.Encode(counts)
	case "csv":
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{topField, "count"}); err != nil {
			return err
		}
		for _, c := range counts {
			if err := cw.Write([]string{c.Key, strconv.Itoa(c.Count)}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	default:
		return output.NewConsoleRenderer(output.ConsoleConfig{Writer: w}).WriteTopN(topField, counts)
	}
}

func parseTimeFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(domain.ExportLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q: expected %s", name, value, domain.ExportLayout)
	}
	return t, nil
}
