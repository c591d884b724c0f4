// Package output provides report, export and telemetry adapters.
//
// This package implements:
//   - JSONReportWriter: buffered JSON report output to a file or stdout
//   - ConsoleRenderer: styled terminal report
//   - ExportCSV / ExportJSON: record export
//   - PrometheusMetrics: counters and histograms for the pipeline
//   - HealthChecker: worker pool and store health
//
// Thread Safety: Writers are safe for concurrent WriteReport() calls.
package output

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/goccy/go-json"

	"github.com/xoelrdgz/logsift/internal/domain"
)

// JSONReportWriter writes reports as JSON documents.
//
// Features:
//   - Buffered writes, flushed after every report
//   - Optional pretty-printing
//   - File sync on flush for durability
type JSONReportWriter struct {
	bufWriter *bufio.Writer
	file      *os.File
	encoder   *json.Encoder
	mu        sync.Mutex
}

type JSONReportConfig struct {
	FilePath string // Output file path (empty for Writer or stdout)
	Writer   io.Writer
	Pretty   bool
}

// NewJSONReportWriter creates a JSON report output.
//
// Output Priority:
//  1. config.Writer if set
//  2. File if config.FilePath is set (truncated, mode 0600)
//  3. Stdout otherwise
func NewJSONReportWriter(config JSONReportConfig) (*JSONReportWriter, error) {
	var (
		writer io.Writer
		file   *os.File
	)

	switch {
	case config.Writer != nil:
		writer = config.Writer
	case config.FilePath != "":
		var err error
		file, err = os.OpenFile(config.FilePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return nil, fmt.Errorf("open report file: %w", err)
		}
		writer = file
	default:
		writer = os.Stdout
	}

	const bufferSize = 64 * 1024
	bufWriter := bufio.NewWriterSize(writer, bufferSize)

	w := &JSONReportWriter{
		bufWriter: bufWriter,
		file:      file,
		encoder:   json.NewEncoder(bufWriter),
	}
	if config.Pretty {
		w.encoder.SetIndent("", "  ")
	}
	return w, nil
}

// WriteReport encodes one report and flushes it.
func (w *JSONReportWriter) WriteReport(report *domain.Report) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.encoder.Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return w.flushLocked()
}

func (w *JSONReportWriter) flushLocked() error {
	if err := w.bufWriter.Flush(); err != nil {
		return err
	}
	if w.file != nil {
		return w.file.Sync()
	}
	return nil
}

// Close flushes remaining output and closes the file, if any.
func (w *JSONReportWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.flushLocked(); err != nil {
		return err
	}
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}
