package app

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/logsift/internal/domain"
)

const deadLetterFlushEvery = 100

// DeadLetterWriter appends records that could not be indexed to a JSON-lines
// file, one record per line. A writer created with an empty path is disabled
// and discards everything.
type DeadLetterWriter struct {
	file    *os.File
	writer  *bufio.Writer
	mu      sync.Mutex
	count   atomic.Int64
	enabled bool
	path    string
}

type DeadLetterEntry struct {
	Timestamp time.Time        `json:"timestamp"`
	Source    string           `json:"source"`
	Reason    string           `json:"reason"`
	Record    domain.LogRecord `json:"record"`
}

func NewDeadLetterWriter(path string) (*DeadLetterWriter, error) {
	if path == "" {
		return &DeadLetterWriter{enabled: false}, nil
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open dead-letter file: %w", err)
	}

	log.Info().Str("path", path).Msg("Dead-letter writer initialized")

	return &DeadLetterWriter{
		file:    file,
		writer:  bufio.NewWriterSize(file, 64*1024),
		enabled: true,
		path:    path,
	}, nil
}

// WriteRecords appends every record with the same source and reason, then
// flushes.
func (w *DeadLetterWriter) WriteRecords(source, reason string, records []domain.LogRecord) error {
	if w == nil || !w.enabled || len(records) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now().UTC()
	for i := range records {
		line, err := json.Marshal(DeadLetterEntry{
			Timestamp: now,
			Source:    source,
			Reason:    reason,
			Record:    records[i],
		})
		if err != nil {
			return fmt.Errorf("encode dead letter: %w", err)
		}
		if _, err := w.writer.Write(line); err != nil {
			return err
		}
		if err := w.writer.WriteByte('\n'); err != nil {
			return err
		}
		if w.count.Add(1)%deadLetterFlushEvery == 0 {
			if err := w.writer.Flush(); err != nil {
				return err
			}
		}
	}

	log.Warn().
		Str("source", source).
		Str("reason", reason).
		Int("records", len(records)).
		Int64("dead_letter_count", w.count.Load()).
		Msg("Records written to dead-letter file")

	return w.flushLocked()
}

func (w *DeadLetterWriter) flushLocked() error {
	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

func (w *DeadLetterWriter) Close() error {
	if w == nil || !w.enabled {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return err
	}

	if count := w.count.Load(); count > 0 {
		log.Warn().
			Int64("dead_letter_count", count).
			Str("path", w.path).
			Msg("Dead-letter file contains records that were never indexed")
	}

	return w.file.Close()
}

func (w *DeadLetterWriter) Count() int64 {
	if w == nil {
		return 0
	}
	return w.count.Load()
}

func (w *DeadLetterWriter) Enabled() bool {
	return w != nil && w.enabled
}
