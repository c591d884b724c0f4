package input

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/logsift/internal/domain"
	"github.com/xoelrdgz/logsift/internal/ports"
)

const cancelCheckInterval = 1024

// BatchParser drives a LineParser over a whole input. Lines that do not match
// are counted and skipped; they never abort the batch.
type BatchParser struct {
	parser   ports.LineParser
	observer ports.ProcessingObserver
	metrics  *domain.AnalysisMetrics
}

func NewBatchParser(parser ports.LineParser) *BatchParser {
	return &BatchParser{parser: parser}
}

func (b *BatchParser) SetObserver(o ports.ProcessingObserver) {
	b.observer = o
}

func (b *BatchParser) SetMetrics(m *domain.AnalysisMetrics) {
	b.metrics = m
}

func (b *BatchParser) Parse(ctx context.Context, r io.Reader) (*domain.Batch, error) {
	batch := &domain.Batch{}
	br := bufio.NewReaderSize(r, 64*1024)

	for {
		if batch.Lines%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return batch, err
			}
		}

		line, err := br.ReadString('\n')
		if len(line) > 0 {
			b.consume(batch, line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return batch, fmt.Errorf("read log input: %w", err)
		}
	}

	b.finish(batch)
	return batch, nil
}

func (b *BatchParser) ParseLines(ctx context.Context, lines []string) (*domain.Batch, error) {
	batch := &domain.Batch{Records: make([]domain.LogRecord, 0, len(lines))}
	for i, line := range lines {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return batch, err
			}
		}
		b.consume(batch, line)
	}
	b.finish(batch)
	return batch, nil
}

func (b *BatchParser) ParseFile(ctx context.Context, path string) (*domain.Batch, error) {
	rc, err := OpenLogFile(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	batch, err := b.Parse(ctx, rc)
	if err != nil {
		return batch, fmt.Errorf("parse %s: %w", path, err)
	}
	return batch, nil
}

func (b *BatchParser) consume(batch *domain.Batch, line string) {
	batch.Lines++
	line = strings.TrimRight(line, "\r\n")

	if len(line) > domain.MaxLineLength {
		b.fail(batch)
		return
	}

	rec, err := b.parser.Parse(line)
	if err != nil {
		b.fail(batch)
		return
	}

	batch.Records = append(batch.Records, rec)
	if b.observer != nil {
		b.observer.IncrementLinesProcessedByResult(ports.ResultParsed)
	}
}

func (b *BatchParser) fail(batch *domain.Batch) {
	batch.Failed++
	if b.observer != nil {
		b.observer.IncrementLinesProcessedByResult(ports.ResultFailed)
	}
	if batch.Failed <= 5 {
		log.Debug().Int("line", batch.Lines).Str("grammar", b.parser.Grammar()).Msg("Line does not match grammar, skipping")
	}
}

func (b *BatchParser) finish(batch *domain.Batch) {
	if b.metrics != nil {
		b.metrics.AddParsed(len(batch.Records))
		b.metrics.AddFailed(batch.Failed)
	}
	log.Debug().
		Str("grammar", b.parser.Grammar()).
		Int("lines", batch.Lines).
		Int("records", len(batch.Records)).
		Int("failed", batch.Failed).
		Msg("Batch parsed")
}

type gzipFile struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipFile) Close() error {
	gzErr := g.Reader.Close()
	if err := g.file.Close(); err != nil {
		return err
	}
	return gzErr
}

type plainFile struct {
	*bufio.Reader
	file *os.File
}

func (p *plainFile) Close() error {
	return p.file.Close()
}

// OpenLogFile opens a plain or gzip-compressed log file. Compression is
// detected from the magic bytes, not the extension.
func OpenLogFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	br := bufio.NewReader(f)
	magic, err := br.Peek(2)
	if err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open gzip log file: %w", err)
		}
		return &gzipFile{Reader: zr, file: f}, nil
	}

	return &plainFile{Reader: br, file: f}, nil
}
