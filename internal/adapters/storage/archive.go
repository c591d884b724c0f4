package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/logsift/internal/ports"
)

var ErrArchiveDisabled = errors.New("archive disabled")

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 2 * time.Second
)

// ObjectPutter is the subset of the S3 client used by the archiver.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type ArchiveConfig struct {
	Bucket     string
	Prefix     string
	Region     string
	Retries    int
	PutTimeout time.Duration
}

// S3Archiver gzips raw uploads and stores them under
// prefix/<yyyy-mm-dd>/<name>.gz.
type S3Archiver struct {
	cfg    ArchiveConfig
	client ObjectPutter
	now    func() time.Time
}

var _ ports.Archiver = (*S3Archiver)(nil)

// NewS3Archiver loads the default AWS credential chain. SDK retries are
// disabled; Archive retries on its own schedule.
func NewS3Archiver(ctx context.Context, cfg ArchiveConfig) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: no bucket configured", ErrArchiveDisabled)
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.RetryMaxAttempts = 0
	})
	return NewS3ArchiverWithClient(cfg, client), nil
}

func NewS3ArchiverWithClient(cfg ArchiveConfig, client ObjectPutter) *S3Archiver {
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.PutTimeout <= 0 {
		cfg.PutTimeout = 10 * time.Second
	}
	return &S3Archiver{cfg: cfg, client: client, now: time.Now}
}

// Key returns the object key for name archived at t.
func (a *S3Archiver) Key(name string, t time.Time) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	return path.Join(strings.Trim(a.cfg.Prefix, "/"), t.UTC().Format("2006-01-02"), base+".gz")
}

// Archive compresses body and uploads it, retrying with exponential backoff
// until Retries attempts are spent or ctx is done.
//
// Returns:
//   - s3://bucket/key of the stored object
func (a *S3Archiver) Archive(ctx context.Context, name string, body io.Reader) (string, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := io.Copy(zw, body); err != nil {
		return "", fmt.Errorf("compress %s: %w", name, err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compress %s: %w", name, err)
	}

	key := a.Key(name, a.now())
	payload := buf.Bytes()

	var lastErr error
	backoff := initialBackoff
	for attempt := 1; attempt <= a.cfg.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		lastErr = a.put(ctx, key, payload)
		if lastErr == nil {
			uri := "s3://" + a.cfg.Bucket + "/" + key
			log.Info().Str("uri", uri).Int("bytes", len(payload)).Int("attempt", attempt).Msg("Archived upload")
			return uri, nil
		}
		log.Warn().Err(lastErr).Str("key", key).Int("attempt", attempt).Msg("Archive upload failed")

		if attempt == a.cfg.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
	return "", fmt.Errorf("archive %s after %d attempts: %w", key, a.cfg.Retries, lastErr)
}

func (a *S3Archiver) put(ctx context.Context, key string, payload []byte) error {
	putCtx, cancel := context.WithTimeout(ctx, a.cfg.PutTimeout)
	defer cancel()

	_, err := a.client.PutObject(putCtx, &s3.PutObjectInput{
		Bucket:          aws.String(a.cfg.Bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(payload),
		ContentLength:   aws.Int64(int64(len(payload))),
		ContentType:     aws.String("text/plain"),
		ContentEncoding: aws.String("gzip"),
	})
	return err
}
