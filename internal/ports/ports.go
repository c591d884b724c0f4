// Package ports defines the interfaces between the analysis core and the
// infrastructure that feeds it or consumes its output.
//
// The core depends only on these contracts. Concrete implementations live in
// internal/adapters/.
package ports

import (
	"context"
	"io"
	"time"

	"github.com/xoelrdgz/logsift/internal/domain"
)

// LineParser turns one raw log line into a record.
//
// Implementations:
//   - input.LineParser: grammar (regular expression) based parser
//
// Thread Safety: Implementations MUST be safe for concurrent Parse() calls.
type LineParser interface {
	// Parse converts a raw line into a record.
	//
	// Returns:
	//   - Populated LogRecord on success
	//   - input.ErrNoMatch when the line does not match the active grammar
	Parse(line string) (domain.LogRecord, error)

	// Grammar returns the name of the active grammar ("custom" for ad-hoc patterns).
	Grammar() string
}

// AddressSet is a read-only set of IP address strings.
//
// Implementations:
//   - detection.Blacklist: Bloom filter pre-check plus exact map
//
// Contract:
//   - Contains MUST be O(1)
//   - The set MUST NOT change while an analysis is running
type AddressSet interface {
	Contains(ip string) bool
	Len() int
}

// GeoLookup resolves an IP address against a geolocation cache.
//
// Implementations:
//   - storage.GeoCache: bbolt-backed cache with an in-memory LRU
//   - analysis.StaticGeo: in-memory map
//
// Thread Safety: Implementations MUST be safe for concurrent calls.
type GeoLookup interface {
	// Lookup returns the cached entry and whether the IP is present in the
	// cache at all. Entries with a non-success status are still returned.
	Lookup(ip string) (domain.GeoLocation, bool)
}

// RecordStore persists parsed records for later querying.
//
// Implementations:
//   - storage.SQLiteStore: modernc.org/sqlite
type RecordStore interface {
	InsertBatch(ctx context.Context, source string, records []domain.LogRecord) (int, error)
	QueryByIP(ctx context.Context, ip string, limit int) ([]domain.LogRecord, error)
	Query(ctx context.Context, filter RecordFilter) ([]domain.LogRecord, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// RecordFilter narrows a RecordStore query. Zero values disable a condition.
type RecordFilter struct {
	IP    string
	Since time.Time
	Until time.Time
	Limit int
}

// Archiver keeps a copy of raw uploaded logs.
//
// Implementations:
//   - storage.S3Archiver: gzip-compressed objects in S3
type Archiver interface {
	Archive(ctx context.Context, name string, body io.Reader) (string, error)
}

// ReportWriter serializes a finished report.
//
// Implementations:
//   - output.JSONReportWriter
//   - output.ConsoleRenderer
type ReportWriter interface {
	WriteReport(report *domain.Report) error
}
