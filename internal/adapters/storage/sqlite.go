package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/xoelrdgz/logsift/internal/domain"
	"github.com/xoelrdgz/logsift/internal/ports"
)

var ErrRecordStoreClosed = errors.New("record store closed")

const (
	DefaultStorePath  = "./data/logsift.db"
	DefaultQueryLimit = 200
	MaxQueryLimit     = 10000
)

const schema = `
CREATE TABLE IF NOT EXISTS access_logs (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	source          TEXT NOT NULL,
	remote_addr     TEXT NOT NULL,
	remote_user     TEXT,
	time_local      TEXT,
	occurred_at     INTEGER,
	request         TEXT,
	method          TEXT,
	path            TEXT,
	protocol        TEXT,
	status          TEXT,
	body_bytes_sent TEXT,
	referer         TEXT,
	user_agent      TEXT,
	fields          TEXT,
	indexed_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_access_logs_remote_addr ON access_logs(remote_addr);
CREATE INDEX IF NOT EXISTS idx_access_logs_occurred_at ON access_logs(occurred_at);
`

const insertSQL = `INSERT INTO access_logs
	(source, remote_addr, remote_user, time_local, occurred_at, request, method, path,
	 protocol, status, body_bytes_sent, referer, user_agent, fields, indexed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectColumns = `remote_addr, remote_user, time_local, occurred_at, request, method, path,
	protocol, status, body_bytes_sent, referer, user_agent, fields`

// SQLiteStore indexes parsed records in a local sqlite database.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	closed atomic.Bool
}

var _ ports.RecordStore = (*SQLiteStore)(nil)

func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = DefaultStorePath
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log.Info().Str("path", path).Msg("Record store opened")
	return &SQLiteStore{db: db, path: path}, nil
}

// InsertBatch stores records in one transaction.
//
// Returns:
//   - number of rows inserted
func (s *SQLiteStore) InsertBatch(ctx context.Context, source string, records []domain.LogRecord) (int, error) {
	if s.closed.Load() {
		return 0, ErrRecordStoreClosed
	}
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for i := range records {
		r := &records[i]

		var occurred sql.NullInt64
		if r.HasTimestamp() {
			occurred = sql.NullInt64{Int64: r.OccurredAt.Unix(), Valid: true}
		}

		var fields sql.NullString
		if len(r.Fields) > 0 {
			data, err := json.Marshal(r.Fields)
			if err != nil {
				return 0, fmt.Errorf("encode fields: %w", err)
			}
			fields = sql.NullString{String: string(data), Valid: true}
		}

		_, err := stmt.ExecContext(ctx,
			source, r.RemoteAddr, r.RemoteUser, r.TimeLocal, occurred,
			r.RawRequest, r.Method, r.Path, r.Protocol,
			r.Status.String(), r.BodyBytesSent.String(), r.Referer, r.UserAgent,
			fields, now,
		)
		if err != nil {
			return 0, fmt.Errorf("insert record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert: %w", err)
	}
	return len(records), nil
}

func (s *SQLiteStore) QueryByIP(ctx context.Context, ip string, limit int) ([]domain.LogRecord, error) {
	return s.Query(ctx, ports.RecordFilter{IP: ip, Limit: limit})
}

// Query returns the most recent records matching filter, up to its limit, in
// insertion order. Time bounds only match records with a parsed timestamp.
func (s *SQLiteStore) Query(ctx context.Context, filter ports.RecordFilter) ([]domain.LogRecord, error) {
	if s.closed.Load() {
		return nil, ErrRecordStoreClosed
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	var (
		where []string
		args  []any
	)
	if filter.IP != "" {
		where = append(where, "remote_addr = ?")
		args = append(args, filter.IP)
	}
	if !filter.Since.IsZero() {
		where = append(where, "occurred_at >= ?")
		args = append(args, filter.Since.Unix())
	}
	if !filter.Until.IsZero() {
		where = append(where, "occurred_at <= ?")
		args = append(args, filter.Until.Unix())
	}

	q := "SELECT " + selectColumns + " FROM access_logs"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []domain.LogRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	slices.Reverse(out)
	return out, nil
}

func scanRecord(rows *sql.Rows) (domain.LogRecord, error) {
	var (
		rec                                    domain.LogRecord
		remoteUser, timeLocal, request, method sql.NullString
		path, protocol, status, bytesSent      sql.NullString
		referer, userAgent, fields             sql.NullString
		occurred                               sql.NullInt64
	)
	err := rows.Scan(
		&rec.RemoteAddr, &remoteUser, &timeLocal, &occurred, &request, &method, &path,
		&protocol, &status, &bytesSent, &referer, &userAgent, &fields,
	)
	if err != nil {
		return rec, fmt.Errorf("scan record: %w", err)
	}

	rec.RemoteUser = remoteUser.String
	rec.TimeLocal = timeLocal.String
	if occurred.Valid {
		rec.OccurredAt = time.Unix(occurred.Int64, 0).UTC()
	}
	rec.RawRequest = request.String
	rec.Method = method.String
	rec.Path = path.String
	rec.Protocol = protocol.String
	rec.Status = domain.ParseNumericField(status.String)
	rec.BodyBytesSent = domain.ParseNumericField(bytesSent.String)
	rec.Referer = referer.String
	rec.UserAgent = userAgent.String

	if fields.Valid && fields.String != "" {
		if err := json.Unmarshal([]byte(fields.String), &rec.Fields); err != nil {
			return rec, fmt.Errorf("decode fields: %w", err)
		}
	}
	return rec, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrRecordStoreClosed
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM access_logs").Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Ping reports whether the database answers.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrRecordStoreClosed
	}
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
