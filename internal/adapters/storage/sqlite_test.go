package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xoelrdgz/logsift/internal/domain"
	"github.com/xoelrdgz/logsift/internal/ports"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func storedRecord(ip, path string, ts time.Time) domain.LogRecord {
	return domain.LogRecord{
		RemoteAddr:    ip,
		RemoteUser:    "-",
		TimeLocal:     ts.Format("02/Jan/2006:15:04:05 -0700"),
		OccurredAt:    ts,
		RawRequest:    "GET " + path + " HTTP/1.1",
		Method:        "GET",
		Path:          path,
		Protocol:      "HTTP/1.1",
		Status:        domain.IntField(200),
		BodyBytesSent: domain.ParseNumericField("-"),
		Referer:       "-",
		UserAgent:     "Mozilla/5.0",
	}
}

func TestSQLiteStore_InsertAndQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	records := []domain.LogRecord{
		storedRecord("10.0.0.1", "/a", t0),
		storedRecord("10.0.0.2", "/b", t0.Add(time.Minute)),
		storedRecord("10.0.0.1", "/c", t0.Add(2*time.Minute)),
	}
	records[2].Fields = map[string]string{"upstream": "app-1"}

	n, err := s.InsertBatch(ctx, "access.log", records)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	got, err := s.QueryByIP(ctx, "10.0.0.1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "/a", got[0].Path)
	assert.Equal(t, "/c", got[1].Path)
	assert.True(t, got[0].OccurredAt.Equal(t0))
	assert.Equal(t, 200, got[0].Status.Int())
	assert.False(t, got[0].BodyBytesSent.IsNumeric())
	assert.Equal(t, "-", got[0].BodyBytesSent.String())
	assert.Equal(t, "app-1", got[1].Fields["upstream"])
}

func TestSQLiteStore_QueryFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	var records []domain.LogRecord
	for i := 0; i < 5; i++ {
		records = append(records, storedRecord("10.0.0.1", "/p", t0.Add(time.Duration(i)*time.Hour)))
	}
	untimed := storedRecord("10.0.0.1", "/raw", time.Time{})
	untimed.OccurredAt = time.Time{}
	records = append(records, untimed)

	_, err := s.InsertBatch(ctx, "a.log", records)
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter ports.RecordFilter
		want   int
	}{
		{"all", ports.RecordFilter{}, 6},
		{"limit", ports.RecordFilter{Limit: 2}, 2},
		{"since", ports.RecordFilter{Since: t0.Add(3 * time.Hour)}, 2},
		{"until", ports.RecordFilter{Until: t0.Add(time.Hour)}, 2},
		{"range", ports.RecordFilter{Since: t0.Add(time.Hour), Until: t0.Add(3 * time.Hour)}, 3},
		{"other ip", ports.RecordFilter{IP: "10.9.9.9"}, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.Query(ctx, tc.filter)
			require.NoError(t, err)
			assert.Len(t, got, tc.want)
		})
	}
}

func TestSQLiteStore_QueryReturnsMostRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	records := make([]domain.LogRecord, 300)
	for i := range records {
		records[i] = storedRecord("10.0.0.1", fmt.Sprintf("/p%d", i), t0.Add(time.Duration(i)*time.Second))
	}
	_, err := s.InsertBatch(ctx, "big.log", records)
	require.NoError(t, err)

	got, err := s.Query(ctx, ports.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, got, DefaultQueryLimit)
	assert.Equal(t, fmt.Sprintf("/p%d", 300-DefaultQueryLimit), got[0].Path)
	assert.Equal(t, "/p299", got[len(got)-1].Path)

	got, err = s.QueryByIP(ctx, "10.0.0.1", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"/p297", "/p298", "/p299"}, []string{got[0].Path, got[1].Path, got[2].Path})
}

func TestSQLiteStore_EmptyBatch(t *testing.T) {
	s := openTestStore(t)
	n, err := s.InsertBatch(context.Background(), "x", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSQLiteStore_Closed(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	ctx := context.Background()
	_, err := s.InsertBatch(ctx, "x", []domain.LogRecord{{RemoteAddr: "1.1.1.1"}})
	assert.ErrorIs(t, err, ErrRecordStoreClosed)
	_, err = s.QueryByIP(ctx, "1.1.1.1", 10)
	assert.ErrorIs(t, err, ErrRecordStoreClosed)
	_, err = s.Count(ctx)
	assert.ErrorIs(t, err, ErrRecordStoreClosed)
	assert.ErrorIs(t, s.Ping(ctx), ErrRecordStoreClosed)
}
