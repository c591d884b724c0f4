package detection

import (
	"time"

	"github.com/xoelrdgz/logsift/internal/domain"
)

var baseTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func at(offset time.Duration) time.Time {
	return baseTime.Add(offset)
}

func newRecord(ip, path, ua string, ts time.Time) domain.LogRecord {
	return domain.LogRecord{
		RemoteAddr: ip,
		OccurredAt: ts,
		RawRequest: "GET " + path + " HTTP/1.1",
		Method:     "GET",
		Path:       path,
		Protocol:   "HTTP/1.1",
		Status:     domain.IntField(200),
		UserAgent:  ua,
	}
}

func repeat(n int, fn func(i int) domain.LogRecord) []domain.LogRecord {
	out := make([]domain.LogRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, fn(i))
	}
	return out
}
