package analysis

import (
	"time"

	"github.com/xoelrdgz/logsift/internal/domain"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func rec(ip, method, path string, status int, ts time.Time) domain.LogRecord {
	return domain.LogRecord{
		RemoteAddr: ip,
		OccurredAt: ts,
		RawRequest: method + " " + path + " HTTP/1.1",
		Method:     method,
		Path:       path,
		Protocol:   "HTTP/1.1",
		Status:     domain.IntField(status),
		UserAgent:  "Mozilla/5.0",
	}
}
