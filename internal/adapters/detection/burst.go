package detection

import (
	"sort"
	"time"

	"github.com/xoelrdgz/logsift/internal/domain"
)

const (
	DefaultBurstWindow    = 60 * time.Second
	DefaultBurstThreshold = 10
)

// BurstDetector finds, per remote address, the first window [t, t+Window)
// holding at least Threshold requests. Only that first window is reported;
// later clusters from the same address are not.
type BurstDetector struct {
	Window    time.Duration
	Threshold int
}

func NewBurstDetector(window time.Duration, threshold int) BurstDetector {
	if window <= 0 {
		window = DefaultBurstWindow
	}
	if threshold <= 0 {
		threshold = DefaultBurstThreshold
	}
	return BurstDetector{Window: window, Threshold: threshold}
}

// Detect returns the burst window of every address that has one. Records
// without a parsed timestamp are ignored.
func (d BurstDetector) Detect(records []domain.LogRecord) map[string]domain.BurstWindow {
	out := make(map[string]domain.BurstWindow)
	for ip, group := range groupTimestamped(records, func(r *domain.LogRecord) string { return r.RemoteAddr }) {
		if w, ok := d.scan(ip, group); ok {
			out[ip] = w
		}
	}
	return out
}

// scan walks start indices with a trailing end pointer. group is sorted by
// time.
func (d BurstDetector) scan(ip string, group []domain.LogRecord) (domain.BurstWindow, bool) {
	if len(group) < d.Threshold {
		return domain.BurstWindow{}, false
	}

	end := 0
	for start := range group {
		limit := group[start].OccurredAt.Add(d.Window)
		if end < start {
			end = start
		}
		for end < len(group) && group[end].OccurredAt.Before(limit) {
			end++
		}
		if end-start < d.Threshold {
			continue
		}

		origin := group[start].OccurredAt
		hits := make([]domain.BurstHit, 0, end-start)
		for _, rec := range group[start:end] {
			hits = append(hits, domain.BurstHit{
				Record:  rec,
				Elapsed: rec.OccurredAt.Sub(origin).Seconds(),
			})
		}
		return domain.BurstWindow{IP: ip, Start: origin, Hits: hits}, true
	}
	return domain.BurstWindow{}, false
}

// groupTimestamped buckets timestamped records by key and stable-sorts each
// bucket by time. The input slice is not modified.
func groupTimestamped(records []domain.LogRecord, key func(*domain.LogRecord) string) map[string][]domain.LogRecord {
	groups := make(map[string][]domain.LogRecord)
	for i := range records {
		if !records[i].HasTimestamp() {
			continue
		}
		k := key(&records[i])
		groups[k] = append(groups[k], records[i])
	}
	for _, g := range groups {
		sort.SliceStable(g, func(a, b int) bool {
			return g[a].OccurredAt.Before(g[b].OccurredAt)
		})
	}
	return groups
}
