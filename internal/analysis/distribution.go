// Package analysis aggregates a record batch into distributions and time
// series and turns the aggregates into ordered insights.
//
// All functions are pure over their inputs. Non-numeric status and byte
// fields count as zero wherever arithmetic is needed.
package analysis

import (
	"sort"
	"strconv"
	"strings"

	"github.com/xoelrdgz/logsift/internal/domain"
)

const DefaultErrorPathMinTotal = 3

// statusClass maps a status code to its bucket. Codes outside 200-599 have
// no bucket.
func statusClass(code int) (string, bool) {
	switch {
	case code >= 200 && code < 300:
		return "2xx", true
	case code >= 300 && code < 400:
		return "3xx", true
	case code >= 400 && code < 500:
		return "4xx", true
	case code >= 500 && code < 600:
		return "5xx", true
	}
	return "", false
}

// StatusBuckets counts records per status class. All four classes are
// always present.
func StatusBuckets(records []domain.LogRecord) domain.StatusBuckets {
	out := make(domain.StatusBuckets, len(domain.StatusClasses))
	for _, class := range domain.StatusClasses {
		out[class] = 0
	}
	for i := range records {
		if class, ok := statusClass(records[i].Status.Int()); ok {
			out[class]++
		}
	}
	return out
}

// StatusCodeCounts counts exact numeric status codes.
func StatusCodeCounts(records []domain.LogRecord) domain.FrequencyTable {
	out := make(domain.FrequencyTable)
	for i := range records {
		if records[i].Status.IsNumeric() {
			out[strconv.Itoa(records[i].Status.Int())]++
		}
	}
	return out
}

// MethodCounts counts upper-cased methods. Records without a method are
// skipped.
func MethodCounts(records []domain.LogRecord) domain.FrequencyTable {
	out := make(domain.FrequencyTable)
	for i := range records {
		if m := records[i].Method; m != "" {
			out[strings.ToUpper(m)]++
		}
	}
	return out
}

// PathCounts counts paths with the query string removed, so /search?q=1 and
// /search?q=2 both count under /search.
func PathCounts(records []domain.LogRecord) domain.FrequencyTable {
	out := make(domain.FrequencyTable)
	for i := range records {
		if p := records[i].NormalizedPath(); p != "" {
			out[p]++
		}
	}
	return out
}

// ErrorPaths tallies 4xx and 5xx responses per path and status, keeping
// paths with at least minTotal errors. The result is sorted by total
// descending, then path.
func ErrorPaths(records []domain.LogRecord, minTotal int) []domain.ErrorPath {
	if minTotal <= 0 {
		minTotal = DefaultErrorPathMinTotal
	}

	byPath := make(map[string]map[int]int)
	for i := range records {
		code := records[i].Status.Int()
		if code < 400 || code >= 600 {
			continue
		}
		path := records[i].Path
		statuses, ok := byPath[path]
		if !ok {
			statuses = make(map[int]int)
			byPath[path] = statuses
		}
		statuses[code]++
	}

	out := make([]domain.ErrorPath, 0, len(byPath))
	for path, statuses := range byPath {
		total := 0
		for _, c := range statuses {
			total += c
		}
		if total < minTotal {
			continue
		}
		out = append(out, domain.ErrorPath{Path: path, Total: total, ByStatus: statuses})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// BytesSent sums body sizes. The average is taken over every record,
// including those whose size was not numeric.
func BytesSent(records []domain.LogRecord) domain.BytesStats {
	var stats domain.BytesStats
	if len(records) == 0 {
		return stats
	}
	for i := range records {
		n := records[i].BodyBytesSent.Int()
		stats.Total += int64(n)
		if n > stats.Max {
			stats.Max = n
		}
	}
	stats.Average = float64(stats.Total) / float64(len(records))
	return stats
}
