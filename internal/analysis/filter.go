package analysis

import (
	"sort"
	"strings"
	"time"

	"github.com/xoelrdgz/logsift/internal/domain"
)

// FilterByField keeps records whose field matches value.
//
// Value Syntax:
//   - *x*: field contains x
//   - *x:  field ends with x
//   - x*:  field starts with x
//   - x:   field equals x
//
// An empty field or value returns records unchanged. Records that do not
// define the field never match.
func FilterByField(records []domain.LogRecord, field, value string) []domain.LogRecord {
	if field == "" || value == "" {
		return records
	}
	match := wildcardMatcher(value)

	out := make([]domain.LogRecord, 0)
	for i := range records {
		v, ok := records[i].Field(field)
		if ok && match(v) {
			out = append(out, records[i])
		}
	}
	return out
}

func wildcardMatcher(value string) func(string) bool {
	needle := value
	leading := strings.HasPrefix(needle, "*")
	if leading {
		needle = needle[1:]
	}
	trailing := strings.HasSuffix(needle, "*")
	if trailing {
		needle = needle[:len(needle)-1]
	}

	switch {
	case leading && trailing:
		return func(s string) bool { return strings.Contains(s, needle) }
	case leading:
		return func(s string) bool { return strings.HasSuffix(s, needle) }
	case trailing:
		return func(s string) bool { return strings.HasPrefix(s, needle) }
	}
	return func(s string) bool { return s == value }
}

// FilterByTimeRange keeps timestamped records within [start, end]. A zero
// bound is open. With both bounds zero the input is returned unchanged.
func FilterByTimeRange(records []domain.LogRecord, start, end time.Time) []domain.LogRecord {
	if start.IsZero() && end.IsZero() {
		return records
	}

	out := make([]domain.LogRecord, 0)
	for i := range records {
		if !records[i].HasTimestamp() {
			continue
		}
		t := records[i].OccurredAt
		if !start.IsZero() && t.Before(start) {
			continue
		}
		if !end.IsZero() && t.After(end) {
			continue
		}
		out = append(out, records[i])
	}
	return out
}

// TopN counts the values of field and returns the n most frequent, ties in
// first-seen order. n <= 0 returns every value.
func TopN(records []domain.LogRecord, field string, n int) []domain.Count {
	index := make(map[string]int)
	var out []domain.Count
	for i := range records {
		v, ok := records[i].Field(field)
		if !ok {
			continue
		}
		if idx, seen := index[v]; seen {
			out[idx].Count++
			continue
		}
		index[v] = len(out)
		out = append(out, domain.Count{Key: v, Count: 1})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Count > out[j].Count
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	if out == nil {
		out = []domain.Count{}
	}
	return out
}
