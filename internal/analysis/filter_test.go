package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xoelrdgz/logsift/internal/domain"
)

func paths(records []domain.LogRecord) []string {
	out := make([]string, len(records))
	for i := range records {
		out[i] = records[i].Path
	}
	return out
}

func TestFilterByField(t *testing.T) {
	records := []domain.LogRecord{
		rec("10.0.0.1", "GET", "/admin/login", 200, t0),
		rec("10.0.0.2", "GET", "/index.html", 200, t0),
		rec("192.168.1.5", "POST", "/api/login", 401, t0),
	}

	tests := []struct {
		name  string
		field string
		value string
		want  []string
	}{
		{"exact", "path", "/index.html", []string{"/index.html"}},
		{"contains", "path", "*login*", []string{"/admin/login", "/api/login"}},
		{"ends with", "path", "*.html", []string{"/index.html"}},
		{"starts with", "remote_addr", "10.0.*", []string{"/admin/login", "/index.html"}},
		{"status", "status", "401", []string{"/api/login"}},
		{"no match", "method", "DELETE", []string{}},
		{"unknown field", "upstream", "x", []string{}},
		{"empty value", "path", "", []string{"/admin/login", "/index.html", "/api/login"}},
		{"empty field", "", "x", []string{"/admin/login", "/index.html", "/api/login"}},
		{"star only", "path", "*", []string{"/admin/login", "/index.html", "/api/login"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, paths(FilterByField(records, tc.field, tc.value)))
		})
	}
}

func TestFilterByTimeRange(t *testing.T) {
	records := []domain.LogRecord{
		rec("a", "GET", "/0", 200, t0),
		rec("a", "GET", "/1", 200, t0.Add(time.Hour)),
		rec("a", "GET", "/2", 200, t0.Add(2*time.Hour)),
		rec("a", "GET", "/raw", 200, time.Time{}),
	}

	assert.Equal(t, []string{"/1", "/2"}, paths(FilterByTimeRange(records, t0.Add(time.Hour), t0.Add(2*time.Hour))))
	assert.Equal(t, []string{"/0", "/1"}, paths(FilterByTimeRange(records, time.Time{}, t0.Add(time.Hour))))
	assert.Equal(t, []string{"/2"}, paths(FilterByTimeRange(records, t0.Add(90*time.Minute), time.Time{})))
	assert.Len(t, FilterByTimeRange(records, time.Time{}, time.Time{}), 4)
}

func TestTopN(t *testing.T) {
	records := []domain.LogRecord{
		rec("c", "GET", "/", 200, t0),
		rec("a", "GET", "/", 200, t0),
		rec("b", "GET", "/", 200, t0),
		rec("a", "GET", "/", 200, t0),
		rec("b", "GET", "/", 200, t0),
		rec("d", "GET", "/", 200, t0),
	}

	got := TopN(records, "remote_addr", 3)
	assert.Equal(t, []domain.Count{{Key: "a", Count: 2}, {Key: "b", Count: 2}, {Key: "c", Count: 1}}, got)

	assert.Len(t, TopN(records, "remote_addr", 0), 4)
	assert.Empty(t, TopN(records, "nope", 3))
	assert.Empty(t, TopN(nil, "path", 3))
}
