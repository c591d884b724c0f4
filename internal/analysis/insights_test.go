package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xoelrdgz/logsift/internal/domain"
)

func categories(insights []domain.Insight) []domain.InsightCategory {
	out := make([]domain.InsightCategory, len(insights))
	for i, in := range insights {
		out[i] = in.Category
	}
	return out
}

func fullInput() Input {
	burstHits := func(n int) []domain.BurstHit {
		return make([]domain.BurstHit, n)
	}
	return Input{
		Blacklisted:   []string{"1.1.1.1", "2.2.2.2"},
		HighFrequency: domain.FrequencyTable{"45.33.32.156": 120, "10.0.0.9": 80},
		Paths:         domain.FrequencyTable{"/": 60, "/about": 40},
		SuspiciousAgents: domain.Buckets{
			"curl":  make([]domain.LogRecord, 2),
			"nikto": make([]domain.LogRecord, 5),
		},
		SuspiciousLabels: []string{"nikto", "curl"},
		SensitiveEndpoints: domain.Buckets{
			"/admin": make([]domain.LogRecord, 3),
		},
		SensitiveLabels: []string{"/admin", "/login"},
		Bursts: map[string]domain.BurstWindow{
			"9.9.9.9":      {IP: "9.9.9.9", Start: t0, Hits: burstHits(12)},
			"45.33.32.156": {IP: "45.33.32.156", Start: t0.Add(time.Minute), Hits: burstHits(20)},
		},
		UserAgents:    domain.FrequencyTable{"Nikto": 30, "Mozilla/5.0": 60, "curl": 10},
		StatusBuckets: domain.StatusBuckets{"2xx": 80, "3xx": 0, "4xx": 12, "5xx": 8},
		Methods:       domain.FrequencyTable{"GET": 90, "PROPFIND": 10},
		PerMinute: []domain.MinuteCount{
			{Minute: t0, Count: 10},
			{Minute: t0.Add(time.Minute), Count: 10},
			{Minute: t0.Add(2 * time.Minute), Count: 70},
			{Minute: t0.Add(3 * time.Minute), Count: 0},
			{Minute: t0.Add(4 * time.Minute), Count: 10},
		},
		ErrorPaths: []domain.ErrorPath{
			{Path: "/wp-admin/a.php", Total: 9},
			{Path: "/wp-admin/b.php", Total: 5},
			{Path: "/wp-admin/c.php?x=1", Total: 3},
			{Path: "/missing", Total: 3},
		},
	}
}

func TestSynthesize_CategoryOrder(t *testing.T) {
	insights := NewSynthesizer(DefaultThresholds()).Synthesize(fullInput())

	cats := categories(insights)
	for i := 1; i < len(insights); i++ {
		assert.LessOrEqual(t, insights[i-1].Severity, insights[i].Severity, "insight %d out of order", i)
	}
	for _, want := range domain.InsightOrder {
		assert.Contains(t, cats, want)
	}
	assert.Equal(t, domain.InsightBlacklist, insights[0].Category)
	assert.Equal(t, domain.InsightErrorPaths, insights[len(insights)-1].Category)
}

func TestSynthesize_Texts(t *testing.T) {
	insights := NewSynthesizer(DefaultThresholds()).Synthesize(fullInput())

	byCat := make(map[domain.InsightCategory][]string)
	for _, in := range insights {
		byCat[in.Category] = append(byCat[in.Category], in.Text)
	}

	assert.Equal(t, []string{"2 blacklisted IP(s) seen: 1.1.1.1, 2.2.2.2"}, byCat[domain.InsightBlacklist])
	assert.Equal(t, []string{"2 high-frequency IP(s) detected; top is 45.33.32.156 with 120 requests"}, byCat[domain.InsightHighFrequency])
	assert.Equal(t, []string{"Most requested path is / with 60 of 100 requests (60.0%)"}, byCat[domain.InsightPathDistribution])
	assert.Equal(t, []string{"7 request(s) from suspicious user agents (nikto: 5, curl: 2)"}, byCat[domain.InsightSuspiciousAgents])
	assert.Equal(t, []string{"3 request(s) to sensitive endpoints (/admin: 3)"}, byCat[domain.InsightSensitiveEndpoints])
	assert.Equal(t, []string{"Request bursts from 2 IP(s); largest is 45.33.32.156 with 20 requests starting 2024-01-01 12:01"}, byCat[domain.InsightBursts])
	assert.Equal(t, []string{
		`User agent "Mozilla/5.0" accounts for 60.0% of requests`,
		`User agent "Nikto" accounts for 30.0% of requests`,
	}, byCat[domain.InsightAgentShare])
	assert.Equal(t, []string{
		"Error rate is 20.0% (20 of 100 responses are 4xx or 5xx)",
		"Server error rate is 8.0% (8 responses are 5xx)",
	}, byCat[domain.InsightStatusCodes])
	assert.Equal(t, []string{
		"Method mix: GET 90.0%, PROPFIND 10.0%",
		"Non-standard methods seen: PROPFIND (10)",
	}, byCat[domain.InsightMethods])
	// average 20 req/min
	assert.Equal(t, []string{
		"1 minute(s) above 2.0x the 20.0 req/min average; peak 70 at 2024-01-01 12:02",
		"1 minute(s) below 0.5x the 20.0 req/min average",
	}, byCat[domain.InsightTrafficPattern])
	assert.Equal(t, []string{
		"Top error paths: /wp-admin/a.php (9), /wp-admin/b.php (5), /wp-admin/c.php?x=1 (3)",
		"Error paths cluster under /wp-admin/ (3 distinct paths)",
	}, byCat[domain.InsightErrorPaths])
}

func TestSynthesize_EmptyInput(t *testing.T) {
	insights := NewSynthesizer(DefaultThresholds()).Synthesize(Input{})
	require.NotNil(t, insights)
	assert.Empty(t, insights)

	insights = NewSynthesizer(DefaultThresholds()).Synthesize(Input{
		StatusBuckets: StatusBuckets(nil),
		PerMinute:     RequestsPerMinute(nil),
	})
	assert.Empty(t, insights)
}

func TestSynthesize_ThresholdsAreStrict(t *testing.T) {
	in := Input{
		UserAgents:    domain.FrequencyTable{"a": 20, "b": 80},
		StatusBuckets: domain.StatusBuckets{"2xx": 90, "4xx": 5, "5xx": 5},
	}
	th := DefaultThresholds()
	th.AgentShare = 0.8
	th.ErrorRate = 0.1
	th.ServerErrorRate = 0.05

	assert.Empty(t, NewSynthesizer(th).Synthesize(in))
}

func TestSynthesize_BlacklistTruncates(t *testing.T) {
	in := Input{Blacklisted: []string{"a", "b", "c", "d", "e", "f", "g"}}
	insights := NewSynthesizer(DefaultThresholds()).Synthesize(in)
	require.Len(t, insights, 1)
	assert.Equal(t, "7 blacklisted IP(s) seen: a, b, c, d, e and 2 more", insights[0].Text)
}

func TestFirstDirectory(t *testing.T) {
	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{"/wp-admin/setup.php", "/wp-admin/", true},
		{"/api/v1/users?id=1", "/api/", true},
		{"/index.html", "", false},
		{"//double", "", false},
		{"relative/path", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			got, ok := firstDirectory(tc.path)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}
