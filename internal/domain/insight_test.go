package domain

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsightSeverityFollowsOrder(t *testing.T) {
	for i, cat := range InsightOrder {
		assert.Equal(t, i, cat.Severity(), string(cat))
	}
	assert.Equal(t, len(InsightOrder), InsightCategory("other").Severity())
	assert.Less(t, InsightBlacklist.Severity(), InsightErrorPaths.Severity())
}

func TestNewInsight(t *testing.T) {
	in := NewInsight(InsightBursts, "2 IPs burst")
	assert.Equal(t, InsightBursts, in.Category)
	assert.Equal(t, 5, in.Severity)

	b, err := in.ToJSON()
	require.NoError(t, err)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &parsed))
	assert.Equal(t, "bursts", parsed["category"])
	assert.Equal(t, "2 IPs burst", parsed["text"])
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "", Summarize(nil))
	assert.Equal(t, "a\nb", Summarize([]Insight{
		NewInsight(InsightBlacklist, "a"),
		NewInsight(InsightMethods, "b"),
	}))
}

func TestAnalysisMetrics(t *testing.T) {
	m := NewAnalysisMetrics()
	m.AddParsed(10)
	m.AddFailed(2)
	m.IncrementAnalyses()
	m.AddInsights(3)

	snap := m.GetSnapshot()
	assert.Equal(t, int64(12), snap.LinesRead)
	assert.Equal(t, int64(10), snap.LinesParsed)
	assert.Equal(t, int64(2), snap.LinesFailed)
	assert.Equal(t, int64(1), snap.Analyses)
	assert.Equal(t, int64(3), snap.InsightsEmitted)
	assert.Equal(t, int64(12), m.TotalLines())
}
