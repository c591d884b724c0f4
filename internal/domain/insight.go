package domain

import (
	"strings"

	"github.com/goccy/go-json"
)

type InsightCategory string

const (
	InsightBlacklist          InsightCategory = "blacklist"
	InsightHighFrequency      InsightCategory = "high_frequency"
	InsightPathDistribution   InsightCategory = "path_distribution"
	InsightSuspiciousAgents   InsightCategory = "suspicious_agents"
	InsightSensitiveEndpoints InsightCategory = "sensitive_endpoints"
	InsightBursts             InsightCategory = "bursts"
	InsightAgentShare         InsightCategory = "agent_share"
	InsightStatusCodes        InsightCategory = "status_codes"
	InsightMethods            InsightCategory = "methods"
	InsightTrafficPattern     InsightCategory = "traffic_pattern"
	InsightErrorPaths         InsightCategory = "error_paths"
)

// InsightOrder is the fixed emission order. Earlier categories rank higher.
var InsightOrder = []InsightCategory{
	InsightBlacklist,
	InsightHighFrequency,
	InsightPathDistribution,
	InsightSuspiciousAgents,
	InsightSensitiveEndpoints,
	InsightBursts,
	InsightAgentShare,
	InsightStatusCodes,
	InsightMethods,
	InsightTrafficPattern,
	InsightErrorPaths,
}

// Severity returns the category rank, 0 being the most severe. Unknown
// categories sort last.
func (c InsightCategory) Severity() int {
	for i, cat := range InsightOrder {
		if cat == c {
			return i
		}
	}
	return len(InsightOrder)
}

type Insight struct {
	Category InsightCategory `json:"category"`
	Severity int             `json:"severity"`
	Text     string          `json:"text"`
}

func NewInsight(category InsightCategory, text string) Insight {
	return Insight{
		Category: category,
		Severity: category.Severity(),
		Text:     text,
	}
}

func (i Insight) ToJSON() ([]byte, error) {
	return json.Marshal(i)
}

// Summarize joins insight texts one per line.
func Summarize(insights []Insight) string {
	lines := make([]string, len(insights))
	for i, in := range insights {
		lines[i] = in.Text
	}
	return strings.Join(lines, "\n")
}
