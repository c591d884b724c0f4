package detection

import (
	"gonum.org/v1/gonum/stat"

	"github.com/xoelrdgz/logsift/internal/domain"
)

const DefaultOutlierK = 2.0

func CountByIP(records []domain.LogRecord) domain.FrequencyTable {
	out := make(domain.FrequencyTable)
	for i := range records {
		out[records[i].RemoteAddr]++
	}
	return out
}

func CountByUserAgent(records []domain.LogRecord) domain.FrequencyTable {
	out := make(domain.FrequencyTable)
	for i := range records {
		out[records[i].UserAgent]++
	}
	return out
}

// OutlierDetector flags keys whose count exceeds the population mean by more
// than K standard deviations.
type OutlierDetector struct {
	K float64
}

func NewOutlierDetector(k float64) OutlierDetector {
	if k <= 0 {
		k = DefaultOutlierK
	}
	return OutlierDetector{K: k}
}

// Threshold returns μ + K·σ over the counts. ok is false for an empty table.
func (d OutlierDetector) Threshold(counts domain.FrequencyTable) (threshold float64, ok bool) {
	if len(counts) == 0 {
		return 0, false
	}
	xs := make([]float64, 0, len(counts))
	for _, c := range counts {
		xs = append(xs, float64(c))
	}
	mean, std := stat.PopMeanStdDev(xs, nil)
	return mean + d.K*std, true
}

// Flag returns the entries of counts strictly above the threshold.
func (d OutlierDetector) Flag(counts domain.FrequencyTable) domain.FrequencyTable {
	out := make(domain.FrequencyTable)
	threshold, ok := d.Threshold(counts)
	if !ok {
		return out
	}
	for k, c := range counts {
		if float64(c) > threshold {
			out[k] = c
		}
	}
	return out
}

// Detect counts records per remote address and flags the outliers.
func (d OutlierDetector) Detect(records []domain.LogRecord) domain.FrequencyTable {
	return d.Flag(CountByIP(records))
}

// UserAgentDiversity counts distinct user agents per remote address.
func UserAgentDiversity(records []domain.LogRecord) domain.FrequencyTable {
	seen := make(map[string]map[string]struct{})
	for i := range records {
		ip := records[i].RemoteAddr
		agents, ok := seen[ip]
		if !ok {
			agents = make(map[string]struct{})
			seen[ip] = agents
		}
		agents[records[i].UserAgent] = struct{}{}
	}

	out := make(domain.FrequencyTable, len(seen))
	for ip, agents := range seen {
		out[ip] = len(agents)
	}
	return out
}

// BotLikeIPs flags addresses sending more than minRequests requests with
// fewer than maxDiversity distinct user agents. The value is the request
// count.
func BotLikeIPs(records []domain.LogRecord, minRequests, maxDiversity int) domain.FrequencyTable {
	counts := CountByIP(records)
	diversity := UserAgentDiversity(records)

	out := make(domain.FrequencyTable)
	for ip, c := range counts {
		if c > minRequests && diversity[ip] < maxDiversity {
			out[ip] = c
		}
	}
	return out
}
