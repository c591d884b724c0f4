package analysis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xoelrdgz/logsift/internal/domain"
)

// Thresholds control when a category produces an insight.
type Thresholds struct {
	AgentShare      float64 // flag a user agent above this share of requests
	ErrorRate       float64 // flag 4xx+5xx above this share of bucketed responses
	ServerErrorRate float64 // flag 5xx above this share of bucketed responses
	SpikeFactor     float64 // minutes above SpikeFactor x average are spikes
	DropFactor      float64 // minutes below DropFactor x average are drops
	ClusterMinPaths int     // distinct error paths needed to report a prefix
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		AgentShare:      0.20,
		ErrorRate:       0.10,
		ServerErrorRate: 0.05,
		SpikeFactor:     2.0,
		DropFactor:      0.5,
		ClusterMinPaths: 3,
	}
}

const (
	maxListed       = 5
	maxErrorPaths   = 3
	timeOfDayLayout = "2006-01-02 15:04"
)

var standardMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true, "DELETE": true,
	"OPTIONS": true, "PATCH": true, "CONNECT": true, "TRACE": true,
}

// Input carries every aggregate the synthesizer reads. Label slices give the
// classifier rule order used for breakdowns.
type Input struct {
	Blacklisted        []string
	HighFrequency      domain.FrequencyTable
	Paths              domain.FrequencyTable
	SuspiciousAgents   domain.Buckets
	SuspiciousLabels   []string
	SensitiveEndpoints domain.Buckets
	SensitiveLabels    []string
	Bursts             map[string]domain.BurstWindow
	UserAgents         domain.FrequencyTable
	StatusBuckets      domain.StatusBuckets
	Methods            domain.FrequencyTable
	PerMinute          []domain.MinuteCount
	ErrorPaths         []domain.ErrorPath
}

type Synthesizer struct {
	Thresholds Thresholds
}

func NewSynthesizer(t Thresholds) Synthesizer {
	return Synthesizer{Thresholds: t}
}

// Synthesize emits insights in category order. A category whose aggregate is
// empty emits nothing, so an empty batch yields an empty list.
func (s Synthesizer) Synthesize(in Input) []domain.Insight {
	out := make([]domain.Insight, 0)
	emit := func(cat domain.InsightCategory, format string, args ...any) {
		out = append(out, domain.NewInsight(cat, fmt.Sprintf(format, args...)))
	}

	// blacklist
	if n := len(in.Blacklisted); n > 0 {
		emit(domain.InsightBlacklist, "%d blacklisted IP(s) seen: %s", n, listWithMore(in.Blacklisted, maxListed))
	}

	// high_frequency
	if len(in.HighFrequency) > 0 {
		top := in.HighFrequency.Top(1)[0]
		emit(domain.InsightHighFrequency, "%d high-frequency IP(s) detected; top is %s with %d requests",
			len(in.HighFrequency), top.Key, top.Count)
	}

	// path_distribution
	if total := in.Paths.Total(); total > 0 {
		top := in.Paths.Top(1)[0]
		emit(domain.InsightPathDistribution, "Most requested path is %s with %d of %d requests (%s)",
			top.Key, top.Count, total, percent(top.Count, total))
	}

	// suspicious_agents
	if total := in.SuspiciousAgents.Total(); total > 0 {
		emit(domain.InsightSuspiciousAgents, "%d request(s) from suspicious user agents (%s)",
			total, breakdown(in.SuspiciousAgents, in.SuspiciousLabels))
	}

	// sensitive_endpoints
	if total := in.SensitiveEndpoints.Total(); total > 0 {
		emit(domain.InsightSensitiveEndpoints, "%d request(s) to sensitive endpoints (%s)",
			total, breakdown(in.SensitiveEndpoints, in.SensitiveLabels))
	}

	// bursts
	if len(in.Bursts) > 0 {
		largest := largestBurst(in.Bursts)
		emit(domain.InsightBursts, "Request bursts from %d IP(s); largest is %s with %d requests starting %s",
			len(in.Bursts), largest.IP, largest.Len(), largest.Start.UTC().Format(timeOfDayLayout))
	}

	// agent_share
	if total := in.UserAgents.Total(); total > 0 {
		for _, c := range in.UserAgents.Top(0) {
			share := float64(c.Count) / float64(total)
			if share <= s.Thresholds.AgentShare {
				break
			}
			ua := c.Key
			if ua == "" || ua == "-" {
				ua = "(empty)"
			}
			emit(domain.InsightAgentShare, "User agent %q accounts for %s of requests", ua, percent(c.Count, total))
		}
	}

	// status_codes
	if total := in.StatusBuckets.Total(); total > 0 {
		errs := in.StatusBuckets["4xx"] + in.StatusBuckets["5xx"]
		if float64(errs)/float64(total) > s.Thresholds.ErrorRate {
			emit(domain.InsightStatusCodes, "Error rate is %s (%d of %d responses are 4xx or 5xx)",
				percent(errs, total), errs, total)
		}
		server := in.StatusBuckets["5xx"]
		if float64(server)/float64(total) > s.Thresholds.ServerErrorRate {
			emit(domain.InsightStatusCodes, "Server error rate is %s (%d responses are 5xx)",
				percent(server, total), server)
		}
	}

	// methods
	if total := in.Methods.Total(); total > 0 {
		ranked := in.Methods.Top(0)
		mix := make([]string, 0, len(ranked))
		var odd []string
		for _, c := range ranked {
			mix = append(mix, fmt.Sprintf("%s %s", c.Key, percent(c.Count, total)))
			if !standardMethods[c.Key] {
				odd = append(odd, fmt.Sprintf("%s (%d)", c.Key, c.Count))
			}
		}
		emit(domain.InsightMethods, "Method mix: %s", strings.Join(mix, ", "))
		if len(odd) > 0 {
			emit(domain.InsightMethods, "Non-standard methods seen: %s", strings.Join(odd, ", "))
		}
	}

	// traffic_pattern
	if len(in.PerMinute) > 0 {
		s.trafficPattern(in.PerMinute, emit)
	}

	// error_paths
	if len(in.ErrorPaths) > 0 {
		top := make([]string, 0, maxErrorPaths)
		for i, ep := range in.ErrorPaths {
			if i == maxErrorPaths {
				break
			}
			top = append(top, fmt.Sprintf("%s (%d)", ep.Path, ep.Total))
		}
		emit(domain.InsightErrorPaths, "Top error paths: %s", strings.Join(top, ", "))

		for _, cl := range s.errorClusters(in.ErrorPaths) {
			emit(domain.InsightErrorPaths, "Error paths cluster under %s (%d distinct paths)", cl.Key, cl.Count)
		}
	}

	return out
}

func (s Synthesizer) trafficPattern(series []domain.MinuteCount, emit func(domain.InsightCategory, string, ...any)) {
	sum := 0
	for _, m := range series {
		sum += m.Count
	}
	avg := float64(sum) / float64(len(series))
	if avg == 0 {
		return
	}

	var spikes, drops int
	peak := series[0]
	for _, m := range series {
		c := float64(m.Count)
		if c > s.Thresholds.SpikeFactor*avg {
			spikes++
		}
		if c < s.Thresholds.DropFactor*avg {
			drops++
		}
		if m.Count > peak.Count {
			peak = m
		}
	}

	if spikes > 0 {
		emit(domain.InsightTrafficPattern, "%d minute(s) above %.1fx the %.1f req/min average; peak %d at %s",
			spikes, s.Thresholds.SpikeFactor, avg, peak.Count, peak.Minute.UTC().Format(timeOfDayLayout))
	}
	if drops > 0 {
		emit(domain.InsightTrafficPattern, "%d minute(s) below %.1fx the %.1f req/min average",
			drops, s.Thresholds.DropFactor, avg)
	}
}

// errorClusters groups error paths by first directory (e.g. /wp-admin/) and
// returns the prefixes shared by at least ClusterMinPaths distinct paths,
// largest first.
func (s Synthesizer) errorClusters(paths []domain.ErrorPath) []domain.Count {
	minPaths := s.Thresholds.ClusterMinPaths
	if minPaths <= 0 {
		minPaths = DefaultThresholds().ClusterMinPaths
	}

	distinct := make(map[string]map[string]struct{})
	for _, ep := range paths {
		prefix, ok := firstDirectory(ep.Path)
		if !ok {
			continue
		}
		set, exists := distinct[prefix]
		if !exists {
			set = make(map[string]struct{})
			distinct[prefix] = set
		}
		set[ep.Path] = struct{}{}
	}

	counts := make(domain.FrequencyTable)
	for prefix, set := range distinct {
		if len(set) >= minPaths {
			counts[prefix] = len(set)
		}
	}
	return counts.Top(0)
}

// firstDirectory returns "/dir/" for paths of the form /dir/rest.
func firstDirectory(path string) (string, bool) {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if !strings.HasPrefix(path, "/") {
		return "", false
	}
	end := strings.IndexByte(path[1:], '/')
	if end <= 0 {
		return "", false
	}
	return path[:end+2], true
}

func largestBurst(bursts map[string]domain.BurstWindow) domain.BurstWindow {
	ips := make([]string, 0, len(bursts))
	for ip := range bursts {
		ips = append(ips, ip)
	}
	sort.Strings(ips)

	best := bursts[ips[0]]
	for _, ip := range ips[1:] {
		if bursts[ip].Len() > best.Len() {
			best = bursts[ip]
		}
	}
	return best
}

// breakdown renders "label: n" pairs in rule order, skipping empty labels.
func breakdown(b domain.Buckets, labels []string) string {
	if len(labels) == 0 {
		for label := range b {
			labels = append(labels, label)
		}
		sort.Strings(labels)
	}
	parts := make([]string, 0, len(b))
	for _, label := range labels {
		if n := len(b[label]); n > 0 {
			parts = append(parts, fmt.Sprintf("%s: %d", label, n))
		}
	}
	return strings.Join(parts, ", ")
}

func listWithMore(items []string, limit int) string {
	if len(items) <= limit {
		return strings.Join(items, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(items[:limit], ", "), len(items)-limit)
}

func percent(part, total int) string {
	return fmt.Sprintf("%.1f%%", 100*float64(part)/float64(total))
}
