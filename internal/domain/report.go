package domain

import (
	"sort"
	"time"
)

type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type FrequencyTable map[string]int

func (t FrequencyTable) Total() int {
	total := 0
	for _, c := range t {
		total += c
	}
	return total
}

// Top returns the n largest entries by count, ties broken by key. n <= 0
// returns every entry.
func (t FrequencyTable) Top(n int) []Count {
	out := make([]Count, 0, len(t))
	for k, c := range t {
		out = append(out, Count{Key: k, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Buckets maps a classifier label to the records it matched.
type Buckets map[string][]LogRecord

func (b Buckets) Total() int {
	total := 0
	for _, recs := range b {
		total += len(recs)
	}
	return total
}

func (b Buckets) Counts() FrequencyTable {
	out := make(FrequencyTable, len(b))
	for label, recs := range b {
		out[label] = len(recs)
	}
	return out
}

type BurstHit struct {
	Record  LogRecord `json:"record"`
	Elapsed float64   `json:"elapsed_seconds"`
}

type BurstWindow struct {
	IP    string     `json:"ip"`
	Start time.Time  `json:"start"`
	Hits  []BurstHit `json:"hits"`
}

func (w BurstWindow) Len() int {
	return len(w.Hits)
}

type Session struct {
	ID        int       `json:"id"`
	Key       string    `json:"key"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent,omitempty"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Endpoints []string  `json:"endpoints"`
}

func (s Session) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

type Transition struct {
	From string
	To   string
}

type TransitionCount struct {
	From  string `json:"source"`
	To    string `json:"target"`
	Count int    `json:"value"`
}

type TransitionTally map[Transition]int

func (t TransitionTally) Sorted() []TransitionCount {
	out := make([]TransitionCount, 0, len(t))
	for tr, c := range t {
		out = append(out, TransitionCount{From: tr.From, To: tr.To, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

type EndpointScore struct {
	Endpoint string  `json:"endpoint"`
	Score    float64 `json:"score"`
}

var StatusClasses = []string{"2xx", "3xx", "4xx", "5xx"}

type StatusBuckets map[string]int

func (b StatusBuckets) Total() int {
	total := 0
	for _, class := range StatusClasses {
		total += b[class]
	}
	return total
}

type MinuteCount struct {
	Minute time.Time `json:"minute"`
	Count  int       `json:"count"`
}

type BotHumanCount struct {
	Minute time.Time `json:"minute"`
	Bot    int       `json:"bot"`
	Human  int       `json:"human"`
}

type BytesStats struct {
	Total   int64   `json:"total"`
	Average float64 `json:"average"`
	Max     int     `json:"max"`
}

type ErrorPath struct {
	Path     string      `json:"path"`
	Total    int         `json:"total"`
	ByStatus map[int]int `json:"by_status"`
}

type GeoLocation struct {
	Status  string  `json:"status"`
	Country string  `json:"country"`
	Region  string  `json:"regionName,omitempty"`
	City    string  `json:"city"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	ISP     string  `json:"isp"`
}

func (g GeoLocation) Resolved() bool {
	return g.Status == "success"
}

type MapMarker struct {
	ID           int     `json:"id"`
	IP           string  `json:"ip"`
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	City         string  `json:"city"`
	Country      string  `json:"country"`
	ISP          string  `json:"isp"`
	RequestCount int     `json:"request_count"`
}

type Report struct {
	GeneratedAt  time.Time `json:"generated_at"`
	TotalRecords int       `json:"total_records"`
	FailedLines  int       `json:"failed_lines"`

	IPCounts           FrequencyTable `json:"ip_counts"`
	UserAgentCounts    FrequencyTable `json:"user_agent_counts"`
	UserAgentDiversity FrequencyTable `json:"user_agent_diversity"`
	HighFrequencyIPs   FrequencyTable `json:"high_frequency_ips"`
	BotLikeIPs         FrequencyTable `json:"bot_like_ips"`
	BlacklistedIPs     []string       `json:"blacklisted_ips"`

	SuspiciousAgents   Buckets                `json:"suspicious_user_agents"`
	SensitiveEndpoints Buckets                `json:"sensitive_endpoints"`
	InjectionAttempts  Buckets                `json:"injection_attempts"`
	Bursts             map[string]BurstWindow `json:"burst_requests"`

	Sessions     []Session         `json:"sessions"`
	Transitions  []TransitionCount `json:"transitions"`
	EndpointRank []EndpointScore   `json:"endpoint_rank"`

	StatusBuckets     StatusBuckets   `json:"status_counts"`
	StatusCodes       FrequencyTable  `json:"status_codes"`
	Methods           FrequencyTable  `json:"method_counts"`
	Paths             FrequencyTable  `json:"path_counts"`
	RequestsPerMinute []MinuteCount   `json:"requests_per_minute"`
	SeriesTruncated   bool            `json:"requests_per_minute_truncated,omitempty"`
	BotVsHuman        []BotHumanCount `json:"bot_vs_human_traffic"`
	RequestsPerHour   [24]int         `json:"requests_per_hour"`
	RequestsPerDay    FrequencyTable  `json:"requests_per_day"`
	Bytes             BytesStats      `json:"bytes_sent"`
	ErrorPaths        []ErrorPath     `json:"error_paths"`

	MapMarkers []MapMarker `json:"map_markers"`
	GeoMisses  int         `json:"geo_misses"`

	Insights []Insight `json:"insights"`
	Summary  string    `json:"summary"`
}
