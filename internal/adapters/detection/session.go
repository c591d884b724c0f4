package detection

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/xoelrdgz/logsift/internal/domain"
)

const DefaultSessionTimeout = 30 * time.Minute

type SessionKey string

const (
	SessionKeyIP          SessionKey = "ip"
	SessionKeyIPUserAgent SessionKey = "ip_ua"
)

func ParseSessionKey(s string) (SessionKey, error) {
	switch SessionKey(strings.ToLower(strings.TrimSpace(s))) {
	case "", SessionKeyIP:
		return SessionKeyIP, nil
	case SessionKeyIPUserAgent:
		return SessionKeyIPUserAgent, nil
	}
	return "", fmt.Errorf("unknown session key %q (want %q or %q)", s, SessionKeyIP, SessionKeyIPUserAgent)
}

// keySeparator cannot appear in an address captured by the built-in grammars.
const keySeparator = "|"

type SessionReconstructor struct {
	Timeout time.Duration
	Key     SessionKey
}

func NewSessionReconstructor(timeout time.Duration, key SessionKey) SessionReconstructor {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	if key == "" {
		key = SessionKeyIP
	}
	return SessionReconstructor{Timeout: timeout, Key: key}
}

func (s SessionReconstructor) keyOf(r *domain.LogRecord) string {
	if s.Key == SessionKeyIPUserAgent {
		return r.RemoteAddr + keySeparator + r.UserAgent
	}
	return r.RemoteAddr
}

// Reconstruct splits timestamped records into sessions and tallies the
// endpoint transitions inside each one.
//
// Groups are visited in lexicographic key order and session IDs are assigned
// in that order starting at 1. A gap strictly greater than Timeout starts a
// new session.
func (s SessionReconstructor) Reconstruct(records []domain.LogRecord) ([]domain.Session, domain.TransitionTally) {
	groups := groupTimestamped(records, s.keyOf)

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sessions []domain.Session
	tally := make(domain.TransitionTally)
	nextID := 1

	for _, key := range keys {
		group := groups[key]
		var cur *domain.Session

		for i := range group {
			rec := &group[i]
			if cur == nil || rec.OccurredAt.Sub(cur.End) > s.Timeout {
				if cur != nil {
					sessions = append(sessions, *cur)
				}
				cur = &domain.Session{
					ID:    nextID,
					Key:   key,
					IP:    rec.RemoteAddr,
					Start: rec.OccurredAt,
				}
				if s.Key == SessionKeyIPUserAgent {
					cur.UserAgent = rec.UserAgent
				}
				nextID++
			} else {
				prev := cur.Endpoints[len(cur.Endpoints)-1]
				tally[domain.Transition{From: prev, To: rec.Path}]++
			}
			cur.End = rec.OccurredAt
			cur.Endpoints = append(cur.Endpoints, rec.Path)
		}
		if cur != nil {
			sessions = append(sessions, *cur)
		}
	}

	return sessions, tally
}

const (
	pageRankDamping   = 0.85
	pageRankTolerance = 1e-8
	pageRankPrecision = 1e4
)

// EndpointRank scores endpoints by weighted PageRank over the transition
// graph, where each edge weight is the transition count. Self-transitions
// are ignored. Scores are rounded to four decimals and ordered by score
// descending, then endpoint. n <= 0 returns every endpoint.
func EndpointRank(tally domain.TransitionTally, n int) []domain.EndpointScore {
	if len(tally) == 0 {
		return nil
	}

	names := make(map[string]struct{})
	for tr := range tally {
		names[tr.From] = struct{}{}
		names[tr.To] = struct{}{}
	}
	endpoints := make([]string, 0, len(names))
	for name := range names {
		endpoints = append(endpoints, name)
	}
	sort.Strings(endpoints)

	ids := make(map[string]int64, len(endpoints))
	g := simple.NewWeightedDirectedGraph(0, 0)
	for i, name := range endpoints {
		ids[name] = int64(i)
		g.AddNode(simple.Node(i))
	}
	for tr, count := range tally {
		if tr.From == tr.To {
			continue
		}
		g.SetWeightedEdge(g.NewWeightedEdge(simple.Node(ids[tr.From]), simple.Node(ids[tr.To]), float64(count)))
	}

	ranks := network.PageRank(g, pageRankDamping, pageRankTolerance)

	out := make([]domain.EndpointScore, 0, len(endpoints))
	for _, name := range endpoints {
		out = append(out, domain.EndpointScore{
			Endpoint: name,
			Score:    math.Round(ranks[ids[name]]*pageRankPrecision) / pageRankPrecision,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
