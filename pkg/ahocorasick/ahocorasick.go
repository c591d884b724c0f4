// Package ahocorasick implements a multi-keyword matcher built on the
// Aho-Corasick automaton.
//
// Matching is ASCII case-insensitive and runs in O(n + z) for a text of
// length n with z matches, independent of the number of keywords. logsift
// uses it to label records in the user-agent and path keyword classifiers.
//
// A Matcher is immutable after New returns and safe for concurrent use.
package ahocorasick

import "sort"

// Matcher is a compiled keyword automaton. States are stored in a flat slice
// and referenced by index.
type Matcher struct {
	states []state
}

type state struct {
	next map[byte]int32
	fail int32
	out  []int
}

// New compiles the keywords. Empty keywords never match.
func New(patterns []string) *Matcher {
	m := &Matcher{
		states: []state{{next: make(map[byte]int32)}},
	}
	for i, p := range patterns {
		if p == "" {
			continue
		}
		m.insert(p, i)
	}
	m.link()
	return m
}

func (m *Matcher) insert(pattern string, index int) {
	cur := int32(0)
	for i := 0; i < len(pattern); i++ {
		c := fold(pattern[i])
		nxt, ok := m.states[cur].next[c]
		if !ok {
			m.states = append(m.states, state{next: make(map[byte]int32)})
			nxt = int32(len(m.states) - 1)
			m.states[cur].next[c] = nxt
		}
		cur = nxt
	}
	m.states[cur].out = append(m.states[cur].out, index)
}

// link computes failure transitions breadth-first and merges the outputs of
// each state's suffix chain into it.
func (m *Matcher) link() {
	queue := make([]int32, 0, len(m.states))
	for _, child := range m.states[0].next {
		m.states[child].fail = 0
		queue = append(queue, child)
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for c, child := range m.states[cur].next {
			queue = append(queue, child)

			f := m.states[cur].fail
			for f != 0 {
				if _, ok := m.states[f].next[c]; ok {
					break
				}
				f = m.states[f].fail
			}
			if nxt, ok := m.states[f].next[c]; ok && nxt != child {
				m.states[child].fail = nxt
			} else {
				m.states[child].fail = 0
			}
			fo := m.states[m.states[child].fail].out
			if len(fo) > 0 {
				m.states[child].out = append(m.states[child].out, fo...)
			}
		}
	}
}

func (m *Matcher) step(cur int32, c byte) int32 {
	for {
		if nxt, ok := m.states[cur].next[c]; ok {
			return nxt
		}
		if cur == 0 {
			return 0
		}
		cur = m.states[cur].fail
	}
}

// Match reports whether any keyword occurs in text.
func (m *Matcher) Match(text string) bool {
	if len(m.states) == 1 {
		return false
	}
	cur := int32(0)
	for i := 0; i < len(text); i++ {
		cur = m.step(cur, fold(text[i]))
		if len(m.states[cur].out) > 0 {
			return true
		}
	}
	return false
}

// MatchAll returns the indices of every keyword found in text, ascending and
// without duplicates. It returns nil when nothing matches.
func (m *Matcher) MatchAll(text string) []int {
	if len(m.states) == 1 {
		return nil
	}
	var (
		matches []int
		seen    map[int]struct{}
	)
	cur := int32(0)
	for i := 0; i < len(text); i++ {
		cur = m.step(cur, fold(text[i]))
		for _, idx := range m.states[cur].out {
			if seen == nil {
				seen = make(map[int]struct{})
			}
			if _, dup := seen[idx]; dup {
				continue
			}
			seen[idx] = struct{}{}
			matches = append(matches, idx)
		}
	}
	sort.Ints(matches)
	return matches
}

// FirstIndex returns the lowest keyword index found in text, or -1. With
// keywords listed in priority order this is the highest-priority hit,
// regardless of where in the text it occurs.
func (m *Matcher) FirstIndex(text string) int {
	all := m.MatchAll(text)
	if len(all) == 0 {
		return -1
	}
	return all[0]
}

func fold(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}
