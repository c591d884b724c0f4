package detection

import (
	"regexp"

	"github.com/xoelrdgz/logsift/internal/domain"
	"github.com/xoelrdgz/logsift/pkg/ahocorasick"
)

// Rule is one labelled predicate. Within a Classifier, rules are evaluated in
// order and the first match decides the record's bucket.
type Rule struct {
	Label string
	Match func(*domain.LogRecord) bool
}

type Classifier struct {
	rules []Rule
	// first, when set, returns the index of the first matching rule or -1.
	first func(*domain.LogRecord) int
	any   func(*domain.LogRecord) bool
}

func NewClassifier(rules ...Rule) *Classifier {
	return &Classifier{rules: rules}
}

// NewKeywordClassifier builds one rule per keyword, matched as an ASCII
// case-insensitive substring of field. Labels are resolved in one pass of an
// Aho-Corasick automaton: the lowest matching keyword index is the first rule
// that would match.
func NewKeywordClassifier(field func(*domain.LogRecord) string, keywords []string) *Classifier {
	rules := make([]Rule, 0, len(keywords))
	for _, kw := range keywords {
		needle := foldASCII(kw)
		rules = append(rules, Rule{
			Label: kw,
			Match: func(r *domain.LogRecord) bool {
				return containsFold(field(r), needle)
			},
		})
	}

	matcher := ahocorasick.New(keywords)
	return &Classifier{
		rules: rules,
		first: func(r *domain.LogRecord) int {
			return matcher.FirstIndex(field(r))
		},
		any: func(r *domain.LogRecord) bool {
			return matcher.Match(field(r))
		},
	}
}

// Labels returns the rule labels in evaluation order.
func (c *Classifier) Labels() []string {
	out := make([]string, len(c.rules))
	for i, r := range c.rules {
		out[i] = r.Label
	}
	return out
}

// Label returns the label of the first matching rule.
func (c *Classifier) Label(rec *domain.LogRecord) (string, bool) {
	if c.first != nil {
		i := c.first(rec)
		if i < 0 {
			return "", false
		}
		return c.rules[i].Label, true
	}
	for _, rule := range c.rules {
		if rule.Match(rec) {
			return rule.Label, true
		}
	}
	return "", false
}

// Matches reports whether any rule matches rec, without resolving the label.
func (c *Classifier) Matches(rec *domain.LogRecord) bool {
	if c.any != nil {
		return c.any(rec)
	}
	_, ok := c.Label(rec)
	return ok
}

// Classify groups records by the first matching rule. Each record appears in
// at most one bucket; labels without matches are absent.
func (c *Classifier) Classify(records []domain.LogRecord) domain.Buckets {
	out := make(domain.Buckets)
	for i := range records {
		if label, ok := c.Label(&records[i]); ok {
			out[label] = append(out[label], records[i])
		}
	}
	return out
}

var SuspiciousAgentKeywords = []string{
	"sqlmap", "nikto", "nmap", "scanner", "crawler", "bot",
	"python-requests", "curl", "wget", "apache-httpclient",
}

var SensitivePathKeywords = []string{
	"/admin", "/login", "/wp-admin", "/phpmyadmin", "/config", "/.env",
	"/.git", "/backup", "/api/", "/debug", "/console",
}

func SuspiciousAgentClassifier() *Classifier {
	return NewKeywordClassifier(func(r *domain.LogRecord) string { return r.UserAgent }, SuspiciousAgentKeywords)
}

func SensitivePathClassifier() *Classifier {
	return NewKeywordClassifier(func(r *domain.LogRecord) string { return r.Path }, SensitivePathKeywords)
}

type injectionSignature struct {
	label string
	re    *regexp.Regexp
}

var injectionSignatures = []injectionSignature{
	{"union_select", regexp.MustCompile(`(?i)union\s+select`)},
	{"select_from", regexp.MustCompile(`(?i)select.+from`)},
	{"tautology", regexp.MustCompile(`(?i)or\s+1=1`)},
	{"comment", regexp.MustCompile(`--|;|/\*|\*/`)},
	{"drop_table", regexp.MustCompile(`(?i)drop\s+table`)},
	{"sleep", regexp.MustCompile(`(?i)sleep\(`)},
	{"xp_cmd", regexp.MustCompile(`(?i)xp_`)},
	{"quote", regexp.MustCompile(`%27|'`)},
}

// InjectionClassifier matches SQL injection signatures against the raw
// request line.
func InjectionClassifier() *Classifier {
	rules := make([]Rule, 0, len(injectionSignatures))
	for _, sig := range injectionSignatures {
		re := sig.re
		rules = append(rules, Rule{
			Label: sig.label,
			Match: func(r *domain.LogRecord) bool {
				return re.MatchString(r.RawRequest)
			},
		})
	}
	return NewClassifier(rules...)
}

func foldASCII(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			b := []byte(s)
			for j := i; j < len(b); j++ {
				if b[j] >= 'A' && b[j] <= 'Z' {
					b[j] += 'a' - 'A'
				}
			}
			return string(b)
		}
	}
	return s
}

// containsFold reports whether needle, already lower-case, occurs in s under
// ASCII case folding.
func containsFold(s, needle string) bool {
	n := len(needle)
	if n == 0 {
		return true
	}
	for i := 0; i+n <= len(s); i++ {
		j := 0
		for ; j < n; j++ {
			c := s[i+j]
			if c >= 'A' && c <= 'Z' {
				c += 'a' - 'A'
			}
			if c != needle[j] {
				break
			}
		}
		if j == n {
			return true
		}
	}
	return false
}
