package input

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
)

var (
	ErrNoMatch        = errors.New("line does not match grammar")
	ErrUnknownGrammar = errors.New("unknown grammar")
	ErrInvalidPattern = errors.New("invalid grammar pattern")
)

const (
	GrammarDefault  = "default"
	GrammarCombined = "combined"
	GrammarError    = "error"
	GrammarCustom   = "custom"
)

const (
	extendedLayout = `(?P<remote_addr>[\d\.]+) - (?P<remote_user>[^ ]*) \[(?P<time_local>.*?)\] "(?P<request>.*?)" (?P<status>\d+) (?P<body_bytes_sent>\d+) "(?P<http_referer>.*?)" "(?P<http_user_agent>.*?)"`
	errorLayout    = `(?P<time>\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2}) \[(?P<level>.*?)\] (?P<pid>\d+)#(?P<tid>\d+): \*(?P<message>.*)`
)

var builtinGrammars = map[string]string{
	GrammarDefault:  extendedLayout,
	GrammarCombined: extendedLayout,
	GrammarError:    errorLayout,
}

// Grammar is a compiled field-extraction pattern. Named groups become record
// fields. Matching is anchored at the start of the line.
type Grammar struct {
	Name    string
	Pattern string
	re      *regexp.Regexp
	names   []string
}

func CompileGrammar(name, pattern string) (*Grammar, error) {
	re, err := regexp.Compile("^(?:" + pattern + ")")
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, name, err)
	}
	return &Grammar{
		Name:    name,
		Pattern: pattern,
		re:      re,
		names:   re.SubexpNames(),
	}, nil
}

func (g *Grammar) Match(line string) (map[string]string, bool) {
	m := g.re.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}
	fields := make(map[string]string, len(m))
	for i, name := range g.names {
		if i == 0 || name == "" {
			continue
		}
		fields[name] = m[i]
	}
	return fields, true
}

// Fields lists the named captures of the grammar in pattern order.
func (g *Grammar) Fields() []string {
	out := make([]string, 0, len(g.names))
	for _, name := range g.names {
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

type GrammarRegistry struct {
	mu       sync.RWMutex
	grammars map[string]*Grammar
}

func NewGrammarRegistry() *GrammarRegistry {
	r := &GrammarRegistry{grammars: make(map[string]*Grammar, len(builtinGrammars))}
	for name, pattern := range builtinGrammars {
		g, err := CompileGrammar(name, pattern)
		if err != nil {
			panic(err)
		}
		r.grammars[name] = g
	}
	return r
}

func (r *GrammarRegistry) Register(name, pattern string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidPattern)
	}
	g, err := CompileGrammar(name, pattern)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.grammars[name] = g
	r.mu.Unlock()
	return nil
}

func (r *GrammarRegistry) Get(name string) (*Grammar, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.grammars[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGrammar, name)
	}
	return g, nil
}

func (r *GrammarRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.grammars))
	for name := range r.grammars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
