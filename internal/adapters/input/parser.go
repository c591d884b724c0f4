package input

import (
	"strings"
	"time"

	"github.com/xoelrdgz/logsift/internal/domain"
)

const (
	timeLocalLayout = "02/Jan/2006:15:04:05"
	errorTimeLayout = "2006/01/02 15:04:05"
)

type LineParser struct {
	grammar *Grammar
}

// NewLineParser selects a grammar by name, or compiles custom when it is
// non-empty. Custom patterns take precedence over the name.
func NewLineParser(registry *GrammarRegistry, name, custom string) (*LineParser, error) {
	if custom != "" {
		g, err := CompileGrammar(GrammarCustom, custom)
		if err != nil {
			return nil, err
		}
		return &LineParser{grammar: g}, nil
	}
	if registry == nil {
		registry = NewGrammarRegistry()
	}
	if name == "" {
		name = GrammarDefault
	}
	g, err := registry.Get(name)
	if err != nil {
		return nil, err
	}
	return &LineParser{grammar: g}, nil
}

func NewDefaultLineParser() *LineParser {
	p, _ := NewLineParser(nil, GrammarDefault, "")
	return p
}

func (p *LineParser) Parse(line string) (domain.LogRecord, error) {
	fields, ok := p.grammar.Match(strings.TrimSpace(line))
	if !ok {
		return domain.LogRecord{}, ErrNoMatch
	}

	rec := domain.LogRecord{
		RemoteAddr: fields[domain.FieldRemoteAddr],
		RemoteUser: fields[domain.FieldRemoteUser],
		Referer:    fields[domain.FieldReferer],
		UserAgent:  fields[domain.FieldUserAgent],
		Fields:     fields,
	}

	if ts, ok := fields[domain.FieldTimeLocal]; ok {
		rec.TimeLocal = ts
		rec.OccurredAt = parseTimeLocal(ts)
	} else if ts, ok := fields["time"]; ok {
		rec.TimeLocal = ts
		if t, err := time.Parse(errorTimeLayout, ts); err == nil {
			rec.OccurredAt = t
		}
	}

	if req, ok := fields[domain.FieldRequest]; ok {
		rec.RawRequest = req
		rec.Method, rec.Path, rec.Protocol = splitRequest(req)
	}

	if s, ok := fields[domain.FieldStatus]; ok {
		rec.Status = domain.ParseNumericField(s)
	}
	if s, ok := fields[domain.FieldBodyBytesSent]; ok {
		rec.BodyBytesSent = domain.ParseNumericField(s)
	}

	return rec, nil
}

func (p *LineParser) Grammar() string {
	return p.grammar.Name
}

// parseTimeLocal ignores the zone offset. A zero time means the raw value
// must be used instead.
func parseTimeLocal(s string) time.Time {
	tok := strings.Fields(s)
	if len(tok) == 0 {
		return time.Time{}
	}
	t, err := time.Parse(timeLocalLayout, tok[0])
	if err != nil {
		return time.Time{}
	}
	return t
}

func splitRequest(req string) (method, path, protocol string) {
	parts := strings.Fields(req)
	switch {
	case len(parts) >= 3:
		return parts[0], parts[1], parts[2]
	case len(parts) == 2:
		return parts[0], parts[1], ""
	default:
		return req, "", ""
	}
}
