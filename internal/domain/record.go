package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const (
	MaxLineLength = 1 << 20

	DateTimeLayout = "2006-01-02T15:04:05"
	ExportLayout   = "2006-01-02 15:04:05"
)

// Canonical field names accepted by LogRecord.Field.
const (
	FieldRemoteAddr    = "remote_addr"
	FieldRemoteUser    = "remote_user"
	FieldTimeLocal     = "time_local"
	FieldRequest       = "request"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldProtocol      = "protocol"
	FieldStatus        = "status"
	FieldBodyBytesSent = "body_bytes_sent"
	FieldReferer       = "http_referer"
	FieldUserAgent     = "http_user_agent"
	FieldDatetime      = "datetime"
)

type NumericField struct {
	raw   string
	value int
	ok    bool
}

func ParseNumericField(raw string) NumericField {
	f := NumericField{raw: raw}
	if raw == "" {
		return f
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] < '0' || raw[i] > '9' {
			return f
		}
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return f
	}
	f.value = v
	f.ok = true
	return f
}

func IntField(v int) NumericField {
	return NumericField{raw: strconv.Itoa(v), value: v, ok: true}
}

// Int returns the numeric value, or 0 when the capture was absent or non-numeric.
func (f NumericField) Int() int {
	return f.value
}

func (f NumericField) IsNumeric() bool {
	return f.ok
}

func (f NumericField) String() string {
	return f.raw
}

func (f NumericField) MarshalJSON() ([]byte, error) {
	if f.ok {
		return []byte(strconv.Itoa(f.value)), nil
	}
	return json.Marshal(f.raw)
}

type LogRecord struct {
	RemoteAddr    string
	RemoteUser    string
	TimeLocal     string
	OccurredAt    time.Time
	RawRequest    string
	Method        string
	Path          string
	Protocol      string
	Status        NumericField
	BodyBytesSent NumericField
	Referer       string
	UserAgent     string

	Fields map[string]string
}

func (r *LogRecord) HasTimestamp() bool {
	return !r.OccurredAt.IsZero()
}

// Datetime returns the normalized timestamp, or the raw captured value when it
// could not be parsed.
func (r *LogRecord) Datetime() string {
	if r.HasTimestamp() {
		return r.OccurredAt.Format(DateTimeLayout)
	}
	return r.TimeLocal
}

func (r *LogRecord) Field(name string) (string, bool) {
	switch name {
	case FieldRemoteAddr:
		return r.RemoteAddr, true
	case FieldRemoteUser:
		return r.RemoteUser, true
	case FieldTimeLocal:
		return r.TimeLocal, true
	case FieldRequest:
		return r.RawRequest, true
	case FieldMethod:
		return r.Method, true
	case FieldPath:
		return r.Path, true
	case FieldProtocol:
		return r.Protocol, true
	case FieldStatus:
		return r.Status.String(), true
	case FieldBodyBytesSent:
		return r.BodyBytesSent.String(), true
	case FieldReferer:
		return r.Referer, true
	case FieldUserAgent:
		return r.UserAgent, true
	case FieldDatetime:
		return r.Datetime(), true
	}
	v, ok := r.Fields[name]
	return v, ok
}

// FieldNames lists every field the record can resolve, canonical names first.
func (r *LogRecord) FieldNames() []string {
	names := []string{
		FieldRemoteAddr, FieldRemoteUser, FieldTimeLocal, FieldRequest,
		FieldMethod, FieldPath, FieldProtocol, FieldStatus, FieldBodyBytesSent,
		FieldReferer, FieldUserAgent, FieldDatetime,
	}
	for k := range r.Fields {
		if !isCanonicalField(k) {
			names = append(names, k)
		}
	}
	return names
}

func isCanonicalField(name string) bool {
	switch name {
	case FieldRemoteAddr, FieldRemoteUser, FieldTimeLocal, FieldRequest,
		FieldMethod, FieldPath, FieldProtocol, FieldStatus, FieldBodyBytesSent,
		FieldReferer, FieldUserAgent, FieldDatetime:
		return true
	}
	return false
}

// NormalizedPath strips the query string.
func (r *LogRecord) NormalizedPath() string {
	if idx := strings.IndexByte(r.Path, '?'); idx >= 0 {
		return r.Path[:idx]
	}
	return r.Path
}

type recordJSON struct {
	RemoteAddr    string            `json:"remote_addr"`
	RemoteUser    string            `json:"remote_user"`
	TimeLocal     string            `json:"time_local"`
	Request       string            `json:"request"`
	Status        NumericField      `json:"status"`
	BodyBytesSent NumericField      `json:"body_bytes_sent"`
	Referer       string            `json:"http_referer"`
	UserAgent     string            `json:"http_user_agent"`
	Datetime      string            `json:"datetime"`
	Method        string            `json:"method"`
	Path          string            `json:"path"`
	Protocol      string            `json:"protocol"`
	Extra         map[string]string `json:"fields,omitempty"`
}

func (r LogRecord) MarshalJSON() ([]byte, error) {
	var extra map[string]string
	for k, v := range r.Fields {
		if isCanonicalField(k) {
			continue
		}
		if extra == nil {
			extra = make(map[string]string)
		}
		extra[k] = v
	}
	return json.Marshal(recordJSON{
		RemoteAddr:    r.RemoteAddr,
		RemoteUser:    r.RemoteUser,
		TimeLocal:     r.TimeLocal,
		Request:       r.RawRequest,
		Status:        r.Status,
		BodyBytesSent: r.BodyBytesSent,
		Referer:       r.Referer,
		UserAgent:     r.UserAgent,
		Datetime:      r.Datetime(),
		Method:        r.Method,
		Path:          r.Path,
		Protocol:      r.Protocol,
		Extra:         extra,
	})
}

// Batch is the parsed content of one input, in arrival order.
type Batch struct {
	Records []LogRecord
	Lines   int
	Failed  int
}

func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Records)
}

// Timestamped returns the records whose timestamp parsed, preserving order.
func Timestamped(records []LogRecord) []LogRecord {
	out := make([]LogRecord, 0, len(records))
	for i := range records {
		if records[i].HasTimestamp() {
			out = append(out, records[i])
		}
	}
	return out
}
