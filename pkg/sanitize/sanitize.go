// Package sanitize neutralizes attacker-controlled text before it reaches a
// terminal or a table cell. Request paths and user agents in access logs are
// arbitrary bytes; an embedded escape sequence could otherwise repaint or
// clear the operator's screen.
package sanitize

import (
	"strings"
	"unicode/utf8"
)

const DefaultMaxDisplayLength = 256

const ellipsis = "..."

// Terminal replaces control characters with visible markers. CSI escape
// sequences are consumed whole and rendered as [ESC]. Tabs and newlines become
// spaces. Invalid UTF-8 bytes become U+FFFD.
func Terminal(s string) string {
	if isClean(s) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == 0x1B:
			i++
			if i < len(s) && s[i] == '[' {
				i++
				for i < len(s) && !isCSITerminator(s[i]) {
					i++
				}
				if i < len(s) {
					i++
				}
			}
			b.WriteString("[ESC]")
			continue
		case c == '\t' || c == '\n':
			b.WriteByte(' ')
		case c == '\r':
			b.WriteString("[CR]")
		case c == 0x7F:
			b.WriteString("[DEL]")
		case c < 0x20:
			b.WriteString("[CTRL]")
		case c < utf8.RuneSelf:
			b.WriteByte(c)
		default:
			r, size := utf8.DecodeRuneInString(s[i:])
			b.WriteRune(r)
			i += size
			continue
		}
		i++
	}

	return b.String()
}

// Truncate shortens s to at most maxRunes runes, ending in "..." when cut.
// maxRunes <= 0 disables truncation.
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	if maxRunes <= len(ellipsis) {
		return string([]rune(s)[:maxRunes])
	}
	return string([]rune(s)[:maxRunes-len(ellipsis)]) + ellipsis
}

// Cell prepares a value for a console table: sanitized, then truncated.
// Empty values render as "-".
func Cell(s string, maxRunes int) string {
	if s == "" {
		return "-"
	}
	return Truncate(Terminal(s), maxRunes)
}

// IP keeps only characters that can appear in an IPv4 or IPv6 literal.
func IP(ip string) string {
	var b strings.Builder
	b.Grow(len(ip))
	for i := 0; i < len(ip); i++ {
		c := ip[i]
		if (c >= '0' && c <= '9') || c == '.' || c == ':' ||
			(c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
			b.WriteByte(c)
		}
	}
	if b.Len() == 0 {
		return "[INVALID]"
	}
	return b.String()
}

func isClean(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 || c == 0x7F || c >= utf8.RuneSelf {
			if c >= utf8.RuneSelf {
				return utf8.ValidString(s[i:]) && !hasControl(s[i:])
			}
			return false
		}
	}
	return true
}

func hasControl(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] == 0x7F {
			return true
		}
	}
	return false
}

func isCSITerminator(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || c == '@' || c == '`'
}
