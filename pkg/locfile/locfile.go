// Package locfile parses the CK3 localization dialect (SPEC_FULL.md §3.8):
// a `language:` header line followed by ` key:N "value"` entries, with the
// same backslash escapes as Paradox script strings. It is a distinct, small
// parser from pkg/script — the localization grammar never nests and never
// needs blocks, lists, or operators.
package locfile

import (
	"fmt"
	"strconv"
	"strings"
)

// Entry is one parsed localization line.
type Entry struct {
	Key        string
	Version    int
	RawValue   string
	PlainValue string
	Line       int
}

// File is a parsed localization document: one language, many entries.
type File struct {
	Language string
	Entries  []Entry
}

// Parse parses src as a CK3 .yml localization file. The first non-blank
// line must be the language header (e.g. "l_english:"); every following
// non-blank line is a "key:version \"value\"" entry. Malformed entry lines
// are skipped rather than aborting the whole file, since one bad line in a
// 10,000-line vanilla localization file shouldn't lose the rest.
func Parse(filename, src string) (*File, error) {
	lines := strings.Split(src, "\n")

	f := &File{}
	headerFound := false

	for i, raw := range lines {
		lineNo := i + 1
		line := strings.TrimRight(raw, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		if !headerFound {
			lang := strings.TrimSuffix(trimmed, ":")
			if lang == "" || lang == trimmed {
				return nil, fmt.Errorf("locfile: %s:%d: expected language header, got %q", filename, lineNo, trimmed)
			}
			f.Language = lang
			headerFound = true
			continue
		}

		entry, ok := parseEntryLine(trimmed, lineNo)
		if !ok {
			continue
		}
		f.Entries = append(f.Entries, entry)
	}

	if !headerFound {
		return nil, fmt.Errorf("locfile: %s: missing language header", filename)
	}
	return f, nil
}

// parseEntryLine parses "key:version \"value\"" or "key:\"value\"" (version
// defaults to 0 when omitted).
func parseEntryLine(line string, lineNo int) (Entry, bool) {
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return Entry{}, false
	}
	key := strings.TrimSpace(line[:colon])
	if key == "" {
		return Entry{}, false
	}
	rest := strings.TrimSpace(line[colon+1:])

	version := 0
	if len(rest) > 0 && rest[0] != '"' {
		end := strings.IndexByte(rest, ' ')
		if end < 0 {
			return Entry{}, false
		}
		verStr := rest[:end]
		if n, err := strconv.Atoi(verStr); err == nil {
			version = n
		}
		rest = strings.TrimSpace(rest[end:])
	}

	if len(rest) < 2 || rest[0] != '"' {
		return Entry{}, false
	}
	rawValue, ok := readQuoted(rest)
	if !ok {
		return Entry{}, false
	}

	return Entry{
		Key:        key,
		Version:    version,
		RawValue:   rawValue,
		PlainValue: stripMarkup(unescape(rawValue)),
		Line:       lineNo,
	}, true
}

// readQuoted extracts the contents of a double-quoted string starting at
// s[0] == '"', stopping at the first unescaped closing quote. Escapes are
// left intact (not interpreted) here — RawValue is the literal quoted text;
// unescape() resolves \n/\"/\\ separately to produce PlainValue.
func readQuoted(s string) (string, bool) {
	var b strings.Builder
	i := 1
	for i < len(s) {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			b.WriteByte(c)
			b.WriteByte(s[i+1])
			i += 2
			continue
		}
		if c == '"' {
			return b.String(), true
		}
		b.WriteByte(c)
		i++
	}
	return "", false
}

// unescape resolves the same backslash escapes as Paradox script strings
// (\n, \", \\) in a single pass, so a literal "\\n" in source doesn't get
// double-unescaped into a newline.
func unescape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 'n':
				b.WriteByte('\n')
			case '"':
				b.WriteByte('"')
			case '\\':
				b.WriteByte('\\')
			default:
				b.WriteByte(s[i+1])
			}
			i++
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// stripMarkup removes CK3's bracketed scripted-value/concept references
// ([GetTitle], [Concept|E]) down to a plain-text reading, per spec.md's
// "extraction, not rendering" scope — interpreting color (#bold ...#!) and
// icon (@icon!) tags is a Non-goal, so they're left in the plain value
// as-is rather than guessed at.
func stripMarkup(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '[' {
			if end := strings.IndexByte(s[i+1:], ']'); end >= 0 {
				i += end + 1
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
