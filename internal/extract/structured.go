package extract

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// Kind selects the artifact [Structured] looks for.
type Kind int

const (
	// KindJSON is the first balanced, valid JSON object.
	KindJSON Kind = iota
	// KindSQL is the first SELECT or WITH statement.
	KindSQL
)

// String returns the kind name for logs.
func (k Kind) String() string {
	switch k {
	case KindJSON:
		return "json"
	case KindSQL:
		return "sql"
	default:
		return "unknown"
	}
}

// ErrNotFound is returned when no artifact of the requested kind exists
// in the text. It is never converted into an empty result.
var ErrNotFound = errors.New("extract: no structured content found")

// Structured strips reasoning from text and returns the first artifact
// of the given kind.
func Structured(text string, kind Kind) (string, error) {
	text = StripReasoning(text)

	var found string
	switch kind {
	case KindJSON:
		found = firstJSONObject(text)
	case KindSQL:
		found = firstSQLStatement(text)
	}
	if found == "" {
		return "", ErrNotFound
	}
	return found, nil
}

// firstJSONObject scans for '{' and returns the first balanced span that
// also parses as JSON. Braces inside string literals are ignored.
func firstJSONObject(text string) string {
	for start := strings.IndexByte(text, '{'); start != -1; {
		if end := matchBrace(text, start); end != -1 {
			candidate := text[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next == -1 {
			break
		}
		start += next + 1
	}
	return ""
}

// matchBrace returns the index of the '}' closing the '{' at start, or -1.
func matchBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

var (
	sqlFence    = regexp.MustCompile("(?is)```\\s*(?:sql|postgresql|postgres|sqlite)?\\s*\\n(.*?)```")
	selectStart = regexp.MustCompile(`(?i)\bSELECT\s`)
	withStart   = regexp.MustCompile(`(?i)\bWITH\s+(?:RECURSIVE\s+)?(?:"[^"]+"|[A-Za-z_]\w*)\s*(?:\([^)]*\)\s*)?AS\s*(?:NOT\s+)?(?:MATERIALIZED\s*)?\(`)
)

// firstSQLStatement prefers a fenced code block whose body starts with
// SELECT or WITH, then falls back to the earliest statement in the text.
func firstSQLStatement(text string) string {
	for _, m := range sqlFence.FindAllStringSubmatch(text, -1) {
		if stmt := statementFrom(m[1]); stmt != "" {
			return stmt
		}
	}
	return statementFrom(text)
}

func statementFrom(text string) string {
	start := -1
	if loc := selectStart.FindStringIndex(text); loc != nil {
		start = loc[0]
	}
	if loc := withStart.FindStringIndex(text); loc != nil && (start == -1 || loc[0] < start) {
		start = loc[0]
	}
	if start == -1 {
		return ""
	}
	return strings.TrimSpace(text[start:statementEnd(text, start)])
}

// statementEnd finds where the statement beginning at start stops: a
// semicolon outside quotes, a closing code fence, a blank line, or the
// end of text. The semicolon itself is excluded.
func statementEnd(text string, start int) int {
	var quote byte
	for i := start; i < len(text); i++ {
		c := text[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case ';':
			return i
		case '`':
			if strings.HasPrefix(text[i:], "```") {
				return i
			}
		case '\n':
			if rest := text[i+1:]; strings.HasPrefix(strings.TrimLeft(rest, " \t\r"), "\n") {
				return i
			}
		}
	}
	return len(text)
}
