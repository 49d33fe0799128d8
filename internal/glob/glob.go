// Package glob translates shell-style glob patterns into anchored regular
// expressions usable both for direct path matching and for embedding in a
// SQL REGEXP clause.
//
// Supported syntax:
//
//	?   matches any single character except '/'
//	*   matches zero or more characters except '/'
//	**  matches zero or more characters, including '/'
//	**/ matches zero or more leading directories
//
// So "*.txt" matches "example.txt" but not "child/example.txt", while
// "**.txt" or "**/*.txt" matches both. "ex??.txt" matches "exam.txt" but
// not "example.txt"; "ex??*.txt" matches both "exam.txt" and
// "example.txt" but not "exam/sample.txt" since "*" never crosses "/".
package glob

import (
	"fmt"
	"regexp"
	"strings"
)

// Glob is a compiled glob pattern.
type Glob struct {
	Raw string
	re  *regexp.Regexp
}

// Compile translates pattern and returns a matcher, or an error if the
// pattern is malformed.
func Compile(pattern string) (*Glob, error) {
	re, err := Translate(pattern)
	if err != nil {
		return nil, err
	}
	return &Glob{Raw: pattern, re: re}, nil
}

// Match reports whether path satisfies the pattern. Backslashes in path
// are normalized to '/' first so patterns behave the same on every
// platform.
func (g *Glob) Match(path string) bool {
	path = strings.ReplaceAll(path, "\\", "/")
	return g.re.MatchString(path)
}

// Translate converts a glob pattern into an anchored *regexp.Regexp.
func Translate(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '\\':
			if i+1 < len(runes) {
				i++
				next := runes[i]
				if next == '\\' {
					b.WriteString("/")
				} else {
					b.WriteString(regexp.QuoteMeta(string(next)))
				}
			} else {
				b.WriteString(regexp.QuoteMeta(string(c)))
			}
		case c == '.':
			b.WriteString(`\.`)
		case c == '?':
			b.WriteString(`[^/]`)
		case c == '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				i++
				if i+1 < len(runes) && runes[i+1] == '/' {
					// "**/" may also match nothing, so "**/*.txt" matches a
					// top-level "a.txt" as well as "a/b/c.txt".
					i++
					b.WriteString("(?:.*/)?")
				} else {
					b.WriteString(".*")
				}
			} else {
				b.WriteString(`[^/]*`)
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("glob: invalid pattern %q: %w", pattern, err)
	}
	return re, nil
}
