// Package pattern compiles glob-style permission patterns into matchers.
//
// A pattern is literal text in which "*" matches any run of characters
// (including none). Every other regex metacharacter is taken literally.
// Matching is case-insensitive and always covers the whole input,
// newlines included.
package pattern

import (
	"regexp"
	"strings"
)

// Matcher is a compiled permission pattern. Safe for concurrent use.
type Matcher struct {
	source string
	re     *regexp.Regexp
}

// Compile turns a glob-style pattern into a Matcher.
// Any string is a valid pattern, so Compile never fails.
func Compile(p string) *Matcher {
	return &Matcher{source: p, re: regexp.MustCompile(toRegex(p))}
}

// Match reports whether input matches the whole pattern.
func (m *Matcher) Match(input string) bool {
	return m.re.MatchString(input)
}

// String returns the source pattern.
func (m *Matcher) String() string {
	return m.source
}

// Regex returns the compiled expression, for diagnostics.
func (m *Matcher) Regex() string {
	return m.re.String()
}

// toRegex escapes the pattern and restores * as .* anchored on both ends.
// The s flag lets * run across newlines in multi-line input.
func toRegex(p string) string {
	escaped := regexp.QuoteMeta(p)
	escaped = strings.ReplaceAll(escaped, `\*`, ".*")
	return "(?is)^" + escaped + "$"
}
