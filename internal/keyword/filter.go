// Package keyword compiles the tracked keyword list into a matcher set and
// tests post text against it.
package keyword

import (
	"fmt"
	"regexp"
	"strings"
)

// PatternSet maps each tracked keyword, in its stored case, to its compiled
// matcher. It is immutable once built: a keyword list change is handled by
// compiling a fresh set and swapping it in, never by patching entries.
type PatternSet map[string]*regexp.Regexp

// Compile builds one pattern per keyword. A keyword matches as the prefix of
// a word: it must be preceded by start-of-text or a non-word character and
// may be followed by further word characters, so "test" matches "testing"
// and "the test" but not "retest". The boundary class is spelled out because
// RE2's \W is ASCII-only and accented letters must count as word characters.
// Matching is case-insensitive; patterns are built from the lower-cased
// keyword and tested against lower-cased text.
func Compile(keywords map[string]struct{}) (PatternSet, error) {
	patterns := make(PatternSet, len(keywords))
	for kw := range keywords {
		expr := `(?:^|[^\p{L}\p{N}_])` + regexp.QuoteMeta(strings.ToLower(kw)) + `\w*`
		pattern, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile keyword %q: %w", kw, err)
		}
		patterns[kw] = pattern
	}
	return patterns, nil
}

// Match returns the set of keywords whose pattern fires anywhere in text,
// keyed by the keyword's stored case. It returns nil, never an empty set,
// when the pattern set is empty, the text is empty, or nothing matches;
// callers rely on nil meaning "drop this message".
func (ps PatternSet) Match(text string) map[string]struct{} {
	if len(ps) == 0 || text == "" {
		return nil
	}

	lower := strings.ToLower(text)
	var matched map[string]struct{}
	for kw, pattern := range ps {
		if pattern.MatchString(lower) {
			if matched == nil {
				matched = make(map[string]struct{})
			}
			matched[kw] = struct{}{}
		}
	}
	return matched
}
