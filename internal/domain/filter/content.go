package filter

import (
	"fmt"

	regexp "github.com/wasilibs/go-re2"
)

// ContentFilter keeps a document only when its extracted text matches every
// configured regular expression.
type ContentFilter struct {
	patterns []*regexp.Regexp
}

// NewContentFilter compiles patterns. An empty list matches everything.
func NewContentFilter(patterns []string) (*ContentFilter, error) {
	f := &ContentFilter{patterns: make([]*regexp.Regexp, 0, len(patterns))}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("content filter %q: %w", p, err)
		}
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

// Enabled reports whether any pattern is configured.
func (f *ContentFilter) Enabled() bool { return len(f.patterns) > 0 }

// Match reports whether text satisfies all patterns.
func (f *ContentFilter) Match(text string) bool {
	for _, re := range f.patterns {
		if !re.MatchString(text) {
			return false
		}
	}
	return true
}
