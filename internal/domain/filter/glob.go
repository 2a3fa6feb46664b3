// Package filter decides which paths and which extracted contents a crawl
// job indexes.
package filter

import (
	"fmt"
	"path"
	"strings"

	regexp "github.com/wasilibs/go-re2"
)

// DefaultExcludes skips editor and office lock files.
var DefaultExcludes = []string{"*/~*"}

// Matcher applies include and exclude globs to root-relative virtual paths.
// Matching is case-insensitive. '*' matches any run of characters, path
// separators included, and '?' matches one character.
type Matcher struct {
	includes []*regexp.Regexp
	excludes []*regexp.Regexp
}

// NewMatcher compiles the given globs. A nil excludes slice selects
// DefaultExcludes; an empty non-nil slice excludes nothing.
func NewMatcher(includes, excludes []string) (*Matcher, error) {
	if excludes == nil {
		excludes = DefaultExcludes
	}
	inc, err := compileGlobs(includes)
	if err != nil {
		return nil, fmt.Errorf("compiling includes: %w", err)
	}
	exc, err := compileGlobs(excludes)
	if err != nil {
		return nil, fmt.Errorf("compiling excludes: %w", err)
	}
	return &Matcher{includes: inc, excludes: exc}, nil
}

// IncludeFile reports whether a file at virtualPath is indexed. Excludes win
// over includes; with no includes every non-excluded file is indexed.
func (m *Matcher) IncludeFile(virtualPath string) bool {
	if matchAny(m.excludes, virtualPath) {
		return false
	}
	return len(m.includes) == 0 || matchAny(m.includes, virtualPath)
}

// IncludeDirectory reports whether the walker descends into virtualPath.
// Includes never prune directories. The root is always included.
func (m *Matcher) IncludeDirectory(virtualPath string) bool {
	if virtualPath == "/" || virtualPath == "" {
		return true
	}
	return !matchAny(m.excludes, virtualPath) && !matchAny(m.excludes, virtualPath+"/")
}

// PathExcluded reports whether virtualDir or any of its ancestors is an
// excluded directory.
func (m *Matcher) PathExcluded(virtualDir string) bool {
	for dir := path.Clean("/" + virtualDir); dir != "/"; dir = path.Dir(dir) {
		if !m.IncludeDirectory(dir) {
			return true
		}
	}
	return false
}

func compileGlobs(globs []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(globs))
	for _, g := range globs {
		if strings.TrimSpace(g) == "" {
			continue
		}
		re, err := regexp.Compile(globToRegex(g))
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", g, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func globToRegex(glob string) string {
	var b strings.Builder
	b.WriteString("(?i)^")
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteByte('.')
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	return b.String()
}

func matchAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
