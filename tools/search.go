// tools/search.go
package tools

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/google/shlex"
)

// Matcher matches relative file paths against a desktop-style search
// pattern: the pattern is shell-lexed into terms, each term is a
// case-insensitive glob that may match anywhere in the path, terms are
// ANDed, and a term prefixed with ! must not match.
type Matcher struct {
	include []glob.Glob
	exclude []glob.Glob
}

// CompileMatcher compiles a search pattern. An empty pattern matches
// everything.
func CompileMatcher(pattern string) (*Matcher, error) {
	terms, err := shlex.Split(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}

	m := &Matcher{}
	for _, term := range terms {
		negate := strings.HasPrefix(term, "!")
		term = strings.TrimPrefix(term, "!")

		g, err := glob.Compile("*" + strings.ToLower(term) + "*")
		if err != nil {
			return nil, fmt.Errorf("invalid glob %q: %w", term, err)
		}
		if negate {
			m.exclude = append(m.exclude, g)
		} else {
			m.include = append(m.include, g)
		}
	}
	return m, nil
}

// Match reports whether path satisfies every term
func (m *Matcher) Match(path string) bool {
	path = strings.ToLower(filepath.ToSlash(path))
	for _, g := range m.include {
		if !g.Match(path) {
			return false
		}
	}
	for _, g := range m.exclude {
		if g.Match(path) {
			return false
		}
	}
	return true
}

// searchFiles walks root and returns the sorted relative paths of files
// matching pattern.
func searchFiles(root, pattern string) ([]string, error) {
	m, err := CompileMatcher(pattern)
	if err != nil {
		return nil, err
	}

	var out []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal
			return nil
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if m.Match(rel) {
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
