// Package pathglob matches repository paths against glob lists such as
// "services/phi-service/**" or "**/*.pem".
//
// "*" stays within one path segment and "**" crosses segments. A pattern
// starting with "**/" also matches at the repository root, and a pattern
// ending in "/" matches everything below that directory.
package pathglob

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Set is a compiled, immutable list of globs.
type Set struct {
	patterns []string
	globs    []glob.Glob
}

// Compile compiles every pattern. An empty list yields a Set that matches
// nothing.
func Compile(patterns []string) (*Set, error) {
	s := &Set{patterns: append([]string(nil), patterns...)}
	for _, p := range patterns {
		for _, expanded := range expand(p) {
			g, err := glob.Compile(expanded, '/')
			if err != nil {
				return nil, fmt.Errorf("glob %q: %w", p, err)
			}
			s.globs = append(s.globs, g)
		}
	}
	return s, nil
}

// MustCompile is like Compile but panics on error. It is meant for
// built-in pattern lists.
func MustCompile(patterns ...string) *Set {
	s, err := Compile(patterns)
	if err != nil {
		panic(err)
	}
	return s
}

func expand(p string) []string {
	p = strings.TrimPrefix(p, "./")
	if strings.HasSuffix(p, "/") {
		p += "**"
	}
	out := []string{p}
	if rest, ok := strings.CutPrefix(p, "**/"); ok {
		out = append(out, rest)
	}
	return out
}

// Match reports whether path matches any pattern in the set.
func (s *Set) Match(path string) bool {
	if s == nil {
		return false
	}
	path = strings.TrimPrefix(path, "./")
	for _, g := range s.globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// MatchAny reports whether any of paths matches.
func (s *Set) MatchAny(paths []string) bool {
	for _, p := range paths {
		if s.Match(p) {
			return true
		}
	}
	return false
}

// Patterns returns the source patterns.
func (s *Set) Patterns() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.patterns...)
}
