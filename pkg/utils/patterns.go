package utils

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// PatternMatcher matches slash-separated paths against a list of globs.
// Entries prefixed with "!" are negations: a path matches when it matches
// at least one positive glob and no negation.
type PatternMatcher struct {
	include []string
	exclude []string
}

// NewPatternMatcher validates and normalises the patterns
func NewPatternMatcher(patterns []string) (*PatternMatcher, error) {
	pm := &PatternMatcher{}
	for _, raw := range patterns {
		negated := strings.HasPrefix(raw, "!")
		p := NormalizePattern(strings.TrimPrefix(raw, "!"))
		if !doublestar.ValidatePattern(p) {
			return nil, &PatternError{Pattern: raw}
		}
		if negated {
			pm.exclude = append(pm.exclude, p)
		} else {
			pm.include = append(pm.include, p)
		}
	}
	return pm, nil
}

// PatternError reports a malformed glob
type PatternError struct {
	Pattern string
}

func (e *PatternError) Error() string {
	return "invalid glob pattern: " + e.Pattern
}

// Include returns the positive patterns
func (pm *PatternMatcher) Include() []string {
	return pm.include
}

// Match checks if a path is selected by the pattern list
func (pm *PatternMatcher) Match(p string) bool {
	p = filepath.ToSlash(p)
	matched := false
	for _, pattern := range pm.include {
		if ok, _ := doublestar.Match(pattern, p); ok {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	return !pm.Excluded(p)
}

// Excluded reports whether a negation pattern matches the path
func (pm *PatternMatcher) Excluded(p string) bool {
	p = filepath.ToSlash(p)
	for _, pattern := range pm.exclude {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return true
		}
	}
	return false
}

// IsGlobPattern checks if a string contains glob meta characters
func IsGlobPattern(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

// NormalizePattern converts separators and strips a leading "./" and any
// trailing slash
func NormalizePattern(pattern string) string {
	pattern = strings.ReplaceAll(pattern, "\\", "/")
	for strings.HasPrefix(pattern, "./") {
		pattern = strings.TrimPrefix(pattern, "./")
	}
	if len(pattern) > 1 {
		pattern = strings.TrimSuffix(pattern, "/")
	}
	return pattern
}

// StaticBase returns the leading directory of pattern that contains no glob
// characters, e.g. "src/css/**/*.css" -> "src/css". A pattern without
// wildcards returns its parent directory.
func StaticBase(pattern string) string {
	pattern = NormalizePattern(pattern)
	segments := strings.Split(pattern, "/")

	var base []string
	for i, seg := range segments {
		if IsGlobPattern(seg) || i == len(segments)-1 {
			break
		}
		base = append(base, seg)
	}
	if len(base) == 0 {
		return "."
	}
	return path.Join(base...)
}

// ExclusionMatcher decides whether a path lies under an excluded name
type ExclusionMatcher struct {
	patterns []string
}

// NewExclusionMatcher builds a matcher from bare names ("node_modules") or
// globs ("*.log"). Bare names exclude any path segment with that name.
func NewExclusionMatcher(patterns []string) (*ExclusionMatcher, error) {
	em := &ExclusionMatcher{}
	for _, p := range patterns {
		p = NormalizePattern(p)
		if !strings.Contains(p, "/") {
			em.patterns = append(em.patterns, "**/"+p, "**/"+p+"/**")
		} else {
			em.patterns = append(em.patterns, p, p+"/**")
		}
	}
	for _, p := range em.patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, &PatternError{Pattern: p}
		}
	}
	return em, nil
}

// IsExcluded checks if a root-relative path should be excluded
func (em *ExclusionMatcher) IsExcluded(p string) bool {
	p = filepath.ToSlash(p)
	for _, pattern := range em.patterns {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return true
		}
	}
	return false
}
