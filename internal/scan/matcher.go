// Package scan selects local files that are ready to be uploaded.
package scan

import (
	"path"
	"strings"
)

// Matcher decides which file names are never uploaded
type Matcher struct {
	patterns []string
}

// DefaultPatterns skips hidden files, Finder metadata and split/encrypt
// intermediates that share the upload directory.
func DefaultPatterns() []string {
	return []string{
		".*",
		"*.DS_Store*",
		"*subset*",
	}
}

// NewMatcher merges extra patterns onto the defaults
func NewMatcher(patterns []string) *Matcher {
	merged := append([]string{}, DefaultPatterns()...)
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		merged = append(merged, p)
	}
	return &Matcher{patterns: merged}
}

// Patterns returns the effective pattern list
func (m *Matcher) Patterns() []string {
	return append([]string(nil), m.patterns...)
}

// IsExcluded reports whether name matches any pattern. Patterns without
// wildcards match the exact name.
func (m *Matcher) IsExcluded(name string) bool {
	if m == nil {
		return false
	}
	for _, p := range m.patterns {
		if strings.ContainsAny(p, "*?[]") {
			if ok, _ := path.Match(p, name); ok {
				return true
			}
			continue
		}
		if name == p {
			return true
		}
	}
	return false
}
