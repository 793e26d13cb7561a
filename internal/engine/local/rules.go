package local

import (
	"path"
	"strings"
)

// Rules are confinement patterns: entries matching them stay on disk but are
// hidden from sync. A pattern matches a base name, a whole relative path, or a
// relative directory prefix.
type Rules struct {
	patterns []string
}

// NewRules compiles the given patterns.
func NewRules(patterns []string) *Rules {
	return &Rules{patterns: patterns}
}

// Match reports whether relPath is matched directly by a pattern.
func (r *Rules) Match(relPath string) bool {
	if r == nil || relPath == "" {
		return false
	}
	base := path.Base(relPath)
	for _, pattern := range r.patterns {
		if matched, _ := path.Match(pattern, relPath); matched {
			return true
		}
		if matched, _ := path.Match(pattern, base); matched {
			return true
		}
		clean := strings.Trim(path.Clean(pattern), "/")
		if relPath == clean {
			return true
		}
	}
	return false
}

// Point returns the outermost confined ancestor of relPath (itself included).
func (r *Rules) Point(relPath string) (string, bool) {
	if r == nil || len(r.patterns) == 0 || relPath == "" {
		return "", false
	}
	parts := strings.Split(relPath, "/")
	for i := range parts {
		prefix := strings.Join(parts[:i+1], "/")
		if r.Match(prefix) {
			return prefix, true
		}
	}
	return "", false
}
