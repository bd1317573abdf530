// Copyright 2026 The Corral Authors
// SPDX-License-Identifier: Apache-2.0

package pathglob

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// IsGlob reports whether the pattern contains glob metacharacters.
// Patterns without any of *, ?, [ are literals that designate the path
// and all of its descendants.
func IsGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

// Ancestors returns the path followed by every ancestor directory up to
// and including "/". The input is cleaned first, so "/a/b/../c" yields
// ["/a/c", "/a", "/"]. Relative paths yield only their cleaned form.
func Ancestors(path string) []string {
	path = filepath.Clean(path)
	if !strings.HasPrefix(path, "/") {
		return []string{path}
	}

	result := []string{path}
	current := path
	for current != "/" {
		current = filepath.Dir(current)
		result = append(result, current)
	}
	return result
}

// LiteralPrefix returns the deepest directory prefix of a glob pattern
// that contains no glob metacharacters. For a literal pattern the
// pattern itself is returned. Examples:
//
//	/a/b/**/*.txt -> /a/b
//	/a/*/c        -> /a
//	/*.txt        -> /
func LiteralPrefix(pattern string) string {
	if !IsGlob(pattern) {
		return filepath.Clean(pattern)
	}

	components := strings.Split(pattern, "/")
	literal := make([]string, 0, len(components))
	for _, component := range components {
		if IsGlob(component) {
			break
		}
		literal = append(literal, component)
	}

	prefix := strings.Join(literal, "/")
	if prefix == "" {
		return "/"
	}
	return filepath.Clean(prefix)
}

// GlobAncestors returns the deepest literal directory prefix of the
// pattern followed by its ancestors up to "/". For a literal pattern the
// prefix is the cleaned pattern itself, so the result equals
// Ancestors(pattern) and includes the pattern.
//
//	/a/b/**/*.txt -> [/a/b, /a, /]
func GlobAncestors(pattern string) []string {
	return Ancestors(LiteralPrefix(pattern))
}

// Normalize collapses "." and ".." elements without touching symlinks.
// User-supplied rules are enforced as written; resolving them through
// the live filesystem would let an attacker pre-position symlinks to
// shift what the rule protects.
func Normalize(path string) string {
	return filepath.Clean(path)
}

// Canonicalize resolves symlinks below a public root. It is used for
// paths the manager itself derives (the working directory, temp
// directories), never for user-supplied rules. On macOS this maps /tmp
// and /var into /private, which is what Seatbelt sees.
func Canonicalize(path string) string {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return filepath.Clean(resolved)
	}
	cleaned := filepath.Clean(path)
	if cleaned == "/tmp" || strings.HasPrefix(cleaned, "/tmp/") {
		return "/private" + cleaned
	}
	if cleaned == "/var" || strings.HasPrefix(cleaned, "/var/") {
		return "/private" + cleaned
	}
	return cleaned
}

// Match reports whether the path matches the pattern. Literal patterns
// match the path itself and any descendant. Glob patterns match per
// standard globbing with "**" crossing directory boundaries and "*"/"?"
// confined to a single path component.
func Match(pattern, path string) bool {
	if !IsGlob(pattern) {
		cleanPattern := filepath.Clean(pattern)
		cleanPath := filepath.Clean(path)
		return cleanPath == cleanPattern ||
			strings.HasPrefix(cleanPath, cleanPattern+"/")
	}

	matcher, err := glob.Compile(pattern, '/')
	if err != nil {
		return false
	}
	return matcher.Match(filepath.Clean(path))
}

// MatchAny reports whether any pattern matches the path.
func MatchAny(patterns []string, path string) bool {
	for _, pattern := range patterns {
		if Match(pattern, path) {
			return true
		}
	}
	return false
}

// Exists reports whether the path exists on the host filesystem.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
