// Package sanitize turns folder and file names found inside a PST archive into
// safe, deterministic filesystem path segments.
//
// All functions are pure: the same input always yields the same output and no
// function looks at the filesystem. Every function is idempotent.
package sanitize

import (
	"strings"
	"unicode"
)

// Placeholder replaces any name that would otherwise sanitize to an empty string.
const Placeholder = "unnamed"

// Normalize converts backslashes to forward slashes and replaces every invalid
// path character with an underscore. Invalid characters are replaced one by
// one; runs are not collapsed.
func Normalize(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for _, r := range name {
		switch {
		case r == '\\':
			sb.WriteRune('/')
		case invalidRune(r):
			sb.WriteRune('_')
		default:
			sb.WriteRune(r)
		}
	}
	return fallback(neutralizeDots(sb.String()))
}

// FolderName normalizes name, lowercases it and replaces whitespace with
// underscores. The result may contain '/' separators for nested folders.
func FolderName(name string) string {
	name = strings.ToLower(Normalize(name))
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, name)
}

// Segment is FolderName flattened into a single path segment.
func Segment(name string) string {
	return fallback(neutralizeDots(strings.ReplaceAll(FolderName(name), "/", "_")))
}

// invalidRune reports whether r must not appear in an output path: control
// characters and the characters Windows reserves in file names.
func invalidRune(r rune) bool {
	if r < 0x20 || r == 0x7f {
		return true
	}
	switch r {
	case '<', '>', ':', '"', '|', '?', '*':
		return true
	}
	return false
}

// neutralizeDots rewrites "." and ".." segments so that a sanitized path never
// refers to itself or its parent.
func neutralizeDots(path string) string {
	if !strings.Contains(path, ".") {
		return path
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if seg == "." || seg == ".." {
			segments[i] = strings.Repeat("_", len(seg))
		}
	}
	return strings.Join(segments, "/")
}

func fallback(name string) string {
	if name == "" {
		return Placeholder
	}
	return name
}
