// Package apply is the sole writer to the workspace during execution.
// It validates edit plans against scope and governance policy, applies
// them atomically through a staging overlay, and can roll back from a
// pre-apply checkpoint.
package apply

import (
	"path"
	"strings"
)

// NormalizePath converts a path to canonical POSIX comparison form:
// whitespace trimmed, backslashes to slashes, drive letters stripped,
// leading "./" removed, repeated slashes collapsed. Every comparison in
// this package goes through this function; raw string comparison of
// paths is forbidden elsewhere.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.ReplaceAll(p, "\\", "/")

	// Strip Windows drive letters ("C:/...").
	if len(p) >= 2 && p[1] == ':' &&
		((p[0] >= 'a' && p[0] <= 'z') || (p[0] >= 'A' && p[0] <= 'Z')) {
		p = p[2:]
	}

	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	p = strings.TrimPrefix(p, "/")
	return p
}

// InScope reports whether target falls under any of the scope prefixes.
// Both sides are normalized; matching is segment-aware so "src/foo" does
// not admit "src/foobar".
func InScope(target string, scopePaths []string) bool {
	t := NormalizePath(target)
	for _, sp := range scopePaths {
		if HasPathPrefix(t, NormalizePath(sp)) {
			return true
		}
	}
	return false
}

// NearestScope returns the scope prefix closest to target by shared
// leading segments, for hint generation on scope violations.
func NearestScope(target string, scopePaths []string) string {
	t := strings.Split(NormalizePath(target), "/")
	best, bestShared := "", -1
	for _, sp := range scopePaths {
		segs := strings.Split(NormalizePath(sp), "/")
		shared := 0
		for shared < len(t) && shared < len(segs) && t[shared] == segs[shared] {
			shared++
		}
		if shared > bestShared {
			bestShared = shared
			best = sp
		}
	}
	return best
}

// HasPathPrefix is a segment-aware prefix test on normalized paths.
func HasPathPrefix(p, prefix string) bool {
	if prefix == "" || prefix == "." {
		return true
	}
	if !strings.HasPrefix(p, prefix) {
		return false
	}
	return len(p) == len(prefix) || p[len(prefix)] == '/'
}

// MatchGlob matches a normalized path against a protection glob.
// Supports "**" matching any number of segments, plus path.Match
// semantics per segment.
func MatchGlob(pattern, p string) bool {
	return matchSegments(strings.Split(NormalizePath(pattern), "/"), strings.Split(NormalizePath(p), "/"))
}

func matchSegments(pat, segs []string) bool {
	if len(pat) == 0 {
		return len(segs) == 0
	}
	if pat[0] == "**" {
		// "**" may consume zero or more segments.
		if matchSegments(pat[1:], segs) {
			return true
		}
		if len(segs) > 0 {
			return matchSegments(pat, segs[1:])
		}
		return false
	}
	if len(segs) == 0 {
		return false
	}
	ok, err := path.Match(pat[0], segs[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pat[1:], segs[1:])
}
