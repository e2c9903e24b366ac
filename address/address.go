// Package address implements hierarchical signal addresses and the
// wildcard patterns used to subscribe to them.
//
// An address is a slash-delimited sequence of non-empty, case-sensitive
// segments, e.g. "/lights/1/brightness". Wildcards never appear in stored
// addresses; they exist only in subscription patterns. A pattern segment
// is either a literal, "*" (exactly one arbitrary segment), or "**" (zero
// or more arbitrary segments, at most once per pattern).
package address

import (
	"strings"

	clasperrors "github.com/lumencanvas/clasp/errors"
)

// Validate checks that addr is a well-formed concrete address: leading
// slash, non-empty segments, no wildcard characters.
func Validate(addr string) error {
	segs, err := split(addr)
	if err != nil {
		return err
	}
	for _, seg := range segs {
		if strings.Contains(seg, "*") {
			return clasperrors.Invalidf(clasperrors.CodeInvalidAddress,
				"address %q: wildcard segments are only allowed in patterns", addr)
		}
	}
	return nil
}

// ValidatePattern checks that pattern is a well-formed subscription
// pattern: leading slash, non-empty segments, at most one "**" segment,
// and no partial wildcards (a segment is a literal, "*", or "**").
func ValidatePattern(pattern string) error {
	segs, err := split(pattern)
	if err != nil {
		return err
	}
	globstars := 0
	for _, seg := range segs {
		switch {
		case seg == "*" || !strings.Contains(seg, "*"):
			// literal or single wildcard
		case seg == "**":
			globstars++
			if globstars > 1 {
				return clasperrors.Invalidf(clasperrors.CodeInvalidAddress,
					"pattern %q: at most one ** segment is allowed", pattern)
			}
		default:
			return clasperrors.Invalidf(clasperrors.CodeInvalidAddress,
				"pattern %q: segment %q mixes literals and wildcards", pattern, seg)
		}
	}
	return nil
}

// Segments splits a validated address or pattern into its segments.
// The root pattern "/" yields no segments.
func Segments(addr string) []string {
	trimmed := strings.Trim(addr, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// Match reports whether pattern matches addr. It is a pure function of
// its inputs. Literal segments require an exact match, "*" consumes
// exactly one segment, and "**" consumes zero or more segments, shortest
// expansion first.
func Match(pattern, addr string) bool {
	return matchSegments(Segments(pattern), Segments(addr))
}

func matchSegments(pat, segs []string) bool {
	for len(pat) > 0 {
		switch pat[0] {
		case "**":
			// Try the minimal consumption first and expand.
			for skip := 0; skip <= len(segs); skip++ {
				if matchSegments(pat[1:], segs[skip:]) {
					return true
				}
			}
			return false
		case "*":
			if len(segs) == 0 {
				return false
			}
		default:
			if len(segs) == 0 || segs[0] != pat[0] {
				return false
			}
		}
		pat = pat[1:]
		segs = segs[1:]
	}
	return len(segs) == 0
}

func split(addr string) ([]string, error) {
	if addr == "" {
		return nil, clasperrors.Invalidf(clasperrors.CodeInvalidAddress, "address is empty")
	}
	if !strings.HasPrefix(addr, "/") {
		return nil, clasperrors.Invalidf(clasperrors.CodeInvalidAddress,
			"address %q: must start with '/'", addr)
	}
	if addr == "/" {
		return nil, clasperrors.Invalidf(clasperrors.CodeInvalidAddress,
			"address %q: must have at least one segment", addr)
	}
	if strings.HasSuffix(addr, "/") {
		return nil, clasperrors.Invalidf(clasperrors.CodeInvalidAddress,
			"address %q: trailing slash", addr)
	}
	segs := strings.Split(addr[1:], "/")
	for _, seg := range segs {
		if seg == "" {
			return nil, clasperrors.Invalidf(clasperrors.CodeInvalidAddress,
				"address %q: empty segment", addr)
		}
	}
	return segs, nil
}
