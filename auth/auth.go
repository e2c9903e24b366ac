// Package auth implements capability-scoped authorization for signal
// addresses.
//
// A token is a list of (capability, pattern) scopes parsed from the
// comma-separated "capability:pattern" syntax, e.g.
// "read:/**,write:/lights/**". Authorization uses union semantics: any
// matching scope that grants the needed capability is sufficient, and
// an admin scope on a matching pattern subsumes read and write. A nil
// token (open mode) allows everything.
package auth

import (
	"strings"

	"github.com/lumencanvas/clasp/address"
	clasperrors "github.com/lumencanvas/clasp/errors"
)

// Capability is an access level a scope grants on a pattern.
type Capability int

const (
	// CapRead allows get, snapshot, and subscribe.
	CapRead Capability = iota
	// CapWrite allows set, emit, stream, gesture, and timeline writes.
	CapWrite
	// CapAdmin subsumes read and write.
	CapAdmin
)

// String returns the scope-syntax name of the capability.
func (c Capability) String() string {
	switch c {
	case CapRead:
		return "read"
	case CapWrite:
		return "write"
	case CapAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// ParseCapability maps a scope-syntax name to a Capability.
func ParseCapability(s string) (Capability, error) {
	switch s {
	case "read":
		return CapRead, nil
	case "write":
		return CapWrite, nil
	case "admin":
		return CapAdmin, nil
	default:
		return 0, clasperrors.Invalidf(clasperrors.CodeAuthRequired,
			"unknown capability %q in token scope", s)
	}
}

// Scope grants one capability over one address pattern.
type Scope struct {
	Capability Capability
	Pattern    string
}

// Token is an immutable list of scopes. Tokens are issued externally;
// the engine only consults them.
type Token struct {
	scopes []Scope
	raw    string
}

// ParseToken parses the comma-separated "capability:pattern" scope
// syntax into a Token.
func ParseToken(raw string) (*Token, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, clasperrors.Invalidf(clasperrors.CodeAuthRequired, "token is empty")
	}

	parts := strings.Split(trimmed, ",")
	scopes := make([]Scope, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		capName, pattern, found := strings.Cut(part, ":")
		if !found {
			return nil, clasperrors.Invalidf(clasperrors.CodeAuthRequired,
				"scope %q is not capability:pattern", part)
		}
		capability, err := ParseCapability(capName)
		if err != nil {
			return nil, err
		}
		if err := address.ValidatePattern(pattern); err != nil {
			return nil, clasperrors.Invalidf(clasperrors.CodeAuthRequired,
				"scope %q has bad pattern: %v", part, err)
		}
		scopes = append(scopes, Scope{Capability: capability, Pattern: pattern})
	}
	return &Token{scopes: scopes, raw: trimmed}, nil
}

// Scopes returns the token's scope list. The slice is shared; callers
// must not mutate it.
func (t *Token) Scopes() []Scope {
	if t == nil {
		return nil
	}
	return t.scopes
}

// String returns the token's original scope syntax.
func (t *Token) String() string {
	if t == nil {
		return ""
	}
	return t.raw
}

// Grants reports whether the token grants capability on addr. A nil
// token grants everything (open mode). Any matching scope wins; there is
// no longest-prefix precedence.
func (t *Token) Grants(capability Capability, addr string) bool {
	if t == nil {
		return true
	}
	for _, s := range t.scopes {
		if s.Capability != capability && s.Capability != CapAdmin {
			continue
		}
		if address.Match(s.Pattern, addr) {
			return true
		}
	}
	return false
}

// Authorize validates one operation against a token. Denial carries
// PERMISSION_DENIED with the offending address; it never mutates state.
func Authorize(t *Token, capability Capability, addr string) error {
	if t.Grants(capability, addr) {
		return nil
	}
	return clasperrors.Denied(capability.String(), addr)
}
