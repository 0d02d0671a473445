// Package version parses tool version constraints and selects the concrete
// version a request resolves to. Selection is deterministic: among the
// candidates a constraint admits, the maximum by semantic-version ordering
// wins, so repeated resolutions agree across machines.
package version

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Kind tags the closed set of constraint variants.
type Kind int

const (
	// Unconstrained admits every candidate; the globally newest wins.
	Unconstrained Kind = iota
	// Exact admits only the identical version, pre-release tag included.
	Exact
	// Caret admits versions sharing the leading non-zero component that
	// are >= the anchor (standard caret semantics).
	Caret
)

// Constraint is a parsed version-selection expression.
type Constraint struct {
	kind   Kind
	anchor *semver.Version
}

// ParseError reports a malformed constraint expression.
type ParseError struct {
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid version constraint %q: %v", e.Text, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// NoMatchError reports that no candidate satisfies a constraint.
type NoMatchError struct {
	Constraint Constraint
	Available  []*semver.Version
}

func (e *NoMatchError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("no version satisfies %s: no candidates available", e.Constraint)
	}
	avail := make([]string, len(e.Available))
	for i, v := range e.Available {
		avail[i] = v.String()
	}
	return fmt.Sprintf("no version satisfies %s; available: %s", e.Constraint, strings.Join(avail, ", "))
}

// Parse interprets a constraint expression. Empty text and "latest" mean
// unconstrained; a leading caret selects a compatible range; anything else
// must be a concrete version (partial versions like "1.2" are padded with
// zeros).
func Parse(text string) (Constraint, error) {
	text = strings.TrimSpace(text)
	if text == "" || text == "latest" {
		return Constraint{kind: Unconstrained}, nil
	}

	if rest, ok := strings.CutPrefix(text, "^"); ok {
		v, err := semver.NewVersion(rest)
		if err != nil {
			return Constraint{}, &ParseError{Text: text, Err: err}
		}
		return Constraint{kind: Caret, anchor: v}, nil
	}

	v, err := semver.NewVersion(text)
	if err != nil {
		return Constraint{}, &ParseError{Text: text, Err: err}
	}
	return Constraint{kind: Exact, anchor: v}, nil
}

// MustParse is Parse for tests and static tables.
func MustParse(text string) Constraint {
	c, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return c
}

// Kind reports the constraint variant.
func (c Constraint) Kind() Kind { return c.kind }

// IsExact reports whether the constraint pins a single version.
func (c Constraint) IsExact() bool { return c.kind == Exact }

// ExactVersion returns the pinned version for Exact constraints.
func (c Constraint) ExactVersion() (*semver.Version, bool) {
	if c.kind != Exact {
		return nil, false
	}
	return c.anchor, true
}

func (c Constraint) String() string {
	switch c.kind {
	case Exact:
		return c.anchor.String()
	case Caret:
		return "^" + c.anchor.String()
	default:
		return "latest"
	}
}

// Matches reports whether v satisfies the constraint.
func (c Constraint) Matches(v *semver.Version) bool {
	switch c.kind {
	case Unconstrained:
		return true
	case Exact:
		return v.Equal(c.anchor) && v.Prerelease() == c.anchor.Prerelease()
	case Caret:
		return caretMatches(c.anchor, v)
	default:
		return false
	}
}

// caretMatches implements the leading-non-zero rule: the first non-zero
// component of the anchor must match, and the candidate must not be older
// than the anchor.
func caretMatches(anchor, v *semver.Version) bool {
	if v.Compare(anchor) < 0 {
		return false
	}
	switch {
	case anchor.Major() > 0:
		return v.Major() == anchor.Major()
	case anchor.Minor() > 0:
		return v.Major() == 0 && v.Minor() == anchor.Minor()
	default:
		return v.Major() == 0 && v.Minor() == 0 && v.Patch() == anchor.Patch()
	}
}

// Select returns the maximum candidate satisfying the constraint, or a
// NoMatchError naming what was available. The candidate slice is not
// modified.
func (c Constraint) Select(candidates []*semver.Version) (*semver.Version, error) {
	var best *semver.Version
	for _, v := range candidates {
		if v == nil || !c.Matches(v) {
			continue
		}
		if best == nil || v.Compare(best) > 0 {
			best = v
		}
	}
	if best == nil {
		sorted := append([]*semver.Version(nil), candidates...)
		sort.Sort(semver.Collection(sorted))
		return nil, &NoMatchError{Constraint: c, Available: sorted}
	}
	return best, nil
}
