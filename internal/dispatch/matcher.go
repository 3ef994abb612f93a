package dispatch

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// MatcherType identifies how a Matcher compares values
type MatcherType int

const (
	MatcherTypeAny MatcherType = iota
	MatcherTypeExact
	MatcherTypeGlob
)

// Matcher tests a single rule field
type Matcher interface {
	Match(value string) bool
	Type() MatcherType
}

// ----------------------------------------------------------------------------

// AnyMatcher matches everything, multi-segment paths included
type AnyMatcher struct{}

func (a *AnyMatcher) Match(value string) bool {
	return true
}

func (a *AnyMatcher) Type() MatcherType {
	return MatcherTypeAny
}

func isAnyPattern(pattern string) bool {
	return pattern == "" || pattern == "*" || pattern == "**"
}

// ----------------------------------------------------------------------------

// ExactMatcher matches a value verbatim
type ExactMatcher struct {
	Value string
}

func newExactMatcher(value string) *ExactMatcher {
	return &ExactMatcher{Value: value}
}

func (e *ExactMatcher) Match(value string) bool {
	return e.Value == value
}

func (e *ExactMatcher) Type() MatcherType {
	return MatcherTypeExact
}

// ----------------------------------------------------------------------------

// GlobMatcher matches slash-delimited values segment by segment,
// e.g. "files/*/file" or "video/*"
type GlobMatcher struct {
	pattern string
}

func newGlobMatcher(pattern string) (*GlobMatcher, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob pattern %q", pattern)
	}
	return &GlobMatcher{pattern: pattern}, nil
}

func (g *GlobMatcher) Match(value string) bool {
	// pattern was validated, so the only error (ErrBadPattern) cannot happen
	ok, _ := doublestar.Match(g.pattern, value)
	return ok
}

func (g *GlobMatcher) Type() MatcherType {
	return MatcherTypeGlob
}

func hasGlobPattern(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

// ----------------------------------------------------------------------------

func matcherFromPattern(pattern string) (Matcher, error) {
	if isAnyPattern(pattern) {
		return &AnyMatcher{}, nil
	}

	if hasGlobPattern(pattern) {
		return newGlobMatcher(pattern)
	}

	return newExactMatcher(pattern), nil
}
