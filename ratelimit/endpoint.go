package ratelimit

import (
	"fmt"
	"regexp"
	"strings"
)

// Path segments are collapsed before matching and counting so that
// per-resource identifiers do not fragment the endpoint key space:
// numeric segments become {id}, UUID-shaped segments become {uuid}.
var (
	numericSegment = regexp.MustCompile(`^\d+$`)
	uuidSegment    = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

// NormalizeEndpoint reduces a method and path to the canonical endpoint
// identifier "method:path", lower-cased, with volatile segments collapsed.
func NormalizeEndpoint(method, path string) string {
	path = strings.ToLower(path)

	segments := strings.Split(path, "/")
	for i, seg := range segments {
		switch {
		case numericSegment.MatchString(seg):
			segments[i] = "{id}"
		case uuidSegment.MatchString(seg):
			segments[i] = "{uuid}"
		}
	}

	return strings.ToLower(method) + ":" + strings.Join(segments, "/")
}

// sensitivePatterns is the fixed set of endpoints that carry the halved
// per-(endpoint, IP) limit on top of the regular dimensions. Patterns are
// glob-style over normalized endpoint identifiers; * matches within one
// path segment.
var sensitivePatterns = []string{
	"post:/login",
	"post:/register",
	"post:/magic-link/request",
	"post:/oauth/token",
	"post:/2fa/enable",
	"post:/2fa/disable",
	"get:/social/*/callback",
	"post:/social/*/callback",
	"get:/userinfo",
}

// EndpointMatcher matches normalized endpoint identifiers against a fixed
// pattern set compiled once at startup.
type EndpointMatcher struct {
	patterns []*regexp.Regexp
}

// NewSensitiveEndpointMatcher compiles the fixed sensitive-endpoint set.
func NewSensitiveEndpointMatcher() *EndpointMatcher {
	m, err := NewEndpointMatcher(sensitivePatterns)
	if err != nil {
		// The fixed set is compiled in tests; a failure here is a programming error.
		panic(fmt.Sprintf("ratelimit: invalid built-in endpoint pattern: %v", err))
	}
	return m
}

// NewEndpointMatcher compiles glob-style endpoint patterns into a matcher.
func NewEndpointMatcher(patterns []string) (*EndpointMatcher, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := compileGlob(p)
		if err != nil {
			return nil, fmt.Errorf("invalid endpoint pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return &EndpointMatcher{patterns: compiled}, nil
}

// Matches reports whether the normalized endpoint identifier is in the set.
func (m *EndpointMatcher) Matches(endpoint string) bool {
	for _, re := range m.patterns {
		if re.MatchString(endpoint) {
			return true
		}
	}
	return false
}

// compileGlob turns a glob pattern into an anchored regular expression,
// with * matching anything except a path separator.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(`[^/]*`)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
