// Package transform defines the transformer engine contract spec.md §1 and
// §6 mark as an out-of-scope collaborator: cross-vendor (OpenAI/Anthropic/
// Gemini) wire-protocol rewriting is consumed purely through
// TransformRequest/TransformResponse and never implemented here. What this
// package does own is the rule dispatch the driver needs in order to know
// which transformer applies to a given request path (spec.md §4.G.3.b).
package transform

import (
	"net/http"
	"regexp"

	"github.com/jeffusion/bungee/internal/snapshot"
)

// Transformer rewrites a request snapshot before dispatch, and a response
// after it — including, for streaming responses, event-by-event (spec.md
// §6); the core treats both directions as opaque.
type Transformer interface {
	TransformRequest(s *snapshot.Snapshot) (*snapshot.Snapshot, error)
	TransformResponse(resp *http.Response, isStream bool) (*http.Response, error)
}

// PassthroughTransformer makes no changes. It's the default for any route
// that configures no transformer rules.
type PassthroughTransformer struct{}

func (PassthroughTransformer) TransformRequest(s *snapshot.Snapshot) (*snapshot.Snapshot, error) {
	return s, nil
}

func (PassthroughTransformer) TransformResponse(resp *http.Response, _ bool) (*http.Response, error) {
	return resp, nil
}

// Rule pairs a path-matching regex with the Transformer to apply when it
// matches, per spec.md §4.G.3.b ("any configured transformer rule that
// matches the path regex").
type Rule struct {
	PathPattern *regexp.Regexp
	Transformer Transformer
}

// RuleTransformer dispatches to the first Rule whose pattern matches the
// request path, falling back to Default (or a no-op Passthrough) otherwise.
type RuleTransformer struct {
	Rules   []Rule
	Default Transformer
}

func (rt *RuleTransformer) TransformRequest(s *snapshot.Snapshot) (*snapshot.Snapshot, error) {
	return rt.matchByPath(s.URL.Path).TransformRequest(s)
}

func (rt *RuleTransformer) TransformResponse(resp *http.Response, isStream bool) (*http.Response, error) {
	path := ""
	if resp != nil && resp.Request != nil && resp.Request.URL != nil {
		path = resp.Request.URL.Path
	}
	return rt.matchByPath(path).TransformResponse(resp, isStream)
}

func (rt *RuleTransformer) matchByPath(path string) Transformer {
	for _, r := range rt.Rules {
		if r.PathPattern.MatchString(path) {
			return r.Transformer
		}
	}
	if rt.Default != nil {
		return rt.Default
	}
	return PassthroughTransformer{}
}
