// Package snapshot holds the immutable RequestSnapshot of spec.md §3: the
// one-time read of a client request that every failover attempt is
// synthesized from. It has no dependency on the driver, transformer, or
// plugin packages so that each of those can depend on it without a cycle.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Snapshot is an immutable copy of a client request. Nothing in this
// package mutates a Snapshot after FromRequest returns it; every retry
// attempt works from an independently constructed Clone.
type Snapshot struct {
	Method      string
	URL         *url.URL
	Headers     http.Header // canonicalized by net/http, so lookups are case-insensitive
	Body        []byte
	ContentType string
	IsJSON      bool
	JSONBody    any
}

// FromRequest reads r's body exactly once and buffers it fully, per
// spec.md §4.G.1. The caller must not read r.Body again afterward.
func FromRequest(r *http.Request) (*Snapshot, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	contentType := r.Header.Get("Content-Type")
	var decoded any
	isJSON := false
	if strings.Contains(strings.ToLower(contentType), "json") && len(body) > 0 {
		if err := json.Unmarshal(body, &decoded); err == nil {
			isJSON = true
		}
	}

	u := *r.URL
	return &Snapshot{
		Method:      r.Method,
		URL:         &u,
		Headers:     r.Header.Clone(),
		Body:        body,
		ContentType: contentType,
		IsJSON:      isJSON,
		JSONBody:    decoded,
	}, nil
}

// Clone returns an independent working copy: a fresh header map, a fresh
// backing array for Body, and (for JSON snapshots) a deep copy of JSONBody
// via a JSON round trip, since the decoded value may be an arbitrary tree
// of maps and slices. Every attempt transforms its own Clone; none of them
// can observe another attempt's mutations.
func (s *Snapshot) Clone() *Snapshot {
	bodyCopy := append([]byte(nil), s.Body...)
	u := *s.URL

	var jsonCopy any
	if s.IsJSON {
		raw, _ := json.Marshal(s.JSONBody)
		_ = json.Unmarshal(raw, &jsonCopy)
	}

	return &Snapshot{
		Method:      s.Method,
		URL:         &u,
		Headers:     s.Headers.Clone(),
		Body:        bodyCopy,
		ContentType: s.ContentType,
		IsJSON:      s.IsJSON,
		JSONBody:    jsonCopy,
	}
}

// WireBody returns the bytes that should go on the wire: the JSON-encoded
// JSONBody if this is a JSON snapshot (reflecting any mutation a transform
// or plugin made to it), otherwise the raw Body bytes.
func (s *Snapshot) WireBody() ([]byte, error) {
	if s.IsJSON {
		return json.Marshal(s.JSONBody)
	}
	return s.Body, nil
}

// ToHTTPRequest builds an outbound request targeting target+path, carrying
// this snapshot's method, headers, and current body.
func (s *Snapshot) ToHTTPRequest(ctx context.Context, target string) (*http.Request, error) {
	full := strings.TrimSuffix(target, "/") + s.URL.EscapedPath()
	if s.URL.RawQuery != "" {
		full += "?" + s.URL.RawQuery
	}

	body, err := s.WireBody()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, s.Method, full, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header = s.Headers.Clone()
	if s.ContentType != "" {
		req.Header.Set("Content-Type", s.ContentType)
	}
	return req, nil
}
