package snapshot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromRequestDecodesJSONBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/v1/chat?x=1", strings.NewReader(`{"n":1}`))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("X-Custom", "yes")

	snap, err := FromRequest(r)
	require.NoError(t, err)

	assert.True(t, snap.IsJSON)
	assert.Equal(t, "yes", snap.Headers.Get("X-Custom"))
	assert.Equal(t, `{"n":1}`, string(snap.Body))
	m, ok := snap.JSONBody.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), m["n"])
}

func TestFromRequestNonJSONKeepsRawBytes(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("binary-ish"))
	r.Header.Set("Content-Type", "application/octet-stream")

	snap, err := FromRequest(r)
	require.NoError(t, err)
	assert.False(t, snap.IsJSON)
	assert.Equal(t, "binary-ish", string(snap.Body))
}

// Invariant from spec.md §8: snapshot body bytes are structurally identical
// across attempts (binary compare) before per-attempt transforms run, even
// after one attempt's clone has been mutated.
func TestCloneIsolatesMutationsFromSource(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"n":1}`))
	r.Header.Set("Content-Type", "application/json")
	snap, err := FromRequest(r)
	require.NoError(t, err)

	attempt1 := snap.Clone()
	m := attempt1.JSONBody.(map[string]any)
	m["n"] = 2.0
	attempt1.Headers.Set("X-Injected", "true")

	attempt2 := snap.Clone()
	b2, err := attempt2.WireBody()
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(b2))
	assert.Empty(t, attempt2.Headers.Get("X-Injected"))

	// the source snapshot itself is never mutated
	bOriginal, err := snap.WireBody()
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(bOriginal))
}

func TestToHTTPRequestBuildsFullURL(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/models?limit=5", nil)
	snap, err := FromRequest(r)
	require.NoError(t, err)

	req, err := snap.ToHTTPRequest(context.Background(), "http://upstream:9000")
	require.NoError(t, err)
	assert.Equal(t, "http://upstream:9000/v1/models?limit=5", req.URL.String())
}
