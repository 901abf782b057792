package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeffusion/bungee/internal/gwconfig"
)

func writeConfig(t *testing.T, upstreamURL string) *gwconfig.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bungee.yaml")
	content := `
routes:
  - path: /v1/chat
    upstreams:
      - target: "` + upstreamURL + `"
        weight: 100
        priority: 1
    failover:
      enabled: true
      consecutiveFailuresThreshold: 2
      healthyThreshold: 1
    healthCheck:
      enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	cfg, err := gwconfig.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestGatewayServesConfiguredRouteEndToEnd(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstreamSrv.Close()

	cfg := writeConfig(t, upstreamSrv.URL)
	gw := New(http.DefaultClient, nil, nil)
	require.NoError(t, gw.Start(cfg))
	defer gw.Shutdown(context.Background()) //nolint:errcheck

	req := httptest.NewRequest(http.MethodGet, "/v1/chat", nil)
	rec := httptest.NewRecorder()
	gw.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestGatewayReturns404ForUnconfiguredRoute(t *testing.T) {
	cfg := &gwconfig.Config{}
	gw := New(http.DefaultClient, nil, nil)
	require.NoError(t, gw.Start(cfg))
	defer gw.Shutdown(context.Background()) //nolint:errcheck

	req := httptest.NewRequest(http.MethodGet, "/unmanaged", nil)
	rec := httptest.NewRecorder()
	gw.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
