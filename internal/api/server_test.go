package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mzalewski/stockwatch/internal/monitor"
)

type fakeSource struct {
	states monitor.StateMap
}

func (f *fakeSource) Snapshot() monitor.StateMap { return f.states }

func newTestServer(t *testing.T, source StateSource) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(0, source, zap.NewNop()).httpServer.Handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeSource{})
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))
}

func TestStateSnapshot(t *testing.T) {
	t.Parallel()

	price := decimal.RequireFromString("99.90")
	srv := newTestServer(t, &fakeSource{states: monitor.StateMap{
		"https://shop/a": {Available: true, Price: &price},
	}})

	resp, err := http.Get(srv.URL + "/state")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var out map[string]struct {
		Available bool   `json:"available"`
		Price     string `json:"price"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out, 1)
	require.True(t, out["https://shop/a"].Available)
	require.Equal(t, "99.9", out["https://shop/a"].Price)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeSource{})
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
}
