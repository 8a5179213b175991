package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lanrelay/lanrelay/internal/config"
	"github.com/lanrelay/lanrelay/internal/ws"
)

func TestParseDetails(t *testing.T) {
	got, err := parseDetails([]string{"name=kitchen", "motd=a=b", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "kitchen", "motd": "a=b", "empty": ""}, got)

	none, err := parseDetails(nil)
	require.NoError(t, err)
	assert.Nil(t, none)

	for _, bad := range []string{"novalue", "=x"} {
		_, err := parseDetails([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestMergeDetails(t *testing.T) {
	base := map[string]string{"name": "a", "room": "1"}
	got := mergeDetails(base, map[string]string{"name": "b"})
	assert.Equal(t, map[string]string{"name": "b", "room": "1"}, got)
	assert.Equal(t, "a", base["name"], "base must not be modified")

	assert.Equal(t, base, mergeDetails(base, nil))
}

func TestApplyServeFlags(t *testing.T) {
	t.Cleanup(func() {
		serveHost, servePort, serveEcho, serveDetails, serveTokens = "", 0, false, nil, nil
	})
	require.NoError(t, serveCmd.Flags().Set("echo", "true"))
	t.Cleanup(func() { serveCmd.Flags().Lookup("echo").Changed = false })

	serveHost = "127.0.0.1"
	servePort = 9000
	serveDetails = []string{"name=den"}
	serveTokens = []string{"s3cret"}

	cfg := config.Default()
	require.NoError(t, applyServeFlags(serveCmd, cfg))

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.True(t, cfg.Server.Echo)
	assert.Equal(t, "den", cfg.Server.Details["name"])
	assert.Contains(t, cfg.Server.Auth.Tokens, "s3cret")
	assert.False(t, cfg.Server.Metrics, "metrics untouched when the flag is not set")
}

func TestRelayConfigWiresAuthAndMetrics(t *testing.T) {
	sc := config.Default().Server
	sc.Details = map[string]string{"name": "den"}
	sc.Auth.Tokens = []string{"s3cret"}
	sc.Metrics = true

	rc := relayConfig(sc, zap.NewNop())
	require.NotNil(t, rc.Authenticator)
	require.NotNil(t, rc.Metrics)
	require.NotNil(t, rc.Observer)

	srv := httptest.NewServer(ws.NewServer(rc).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "missing token")
}
