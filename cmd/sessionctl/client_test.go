package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	t.Setenv("SESSIONGUARD_ADDR", srv.URL)
	t.Setenv("SESSIONGUARD_API_KEY", "sgk_cli-test")
	t.Setenv("SESSIONGUARD_CACERT", "")
	cfg = CLIConfig{Address: defaultAddress}

	c, err := newClient()
	require.NoError(t, err)
	return c
}

func TestClientSendsAPIKey(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sgk_cli-test", r.Header.Get("X-API-Key"))
		w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
	})

	result, err := c.get("/v1/health")
	require.NoError(t, err)
	assert.Equal(t, "ok", result["status"])
}

func TestClientDenialIsData(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"approved":false,"reason":"daily_cap_exceeded"}`)) //nolint:errcheck
	})

	result, err := c.post("/v1/sessions/s1/use", map[string]any{"amount": 100})
	require.NoError(t, err)
	assert.Equal(t, "daily_cap_exceeded", result["reason"])
}

func TestClientErrorEnvelope(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"errors":["session already revoked or expired"]}`)) //nolint:errcheck
	})

	_, err := c.post("/v1/sessions/s1/revoke", nil)
	require.EqualError(t, err, "session already revoked or expired")
}

func TestClientEmptyBody(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	result, err := c.post("/v1/sessions/s1/revoke", nil)
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestNewClientRejectsMissingCACert(t *testing.T) {
	cfg = CLIConfig{Address: defaultAddress, TLSCACert: t.TempDir() + "/missing.pem"}
	t.Setenv("SESSIONGUARD_CACERT", "")

	_, err := newClient()
	assert.Error(t, err)
}
