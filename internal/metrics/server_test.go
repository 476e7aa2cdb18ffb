package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/vaultconfig/internal/logging"
)

type fakeSource struct {
	props map[string]string
	err   error
}

func (f *fakeSource) Healthy() error         { return f.err }
func (f *fakeSource) Map() map[string]string { return f.props }

func newTestServer(t *testing.T, source Source, expose bool) *httptest.Server {
	t.Helper()
	rec := NewRecorder()
	rec.AuthAttempt("token", nil)

	cfg := DefaultServerConfig()
	cfg.ExposeValues = expose
	srv := httptest.NewServer(NewServer(cfg, source, rec.Registry(), logging.Nop()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestServer_Health(t *testing.T) {
	t.Parallel()

	healthy := newTestServer(t, &fakeSource{}, false)
	status, body := get(t, healthy.URL+"/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	broken := newTestServer(t, &fakeSource{err: errors.New("token expired")}, false)
	status, body = get(t, broken.URL+"/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "token expired", body["error"])
}

func TestServer_PropertiesKeysOnly(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeSource{props: map[string]string{"b": "2", "a.x": "secret"}}, false)

	status, body := get(t, srv.URL+"/v1/properties")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []interface{}{"a.x", "b"}, body["keys"])
	assert.NotContains(t, body, "properties")

	status, _ = get(t, srv.URL+"/v1/properties/a.x")
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = get(t, srv.URL+"/v1/properties/missing")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestServer_PropertiesExposed(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeSource{props: map[string]string{"vault.value": "foo"}}, true)

	status, body := get(t, srv.URL+"/v1/properties")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]interface{}{"vault.value": "foo"}, body["properties"])

	status, body = get(t, srv.URL+"/v1/properties/vault.value")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "foo", body["value"])
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeSource{}, false)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	text, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(text), `vaultconfig_auth_total{method="token",result="success"} 1`)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeSource{}, false)
	resp, err := http.Post(srv.URL+"/healthz", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_StartStop(t *testing.T) {
	t.Parallel()

	cfg := DefaultServerConfig()
	cfg.Address = "127.0.0.1:0"
	server := NewServer(cfg, &fakeSource{}, NewRecorder().Registry(), logging.Nop())
	require.NoError(t, server.Start())

	status, _ := get(t, "http://"+server.Addr()+"/healthz")
	assert.Equal(t, http.StatusOK, status)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Stop(ctx))
	require.NoError(t, server.Stop(ctx))
}
