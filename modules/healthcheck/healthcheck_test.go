package healthcheck

import (
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) string {
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["status"]
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.RegisterFlagsAndApplyDefaults("healthcheck", flag.NewFlagSet("test", flag.PanicOnError))
	assert.Equal(t, 8080, cfg.Port)
}

func TestHealthz(t *testing.T) {
	s := New(Config{Port: 0}, func() error { return nil }, nil, log.NewNopLogger())

	rec := get(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeStatus(t, rec))

	s.SetLive(false)
	rec = get(t, s, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", decodeStatus(t, rec))
}

func TestReadyzTracksCheckFunc(t *testing.T) {
	ready := errors.New("broker not connected")
	s := New(Config{Port: 0}, func() error { return ready }, nil, log.NewNopLogger())

	rec := get(t, s, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ready = nil
	rec = get(t, s, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeStatus(t, rec))
}

func TestReadyzFalseOnceDraining(t *testing.T) {
	s := New(Config{Port: 0}, func() error { return nil }, nil, log.NewNopLogger())

	rec := get(t, s, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)

	s.SetDraining()

	// readiness is down even though the broker check still passes
	rec = get(t, s, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// liveness is unaffected
	rec = get(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := New(Config{Port: 0}, func() error { return nil }, nil, log.NewNopLogger())
	rec := get(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestConfigEndpoint(t *testing.T) {
	dump := struct {
		SceneID string `yaml:"scene_id"`
	}{SceneID: "scene-1"}

	s := New(Config{Port: 0}, func() error { return nil }, dump, log.NewNopLogger())
	rec := get(t, s, "/config")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "scene_id: scene-1")
}
