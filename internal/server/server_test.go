package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/meeting-scheduler/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Port:           8080,
		DBPath:         filepath.Join(t.TempDir(), "nested", "scheduler.db"),
		JWTSecret:      "server-test-secret-0123456789",
		TokenTTL:       time.Hour,
		SweepInterval:  time.Hour,
		PurgeRetention: 720 * time.Hour,
		ReminderWindow: 30 * time.Minute,
		LogLevel:       "error",
		LogFormat:      "text",
	}
}

func newTestServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	s, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(s.closeResources)
	return s
}

func TestNew_RequiresJWTSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.JWTSecret = ""

	_, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestNew_CreatesDatabaseDirectory(t *testing.T) {
	cfg := testConfig(t)
	newTestServer(t, cfg)
	assert.DirExists(t, filepath.Dir(cfg.DBPath))
}

func TestRoutes(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	h := s.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Content-Type"))

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/meetings", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// Google routes are not mounted without credentials.
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/auth/google/callback", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestEndToEnd(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	h := s.Handler()

	post := func(path, token string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
		req := httptest.NewRequest(http.MethodPost, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	rr := post("/auth/register", "", map[string]string{"email": "alice@example.com", "password": "correct-horse"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = post("/auth/login", "", map[string]string{"email": "alice@example.com", "password": "correct-horse"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var tok struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&tok))

	meeting := map[string]any{
		"title":      "Kickoff",
		"start_time": "2030-01-01T09:00:00Z",
		"end_time":   "2030-01-01T10:00:00Z",
	}
	rr = post("/meetings", tok.AccessToken, meeting)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = post("/meetings", tok.AccessToken, meeting)
	assert.Equal(t, http.StatusConflict, rr.Code)
}
