package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/clouddeploy/pkg/config"
)

func runCLI(t *testing.T, cfg config.ClientConfig, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(cfg, &out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func testConfig(t *testing.T, apiURL string) config.ClientConfig {
	return config.ClientConfig{
		APIURL:    apiURL,
		TokenFile: filepath.Join(t.TempDir(), "token.json"),
		Timeout:   5 * time.Second,
	}
}

func TestLoginStoresSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/login", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"token_type":    "bearer",
		})
	}))
	defer srv.Close()
	cfg := testConfig(t, srv.URL)

	out, err := runCLI(t, cfg, "login", "--email", "Dev@Example.com", "--password", "Str0ng!pass")
	require.NoError(t, err)
	assert.Contains(t, out, "login successful")

	s, err := loadSession(cfg.TokenFile)
	require.NoError(t, err)
	assert.Equal(t, "access-1", s.AccessToken)
	assert.Equal(t, "refresh-1", s.RefreshToken)
	assert.Equal(t, "dev@example.com", s.Email)
	assert.Equal(t, srv.URL, s.APIURL)
}

func TestCommandsRequireLogin(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	_, err := runCLI(t, cfg, "project", "list")
	require.ErrorIs(t, err, errNotLoggedIn)
}

func TestExpiredAccessTokenIsRefreshedOnce(t *testing.T) {
	var refreshes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/refresh":
			refreshes.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "fresh", "refresh_token": "refresh-2"})
		case "/projects":
			if r.Header.Get("Authorization") != "Bearer fresh" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"Could not validate credentials"}`))
				return
			}
			_, _ = w.Write([]byte(`[{"id":7,"name":"site","github_url":"https://github.com/a/b","status":"active"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	cfg := testConfig(t, srv.URL)
	require.NoError(t, saveSession(cfg.TokenFile, session{APIURL: srv.URL, AccessToken: "stale", RefreshToken: "refresh-1"}))

	out, err := runCLI(t, cfg, "project", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "7\tsite\tactive")
	assert.Equal(t, int32(1), refreshes.Load())

	s, err := loadSession(cfg.TokenFile)
	require.NoError(t, err)
	assert.Equal(t, "fresh", s.AccessToken)
	assert.Equal(t, "refresh-2", s.RefreshToken)
}

func TestFollowPrintsUntilTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/deployments/3/stream", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("event: snapshot\ndata: {\"status\":\"queued\",\"logs\":\"queued\\n\",\"terminal\":false}\n\n"))
		_, _ = w.Write([]byte(": ping\n\n"))
		_, _ = w.Write([]byte("event: update\ndata: {\"status\":\"success\",\"chunk\":\"done\\n\",\"terminal\":true}\n\n"))
	}))
	defer srv.Close()
	cfg := testConfig(t, srv.URL)
	cfg.AccessToken = "token"

	out, err := runCLI(t, cfg, "deploy", "logs", "3", "--follow")
	require.NoError(t, err)
	assert.Equal(t, "queued\ndone\ndeployment 3 finished: success\n", out)
}

func TestParseID(t *testing.T) {
	id, err := parseID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, raw := range []string{"0", "-1", "abc"} {
		_, err := parseID(raw)
		assert.Error(t, err, raw)
	}
}
