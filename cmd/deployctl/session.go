package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apiclient "github.com/splax/clouddeploy/pkg/api/client"
	"github.com/splax/clouddeploy/pkg/config"
)

var errNotLoggedIn = errors.New("please login first using 'deployctl login'")

// session is persisted between invocations in the token file.
type session struct {
	APIURL       string `json:"api_url"`
	Email        string `json:"email,omitempty"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

func loadSession(path string) (session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return session{}, nil
		}
		return session{}, fmt.Errorf("read token file: %w", err)
	}
	var s session
	if err := json.Unmarshal(data, &s); err != nil {
		return session{}, fmt.Errorf("parse token file %s: %w", path, err)
	}
	return s, nil
}

func saveSession(path string, s session) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func clearSession(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// app bundles the resolved client configuration for one invocation.
type app struct {
	cfg     config.ClientConfig
	session session
	client  *apiclient.Client
}

func newApp(cfg config.ClientConfig, apiOverride string) (*app, error) {
	s, err := loadSession(cfg.TokenFile)
	if err != nil {
		return nil, err
	}
	base := cfg.APIURL
	switch {
	case strings.TrimSpace(apiOverride) != "":
		base = apiOverride
	case s.APIURL != "":
		base = s.APIURL
	}
	if cfg.AccessToken != "" {
		s.AccessToken = cfg.AccessToken
		s.RefreshToken = ""
	}
	client, err := apiclient.New(base, apiclient.WithTimeout(cfg.Timeout))
	if err != nil {
		return nil, err
	}
	s.APIURL = strings.TrimRight(strings.TrimSpace(base), "/")
	return &app{cfg: cfg, session: s, client: client}, nil
}

// authed runs call with the stored access token. An expired access token is
// refreshed once and the call retried.
func (a *app) authed(ctx context.Context, call func(token string) error) error {
	if strings.TrimSpace(a.session.AccessToken) == "" {
		return errNotLoggedIn
	}
	err := call(a.session.AccessToken)
	if !errors.Is(err, apiclient.ErrUnauthorized) || a.session.RefreshToken == "" {
		return err
	}
	pair, refreshErr := a.client.Refresh(ctx, a.session.RefreshToken)
	if refreshErr != nil {
		return fmt.Errorf("session expired, login again: %w", err)
	}
	a.session.AccessToken = pair.AccessToken
	a.session.RefreshToken = pair.RefreshToken
	if err := saveSession(a.cfg.TokenFile, a.session); err != nil {
		return err
	}
	return call(a.session.AccessToken)
}
