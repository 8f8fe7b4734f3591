package config

import (
	"os"
	"path/filepath"
	"time"
)

// ClientConfig holds settings for the deployctl command line client.
type ClientConfig struct {
	APIURL      string
	TokenFile   string
	Timeout     time.Duration
	PollEvery   time.Duration
	AccessToken string
}

// LoadClientConfig constructs a ClientConfig from environment variables.
func LoadClientConfig() ClientConfig {
	return ClientConfig{
		APIURL:      GetString("DEPLOYCTL_API_URL", "http://localhost:8000"),
		TokenFile:   GetString("DEPLOYCTL_TOKEN_FILE", defaultTokenFile()),
		Timeout:     GetDuration("DEPLOYCTL_TIMEOUT_SECONDS", 30, time.Second),
		PollEvery:   GetDuration("DEPLOYCTL_POLL_MS", 1000, time.Millisecond),
		AccessToken: GetString("DEPLOYCTL_TOKEN", ""),
	}
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".deployctl-token.json"
	}
	return filepath.Join(dir, "deployctl", "token.json")
}
