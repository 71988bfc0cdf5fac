package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(env(nil))
	require.NoError(t, err)

	assert.Equal(t, DefaultRelayURL+"/generateCode", cfg.Endpoints.Generate)
	assert.Equal(t, DefaultRelayURL+"/getOffer", cfg.Endpoints.Offer)
	assert.Equal(t, []string{DefaultSTUNURL}, cfg.STUNURLs)
	assert.Equal(t, 30, cfg.Poll.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Poll.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Poll.MaxDelay)
	assert.Equal(t, 1, cfg.AnswerRetries)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.StatusAddr)
	assert.Equal(t, DefaultRelayListen, cfg.RelayListen)
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"PIXELSTREAM_RELAY_URL":         "https://relay.example.com/",
		"PIXELSTREAM_ANSWER_URL":        "https://answers.example.com",
		"PIXELSTREAM_STUN_URLS":         "stun:a.example.com:3478, stun:b.example.com:3478",
		"PIXELSTREAM_POLL_MAX_ATTEMPTS": "10",
		"PIXELSTREAM_POLL_BASE_DELAY":   "250ms",
		"PIXELSTREAM_POLL_MAX_DELAY":    "5s",
		"PIXELSTREAM_ANSWER_RETRIES":    "3",
		"PIXELSTREAM_STATUS_ADDR":       "127.0.0.1:9000",
		"PIXELSTREAM_LOG_LEVEL":         "debug",
	}))
	require.NoError(t, err)

	assert.Equal(t, "https://relay.example.com/generateCode", cfg.Endpoints.Generate)
	assert.Equal(t, "https://relay.example.com/deleteCode", cfg.Endpoints.Delete)
	assert.Equal(t, "https://answers.example.com", cfg.Endpoints.Answer)
	assert.Equal(t, []string{"stun:a.example.com:3478", "stun:b.example.com:3478"}, cfg.STUNURLs)
	assert.Equal(t, 10, cfg.Poll.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Poll.BaseDelay)
	assert.Equal(t, 5*time.Second, cfg.Poll.MaxDelay)
	assert.Equal(t, 3, cfg.AnswerRetries)
	assert.Equal(t, "127.0.0.1:9000", cfg.StatusAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"bad number":        {"PIXELSTREAM_POLL_MAX_ATTEMPTS": "many"},
		"bad duration":      {"PIXELSTREAM_POLL_BASE_DELAY": "soon"},
		"zero attempts":     {"PIXELSTREAM_POLL_MAX_ATTEMPTS": "0"},
		"max below base":    {"PIXELSTREAM_POLL_BASE_DELAY": "10s", "PIXELSTREAM_POLL_MAX_DELAY": "1s"},
		"no answer tries":   {"PIXELSTREAM_ANSWER_RETRIES": "0"},
		"relay not http":    {"PIXELSTREAM_RELAY_URL": "ftp://relay"},
		"stun not stun url": {"PIXELSTREAM_STUN_URLS": "turn:relay:3478"},
	}
	for name, vars := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := FromEnv(env(vars))
			assert.Error(t, err)
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("PIXELSTREAM_STATUS_ADDR=127.0.0.1:7000\nPIXELSTREAM_LOG_LEVEL=warn\n"), 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	// The environment wins over .env.
	t.Setenv("PIXELSTREAM_LOG_LEVEL", "error")
	t.Setenv("PIXELSTREAM_STATUS_ADDR", "")
	os.Unsetenv("PIXELSTREAM_STATUS_ADDR")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.StatusAddr)
	assert.Equal(t, "error", cfg.LogLevel)
}
