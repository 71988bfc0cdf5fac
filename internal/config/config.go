package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"pixelstreamer/native/internal/api"
	"pixelstreamer/native/internal/poller"

	"github.com/joho/godotenv"
)

const (
	DefaultRelayURL    = "http://127.0.0.1:8090"
	DefaultSTUNURL     = "stun:stun.l.google.com:19302"
	DefaultRelayListen = ":8090"
)

// Config holds the application configuration.
type Config struct {
	Endpoints api.Endpoints
	STUNURLs  []string

	Poll          poller.Config
	AnswerRetries int

	// StatusAddr is where the status feed listens; empty disables it.
	StatusAddr string
	// RecordDir receives diagnostic track recordings; empty disables them.
	RecordDir string
	LogLevel  string

	// RelayListen is the listen address of the development relay.
	RelayListen string
}

// Load reads configuration from a .env file (if present) and environment variables.
// Environment variables take precedence over .env values.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv and validates it.
func FromEnv(getenv func(string) string) (*Config, error) {
	base := getenv("PIXELSTREAM_RELAY_URL")
	if base == "" {
		base = DefaultRelayURL
	}
	endpoints := api.EndpointsFromBase(base)
	override(&endpoints.Generate, getenv("PIXELSTREAM_GENERATE_URL"))
	override(&endpoints.Delete, getenv("PIXELSTREAM_DELETE_URL"))
	override(&endpoints.Offer, getenv("PIXELSTREAM_OFFER_URL"))
	override(&endpoints.Answer, getenv("PIXELSTREAM_ANSWER_URL"))

	cfg := &Config{
		Endpoints:     endpoints,
		STUNURLs:      []string{DefaultSTUNURL},
		Poll:          poller.DefaultConfig(),
		AnswerRetries: 1,
		StatusAddr:    getenv("PIXELSTREAM_STATUS_ADDR"),
		RecordDir:     getenv("PIXELSTREAM_RECORD_DIR"),
		LogLevel:      getenv("PIXELSTREAM_LOG_LEVEL"),
		RelayListen:   getenv("PIXELSTREAM_RELAY_LISTEN"),
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RelayListen == "" {
		cfg.RelayListen = DefaultRelayListen
	}
	if v := getenv("PIXELSTREAM_STUN_URLS"); v != "" {
		cfg.STUNURLs = splitList(v)
	}

	var errs []error
	if v := getenv("PIXELSTREAM_POLL_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PIXELSTREAM_POLL_MAX_ATTEMPTS: %w", err))
		}
		cfg.Poll.MaxAttempts = n
	}
	if v := getenv("PIXELSTREAM_POLL_BASE_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PIXELSTREAM_POLL_BASE_DELAY: %w", err))
		}
		cfg.Poll.BaseDelay = d
	}
	if v := getenv("PIXELSTREAM_POLL_MAX_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PIXELSTREAM_POLL_MAX_DELAY: %w", err))
		}
		cfg.Poll.MaxDelay = d
	}
	if v := getenv("PIXELSTREAM_ANSWER_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PIXELSTREAM_ANSWER_RETRIES: %w", err))
		}
		cfg.AnswerRetries = n
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values a user may have changed.
func (c *Config) Validate() error {
	var errs []error
	for name, u := range map[string]string{
		"generate": c.Endpoints.Generate,
		"delete":   c.Endpoints.Delete,
		"offer":    c.Endpoints.Offer,
		"answer":   c.Endpoints.Answer,
	} {
		parsed, err := url.Parse(u)
		if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			errs = append(errs, fmt.Errorf("%s endpoint %q is not an http(s) URL", name, u))
		}
	}
	for _, s := range c.STUNURLs {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "stuns:") {
			errs = append(errs, fmt.Errorf("ICE server %q is not a stun URL", s))
		}
	}
	if c.Poll.MaxAttempts < 1 {
		errs = append(errs, errors.New("poll max attempts must be at least 1"))
	}
	if c.Poll.BaseDelay <= 0 {
		errs = append(errs, errors.New("poll base delay must be positive"))
	}
	if c.Poll.MaxDelay < c.Poll.BaseDelay {
		errs = append(errs, errors.New("poll max delay must not be below the base delay"))
	}
	if c.AnswerRetries < 1 {
		errs = append(errs, errors.New("answer retries must be at least 1"))
	}
	return errors.Join(errs...)
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
