package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/park285/skyquest-client/internal/obslog"
	dto "github.com/park285/skyquest-client/pkg/skyquestdto"
)

type AppConfig struct {
	// Origin stands in for the page origin; API and feed addresses derive
	// from it unless overridden.
	Origin     string `env:"SKYQUEST_ORIGIN" envDefault:"http://localhost:8080"`
	APIBaseURL string `env:"SKYQUEST_API_URL"`
	FeedURL    string `env:"SKYQUEST_WS_URL"`

	Difficulty dto.Difficulty `env:"SKYQUEST_DIFFICULTY" envDefault:"easy"`

	RequestTimeout    time.Duration `env:"SKYQUEST_REQUEST_TIMEOUT" envDefault:"10s"`
	RequestRetries    int           `env:"SKYQUEST_REQUEST_RETRIES" envDefault:"0"`
	RequestsPerSecond float64       `env:"SKYQUEST_REQUESTS_PER_SECOND" envDefault:"0"`

	FeedBaseDelay     time.Duration `env:"SKYQUEST_FEED_BASE_DELAY" envDefault:"1s"`
	FeedMaxReconnects int           `env:"SKYQUEST_FEED_MAX_RECONNECTS" envDefault:"5"`

	RedisURL       string        `env:"REDIS_URL"`
	LeaderboardTTL time.Duration `env:"LEADERBOARD_CACHE_TTL" envDefault:"30s"`

	MetricsAddr  string `env:"METRICS_ADDR"`
	AirportsFile string `env:"AIRPORTS_FILE"`

	Log obslog.Options `envPrefix:"LOG_"`
}

func Load() (*AppConfig, error) {
	cfg, err := env.ParseAs[AppConfig]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) resolve() error {
	c.Origin = strings.TrimRight(strings.TrimSpace(c.Origin), "/")
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	c.FeedURL = strings.TrimSpace(c.FeedURL)

	if c.APIBaseURL == "" || c.FeedURL == "" {
		if c.Origin == "" {
			return errors.New("SKYQUEST_ORIGIN is required when API or WS URL is not set")
		}
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = c.Origin + "/api"
	}
	if c.FeedURL == "" {
		u, err := DeriveFeedURL(c.Origin)
		if err != nil {
			return err
		}
		c.FeedURL = u
	}
	if _, ok := dto.ParseDifficulty(string(c.Difficulty)); !ok {
		return fmt.Errorf("SKYQUEST_DIFFICULTY %q is not one of easy, medium, hard", c.Difficulty)
	}
	if c.FeedMaxReconnects < 0 {
		return errors.New("SKYQUEST_FEED_MAX_RECONNECTS must not be negative")
	}
	if c.FeedBaseDelay <= 0 {
		return errors.New("SKYQUEST_FEED_BASE_DELAY must be positive")
	}
	if c.RequestRetries < 0 {
		c.RequestRetries = 0
	}
	return nil
}

// DeriveFeedURL maps a page origin to its real-time address: same host,
// path /ws, and wss when the page is served over https.
func DeriveFeedURL(origin string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("parse origin: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("origin %q has no host", origin)
	}
	scheme := "ws"
	if strings.EqualFold(u.Scheme, "https") {
		scheme = "wss"
	}
	return (&url.URL{Scheme: scheme, Host: u.Host, Path: "/ws"}).String(), nil
}
