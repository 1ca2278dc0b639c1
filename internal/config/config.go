// Package config provides application configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port          string
	FrontendURL   string
	DBPath        string
	SessionTTL    time.Duration
	SweepInterval time.Duration
	Secret        string // HMAC key for session cookies
	CookieSecure  bool

	Upstream  UpstreamConfig
	OAuth     OAuthConfig
	Telegram  TelegramConfig
	RateLimit RateLimitConfig

	// ChatStartTimeout bounds a single chat-initiation call. Zero means no bound.
	ChatStartTimeout time.Duration
}

// UpstreamConfig locates the external services the UI sits on top of.
type UpstreamConfig struct {
	ChatServiceURL    string
	ProfileServiceURL string
	AuthServiceURL    string
	Timeout           time.Duration
}

// OAuthConfig configures the authorization-code sign-in provider.
// The provider is disabled when ClientID is empty.
type OAuthConfig struct {
	Provider     string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	RedirectURL  string
	Scopes       []string
}

// TelegramConfig configures mini-app auto-login. Disabled when BotToken is empty.
type TelegramConfig struct {
	BotToken string
	MaxAge   time.Duration
}

// RateLimitConfig controls the per-client API limiter and per-surface trigger limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	TriggersPerMinute int
}

// Enabled reports whether the OAuth provider is configured.
func (c OAuthConfig) Enabled() bool {
	return c.ClientID != ""
}

// Enabled reports whether Telegram auto-login is configured.
func (c TelegramConfig) Enabled() bool {
	return c.BotToken != ""
}

// Default Google endpoints; any OAuth2 provider can be configured instead.
const (
	defaultOAuthAuthURL     = "https://accounts.google.com/o/oauth2/auth"
	defaultOAuthTokenURL    = "https://oauth2.googleapis.com/token"
	defaultOAuthUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
)

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	burst := getEnvInt("RATE_LIMIT_BURST", 40)
	if burst <= 0 {
		burst = 40
	}

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		FrontendURL:   getEnv("FRONTEND_URL", ""),
		DBPath:        getEnv("DB_PATH", "./data/companion.db"),
		SessionTTL:    getEnvDuration("SESSION_TTL", 30*24*time.Hour),
		SweepInterval: getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		Secret:        getEnv("SESSION_SECRET", ""),
		CookieSecure:  getEnvBool("COOKIE_SECURE", true),
		Upstream: UpstreamConfig{
			ChatServiceURL:    getEnv("CHAT_SERVICE_URL", ""),
			ProfileServiceURL: getEnv("PROFILE_SERVICE_URL", ""),
			AuthServiceURL:    getEnv("AUTH_SERVICE_URL", ""),
			Timeout:           getEnvDuration("UPSTREAM_TIMEOUT", 15*time.Second),
		},
		OAuth: OAuthConfig{
			Provider:     getEnv("OAUTH_PROVIDER", "google"),
			ClientID:     getEnv("OAUTH_CLIENT_ID", ""),
			ClientSecret: getEnv("OAUTH_CLIENT_SECRET", ""),
			AuthURL:      getEnv("OAUTH_AUTH_URL", defaultOAuthAuthURL),
			TokenURL:     getEnv("OAUTH_TOKEN_URL", defaultOAuthTokenURL),
			UserInfoURL:  getEnv("OAUTH_USERINFO_URL", defaultOAuthUserInfoURL),
			RedirectURL:  getEnv("OAUTH_REDIRECT_URL", ""),
			Scopes:       getEnvList("OAUTH_SCOPES", []string{"openid", "email", "profile"}),
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
			MaxAge:   getEnvDuration("TELEGRAM_AUTH_MAX_AGE", 24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvFloat("RATE_LIMIT_RPS", 20),
			Burst:             burst,
			TriggersPerMinute: getEnvInt("CHAT_START_PER_MINUTE", 30),
		},
		ChatStartTimeout: getEnvDuration("CHAT_START_TIMEOUT", 0),
	}

	if _, set := os.LookupEnv("COOKIE_SECURE"); !set && cfg.IsDevelopment() {
		cfg.CookieSecure = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if len(c.Secret) < 32 {
		return fmt.Errorf("SESSION_SECRET must be at least 32 characters")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	for _, u := range []struct{ name, raw string }{
		{"CHAT_SERVICE_URL", c.Upstream.ChatServiceURL},
		{"PROFILE_SERVICE_URL", c.Upstream.ProfileServiceURL},
		{"AUTH_SERVICE_URL", c.Upstream.AuthServiceURL},
	} {
		if err := validateURL(u.raw); err != nil {
			return fmt.Errorf("%s: %w", u.name, err)
		}
	}
	if c.ChatStartTimeout < 0 {
		return fmt.Errorf("CHAT_START_TIMEOUT cannot be negative")
	}
	if c.OAuth.Enabled() && c.OAuth.RedirectURL == "" {
		return fmt.Errorf("OAUTH_REDIRECT_URL is required when OAUTH_CLIENT_ID is set")
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be > 0")
	}
	if c.RateLimit.TriggersPerMinute <= 0 {
		return fmt.Errorf("CHAT_START_PER_MINUTE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	out := strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' })
	if len(out) == 0 {
		return fallback
	}
	return out
}
