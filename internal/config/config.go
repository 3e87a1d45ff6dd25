// Package config loads application configuration from environment variables,
// an optional .env file and an optional config file.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every configuration key to form its env var.
const EnvPrefix = "GITWATCH"

// Checkpoint backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config holds the application configuration.
type Config struct {
	GitHubTokens            []string
	GitHubRepo              string
	GitHubAPIURL            string
	GitHubAppID             int64
	GitHubAppPrivateKeyPath string
	WebhookSecret           string
	PreviewAccept           string

	PollInterval           time.Duration
	TemporaryPollingWindow time.Duration
	WebhookStaleAfter      time.Duration
	MaxRetries             int
	RetryBaseDelay         time.Duration

	ListenAddr        string
	DBPath            string
	SecretKey         []byte
	CheckpointBackend string
	RedisAddr         string

	Logging LoggingConfig
}

// LoggingConfig selects the log level and output format.
type LoggingConfig struct {
	Level  string
	Format string
}

// HasAppCredentials reports whether GitHub App authentication is configured.
func (c *Config) HasAppCredentials() bool {
	return c.GitHubAppID != 0 && c.GitHubAppPrivateKeyPath != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("github_api_url", "https://api.github.com/")
	v.SetDefault("preview_accept", "application/vnd.github+json")
	v.SetDefault("poll_interval", "60s")
	v.SetDefault("temporary_polling_window", "10m")
	v.SetDefault("webhook_stale_after", "30m")
	v.SetDefault("max_retries", 3)
	v.SetDefault("retry_base_delay", "1s")
	v.SetDefault("listen_addr", "127.0.0.1:8080")
	v.SetDefault("db_path", "gitwatch.db")
	v.SetDefault("checkpoint_backend", BackendSQLite)
	v.SetDefault("redis_addr", "127.0.0.1:6379")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
}

// Load reads configuration and returns a validated Config. Values come from,
// in order of precedence: GITWATCH_* environment variables, a .env file in the
// working directory (never overriding variables already set), and configFile
// when it is non-empty. GITWATCH_GITHUB_REPO is required.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		GitHubTokens:            stringList(v, "github_tokens"),
		GitHubRepo:              strings.TrimSpace(v.GetString("github_repo")),
		GitHubAPIURL:            v.GetString("github_api_url"),
		GitHubAppID:             v.GetInt64("github_app_id"),
		GitHubAppPrivateKeyPath: v.GetString("github_app_private_key_path"),
		WebhookSecret:           v.GetString("webhook_secret"),
		PreviewAccept:           v.GetString("preview_accept"),
		MaxRetries:              v.GetInt("max_retries"),
		ListenAddr:              v.GetString("listen_addr"),
		DBPath:                  v.GetString("db_path"),
		CheckpointBackend:       strings.ToLower(v.GetString("checkpoint_backend")),
		RedisAddr:               v.GetString("redis_addr"),
		Logging: LoggingConfig{
			Level:  strings.ToLower(v.GetString("log_level")),
			Format: strings.ToLower(v.GetString("log_format")),
		},
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"poll_interval", &cfg.PollInterval},
		{"temporary_polling_window", &cfg.TemporaryPollingWindow},
		{"webhook_stale_after", &cfg.WebhookStaleAfter},
		{"retry_base_delay", &cfg.RetryBaseDelay},
	}
	for _, d := range durations {
		parsed, err := parseDuration(v, d.key)
		if err != nil {
			return nil, err
		}
		*d.dst = parsed
	}

	if raw := v.GetString("secret_key"); raw != "" {
		key, err := hex.DecodeString(raw)
		if err != nil || len(key) != 32 {
			return nil, fmt.Errorf("%s must be 64 hex characters (32 bytes)", envName("secret_key"))
		}
		cfg.SecretKey = key
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.GitHubRepo == "" {
		return fmt.Errorf("%s is required", envName("github_repo"))
	}
	if parts := strings.Split(c.GitHubRepo, "/"); len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("%s must be owner/repo, got %q", envName("github_repo"), c.GitHubRepo)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%s must be positive", envName("poll_interval"))
	}
	if c.TemporaryPollingWindow <= 0 {
		return fmt.Errorf("%s must be positive", envName("temporary_polling_window"))
	}
	if c.WebhookStaleAfter < 0 {
		return fmt.Errorf("%s must not be negative", envName("webhook_stale_after"))
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("%s must be at least 1", envName("max_retries"))
	}
	switch c.CheckpointBackend {
	case BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("%s must be %q or %q, got %q", envName("checkpoint_backend"), BackendSQLite, BackendRedis, c.CheckpointBackend)
	}
	if (c.GitHubAppID != 0) != (c.GitHubAppPrivateKeyPath != "") {
		return fmt.Errorf("%s and %s must be set together", envName("github_app_id"), envName("github_app_private_key_path"))
	}
	return nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := v.GetString(key)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", envName(key), raw, err)
	}
	return d, nil
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(key)
}

// stringList reads a list from either a config file sequence or a
// comma-separated env var.
func stringList(v *viper.Viper, key string) []string {
	if items, ok := v.Get(key).([]any); ok {
		out := []string{}
		for _, item := range items {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return splitList(v.GetString(key))
}

// splitList splits a comma-separated value, dropping blanks and keeping order.
func splitList(raw string) []string {
	out := []string{}
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
