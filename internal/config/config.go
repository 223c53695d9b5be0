// Package config loads the service-level settings for cmd/authd. The
// engine's own tunables live in internal/auth.Config; this covers the
// process: listen address, backing stores, keys.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`
	LogLevel   string `mapstructure:"log_level"`

	Database struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"database"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		QueueKey string `mapstructure:"queue_key"`
	} `mapstructure:"redis"`

	Auth struct {
		AccessTokenKey string        `mapstructure:"access_token_key"`
		AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
		DecoyPepper    string        `mapstructure:"decoy_pepper"`
		CookieDomain   string        `mapstructure:"cookie_domain"`
		CookieSecure   bool          `mapstructure:"cookie_secure"`
	} `mapstructure:"auth"`
}

// Load reads environment variables (after cmd/authd has applied .env)
// into a Config and validates the required fields.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.queue_key", "")
	v.SetDefault("auth.access_token_ttl", 10*time.Minute)
	v.SetDefault("auth.cookie_secure", true)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range map[string]string{
		"listen_addr":           "LISTEN_ADDR",
		"log_level":             "LOG_LEVEL",
		"database.url":          "DATABASE_URL",
		"redis.addr":            "REDIS_ADDR",
		"redis.password":        "REDIS_PASSWORD",
		"redis.queue_key":       "REDIS_QUEUE_KEY",
		"auth.access_token_key": "AUTH_ACCESS_TOKEN_KEY",
		"auth.access_token_ttl": "AUTH_ACCESS_TOKEN_TTL",
		"auth.decoy_pepper":     "AUTH_DECOY_PEPPER",
		"auth.cookie_domain":    "AUTH_COOKIE_DOMAIN",
		"auth.cookie_secure":    "AUTH_COOKIE_SECURE",
	} {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, err
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, err
	}

	if c.Database.URL == "" {
		return Config{}, errors.New("config: DATABASE_URL is required")
	}
	if len(c.Auth.AccessTokenKey) < 32 {
		return Config{}, errors.New("config: AUTH_ACCESS_TOKEN_KEY must be at least 32 bytes")
	}
	if c.Auth.DecoyPepper == "" {
		return Config{}, errors.New("config: AUTH_DECOY_PEPPER is required")
	}
	return c, nil
}
