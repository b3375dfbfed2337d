// Package config loads and validates agent config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Config holds agent configuration loaded from the environment.
type Config struct {
	// APIBaseURL is the Remote Session Store base URL (e.g. https://api.clinic.example).
	APIBaseURL string `mapstructure:"API_BASE_URL"`
	// APIToken is the bearer token for the session API.
	APIToken string `mapstructure:"API_TOKEN"`
	// APITimeout is the per-request timeout (e.g. "15s").
	APITimeout string `mapstructure:"API_TIMEOUT"`

	// SessionsPollInterval is how often the sessions list is refreshed (default 30s).
	SessionsPollInterval string `mapstructure:"SESSIONS_POLL_INTERVAL"`
	// AlertsPollInterval is how often alerts are polled (default 60s).
	AlertsPollInterval string `mapstructure:"ALERTS_POLL_INTERVAL"`
	// ActivitiesPollInterval is how often the watched session's activity feed is polled (default 10s).
	ActivitiesPollInterval string `mapstructure:"ACTIVITIES_POLL_INTERVAL"`

	// AutoRefresh makes stale cache reads refetch synchronously instead of serving stale data.
	AutoRefresh bool `mapstructure:"AUTO_REFRESH"`
	// EnableRealTime turns the websocket push channel on.
	EnableRealTime bool `mapstructure:"ENABLE_REALTIME"`
	// RealTimeURL is the push channel endpoint (e.g. wss://api.clinic.example/sessions/events).
	RealTimeURL string `mapstructure:"REALTIME_URL"`

	// RedisAddr enables the shared cache tier when set (host:port).
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// RedisUsername and RedisPassword authenticate the shared tier; both optional.
	RedisUsername string `mapstructure:"REDIS_USERNAME"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	// RedisDB selects the Redis logical database.
	RedisDB int `mapstructure:"REDIS_DB"`

	// OTLPEndpoint enables telemetry export when set (e.g. http://localhost:4317).
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext export regardless of scheme.
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`

	// Score weights. Treated as configuration, not a validated risk model.
	ScorePerBlocked       int `mapstructure:"SCORE_PER_BLOCKED"`
	ScorePerHighRisk      int `mapstructure:"SCORE_PER_HIGH_RISK"`
	ScorePerCriticalAlert int `mapstructure:"SCORE_PER_CRITICAL_ALERT"`
	ScoreTwoFactorBonus   int `mapstructure:"SCORE_TWO_FACTOR_BONUS"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("API_BASE_URL", "")
	v.SetDefault("API_TOKEN", "")
	v.SetDefault("API_TIMEOUT", "15s")
	v.SetDefault("SESSIONS_POLL_INTERVAL", "30s")
	v.SetDefault("ALERTS_POLL_INTERVAL", "60s")
	v.SetDefault("ACTIVITIES_POLL_INTERVAL", "10s")
	v.SetDefault("AUTO_REFRESH", false)
	v.SetDefault("ENABLE_REALTIME", false)
	v.SetDefault("REALTIME_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_USERNAME", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)
	v.SetDefault("SCORE_PER_BLOCKED", 15)
	v.SetDefault("SCORE_PER_HIGH_RISK", 10)
	v.SetDefault("SCORE_PER_CRITICAL_ALERT", 5)
	v.SetDefault("SCORE_TWO_FACTOR_BONUS", 10)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.APIBaseURL == "" {
		return nil, errors.New("config: API_BASE_URL must be set")
	}
	if cfg.EnableRealTime && cfg.RealTimeURL == "" {
		return nil, errors.New("config: REALTIME_URL must be set when ENABLE_REALTIME is true")
	}
	if cfg.ScorePerBlocked < 0 || cfg.ScorePerHighRisk < 0 || cfg.ScorePerCriticalAlert < 0 || cfg.ScoreTwoFactorBonus < 0 {
		return nil, errors.New("config: score weights must not be negative")
	}

	return &cfg, nil
}

// duration parses s as a time.Duration, falling back to def if unset or invalid.
func duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Timeout returns the per-request API timeout. Defaults to 15s.
func (c *Config) Timeout() time.Duration {
	return duration(c.APITimeout, 15*time.Second)
}

// SessionsInterval returns the sessions polling interval. Defaults to 30s.
func (c *Config) SessionsInterval() time.Duration {
	return duration(c.SessionsPollInterval, 30*time.Second)
}

// AlertsInterval returns the alerts polling interval. Defaults to 60s.
func (c *Config) AlertsInterval() time.Duration {
	return duration(c.AlertsPollInterval, 60*time.Second)
}

// ActivitiesInterval returns the activity-feed polling interval. Defaults to 10s.
func (c *Config) ActivitiesInterval() time.Duration {
	return duration(c.ActivitiesPollInterval, 10*time.Second)
}
