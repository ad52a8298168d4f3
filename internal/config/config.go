package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "SCOPEDESK"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "scopedesk.db"
	defaultLogLevel          = "info"
	defaultSessionTTLMinutes = 30
	defaultPresenceTTLMs     = 30000
	defaultLoginLimit        = 5
	defaultLoginWindowMs     = 60000
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	SigningSecret string
	SessionTTL    time.Duration
	DatabasePath  string
	LogLevel      string
	PresenceTTL   time.Duration
	LoginLimit    int
	LoginWindow   time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.ttl_minutes", defaultSessionTTLMinutes)
	configViper.SetDefault("presence.ttl_ms", defaultPresenceTTLMs)
	configViper.SetDefault("ratelimit.login_max", defaultLoginLimit)
	configViper.SetDefault("ratelimit.login_window_ms", defaultLoginWindowMs)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		SessionTTL:    time.Duration(configViper.GetInt("session.ttl_minutes")) * time.Minute,
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		PresenceTTL:   time.Duration(configViper.GetInt("presence.ttl_ms")) * time.Millisecond,
		LoginLimit:    configViper.GetInt("ratelimit.login_max"),
		LoginWindow:   time.Duration(configViper.GetInt("ratelimit.login_window_ms")) * time.Millisecond,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.LoginLimit <= 0 {
		return fmt.Errorf("ratelimit.login_max must be positive")
	}
	if c.LoginWindow <= 0 {
		return fmt.Errorf("ratelimit.login_window_ms must be positive")
	}
	return nil
}
