package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "PINPROMPT"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "pinprompt.db"
	defaultLogLevel     = "info"
	defaultTokenTTLMins = 43200 // 30 days
	defaultMediaBucket  = "pinprompt-media"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	LogLevel        string
	SigningSecret   string
	TokenTTLMinutes int

	// Media storage is optional; uploads are disabled when the endpoint
	// is unset.
	MediaEndpoint  string
	MediaRegion    string
	MediaBucket    string
	MediaAccessKey string
	MediaSecretKey string
	MediaPublicURL string
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
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMins)
	configViper.SetDefault("media.bucket", defaultMediaBucket)
	configViper.SetDefault("media.region", "us-east-1")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        configViper.GetString("log.level"),
		SigningSecret:   configViper.GetString("auth.signing_secret"),
		TokenTTLMinutes: configViper.GetInt("auth.token_ttl_minutes"),
		MediaEndpoint:   configViper.GetString("media.endpoint"),
		MediaRegion:     configViper.GetString("media.region"),
		MediaBucket:     configViper.GetString("media.bucket"),
		MediaAccessKey:  configViper.GetString("media.access_key"),
		MediaSecretKey:  configViper.GetString("media.secret_key"),
		MediaPublicURL:  configViper.GetString("media.public_url"),
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
	if c.TokenTTLMinutes <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if strings.TrimSpace(c.MediaEndpoint) != "" {
		if strings.TrimSpace(c.MediaAccessKey) == "" || strings.TrimSpace(c.MediaSecretKey) == "" {
			return fmt.Errorf("media.access_key and media.secret_key are required when media.endpoint is set")
		}
	}
	return nil
}

// MediaEnabled reports whether an object store is configured.
func (c AppConfig) MediaEnabled() bool {
	return strings.TrimSpace(c.MediaEndpoint) != ""
}
