package config

import (
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "test-secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != "0.0.0.0:8080" {
		t.Fatalf("unexpected default address %q", cfg.HTTPAddress)
	}
	if cfg.DatabasePath != "pinprompt.db" {
		t.Fatalf("unexpected default database path %q", cfg.DatabasePath)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("unexpected default log level %q", cfg.LogLevel)
	}
	if cfg.TokenTTLMinutes != 43200 {
		t.Fatalf("unexpected default token ttl %d", cfg.TokenTTLMinutes)
	}
	if cfg.MediaEnabled() {
		t.Fatalf("expected media disabled without endpoint")
	}
}

func TestLoadRequiresSigningSecret(t *testing.T) {
	configViper := NewViper()
	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected missing signing secret to fail")
	}
}

func TestLoadRejectsBlankDatabasePath(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "test-secret")
	configViper.Set("database.path", "   ")
	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected blank database path to fail")
	}
}

func TestLoadRejectsNonPositiveTokenTTL(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "test-secret")
	configViper.Set("auth.token_ttl_minutes", 0)
	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected zero token ttl to fail")
	}
}

func TestLoadRequiresMediaCredentialsWhenEndpointSet(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "test-secret")
	configViper.Set("media.endpoint", "http://localhost:9000")
	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected missing media credentials to fail")
	}

	configViper.Set("media.access_key", "minio")
	configViper.Set("media.secret_key", "minio123")
	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if !cfg.MediaEnabled() {
		t.Fatalf("expected media enabled with endpoint and credentials")
	}
	if cfg.MediaBucket != "pinprompt-media" {
		t.Fatalf("unexpected default bucket %q", cfg.MediaBucket)
	}
}
