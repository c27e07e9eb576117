package config

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/grantdesk")
	t.Setenv("LEGACY_POSTGRES_DSN", "")
	t.Setenv("SIGNED_URL_TTL_SECONDS", "")
	t.Setenv("WRITE_RATE_LIMIT_PER_MINUTE", "0")
	t.Setenv("JOB_WORKERS", "-3")
	t.Setenv("IN_MEMORY_STORE", "")

	cfg := FromEnv()
	if cfg.LegacyPostgresDSN != cfg.PostgresDSN {
		t.Fatalf("expected legacy dsn to default to POSTGRES_DSN, got %q", cfg.LegacyPostgresDSN)
	}
	if cfg.SignedURLTTLSeconds != 900 {
		t.Fatalf("expected 900s signed url ttl, got %d", cfg.SignedURLTTLSeconds)
	}
	if cfg.WriteRateLimitPerMinute != 0 {
		t.Fatalf("expected rate limit disabled, got %d", cfg.WriteRateLimitPerMinute)
	}
	if cfg.JobWorkers != 4 {
		t.Fatalf("expected invalid worker count to fall back to 4, got %d", cfg.JobWorkers)
	}
	if cfg.InMemoryStore || cfg.StoreMode() != "db" {
		t.Fatalf("expected the database store by default, got %q", cfg.StoreMode())
	}
}

func TestValidate(t *testing.T) {
	goodKey := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
	base := Config{
		PostgresDSN:           "postgres://localhost/grantdesk",
		StorageProvider:       "local",
		LocalURLSigningSecret: "0123456789abcdef",
		ArtifactEncryptionKey: goodKey,
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing key", mutate: func(c *Config) { c.ArtifactEncryptionKey = "" }, wantErr: "ARTIFACT_ENCRYPTION_KEY"},
		{name: "plaintext allowed", mutate: func(c *Config) {
			c.ArtifactEncryptionKey = ""
			c.AllowPlaintextArtifacts = true
		}},
		{name: "short key", mutate: func(c *Config) {
			c.ArtifactEncryptionKey = base64.StdEncoding.EncodeToString([]byte("short"))
		}, wantErr: "expected 32 bytes"},
		{name: "bad key even when plaintext allowed", mutate: func(c *Config) {
			c.ArtifactEncryptionKey = "not base64!"
			c.AllowPlaintextArtifacts = true
		}, wantErr: "base64"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.StorageProvider = "gcs" }, wantErr: "GCS_BUCKET"},
		{name: "local without secret", mutate: func(c *Config) { c.LocalURLSigningSecret = "" }, wantErr: "LOCAL_URL_SIGNING_SECRET"},
		{name: "unknown provider", mutate: func(c *Config) { c.StorageProvider = "s3" }, wantErr: "STORAGE_PROVIDER"},
		{name: "missing dsn", mutate: func(c *Config) { c.PostgresDSN = "" }, wantErr: "POSTGRES_DSN"},
		{name: "in-memory without dsn", mutate: func(c *Config) {
			c.PostgresDSN = ""
			c.InMemoryStore = true
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected valid config, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
