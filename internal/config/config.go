package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"grantdesk/internal/infra/crypto"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr          string
	PostgresDSN       string
	LegacyPostgresDSN string
	InMemoryStore     bool
	LogLevel          string
	Env               string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	StorageProvider       string
	GCSBucket             string
	GCSCredentialsJSON    string
	LocalStorageDir       string
	LocalURLSigningSecret string
	PublicBaseURL         string
	SignedURLTTLSeconds   int

	ArtifactEncryptionKey   string
	AllowPlaintextArtifacts bool

	JobWorkers     int
	JobQueueSize   int
	JobMaxAttempts int

	AutosaveIntervalSeconds int
	WriteRateLimitPerMinute int
	AuthorizationPolicyPath string
	DirectorySeedPath       string
}

// FromEnv reads configuration from the environment. A .env file in the
// working directory is loaded first; real environment variables win.
func FromEnv() Config {
	_ = godotenv.Load()

	dsn := os.Getenv("POSTGRES_DSN")
	return Config{
		HTTPAddr:                envDefault("HTTP_ADDR", ":8080"),
		PostgresDSN:             dsn,
		LegacyPostgresDSN:       envDefault("LEGACY_POSTGRES_DSN", dsn),
		InMemoryStore:           envBoolDefault("IN_MEMORY_STORE", false),
		LogLevel:                envDefault("LOG_LEVEL", "info"),
		Env:                     envDefault("GRANTDESK_ENV", "development"),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		RedisPassword:           os.Getenv("REDIS_PASSWORD"),
		RedisDB:                 envNonNegativeInt("REDIS_DB", 0),
		StorageProvider:         strings.ToLower(envDefault("STORAGE_PROVIDER", "local")),
		GCSBucket:               os.Getenv("GCS_BUCKET"),
		GCSCredentialsJSON:      os.Getenv("GCS_CREDENTIALS_JSON"),
		LocalStorageDir:         envDefault("LOCAL_STORAGE_DIR", "./data/artifacts"),
		LocalURLSigningSecret:   os.Getenv("LOCAL_URL_SIGNING_SECRET"),
		PublicBaseURL:           strings.TrimRight(envDefault("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		SignedURLTTLSeconds:     envIntDefault("SIGNED_URL_TTL_SECONDS", 900),
		ArtifactEncryptionKey:   os.Getenv("ARTIFACT_ENCRYPTION_KEY"),
		AllowPlaintextArtifacts: envBoolDefault("ALLOW_PLAINTEXT_ARTIFACTS", false),
		JobWorkers:              envIntDefault("JOB_WORKERS", 4),
		JobQueueSize:            envIntDefault("JOB_QUEUE_SIZE", 256),
		JobMaxAttempts:          envIntDefault("JOB_MAX_ATTEMPTS", 5),
		AutosaveIntervalSeconds: envIntDefault("AUTOSAVE_INTERVAL_SECONDS", 15),
		WriteRateLimitPerMinute: envNonNegativeInt("WRITE_RATE_LIMIT_PER_MINUTE", 120),
		AuthorizationPolicyPath: os.Getenv("AUTHZ_POLICY_PATH"),
		DirectorySeedPath:       os.Getenv("DIRECTORY_SEED_PATH"),
	}
}

// Validate fails fast on settings the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.PostgresDSN) == "" && !c.InMemoryStore {
		errs = append(errs, errors.New("POSTGRES_DSN is required unless IN_MEMORY_STORE=true"))
	}
	switch c.StorageProvider {
	case "gcs":
		if c.GCSBucket == "" {
			errs = append(errs, errors.New("GCS_BUCKET is required for gcs storage"))
		}
	case "local":
		if len(c.LocalURLSigningSecret) < 16 {
			errs = append(errs, errors.New("LOCAL_URL_SIGNING_SECRET must be at least 16 bytes for local storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_PROVIDER %q", c.StorageProvider))
	}
	if c.ArtifactEncryptionKey == "" {
		if !c.AllowPlaintextArtifacts {
			errs = append(errs, errors.New("ARTIFACT_ENCRYPTION_KEY is required unless ALLOW_PLAINTEXT_ARTIFACTS=true"))
		}
	} else if _, err := crypto.ParseKey(c.ArtifactEncryptionKey); err != nil {
		errs = append(errs, fmt.Errorf("ARTIFACT_ENCRYPTION_KEY: %w", err))
	}
	return errors.Join(errs...)
}

// StoreMode names the persistence backend reported by the health check.
func (c Config) StoreMode() string {
	if c.InMemoryStore {
		return "memory"
	}
	return "db"
}

// PlaintextMode reports whether artifacts will be stored unencrypted.
func (c Config) PlaintextMode() bool {
	return c.ArtifactEncryptionKey == ""
}

func (c Config) SignedURLTTL() time.Duration {
	return time.Duration(c.SignedURLTTLSeconds) * time.Second
}

func (c Config) AutosaveInterval() time.Duration {
	return time.Duration(c.AutosaveIntervalSeconds) * time.Second
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func envNonNegativeInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}
