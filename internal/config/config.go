// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/althaafka/pdfhub-api/internal/security"
	sessionservice "github.com/althaafka/pdfhub-api/internal/session/service"
	"github.com/althaafka/pdfhub-api/internal/throttle"
)

const (
	defaultAccessTTL     = 15 * time.Minute
	defaultRefreshTTL    = 168 * time.Hour
	defaultFailureWindow = 15 * time.Minute
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// DatabaseURL is the Postgres DSN. Empty selects in-memory stores (development only).
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// JWTSecret is the HS256 signing secret, at least 32 bytes. Ignored when a key pair is set.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTPrivateKey is the PEM-encoded private key (RSA, ECDSA or Ed25519) or path to file; used with JWT_PUBLIC_KEY.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	JWTAudience  string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh session lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// MaxSessionsPerUser caps concurrently active refresh sessions per identity; the oldest are evicted at login.
	MaxSessionsPerUser int `mapstructure:"MAX_SESSIONS_PER_USER"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// RedisURL enables the shared login throttle (e.g. redis://localhost:6379/0). Empty keeps counters in process.
	RedisURL string `mapstructure:"REDIS_URL"`
	// LoginMaxFailures locks an identifier after this many failed logins within the window. 0 disables throttling.
	LoginMaxFailures   int    `mapstructure:"LOGIN_MAX_FAILURES"`
	LoginFailureWindow string `mapstructure:"LOGIN_FAILURE_WINDOW"`
	// LoginPolicyFile is an optional Rego module (package pdfhub.login) replacing the default admission policy.
	LoginPolicyFile string `mapstructure:"LOGIN_POLICY_FILE"`

	// Telemetry (optional). When Kafka brokers are set, session events are published to Kafka.
	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	KafkaBrokers       string `mapstructure:"KAFKA_BROKERS"`
	SessionEventsTopic string `mapstructure:"SESSION_EVENTS_TOPIC"`
	// KafkaGroupID is the consumer group of the event worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL is where the event worker pushes events (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`

	OTLPEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
	OTLPInsecure    bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if signing or
// session settings are invalid.
func Load() (*Config, error) {
	cfg, err := LoadInfra()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateAuth(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadInfra loads Config without requiring signing keys. Used by commands that never issue
// tokens (migrate, worker).
func LoadInfra() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	// Every key needs a default so AutomaticEnv values reach Unmarshal.
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "pdfhub-auth")
	v.SetDefault("JWT_AUDIENCE", "pdfhub-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("MAX_SESSIONS_PER_USER", 5)
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("LOGIN_MAX_FAILURES", 5)
	v.SetDefault("LOGIN_FAILURE_WINDOW", "15m")
	v.SetDefault("LOGIN_POLICY_FILE", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("SESSION_EVENTS_TOPIC", "pdfhub-session-events")
	v.SetDefault("KAFKA_GROUP_ID", "pdfhub-session-events-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_SERVICE_NAME", "pdfhub-auth")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.LoginMaxFailures < 0 {
		return nil, errors.New("config: LOGIN_MAX_FAILURES must not be negative")
	}
	if cfg.LoginMaxFailures > 0 {
		if _, err := positiveDuration("LOGIN_FAILURE_WINDOW", cfg.LoginFailureWindow); err != nil {
			return nil, err
		}
	}
	if cfg.IsProduction() && cfg.DatabaseURL == "" {
		return nil, errors.New("config: DATABASE_URL must be set when APP_ENV=production")
	}
	return &cfg, nil
}

// ValidateAuth checks everything needed to sign tokens and manage sessions.
func (c *Config) ValidateAuth() error {
	hasPriv, hasPub := c.JWTPrivateKey != "", c.JWTPublicKey != ""
	if hasPriv != hasPub {
		return errors.New("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY must be set together")
	}
	if !c.UsesKeyPair() && len(c.JWTSecret) < security.MinHMACSecretLen {
		return fmt.Errorf("config: JWT_SECRET must be at least %d bytes unless a JWT key pair is set", security.MinHMACSecretLen)
	}
	if c.JWTIssuer == "" || c.JWTAudience == "" {
		return errors.New("config: JWT_ISSUER and JWT_AUDIENCE must be set")
	}
	if _, err := positiveDuration("JWT_ACCESS_TTL", c.JWTAccessTTL); err != nil {
		return err
	}
	if _, err := positiveDuration("JWT_REFRESH_TTL", c.JWTRefreshTTL); err != nil {
		return err
	}
	if c.MaxSessionsPerUser < 1 {
		return errors.New("config: MAX_SESSIONS_PER_USER must be at least 1")
	}
	return nil
}

// UsesKeyPair reports whether tokens are signed with JWT_PRIVATE_KEY/JWT_PUBLIC_KEY rather than JWT_SECRET.
func (c *Config) UsesKeyPair() bool {
	return c.JWTPrivateKey != "" && c.JWTPublicKey != ""
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return durationOr(c.JWTAccessTTL, defaultAccessTTL)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return durationOr(c.JWTRefreshTTL, defaultRefreshTTL)
}

// SessionPolicy returns the session limits derived from the JWT and quota settings.
func (c *Config) SessionPolicy() sessionservice.Policy {
	return sessionservice.Policy{
		AccessTTL:              c.AccessTTL(),
		RefreshTTL:             c.RefreshTTL(),
		MaxSessionsPerIdentity: c.MaxSessionsPerUser,
	}
}

// ThrottlePolicy returns the login failure limit. ok is false when throttling is disabled.
func (c *Config) ThrottlePolicy() (p throttle.Policy, ok bool) {
	if c.LoginMaxFailures <= 0 {
		return throttle.Policy{}, false
	}
	return throttle.Policy{
		MaxFailures: c.LoginMaxFailures,
		Window:      durationOr(c.LoginFailureWindow, defaultFailureWindow),
	}, true
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list disables event publishing.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func positiveDuration(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("config: %s must be a positive duration (e.g. 15m), got %q", key, s)
	}
	return d, nil
}
