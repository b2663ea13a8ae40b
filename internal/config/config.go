// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN; empty until DB is wired.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// IDPIssuer is the identity provider issuer URL; tokens must carry it in iss
	// (e.g. https://cognito-idp.ap-northeast-1.amazonaws.com/ap-northeast-1_XXXX).
	IDPIssuer string `mapstructure:"IDP_ISSUER"`
	// IDPClientID is the app client ID; identity tokens must carry it in aud,
	// access tokens in client_id.
	IDPClientID string `mapstructure:"IDP_CLIENT_ID"`
	// IDPClientSecret is the optional app client secret used for the refresh grant.
	IDPClientSecret string `mapstructure:"IDP_CLIENT_SECRET"`
	// IDPTokenURL is the provider token endpoint for the refresh grant.
	// Defaults to <IDP_ISSUER>/oauth2/token when empty.
	IDPTokenURL string `mapstructure:"IDP_TOKEN_URL"`
	// JWKSURL overrides the JWKS document URL. Defaults to <IDP_ISSUER>/.well-known/jwks.json.
	JWKSURL string `mapstructure:"JWKS_URL"`
	// JWKSCacheTTL is how long a fetched key set is served from cache (e.g. "1h").
	JWKSCacheTTL string `mapstructure:"JWKS_CACHE_TTL"`

	// EncryptionKey is the passphrase the refresh-token cipher derives its key from.
	// Required outside development.
	EncryptionKey string `mapstructure:"ENCRYPTION_KEY"`
	// AllowedOrigins is a comma-separated list of origins accepted by the CSRF check.
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`

	// SessionExtension is how far expires_at moves forward on auto-extension (e.g. "24h").
	SessionExtension string `mapstructure:"SESSION_EXTENSION"`
	// SessionInactivityTimeout invalidates sessions idle longer than this (e.g. "2h").
	SessionInactivityTimeout string `mapstructure:"SESSION_INACTIVITY_TIMEOUT"`
	// SessionRefreshWindow is how recently a session must have been active for an
	// expired token to be silently refreshed (e.g. "1h").
	SessionRefreshWindow string `mapstructure:"SESSION_REFRESH_WINDOW"`

	// RateSignInLimit / RateSignInWindow bound failed sign-in attempts per identifier.
	RateSignInLimit  int    `mapstructure:"RATE_SIGNIN_LIMIT"`
	RateSignInWindow string `mapstructure:"RATE_SIGNIN_WINDOW"`
	// RateRegistrationLimit / RateRegistrationWindow bound registration attempts per identifier.
	RateRegistrationLimit  int    `mapstructure:"RATE_REGISTRATION_LIMIT"`
	RateRegistrationWindow string `mapstructure:"RATE_REGISTRATION_WINDOW"`
	// RateVerifyLimit / RateVerifyWindow bound token verifications per client IP.
	RateVerifyLimit  int    `mapstructure:"RATE_VERIFY_LIMIT"`
	RateVerifyWindow string `mapstructure:"RATE_VERIFY_WINDOW"`
	// RateWebsocketLimit / RateWebsocketWindow bound websocket auth messages per client IP.
	RateWebsocketLimit  int    `mapstructure:"RATE_WEBSOCKET_LIMIT"`
	RateWebsocketWindow string `mapstructure:"RATE_WEBSOCKET_WINDOW"`

	// BruteForceThreshold / BruteForceWindow: failures per identifier that raise a
	// brute-force event (e.g. 10 within "15m").
	BruteForceThreshold int    `mapstructure:"BRUTE_FORCE_THRESHOLD"`
	BruteForceWindow    string `mapstructure:"BRUTE_FORCE_WINDOW"`
	// StuffingMinIdentifiers / StuffingMinAttempts / StuffingWindow: one IP probing
	// many identifiers raises a credential-stuffing event.
	StuffingMinIdentifiers int    `mapstructure:"STUFFING_MIN_IDENTIFIERS"`
	StuffingMinAttempts    int    `mapstructure:"STUFFING_MIN_ATTEMPTS"`
	StuffingWindow         string `mapstructure:"STUFFING_WINDOW"`
	// MeteredAbuseThreshold / MeteredAbuseWindow: executions of one metered operation
	// per user that raise an abuse event.
	MeteredAbuseThreshold int    `mapstructure:"METERED_ABUSE_THRESHOLD"`
	MeteredAbuseWindow    string `mapstructure:"METERED_ABUSE_WINDOW"`
	// HighValueThreshold flags a single metered execution at or above this amount.
	HighValueThreshold float64 `mapstructure:"HIGH_VALUE_THRESHOLD"`

	// SessionSweepInterval is how often expired/inactive sessions are swept (e.g. "1h").
	SessionSweepInterval string `mapstructure:"SESSION_SWEEP_INTERVAL"`
	// CacheEvictionInterval is how often in-memory tracking caches are evicted (e.g. "2h").
	CacheEvictionInterval string `mapstructure:"CACHE_EVICTION_INTERVAL"`
	// CacheMaxAge is the eviction cutoff for tracking entries (e.g. "24h").
	CacheMaxAge string `mapstructure:"CACHE_MAX_AGE"`

	// OTLPEndpoint enables OTel export when set (e.g. http://localhost:4317).
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`

	// SecurityKafkaBrokers is a comma-separated list of Kafka broker addresses.
	// When set, security events are also published to Kafka.
	SecurityKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// SecurityKafkaTopic is the Kafka topic for security events (default minutes-security).
	SecurityKafkaTopic string `mapstructure:"SECURITY_KAFKA_TOPIC"`

	// Worker-only: Loki URL for the security-event worker to push logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the security-event worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("IDP_ISSUER", "")
	v.SetDefault("IDP_CLIENT_ID", "")
	v.SetDefault("IDP_CLIENT_SECRET", "")
	v.SetDefault("IDP_TOKEN_URL", "")
	v.SetDefault("JWKS_URL", "")
	v.SetDefault("JWKS_CACHE_TTL", "1h")
	v.SetDefault("ENCRYPTION_KEY", "")
	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("SESSION_EXTENSION", "24h")
	v.SetDefault("SESSION_INACTIVITY_TIMEOUT", "2h")
	v.SetDefault("SESSION_REFRESH_WINDOW", "1h")
	v.SetDefault("RATE_SIGNIN_LIMIT", 5)
	v.SetDefault("RATE_SIGNIN_WINDOW", "30m")
	v.SetDefault("RATE_REGISTRATION_LIMIT", 3)
	v.SetDefault("RATE_REGISTRATION_WINDOW", "1h")
	v.SetDefault("RATE_VERIFY_LIMIT", 1000)
	v.SetDefault("RATE_VERIFY_WINDOW", "1h")
	v.SetDefault("RATE_WEBSOCKET_LIMIT", 200)
	v.SetDefault("RATE_WEBSOCKET_WINDOW", "1h")
	v.SetDefault("BRUTE_FORCE_THRESHOLD", 10)
	v.SetDefault("BRUTE_FORCE_WINDOW", "15m")
	v.SetDefault("STUFFING_MIN_IDENTIFIERS", 5)
	v.SetDefault("STUFFING_MIN_ATTEMPTS", 20)
	v.SetDefault("STUFFING_WINDOW", "30m")
	v.SetDefault("METERED_ABUSE_THRESHOLD", 10)
	v.SetDefault("METERED_ABUSE_WINDOW", "1h")
	v.SetDefault("HIGH_VALUE_THRESHOLD", 1000.0)
	v.SetDefault("SESSION_SWEEP_INTERVAL", "1h")
	v.SetDefault("CACHE_EVICTION_INTERVAL", "2h")
	v.SetDefault("CACHE_MAX_AGE", "24h")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("SECURITY_KAFKA_TOPIC", "minutes-security")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "minutes-security-worker")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.EncryptionKey == "" && cfg.Env == "production" {
		return nil, errors.New("config: ENCRYPTION_KEY must be set when APP_ENV=production")
	}
	if cfg.BruteForceThreshold < 1 {
		return nil, errors.New("config: BRUTE_FORCE_THRESHOLD must be at least 1")
	}
	if cfg.StuffingMinIdentifiers < 1 || cfg.StuffingMinAttempts < 1 {
		return nil, errors.New("config: STUFFING_MIN_IDENTIFIERS and STUFFING_MIN_ATTEMPTS must be at least 1")
	}

	if cfg.IDPIssuer != "" {
		issuer := strings.TrimSuffix(cfg.IDPIssuer, "/")
		if cfg.JWKSURL == "" {
			cfg.JWKSURL = issuer + "/.well-known/jwks.json"
		}
		if cfg.IDPTokenURL == "" {
			cfg.IDPTokenURL = issuer + "/oauth2/token"
		}
	}

	return &cfg, nil
}

// duration parses s as a time.Duration, falling back to def when unset or invalid.
func duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// KeySetTTL parses JWKSCacheTTL. Returns 1h if unset or invalid.
func (c *Config) KeySetTTL() time.Duration { return duration(c.JWKSCacheTTL, time.Hour) }

// SessionExtensionTTL parses SessionExtension. Returns 24h if unset or invalid.
func (c *Config) SessionExtensionTTL() time.Duration {
	return duration(c.SessionExtension, 24*time.Hour)
}

// InactivityTimeout parses SessionInactivityTimeout. Returns 2h if unset or invalid.
func (c *Config) InactivityTimeout() time.Duration {
	return duration(c.SessionInactivityTimeout, 2*time.Hour)
}

// RefreshWindow parses SessionRefreshWindow. Returns 1h if unset or invalid.
func (c *Config) RefreshWindow() time.Duration {
	return duration(c.SessionRefreshWindow, time.Hour)
}

// SweepInterval parses SessionSweepInterval. Returns 1h if unset or invalid.
func (c *Config) SweepInterval() time.Duration {
	return duration(c.SessionSweepInterval, time.Hour)
}

// EvictionInterval parses CacheEvictionInterval. Returns 2h if unset or invalid.
func (c *Config) EvictionInterval() time.Duration {
	return duration(c.CacheEvictionInterval, 2*time.Hour)
}

// MaxCacheAge parses CacheMaxAge. Returns 24h if unset or invalid.
func (c *Config) MaxCacheAge() time.Duration { return duration(c.CacheMaxAge, 24*time.Hour) }

// SignInRateWindow parses RateSignInWindow. Returns 30m if unset or invalid.
func (c *Config) SignInRateWindow() time.Duration {
	return duration(c.RateSignInWindow, 30*time.Minute)
}

// RegistrationRateWindow parses RateRegistrationWindow. Returns 1h if unset or invalid.
func (c *Config) RegistrationRateWindow() time.Duration {
	return duration(c.RateRegistrationWindow, time.Hour)
}

// VerifyRateWindow parses RateVerifyWindow. Returns 1h if unset or invalid.
func (c *Config) VerifyRateWindow() time.Duration {
	return duration(c.RateVerifyWindow, time.Hour)
}

// WebsocketRateWindow parses RateWebsocketWindow. Returns 1h if unset or invalid.
func (c *Config) WebsocketRateWindow() time.Duration {
	return duration(c.RateWebsocketWindow, time.Hour)
}

// BruteForceDetectWindow parses BruteForceWindow. Returns 15m if unset or invalid.
func (c *Config) BruteForceDetectWindow() time.Duration {
	return duration(c.BruteForceWindow, 15*time.Minute)
}

// StuffingDetectWindow parses StuffingWindow. Returns 30m if unset or invalid.
func (c *Config) StuffingDetectWindow() time.Duration {
	return duration(c.StuffingWindow, 30*time.Minute)
}

// MeteredAbuseDetectWindow parses MeteredAbuseWindow. Returns 1h if unset or invalid.
func (c *Config) MeteredAbuseDetectWindow() time.Duration {
	return duration(c.MeteredAbuseWindow, time.Hour)
}

// AllowedOriginsList returns the CSRF origin allow-list from the comma-separated config.
func (c *Config) AllowedOriginsList() []string {
	return splitCSV(c.AllowedOrigins)
}

// SecurityKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if the Kafka pipeline is enabled (non-empty list) and to create the producer.
func (c *Config) SecurityKafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitCSV(c.SecurityKafkaBrokers)
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
