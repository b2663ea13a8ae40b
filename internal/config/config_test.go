package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":8080")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.JWKSCacheTTL != "1h" {
		t.Errorf("JWKSCacheTTL = %q, want %q", cfg.JWKSCacheTTL, "1h")
	}
	if cfg.RateSignInLimit != 5 {
		t.Errorf("RateSignInLimit = %d, want 5", cfg.RateSignInLimit)
	}
	if cfg.RateRegistrationLimit != 3 {
		t.Errorf("RateRegistrationLimit = %d, want 3", cfg.RateRegistrationLimit)
	}
	if cfg.BruteForceThreshold != 10 {
		t.Errorf("BruteForceThreshold = %d, want 10", cfg.BruteForceThreshold)
	}
	if cfg.StuffingMinIdentifiers != 5 || cfg.StuffingMinAttempts != 20 {
		t.Errorf("stuffing thresholds = %d/%d, want 5/20", cfg.StuffingMinIdentifiers, cfg.StuffingMinAttempts)
	}
	if cfg.SecurityKafkaTopic != "minutes-security" {
		t.Errorf("SecurityKafkaTopic = %q, want default", cfg.SecurityKafkaTopic)
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":9090")
	os.Setenv("IDP_ISSUER", "https://idp.example.com/pool")
	os.Setenv("BRUTE_FORCE_THRESHOLD", "25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9090")
	}
	if cfg.IDPIssuer != "https://idp.example.com/pool" {
		t.Errorf("IDPIssuer = %q, want override", cfg.IDPIssuer)
	}
	if cfg.BruteForceThreshold != 25 {
		t.Errorf("BruteForceThreshold = %d, want 25", cfg.BruteForceThreshold)
	}
}

func TestLoad_DerivesEndpointsFromIssuer(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":8080")
	os.Setenv("IDP_ISSUER", "https://idp.example.com/pool/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.JWKSURL != "https://idp.example.com/pool/.well-known/jwks.json" {
		t.Errorf("JWKSURL = %q, want derived from issuer", cfg.JWKSURL)
	}
	if cfg.IDPTokenURL != "https://idp.example.com/pool/oauth2/token" {
		t.Errorf("IDPTokenURL = %q, want derived from issuer", cfg.IDPTokenURL)
	}
}

func TestLoad_ExplicitEndpointsWinOverIssuer(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":8080")
	os.Setenv("IDP_ISSUER", "https://idp.example.com/pool")
	os.Setenv("JWKS_URL", "https://keys.example.com/jwks.json")
	os.Setenv("IDP_TOKEN_URL", "https://auth.example.com/oauth2/token")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.JWKSURL != "https://keys.example.com/jwks.json" {
		t.Errorf("JWKSURL = %q, want explicit value kept", cfg.JWKSURL)
	}
	if cfg.IDPTokenURL != "https://auth.example.com/oauth2/token" {
		t.Errorf("IDPTokenURL = %q, want explicit value kept", cfg.IDPTokenURL)
	}
}

func TestLoad_NoIssuerLeavesEndpointsEmpty(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":8080")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.JWKSURL != "" || cfg.IDPTokenURL != "" {
		t.Errorf("JWKSURL = %q IDPTokenURL = %q, want empty without an issuer", cfg.JWKSURL, cfg.IDPTokenURL)
	}
}

func TestLoad_EncryptionKeyRequiredInProduction(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":8080")
	os.Setenv("APP_ENV", "production")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load should return error when ENCRYPTION_KEY is empty and APP_ENV=production")
	}
	if cfg != nil {
		t.Error("Load should return nil config on error")
	}
}

func TestLoad_InvalidThresholds(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":8080")
	os.Setenv("BRUTE_FORCE_THRESHOLD", "0")

	if _, err := Load(); err == nil {
		t.Fatal("Load should return error for BRUTE_FORCE_THRESHOLD=0")
	}
}

func TestDurationHelpers_Defaults(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":8080")
	os.Setenv("JWKS_CACHE_TTL", "invalid")
	os.Setenv("SESSION_INACTIVITY_TIMEOUT", "-5m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.KeySetTTL(); got != time.Hour {
		t.Errorf("KeySetTTL = %v, want %v (default)", got, time.Hour)
	}
	if got := cfg.InactivityTimeout(); got != 2*time.Hour {
		t.Errorf("InactivityTimeout = %v, want %v (default)", got, 2*time.Hour)
	}
	if got := cfg.SessionExtensionTTL(); got != 24*time.Hour {
		t.Errorf("SessionExtensionTTL = %v, want %v (default)", got, 24*time.Hour)
	}
	if got := cfg.RefreshWindow(); got != time.Hour {
		t.Errorf("RefreshWindow = %v, want %v (default)", got, time.Hour)
	}
}

func TestDurationHelpers_Override(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":8080")
	os.Setenv("SESSION_SWEEP_INTERVAL", "30m")
	os.Setenv("CACHE_EVICTION_INTERVAL", "4h")
	os.Setenv("CACHE_MAX_AGE", "48h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.SweepInterval(); got != 30*time.Minute {
		t.Errorf("SweepInterval = %v, want 30m", got)
	}
	if got := cfg.EvictionInterval(); got != 4*time.Hour {
		t.Errorf("EvictionInterval = %v, want 4h", got)
	}
	if got := cfg.MaxCacheAge(); got != 48*time.Hour {
		t.Errorf("MaxCacheAge = %v, want 48h", got)
	}
}

func TestAllowedOriginsList(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":8080")
	os.Setenv("ALLOWED_ORIGINS", "https://app.example.com, https://staging.example.com ,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := cfg.AllowedOriginsList()
	want := []string{"https://app.example.com", "https://staging.example.com"}
	if len(got) != len(want) {
		t.Fatalf("AllowedOriginsList = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("AllowedOriginsList[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSecurityKafkaBrokersList(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":8080")
	os.Setenv("KAFKA_BROKERS", "localhost:9092,localhost:9093")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	brokers := cfg.SecurityKafkaBrokersList()
	if len(brokers) != 2 {
		t.Fatalf("SecurityKafkaBrokersList = %v, want 2 brokers", brokers)
	}
	if brokers[0] != "localhost:9092" || brokers[1] != "localhost:9093" {
		t.Errorf("SecurityKafkaBrokersList = %v", brokers)
	}
}

func TestSecurityKafkaBrokersList_Empty(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":8080")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if brokers := cfg.SecurityKafkaBrokersList(); brokers != nil {
		t.Errorf("SecurityKafkaBrokersList = %v, want nil", brokers)
	}
}
