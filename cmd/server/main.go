// Server runs the session-authentication API: token verification, session
// reconciliation, rate limiting, and security monitoring in front of the
// application routes.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"minutes-maker/backend/internal/audit"
	auditrepo "minutes-maker/backend/internal/audit/repository"
	"minutes-maker/backend/internal/cleanup"
	"minutes-maker/backend/internal/config"
	"minutes-maker/backend/internal/db"
	"minutes-maker/backend/internal/guard"
	"minutes-maker/backend/internal/idp"
	"minutes-maker/backend/internal/ratelimit"
	"minutes-maker/backend/internal/secmon"
	"minutes-maker/backend/internal/security"
	"minutes-maker/backend/internal/server"
	sessionrepo "minutes-maker/backend/internal/session/repository"
	"minutes-maker/backend/internal/session/service"
	"minutes-maker/backend/internal/telemetry"
	otelsetup "minutes-maker/backend/internal/telemetry/otel"
	"minutes-maker/backend/internal/telemetry/producer"
	"minutes-maker/backend/internal/token"
	userrepo "minutes-maker/backend/internal/user/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	if cfg.JWKSURL == "" || cfg.IDPIssuer == "" || cfg.IDPClientID == "" {
		log.Fatal("JWKS_URL, IDP_ISSUER, and IDP_CLIENT_ID are required")
	}

	ctx := context.Background()

	providers, err := otelsetup.NewProviders(ctx, cfg.OTLPEndpoint, "minutes-auth", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()

	sqlDB, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer sqlDB.Close()

	users := userrepo.NewPostgresRepository(sqlDB)
	sessions := sessionrepo.NewPostgresRepository(sqlDB)
	auditLogger := audit.NewLogger(auditrepo.NewPostgresRepository(sqlDB))

	keys := token.NewKeySetCache(token.NewHTTPKeySource(cfg.JWKSURL, nil), cfg.KeySetTTL())
	verifier := token.NewVerifier(keys, cfg.IDPIssuer, cfg.IDPClientID)

	var provider idp.Provider
	if cfg.IDPTokenURL != "" {
		provider = idp.NewOAuth2Provider(cfg.IDPTokenURL, cfg.IDPClientID, cfg.IDPClientSecret)
	}

	var cipher *security.TokenCipher
	if cfg.EncryptionKey != "" {
		cipher, err = security.NewTokenCipher(cfg.EncryptionKey)
		if err != nil {
			log.Fatalf("cipher: %v", err)
		}
	}

	sync := service.NewSynchronizer(sessions, users, verifier, provider, cipher, service.Config{
		Extension:         cfg.SessionExtensionTTL(),
		InactivityTimeout: cfg.InactivityTimeout(),
		RefreshWindow:     cfg.RefreshWindow(),
	})

	limiter := ratelimit.New(limitPolicies(cfg))

	kafkaProducer, err := producer.NewKafkaProducer(cfg.SecurityKafkaBrokersList(), cfg.SecurityKafkaTopic)
	if err != nil {
		log.Fatalf("kafka: %v", err)
	}
	emitters := []telemetry.EventEmitter{otelsetup.NewEventEmitter(providers.LoggerProvider)}
	if kafkaProducer != nil {
		emitters = append(emitters, kafkaProducer)
		defer kafkaProducer.Close()
	}
	sink := telemetry.FanoutSink(audit.SecuritySink(auditLogger), telemetry.MonitorSink(emitters...))

	monitor := secmon.NewMonitor(monitorConfig(cfg), sink)

	g := guard.New(sync, limiter, monitor, auditLogger, cfg.AllowedOriginsList())

	sweepCtx, stopSweep := context.WithCancel(ctx)
	scheduler := cleanup.NewScheduler(sessions, cleanup.Config{
		SweepInterval:    cfg.SweepInterval(),
		EvictionInterval: cfg.EvictionInterval(),
		MaxCacheAge:      cfg.MaxCacheAge(),
		InactivityAge:    cfg.InactivityTimeout(),
	}, []cleanup.CacheEvictor{limiter, monitor})
	go scheduler.Run(sweepCtx)

	srv := server.New(cfg.HTTPAddr, g, sync, monitor)
	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	stopSweep()

	// Let in-flight async telemetry emits finish before the exporters go away.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("telemetry shutdown: %v", err)
	}
	log.Println("HTTP server stopped")
}

func limitPolicies(cfg *config.Config) ratelimit.Policies {
	policies := ratelimit.DefaultPolicies()
	policies[ratelimit.OpSignIn] = ratelimit.Policy{Limit: cfg.RateSignInLimit, Window: cfg.SignInRateWindow()}
	policies[ratelimit.OpRegistration] = ratelimit.Policy{Limit: cfg.RateRegistrationLimit, Window: cfg.RegistrationRateWindow()}
	policies[ratelimit.OpTokenVerify] = ratelimit.Policy{Limit: cfg.RateVerifyLimit, Window: cfg.VerifyRateWindow()}
	policies[ratelimit.OpWebsocket] = ratelimit.Policy{Limit: cfg.RateWebsocketLimit, Window: cfg.WebsocketRateWindow()}
	return policies
}

func monitorConfig(cfg *config.Config) secmon.Config {
	return secmon.Config{
		BruteForceThreshold:    cfg.BruteForceThreshold,
		BruteForceWindow:       cfg.BruteForceDetectWindow(),
		StuffingMinIdentifiers: cfg.StuffingMinIdentifiers,
		StuffingMinAttempts:    cfg.StuffingMinAttempts,
		StuffingWindow:         cfg.StuffingDetectWindow(),
		LockoutLimit:           cfg.RateSignInLimit,
		LockoutWindow:          cfg.SignInRateWindow(),
		SuccessLoginThreshold:  5,
		SuccessLoginWindow:     time.Hour,
		MeteredAbuseThreshold:  cfg.MeteredAbuseThreshold,
		MeteredAbuseWindow:     cfg.MeteredAbuseDetectWindow(),
		HighValueThreshold:     cfg.HighValueThreshold,
	}
}
