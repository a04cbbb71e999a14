package server

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"traindesk/internal/domain/audit"
	"traindesk/internal/domain/auth"
	"traindesk/internal/domain/retention"
	"traindesk/internal/platform/config"
	cryptoutil "traindesk/internal/platform/crypto"
	"traindesk/internal/platform/db"
	"traindesk/internal/platform/email"
	"traindesk/internal/platform/jobs"
	"traindesk/internal/platform/metrics"
	audithandler "traindesk/internal/transport/http/handlers/audit"
	authhandler "traindesk/internal/transport/http/handlers/auth"
	compliancehandler "traindesk/internal/transport/http/handlers/compliance"
	retentionhandler "traindesk/internal/transport/http/handlers/retention"
	"traindesk/internal/transport/http/middleware"
)

func Run() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config invalid: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	if cfg.RunMigrations {
		if err := db.Migrate(ctx, pool, "migrations"); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
	}
	if cfg.RunSeed {
		if err := db.Seed(ctx, pool, cfg); err != nil {
			log.Fatalf("seed failed: %v", err)
		}
	}

	cryptoSvc, err := cryptoutil.New(cfg.DataEncryptionKey)
	if err != nil {
		log.Fatalf("encryption key invalid: %v", err)
	}

	signingKey, err := signingKeyFromConfig(cfg.CertificateSigningKey)
	if err != nil {
		log.Fatalf("certificate signing key invalid: %v", err)
	}
	issuer := retention.NewIssuer(signingKey, cfg.CertificateWitness)

	var collector *metrics.Collector
	if cfg.MetricsEnabled {
		collector = metrics.New()
	}

	retentionStore := retention.NewStore(pool)
	engine := retention.NewEngine(
		retentionStore,
		retention.NewLockStore(retentionStore),
		retention.NewPgResourceStore(pool),
		issuer,
		collector,
		retention.Options{
			Holder:          cfg.WorkerID,
			BatchSize:       cfg.SweepBatchSize,
			MaxEraseRetries: cfg.MaxEraseRetries,
			LockTTL:         cfg.SweepLockTTL,
		},
	)
	auditor := retention.NewAuditor(retentionStore, cfg.MaxEraseRetries, 7*24*time.Hour)

	mailer := email.New(cfg)
	jobsSvc := jobs.New(pool, cfg, engine, auditor, mailer)
	jobsSvc.Start(ctx)

	authStore := auth.NewStore(pool)
	authSvc := auth.NewService(authStore)
	auditSvc := audit.New(pool)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(chimw.Recoverer)
	router.Use(middleware.SecureHeaders(cfg.Environment == "production"))
	router.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	router.Use(middleware.Auth(cfg.JWTSecret))
	router.Use(middleware.RateLimit(cfg.RateLimitPerMinute, time.Minute))
	router.Use(middleware.SensitiveMutationRateLimit(cfg.RateLimitPerMinute, time.Minute))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if cfg.MetricsEnabled {
		router.Handle("/metrics", promhttp.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		authHandler := authhandler.NewHandler(authSvc, cfg.JWTSecret, cryptoSvc, mailer, cfg.EmailFrom, cfg.AppBaseURL)
		r.Post("/auth/login", authHandler.HandleLogin)
		r.Post("/auth/logout", authHandler.HandleLogout)
		r.Post("/auth/refresh", authHandler.HandleRefresh)
		r.Post("/auth/request-reset", authHandler.HandleRequestReset)
		r.Post("/auth/reset", authHandler.HandleResetPassword)
		r.Post("/auth/mfa/setup", authHandler.HandleMFASetup)
		r.Post("/auth/mfa/enable", authHandler.HandleMFAEnable)
		r.Post("/auth/mfa/disable", authHandler.HandleMFADisable)

		retentionhandler.NewHandler(retentionStore, engine, jobsSvc, auditSvc, cryptoutil.NewKeyStore(pool, cryptoSvc), middleware.NewIdempotencyStore(pool), authStore).RegisterRoutes(r)
		compliancehandler.NewHandler(retentionStore, auditor, issuer, jobsSvc, authStore).RegisterRoutes(r)
		audithandler.NewHandler(auditSvc, authStore).RegisterRoutes(r)
	})

	slog.Info("retention engine listening", "addr", cfg.Addr, "env", cfg.Environment)
	if err := http.ListenAndServe(cfg.Addr, router); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

// signingKeyFromConfig decodes a 32-byte ed25519 seed given as hex or
// base64. An empty value disables certificate signatures.
func signingKeyFromConfig(raw string) (ed25519.PrivateKey, error) {
	if raw == "" {
		return nil, nil
	}
	seed, err := hex.DecodeString(raw)
	if err != nil {
		seed, err = base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, err
		}
	}
	if len(seed) != ed25519.SeedSize {
		return nil, errors.New("CERTIFICATE_SIGNING_KEY must decode to a 32-byte ed25519 seed")
	}
	return ed25519.NewKeyFromSeed(seed), nil
}
