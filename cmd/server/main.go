package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ErlanBelekov/authsvc/config"
	"github.com/ErlanBelekov/authsvc/internal/email"
	"github.com/ErlanBelekov/authsvc/internal/health"
	"github.com/ErlanBelekov/authsvc/internal/infrastructure/memory"
	"github.com/ErlanBelekov/authsvc/internal/infrastructure/postgres"
	redisstore "github.com/ErlanBelekov/authsvc/internal/infrastructure/redis"
	ctxlog "github.com/ErlanBelekov/authsvc/internal/log"
	"github.com/ErlanBelekov/authsvc/internal/metrics"
	"github.com/ErlanBelekov/authsvc/internal/otp"
	"github.com/ErlanBelekov/authsvc/internal/password"
	"github.com/ErlanBelekov/authsvc/internal/repository"
	"github.com/ErlanBelekov/authsvc/internal/session"
	"github.com/ErlanBelekov/authsvc/internal/sweeper"
	httptransport "github.com/ErlanBelekov/authsvc/internal/transport/http"
	"github.com/ErlanBelekov/authsvc/internal/transport/http/handler"
	"github.com/ErlanBelekov/authsvc/internal/transport/http/middleware"
	"github.com/ErlanBelekov/authsvc/internal/usecase"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	sessionIssuer   = "authsvc"
	deliveryTimeout = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := ctxlog.New(os.Stdout, cfg.IsLocal(), cfg.SlogLevel())

	if !cfg.IsLocal() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	metrics.Register(prometheus.DefaultRegisterer)
	checker := health.NewChecker(logger, prometheus.DefaultRegisterer)

	// Credential store
	var users repository.UserRepository
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL is empty, using the in-memory store; accounts are lost on restart")
		mem := memory.NewUserRepository()
		users = mem

		sw, err := sweeper.New(mem, logger, cfg.SweepSchedule, cfg.SweepRetention)
		if err != nil {
			return err
		}
		go sw.Start(ctx)
	} else {
		if cfg.AutoMigrate {
			if err := migrateUp(cfg.DatabaseURL, logger); err != nil {
				return err
			}
		}

		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("db: %w", err)
		}
		defer pool.Close()
		logger.Info("db connected")

		checker.Add("postgres", pool)
		users = postgres.NewUserRepository(pool)
	}

	// Session revocation
	var denylist session.Denylist
	switch cfg.SessionRevocation {
	case "memory":
		denylist = memory.NewDenylist(time.Now)
	case "redis":
		client, err := redisstore.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer client.Close()

		dl := redisstore.NewDenylist(client, "")
		checker.Add("redis", dl)
		denylist = dl
	}

	// Notifications
	sender := email.NewSender(email.Options{
		Provider:     cfg.EmailProvider,
		From:         cfg.EmailFrom,
		ResendAPIKey: cfg.ResendAPIKey,
		SMTP: email.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
		},
	}, logger)
	notifier := email.NewOTPNotifier(sender, logger, cfg.NotifyMaxRetries, cfg.VerifyOTPTTL, cfg.ResetOTPTTL)
	dispatcher := email.NewDispatcher(notifier, logger, cfg.NotifyWorkers, deliveryTimeout)

	// Auth
	sessions := session.NewIssuer(session.Config{
		Secret:   []byte(cfg.JWTSecret),
		TTL:      cfg.SessionTTL,
		Issuer:   sessionIssuer,
		Denylist: denylist,
	})
	auth := usecase.NewAuthUsecase(
		users,
		password.NewHasher(password.DefaultParams, cfg.HashConcurrency),
		otp.NewEngine(otp.Config{VerifyTTL: cfg.VerifyOTPTTL, ResetTTL: cfg.ResetOTPTTL}),
		sessions,
		dispatcher,
		logger,
	)
	// The cookie lives exactly as long as the token inside it.
	authHandler := handler.NewAuthHandler(auth, handler.CookieConfig{
		Domain: cfg.CookieDomain,
		Secure: !cfg.IsLocal(),
		MaxAge: sessions.TTL(),
	}, cfg.RevealUnknownResetEmail, logger)

	srv := http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httptransport.NewRouter(logger, authHandler, middleware.Auth(auth, logger), cfg.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server started", "port", cfg.Port, "revocation", cfg.SessionRevocation, "email", cfg.EmailProvider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: %w", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	// Requests are drained, so no new codes can be queued.
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Error("notification drain", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
	return runErr
}

func migrateUp(databaseURL string, logger *slog.Logger) error {
	m, err := postgres.NewMigrator(databaseURL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("migrator close", "error", err)
		}
	}()

	if err := m.Up(); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	if v, dirty, err := m.Version(); err == nil {
		logger.Info("migrations applied", "version", v, "dirty", dirty)
	}
	return nil
}
