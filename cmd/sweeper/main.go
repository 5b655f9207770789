package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ErlanBelekov/authsvc/config"
	"github.com/ErlanBelekov/authsvc/internal/health"
	"github.com/ErlanBelekov/authsvc/internal/infrastructure/postgres"
	ctxlog "github.com/ErlanBelekov/authsvc/internal/log"
	"github.com/ErlanBelekov/authsvc/internal/metrics"
	"github.com/ErlanBelekov/authsvc/internal/sweeper"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("config: the sweeper needs DATABASE_URL; in-memory servers sweep in-process")
	}

	logger := ctxlog.New(os.Stdout, cfg.IsLocal(), cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	logger.Info("db connected")

	metrics.Register(prometheus.DefaultRegisterer)
	checker := health.NewChecker(logger, prometheus.DefaultRegisterer).Add("postgres", pool)

	sw, err := sweeper.New(postgres.NewUserRepository(pool), logger, cfg.SweepSchedule, cfg.SweepRetention)
	if err != nil {
		stop()
		log.Fatalf("sweeper: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		sw.Start(ctx)
	}()

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	<-done

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("sweeper shut down")
}
