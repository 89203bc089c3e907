// Command ntbl-api serves the tasting-notes API behind the request-signature
// authentication gate.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/pokemon918/ntbl-api-sub003/gateway/auth"
	"github.com/pokemon918/ntbl-api-sub003/gateway/config"
	"github.com/pokemon918/ntbl-api-sub003/gateway/middleware"
	"github.com/pokemon918/ntbl-api-sub003/gateway/routes"
	"github.com/pokemon918/ntbl-api-sub003/observability"
	"github.com/pokemon918/ntbl-api-sub003/observability/logging"
	"github.com/pokemon918/ntbl-api-sub003/storage/history"
	"github.com/pokemon918/ntbl-api-sub003/storage/identity"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Options{
		Service:    cfg.Observability.ServiceName,
		Env:        cfg.Env,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	db, err := openDatabase(cfg.Database)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	if err := identity.AutoMigrate(db); err != nil {
		logger.Error("migrate identity schema", "error", err)
		os.Exit(1)
	}
	if err := history.AutoMigrate(db); err != nil {
		logger.Error("migrate history schema", "error", err)
		os.Exit(1)
	}

	identities := identity.NewStore(db)
	histories := history.NewStore(db)
	metrics := observability.Auth()
	alerts := observability.NewStaleAlertSink(logger, metrics)

	gate := auth.NewGate(identities, histories, alerts, logger, cfg.GateOptions(), time.Now)
	authMW := middleware.NewSignatureAuth(gate, metrics, logger, middleware.AuthOptions{
		ThrottleLimit: cfg.Auth.ThrottleLimit,
	})

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: cfg.Observability.ServiceName,
		LogRequests: cfg.Observability.LogRequests,
		Enabled:     cfg.Observability.Metrics || cfg.Observability.Tracing,
	}, logger)
	limiter := middleware.NewRateLimiter(middleware.RateLimit{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
	}, logger)

	handler, err := routes.New(routes.Config{
		Auth:          authMW,
		RateLimiter:   limiter,
		Observability: obs,
		Identities:    identities,
		Logger:        logger,
	})
	if err != nil {
		logger.Error("configure routes", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.History.RetentionHours > 0 {
		go pruneHistory(ctx, histories, time.Duration(cfg.History.RetentionHours)*time.Hour, logger)
	}

	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout.Std(),
		WriteTimeout: cfg.WriteTimeout.Std(),
		IdleTimeout:  cfg.IdleTimeout.Std(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "error", err)
		}
	}()

	logger.Info("starting ntbl-api", "listen", cfg.ListenAddress, "env", cfg.Env)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{TranslateError: true}
	switch cfg.Driver {
	case "sqlite":
		return gorm.Open(sqlite.Open(cfg.DSN), gormCfg)
	default:
		return gorm.Open(postgres.Open(cfg.DSN), gormCfg)
	}
}

// pruneHistory deletes accepted-request records past the retention window.
// The table is append-only otherwise; without pruning it grows unbounded.
func pruneHistory(ctx context.Context, store *history.Store, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			pruned, err := store.DeleteBefore(ctx, now.Add(-retention))
			if err != nil {
				logger.Error("prune request history", "error", err)
				continue
			}
			if pruned > 0 {
				logger.Info("pruned request history", "records", pruned)
			}
		}
	}
}
