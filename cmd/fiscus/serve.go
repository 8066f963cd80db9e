package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/CaioWing/Fiscus/internal/api"
	"github.com/CaioWing/Fiscus/internal/api/middleware"
	"github.com/CaioWing/Fiscus/internal/auth"
	"github.com/CaioWing/Fiscus/internal/config"
	"github.com/CaioWing/Fiscus/internal/events"
	"github.com/CaioWing/Fiscus/internal/fdms"
	"github.com/CaioWing/Fiscus/internal/repository/postgres"
	"github.com/CaioWing/Fiscus/internal/service"
	"github.com/CaioWing/Fiscus/internal/storage/local"
	"github.com/CaioWing/Fiscus/internal/telemetry"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and status poller",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	log.Info("starting Fiscus",
		"listen", cfg.ListenAddr(),
		"db_host", cfg.DB.Host,
		"storage", cfg.Storage.Path,
		"fdms", cfg.FDMS.BaseURL,
	)

	log.Info("running database migrations")
	if err := postgres.RunMigrations(cfg.DB.DSN()); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}
	log.Info("database connected")

	store, err := local.New(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	gateway, err := fdms.NewClient(cfg.FDMS.BaseURL, cfg.FDMS.APIKey, &http.Client{})
	if err != nil {
		return fmt.Errorf("init fdms client: %w", err)
	}

	deviceRepo := postgres.NewDeviceRepo(pool)
	auditRepo := postgres.NewAuditRepo(pool)

	auditSvc := service.NewAuditService(auditRepo, service.RetryPolicy{
		Attempts: cfg.Audit.Attempts,
		Backoff:  cfg.Audit.Backoff,
		Timeout:  cfg.Audit.Timeout,
	}, log)
	deviceSvc := service.NewDeviceService(deviceRepo, store, log)
	orch := service.NewOrchestrator(deviceRepo, gateway, auditSvc, store, service.OrchestratorConfig{
		CallTimeout: cfg.FDMS.CallTimeout,
	}, log)

	metrics := middleware.NewMetrics()
	orch.AddObserver(metrics)

	publisher, err := events.Connect(cfg.MQTT, log)
	switch {
	case err == nil:
		defer publisher.Close()
		orch.AddObserver(publisher)
	case errors.Is(err, events.ErrDisabled):
	default:
		log.Warn("mqtt publisher unavailable, continuing without events", "err", err)
	}

	influx, err := telemetry.Connect(cfg.InfluxDB, log)
	switch {
	case err == nil:
		defer influx.Close()
		orch.AddObserver(influx)
	case errors.Is(err, telemetry.ErrDisabled):
	default:
		log.Warn("influxdb unavailable, continuing without telemetry", "err", err)
	}

	if cfg.Poller.Interval > 0 {
		poller := service.NewStatusPoller(deviceRepo, orch, cfg.Poller.Concurrency, log)
		go poller.StartScheduler(ctx, cfg.Poller.Interval)
	}

	router := api.NewRouter(api.RouterDeps{
		DeviceSvc:      deviceSvc,
		Orchestrator:   orch,
		AuditSvc:       auditSvc,
		JWTManager:     auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry),
		Metrics:        metrics,
		CORSOrigins:    cfg.CORS.Origins(),
		RateLimitRPS:   cfg.RateLimit.RPS,
		RateLimitBurst: cfg.RateLimit.Burst,
		Logger:         log,
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.ListenAddr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
