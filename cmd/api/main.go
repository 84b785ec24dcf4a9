package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aimerfeng/Earnzy/internal/cache"
	"github.com/aimerfeng/Earnzy/internal/config"
	"github.com/aimerfeng/Earnzy/internal/database"
	"github.com/aimerfeng/Earnzy/internal/fraud"
	"github.com/aimerfeng/Earnzy/internal/ledger"
	"github.com/aimerfeng/Earnzy/internal/logging"
	"github.com/aimerfeng/Earnzy/internal/middleware"
	"github.com/aimerfeng/Earnzy/internal/moderation"
	"github.com/aimerfeng/Earnzy/internal/monitoring"
	"github.com/aimerfeng/Earnzy/internal/payment"
	"github.com/aimerfeng/Earnzy/internal/payout"
	"github.com/aimerfeng/Earnzy/internal/plan"
	"github.com/aimerfeng/Earnzy/internal/referral"
	"github.com/aimerfeng/Earnzy/internal/revenue"
	"github.com/aimerfeng/Earnzy/internal/server"
	"github.com/aimerfeng/Earnzy/internal/task"
	"github.com/aimerfeng/Earnzy/internal/withdrawal"
)

func main() {
	// Load configuration first
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logging
	logging.Setup(&cfg.Logging, cfg.Server.Env)

	log.Info().
		Str("env", cfg.Server.Env).
		Str("name", cfg.Server.Name).
		Msg("Starting Earnzy ledger server")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(cfg.Database.URL); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
	}

	// Initialize database connection
	db, err := database.New(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Redis carries the sweep lock and the payout queue. Outside production
	// the server runs without it.
	var rdb *cache.Redis
	if rdb, err = cache.New(ctx, cfg.Redis.URL); err != nil {
		if cfg.Server.Env == "production" {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		log.Warn().Err(err).Msg("Redis unavailable, payouts will not be queued and sweeps are not leader-locked")
		rdb = nil
	} else {
		defer rdb.Close()
	}

	// Initialize Prometheus metrics
	monitoring.Init()
	log.Info().Msg("Prometheus metrics initialized")

	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(cfg.Monitoring.PrometheusPort)
	}

	store := ledger.NewStore(db)
	guard := fraud.NewGuard(cfg.Fraud)

	var payoutQueue withdrawal.PayoutQueue
	var dispatcher *payout.Dispatcher
	var sweepLocker referral.Locker
	var limiter middleware.Limiter
	health := map[string]server.HealthChecker{"database": db}
	if rdb != nil {
		dispatcher = payout.NewDispatcher(rdb, cfg.Payout.QueueKey)
		payoutQueue = dispatcher
		sweepLocker = rdb
		limiter = middleware.NewSlidingWindow(rdb, cfg.RateLimit)
		health["redis"] = rdb
	}
	go reportPoolStats(ctx, db, dispatcher)

	gateway := payment.NewGateway(cfg.Razorpay, payment.DefaultBreakerConfig())
	referrals := referral.NewService(store, cfg.Referral)

	scheduler := referral.NewScheduler(referrals, guard, store, sweepLocker, cfg.Referral)
	if err := scheduler.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start referral scheduler")
	}

	srv := server.NewAPIServer(cfg, server.Services{
		Accounts:    store,
		Tasks:       task.NewService(store, guard, cfg.Ledger),
		Withdrawals: withdrawal.NewService(store, cfg.Ledger, payoutQueue),
		Plans:       plan.NewService(store, gateway, cfg.Ledger),
		Referrals:   referrals,
		Sweeps:      scheduler,
		Moderation:  moderation.NewService(store),
		Revenue:     revenue.NewService(store),
		Limiter:     limiter,
		Health:      health,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Int("port", cfg.Server.Port).
			Str("url", cfg.Server.URL).
			Msg("API server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().
		Str("signal", sig.String()).
		Msg("Shutdown signal received, gracefully shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	stop()
	scheduler.Stop()

	log.Info().Msg("Server exited gracefully")
}

func startMetricsServer(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", monitoring.Handler())

	metricsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Info().
		Int("port", port).
		Msg("Prometheus metrics server listening")

	if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Metrics server error")
	}
}

func reportPoolStats(ctx context.Context, db *database.DB, dispatcher *payout.Dispatcher) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stat := db.Pool.Stat()
			monitoring.SetDBConnections(stat.AcquiredConns(), stat.IdleConns())
			if dispatcher != nil {
				if _, err := dispatcher.ReportDepth(ctx); err != nil {
					log.Warn().Err(err).Msg("Failed to read payout queue depth")
				}
			}
		}
	}
}
