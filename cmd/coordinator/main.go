package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"apply-coordinator/internal/config"
	pg "apply-coordinator/internal/infra/db/postgres"
	"apply-coordinator/internal/infra/logging"
	"apply-coordinator/internal/infra/metrics"
	red "apply-coordinator/internal/infra/redis"
	"apply-coordinator/internal/infra/sched"
	"apply-coordinator/internal/infra/web"
	"apply-coordinator/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (relaxed validation, console logs)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("dev mode enabled")
	}

	metrics.MustRegister()

	// ---- Postgres ----
	if cfg.Database.Migrate {
		if err := pg.Migrate(cfg.Database.URL); err != nil {
			logger.Fatal().Err(err).Msg("migrations failed")
		}
	}
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connect failed")
	}
	defer pool.Close()

	// ---- Redis (optional, rate limiting only) ----
	var rateLimiter *red.RateLimiter
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connect failed")
		}
		defer redisClient.Close()
		rateLimiter = red.NewRateLimiter(redisClient)
	} else {
		logger.Warn().Msg("redis.url not set, enqueue rate limiting disabled")
	}

	// ---- Repositories ----
	tm := pg.NewTxManager(pool)
	siteRepo := pg.NewSiteRepo(pool, tm)
	itemRepo := pg.NewQueueItemRepo(pool, tm)
	jobRepo := pg.NewJobRepo(pool)

	// ---- Use cases ----
	clock := usecase.SystemClock()
	siteUC := usecase.NewSiteLeaseUseCase(siteRepo, clock, logger)
	queueUC := usecase.NewQueueUseCase(itemRepo, jobRepo, tm, cfg.Queue.StaleAfter, clock, logger)
	jobUC := usecase.NewJobUseCase(jobRepo, tm, logger)
	statsUC := usecase.NewStatsUseCase(siteRepo, itemRepo, clock)

	// ---- Lock reaper ----
	reaper := sched.NewReaper(cfg.Reaper.Interval, siteUC, logger)
	go func() { _ = reaper.Run(ctx) }()

	// ---- HTTP API ----
	srv := web.NewServer(siteUC, queueUC, jobUC, statsUC, rateLimiter,
		cfg.API.Key, cfg.Sites.DefaultLockTTL,
		cfg.API.RateLimit, cfg.API.RateLimitWindow, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http api listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown error")
	}
	cancel()
}
