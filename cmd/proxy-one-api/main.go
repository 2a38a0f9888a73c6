package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fjtraindriver/proxy-one-api/internal/config"
	"github.com/fjtraindriver/proxy-one-api/internal/healthstore"
	"github.com/fjtraindriver/proxy-one-api/internal/logging"
	"github.com/fjtraindriver/proxy-one-api/internal/proxy"
	"github.com/fjtraindriver/proxy-one-api/internal/ratelimit"
	"github.com/fjtraindriver/proxy-one-api/internal/tracing"
)

func main() {
	configPath := flag.String("config", "", "Path to optional YAML configuration file")
	flag.Parse()

	cfg, cfgErr := config.Load(*configPath)

	// A missing origin must not abort the process: the server starts and
	// answers every request with a fixed error naming the problem.
	var cerr *config.ConfigError
	if cfgErr != nil && !errors.As(cfgErr, &cerr) {
		log.Fatalf("Failed to load configuration: %v", cfgErr)
	}

	logLevel := "info"
	if cfg != nil && cfg.Logging.Level != "" {
		logLevel = cfg.Logging.Level
	}
	if err := logging.Init(logLevel); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.Sync()

	if cfg != nil && cfg.Logging.Environment != "" {
		os.Setenv("PROXY_ENV", cfg.Logging.Environment)
	}

	listenPort := config.DefaultListenPort
	var handler http.Handler
	var rateLimiter *ratelimit.RateLimiter

	if cfgErr != nil {
		logging.GetLogger().Error("invalid_configuration", zap.Error(cfgErr))
		handler = proxy.NewConfigErrorHandler(cfgErr)
	} else {
		listenPort = cfg.ListenPort

		if cfg.Tracing.Enabled {
			shutdown, err := tracing.InitTracing(cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
			if err != nil {
				logging.GetLogger().Error("tracing_init_failed", zap.Error(err))
			} else {
				defer shutdown()
				logging.GetLogger().Info("tracing_initialized",
					zap.String("service", cfg.Tracing.ServiceName),
					zap.String("endpoint", cfg.Tracing.Endpoint),
				)
			}
		}

		var store healthstore.Store
		if cfg.Redis.Addr != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			redisStore, err := healthstore.NewRedisStore(ctx, healthstore.RedisOptions{
				Addr:      cfg.Redis.Addr,
				Password:  cfg.Redis.Password,
				DB:        cfg.Redis.DB,
				KeyPrefix: cfg.Redis.KeyPrefix,
			})
			cancel()
			if err != nil {
				logging.GetLogger().Fatal("redis_unavailable", zap.Error(err))
			}
			defer redisStore.Close()
			store = redisStore
			logging.GetLogger().Info("health_store_ready",
				zap.String("kind", "redis"),
				zap.String("addr", cfg.Redis.Addr),
			)
		} else {
			store = healthstore.NewMemoryStore()
			logging.GetLogger().Info("health_store_ready", zap.String("kind", "memory"))
		}

		if cfg.RateLimit.RequestsPerSecond > 0 {
			rateLimiter = ratelimit.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.BurstSize)
			logging.GetLogger().Info("rate_limiting_initialized",
				zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
				zap.Int("burst", cfg.RateLimit.BurstSize),
			)
		}

		handler = proxy.NewRouter(proxy.RouterConfig{
			PrimaryOrigin:   cfg.PrimaryOrigin,
			BackupOrigin:    cfg.BackupOrigin,
			HealthCheckPath: cfg.HealthCheckPath,
			ProbeTimeout:    cfg.ProbeTimeout,
			RecordTTL:       cfg.RecordTTL,
			Store:           store,
		})

		logging.GetLogger().Info("failover_router_ready",
			zap.String("primary", cfg.PrimaryOrigin),
			zap.String("backup", cfg.BackupOrigin),
			zap.String("health_check_path", cfg.HealthCheckPath),
		)
	}

	server := &proxy.Server{
		ListenAddr:  ":" + listenPort,
		Handler:     handler,
		RateLimiter: rateLimiter,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logging.GetLogger().Fatal("failed_to_start_proxy", zap.Error(err))
		}
	case <-sigCh:
		logging.GetLogger().Info("shutting_down")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logging.GetLogger().Error("shutdown_error", zap.Error(err))
		}
	}
}
