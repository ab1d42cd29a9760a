package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aegisgate/aegisgate/internal/cache"
	"github.com/aegisgate/aegisgate/internal/cartographer"
	"github.com/aegisgate/aegisgate/internal/config"
	"github.com/aegisgate/aegisgate/internal/enclave"
	"github.com/aegisgate/aegisgate/internal/gateway"
	"github.com/aegisgate/aegisgate/internal/logging"
	"github.com/aegisgate/aegisgate/internal/metrics"
	"github.com/aegisgate/aegisgate/internal/risk"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to the gateway policy file")
		envPrefix  = flag.String("env-prefix", "AEGISGATE", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}
	audit, err := logging.NewAudit(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure audit logger: %v", err)
	}

	if err := enclave.Verify(ctx, cfg.SecureEnclave, nil, logger); err != nil {
		logger.Error("enclave attestation failed", slog.Any("error", err))
		os.Exit(1)
	}

	store := buildStore(logger, cfg.RedisURL)
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			logger.Error("cache shutdown failed", slog.Any("error", err))
		}
	}()

	promRegistry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(promRegistry)

	carto := cartographer.New(cfg.APIDiscovery.OnShadowAPIDiscovered == config.ShadowPolicyBlock, audit)
	if specURL := strings.TrimSpace(cfg.APIDiscovery.OpenAPISpecURL); specURL != "" {
		if err := carto.LoadFromURL(ctx, specURL); err != nil {
			logger.Warn("could not load the OpenAPI document at startup",
				slog.String("agent", "cartographer"),
				slog.String("url", specURL),
				slog.Any("error", err),
			)
		} else {
			logger.Info("cartographer initialized",
				slog.String("agent", "cartographer"),
				slog.Int("known_endpoints", carto.KnownCount()),
			)
		}
	}

	scorer := risk.NewRemoteScorer(cfg.RiskModel.URL, logger)

	gw, err := gateway.New(cfg, store, carto, scorer, recorder, logger, audit)
	if err != nil {
		logger.Error("unable to construct gateway", slog.Any("error", err))
		os.Exit(1)
	}

	if *configFile != "" {
		watcher, err := loader.WatchPolicy(ctx, func(next config.Settings) {
			if err := gw.ApplySettings(next); err != nil {
				logger.Error("policy reload rejected", slog.Any("error", err))
				return
			}
			logger.Info("policy reloaded", slog.String("file", *configFile))
		}, func(err error) {
			if err != nil {
				logger.Error("policy watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("policy watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	srv, err := gateway.NewServer(cfg, logger, gw.Router())
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

func buildStore(logger *slog.Logger, redisURL string) cache.Store {
	if strings.TrimSpace(redisURL) == "" {
		logger.Info("using in-memory cache", slog.String("agent", "cache_factory"))
		return cache.NewMemory()
	}
	store, err := cache.NewRedis(redisURL)
	if err != nil {
		logger.Error("redis cache initialization failed",
			slog.String("agent", "cache_factory"),
			slog.Any("error", err),
		)
		logger.Info("falling back to in-memory cache", slog.String("agent", "cache_factory"))
		return cache.NewMemory()
	}
	logger.Info("using redis cache", slog.String("agent", "cache_factory"))
	return store
}
