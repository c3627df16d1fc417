package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mExOms/sor/internal/algorithm"
	"github.com/mExOms/sor/internal/api"
	"github.com/mExOms/sor/internal/catalog"
	"github.com/mExOms/sor/internal/config"
	"github.com/mExOms/sor/internal/ingest"
	"github.com/mExOms/sor/internal/monitor"
	"github.com/mExOms/sor/internal/router"
	"github.com/mExOms/sor/internal/rules"
	"github.com/mExOms/sor/internal/storage"
	"github.com/mExOms/sor/internal/venue"
	"github.com/mExOms/sor/pkg/cache"
	"github.com/mExOms/sor/pkg/nats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

const version = "1.0.0"

func main() {
	fs := pflag.NewFlagSet("sor-server", pflag.ExitOnError)
	configPath := fs.StringP("config", "c", "configs/config.yaml", "Config file path (empty for env and defaults only)")
	fs.String("addr", ":8080", "HTTP listen address")
	fs.String("log-level", "info", "Log level")
	fs.String("seed", "", "Seed catalogue file")
	fs.Parse(os.Args[1:])

	cfg, err := config.LoadWithFlags(*configPath, fs, map[string]string{
		"server.addr":       "addr",
		"log.level":         "log-level",
		"catalog.seed_file": "seed",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := monitor.NewLogger(monitor.LogOptions{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Router service failed")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	log := monitor.Component(logger, "main")
	log.WithField("version", version).Info("Starting smart order router")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Registries
	venues := venue.NewRegistry(monitor.Component(logger, "venue-registry"))
	algos := algorithm.NewCatalog(cfg.Routing.PerformanceWindow, monitor.Component(logger, "algorithm-catalog"))
	ruleSet := rules.NewSet(monitor.Component(logger, "rule-set"))

	if cfg.Catalog.SeedFile != "" {
		seed, err := catalog.LoadFile(cfg.Catalog.SeedFile)
		if err != nil {
			return err
		}
		if err := seed.Apply(venues, algos, ruleSet, time.Now()); err != nil {
			return fmt.Errorf("failed to apply seed: %w", err)
		}
		log.WithFields(logrus.Fields{
			"venues":     len(seed.Venues),
			"algorithms": len(seed.Algorithms),
			"rules":      len(seed.Rules),
		}).Info("Seed catalogue loaded")
	}

	var store *storage.Store
	if cfg.Storage.Enabled {
		s, err := storage.Open(cfg.Storage.Path, monitor.Component(logger, "storage"))
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.Restore(ruleSet, algos); err != nil {
			return err
		}
		store = s
	}

	// Observability
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	routingMetrics := monitor.NewRoutingMetrics(reg)
	tracker := router.NewPerformanceTracker(0)

	decisionCache := cache.NewMemoryCache(cfg.Cache.MaxEntries, time.Minute)
	defer decisionCache.Close()
	decisions := router.NewCacheSink(decisionCache, cfg.Cache.DecisionTTL)

	health := monitor.NewHealthChecker(version)
	health.RegisterCheck("venues", monitor.VenueHealthCheck(venues, cfg.Routing.MaxMetricAge, time.Now))
	health.RegisterCheck("algorithms", monitor.AlgorithmHealthCheck(algos))

	opts := []router.Option{
		router.WithLogger(monitor.Component(logger, "routing-service")),
		router.WithSink(decisions),
		router.WithObserver(tracker),
		router.WithObserver(routingMetrics),
	}

	// Message bus
	if cfg.NATS.Enabled {
		natsClient, err := nats.NewClient(nats.DefaultConfig(cfg.NATS.URL, cfg.NATS.Stream), monitor.Component(logger, "nats-client"))
		if err != nil {
			return err
		}
		defer natsClient.Close()

		handler := ingest.NewHandler(venues, algos, routingMetrics, monitor.Component(logger, "ingest"))
		if err := handler.Attach(natsClient); err != nil {
			return fmt.Errorf("failed to subscribe feeds: %w", err)
		}
		opts = append(opts, router.WithSink(router.NewBusSink(natsClient)))
		health.RegisterCheck("nats", monitor.PingHealthCheck(natsClient.Ping))
	}

	provider := &router.RegistryProvider{Venues: venues, Algorithms: algos, Rules: ruleSet}
	service := router.NewRoutingService(cfg.Routing.Router(), provider, opts...)

	var limiter *cache.RateLimiter
	if cfg.Server.RateLimit > 0 {
		limiter = cache.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateWindow)
	}

	server := api.NewServer(api.Deps{
		Service:    service,
		Venues:     venues,
		Algorithms: algos,
		Rules:      ruleSet,
		Store:      store,
		Decisions:  decisions,
		Tracker:    tracker,
		Health:     health,
		Gatherer:   reg,
		Limiter:    limiter,
		Logger:     monitor.Component(logger, "api"),
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutdown signal received")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	log.Info("Server stopped")
	return nil
}
