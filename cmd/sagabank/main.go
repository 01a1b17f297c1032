package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dgraph-io/badger/v4"
	"github.com/redis/go-redis/v9"

	"github.com/sagabank/sagabank/config"
	"github.com/sagabank/sagabank/pkg/api"
	"github.com/sagabank/sagabank/pkg/api/handlers"
	"github.com/sagabank/sagabank/pkg/api/middleware"
	"github.com/sagabank/sagabank/pkg/bank"
	"github.com/sagabank/sagabank/pkg/book"
	"github.com/sagabank/sagabank/pkg/creditscore"
	"github.com/sagabank/sagabank/pkg/eventbus"
	"github.com/sagabank/sagabank/pkg/ledger"
	"github.com/sagabank/sagabank/pkg/logger"
	"github.com/sagabank/sagabank/pkg/metrics"
	"github.com/sagabank/sagabank/pkg/saga"
	"github.com/sagabank/sagabank/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
	helpFlag    = flag.Bool("help", false, "Print help information")

	// CLI overrides
	serverPort = flag.Int("port", 0, "Override server port")
	logLevel   = flag.String("log-level", "", "Override log level")
	debugMode  = flag.Bool("debug", false, "Enable debug logging")
	demoSeed   = flag.Bool("demo", false, "Seed demo customers, accounts and credit scores")
)

func main() {
	flag.Parse()

	if *helpFlag {
		printHelp()
		os.Exit(0)
	}
	if *versionFlag {
		printVersion()
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath, buildOverrides())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if *debugMode {
		logCfg.Level = logger.DebugLevel
	}
	log := logger.New(logCfg)
	logger.SetGlobal(log)

	log.Info("Starting sagabank",
		"version", version.Version,
		"buildTime", version.BuildTime,
		"gitCommit", version.GitCommit,
		"app", cfg.App.Name,
		"environment", cfg.App.Environment,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	stores, auditBook, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		for name, store := range stores {
			if err := store.Close(); err != nil {
				log.Error("Error closing ledger store", "bank", name, "error", err)
			}
		}
		if err := auditBook.Close(); err != nil {
			log.Error("Error closing audit book", "error", err)
		}
	}()

	cache, err := openSessionCache(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to open session cache", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			log.Error("Error closing session cache", "error", err)
		}
	}()

	metricsCfg := metrics.DefaultConfig()
	metricsCfg.Enabled = cfg.Metrics.Enabled
	metricsCfg.Port = cfg.Metrics.Port
	metricsCfg.Path = cfg.Metrics.Path
	metricsManager := metrics.NewManager(metricsCfg)

	if metricsManager.Enabled() {
		go func() {
			log.Info("Starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := metricsManager.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				log.Error("Metrics server error", "error", err)
			}
		}()
	}

	bus := eventbus.NewMemoryBus()
	defer bus.Close()

	// The directory is rebuilt from the persisted ledgers so customers
	// survive a restart.
	directory := saga.NewDirectory()
	for name, store := range stores {
		accounts, err := store.ListAccounts(ctx)
		if err != nil {
			log.Error("Failed to list accounts", "bank", name, "error", err)
			os.Exit(1)
		}
		for _, acct := range accounts {
			_ = directory.Register(acct.UCID, name)
		}
	}

	banks := make([]*bank.Service, 0, len(stores))
	for name, store := range stores {
		svc, err := bank.NewService(name, cfg.Saga.Initiator, bus, store,
			bank.WithLogger(log),
			bank.WithMetrics(metricsManager),
		)
		if err != nil {
			log.Error("Failed to create bank service", "bank", name, "error", err)
			os.Exit(1)
		}
		if err := svc.Run(ctx); err != nil {
			log.Error("Failed to start bank service", "bank", name, "error", err)
			os.Exit(1)
		}
		banks = append(banks, svc)
		log.Info("Bank participant running", "bank", name)
	}
	defer func() {
		for _, svc := range banks {
			_ = svc.Close()
		}
	}()

	creditSvc, err := creditscore.NewService(cfg.Saga.CreditService, cfg.Saga.Initiator, bus,
		creditscore.WithLogger(log),
		creditscore.WithMetrics(metricsManager),
	)
	if err != nil {
		log.Error("Failed to create credit score service", "error", err)
		os.Exit(1)
	}
	if err := creditSvc.Run(ctx); err != nil {
		log.Error("Failed to start credit score service", "error", err)
		os.Exit(1)
	}
	defer creditSvc.Close()

	orchestrator, err := saga.NewOrchestrator(cfg.Saga.Initiator, bus, cache, auditBook, directory,
		saga.WithLogger(log),
		saga.WithMetrics(metricsManager),
		saga.WithDecisionTimeout(cfg.Saga.DecisionTimeout),
		saga.WithSessionGrace(cfg.Saga.SessionGrace),
		saga.WithCreditService(cfg.Saga.CreditService),
	)
	if err != nil {
		log.Error("Failed to create orchestrator", "error", err)
		os.Exit(1)
	}
	if err := orchestrator.Run(ctx); err != nil {
		log.Error("Failed to start orchestrator", "error", err)
		os.Exit(1)
	}
	defer orchestrator.Close()

	watchdog := saga.NewWatchdog(orchestrator, cache, cfg.Saga.WatchdogInterval, log)
	go watchdog.Run(ctx)

	if *demoSeed {
		if err := seedDemoData(ctx, cfg, stores, directory, creditSvc, log); err != nil {
			log.Error("Failed to seed demo data", "error", err)
			os.Exit(1)
		}
	}

	rateLimiter := middleware.NewRateLimiter(
		cfg.Server.RateLimit.Enabled,
		cfg.Server.RateLimit.RPS,
		cfg.Server.RateLimit.Burst,
	)

	healthHandler := handlers.NewHealthHandler()
	healthHandler.AddCheck("session_cache", func() error {
		_, err := cache.List(context.Background())
		return err
	})
	healthHandler.AddCheck("audit_book", func() error {
		_, err := auditBook.List(context.Background())
		return err
	})

	apiHandlers := &api.Handlers{
		Saga:          handlers.NewSagaHandler(orchestrator, log),
		Notifications: handlers.NewNotificationHandler(auditBook, log),
		Accounts:      handlers.NewAccountHandler(stores, log),
		Health:        healthHandler,
		Metrics:       metricsManager,
		RateLimiter:   rateLimiter,
	}

	httpServer := api.NewHTTPServer(cfg, log, apiHandlers)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	watchConfig(ctx, *configPath, log, rateLimiter)

	log.Info("sagabank is running",
		"http_addr", cfg.Server.Address(),
		"banks", fmt.Sprintf("%s,%s", cfg.Banks.BankA, cfg.Banks.BankB),
		"metrics_port", cfg.Metrics.Port,
	)

	select {
	case sig := <-sigChan:
		log.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErrChan:
		log.Error("HTTP server error", "error", err)
	case <-ctx.Done():
		log.Info("Context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down HTTP server", "error", err)
	}

	log.Info("sagabank stopped gracefully")
}

// openStorage builds one ledger store per bank plus the shared audit
// book, keyed by bank name.
func openStorage(ctx context.Context, cfg *config.Config, log logger.Logger) (map[string]ledger.Store, book.Book, error) {
	stores := make(map[string]ledger.Store, 2)

	switch cfg.Storage.Type {
	case "badger":
		for _, name := range []string{cfg.Banks.BankA, cfg.Banks.BankB} {
			opts := badger.DefaultOptions(filepath.Join(cfg.Storage.Dir, name)).WithLogger(nil)
			db, err := badger.Open(opts)
			if err != nil {
				return nil, nil, fmt.Errorf("open badger ledger for %s: %w", name, err)
			}
			store, err := ledger.NewBadgerStore(db)
			if err != nil {
				return nil, nil, err
			}
			stores[name] = store
		}
		opts := badger.DefaultOptions(filepath.Join(cfg.Storage.Dir, "book")).WithLogger(nil)
		db, err := badger.Open(opts)
		if err != nil {
			return nil, nil, fmt.Errorf("open badger audit book: %w", err)
		}
		auditBook, err := book.NewBadgerBook(db)
		if err != nil {
			return nil, nil, err
		}
		log.Info("Initialized Badger storage", "dir", cfg.Storage.Dir)
		return stores, auditBook, nil

	case "postgres":
		conns := map[string]string{
			cfg.Banks.BankA: cfg.Storage.PostgresBankA,
			cfg.Banks.BankB: cfg.Storage.PostgresBankB,
		}
		for name, conn := range conns {
			store, err := ledger.NewPostgresStore(ctx, conn)
			if err != nil {
				return nil, nil, fmt.Errorf("open postgres ledger for %s: %w", name, err)
			}
			if err := store.Migrate(ctx); err != nil {
				return nil, nil, fmt.Errorf("migrate ledger for %s: %w", name, err)
			}
			stores[name] = store
		}
		auditBook, err := book.NewPostgresBook(ctx, cfg.Storage.PostgresBook)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres audit book: %w", err)
		}
		if err := auditBook.Migrate(ctx); err != nil {
			return nil, nil, fmt.Errorf("migrate audit book: %w", err)
		}
		log.Info("Initialized Postgres storage")
		return stores, auditBook, nil

	default:
		stores[cfg.Banks.BankA] = ledger.NewMemoryStore()
		stores[cfg.Banks.BankB] = ledger.NewMemoryStore()
		log.Info("Initialized memory storage")
		return stores, book.NewMemoryBook(), nil
	}
}

// openSessionCache builds the saga session cache.
func openSessionCache(ctx context.Context, cfg *config.Config, log logger.Logger) (saga.SessionCache, error) {
	if cfg.SessionCache.Type == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.SessionCache.Addr,
			Password: cfg.SessionCache.Password,
			DB:       cfg.SessionCache.DB,
		})
		cache, err := saga.NewRedisCache(ctx, client)
		if err != nil {
			return nil, fmt.Errorf("connect redis session cache: %w", err)
		}
		log.Info("Initialized Redis session cache", "addr", cfg.SessionCache.Addr)
		return cache, nil
	}

	log.Info("Initialized memory session cache")
	return saga.NewMemoryCache(cfg.SessionCache.SweepInterval), nil
}

// watchConfig hot-reloads log level and rate limits when the config
// file changes. Without a config file there is nothing to watch.
func watchConfig(ctx context.Context, configPath string, log logger.Logger, rl *middleware.RateLimiter) {
	if configPath == "" {
		return
	}

	watcher, err := config.NewWatcher(configPath, config.NewLoader())
	if err != nil {
		log.Warn("Config watcher unavailable", "error", err)
		return
	}

	var last config.HotReloadableConfig
	watcher.OnChange(func(cfg *config.Config) {
		next := config.ExtractHotReloadable(cfg)
		if !next.Changed(last) {
			return
		}
		last = next
		log.SetLevel(logger.ParseLevel(next.LogLevel))
		rl.Update(cfg.Server.RateLimit.Enabled, next.RateLimitRPS, next.RateLimitBurst)
		log.Info("Applied hot-reloaded configuration",
			"log_level", next.LogLevel,
			"rate_limit_rps", next.RateLimitRPS,
		)
	})

	go func() {
		if err := watcher.Watch(ctx); err != nil && ctx.Err() == nil {
			log.Warn("Config watcher stopped", "error", err)
		}
	}()
}

func buildOverrides() map[string]interface{} {
	overrides := make(map[string]interface{})

	if *serverPort != 0 {
		overrides["server.port"] = *serverPort
	}
	if *logLevel != "" {
		overrides["log.level"] = *logLevel
	}

	return overrides
}

func printVersion() {
	fmt.Printf("sagabank - Saga-based demo banking system\n")
	fmt.Printf("Version:    %s\n", version.Version)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Printf("Git Commit: %s\n", version.GitCommit)
	fmt.Printf("Go Version: %s\n", version.GoVersion)
}

func printHelp() {
	fmt.Printf("sagabank - Saga-based demo banking system\n\n")
	fmt.Printf("Usage: sagabank [options]\n\n")
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
	fmt.Printf("\nExamples:\n")
	fmt.Printf("  sagabank                                  # Run with default config\n")
	fmt.Printf("  sagabank -config config.yaml              # Use specific config file\n")
	fmt.Printf("  sagabank -demo                            # Seed demo customers on startup\n")
	fmt.Printf("  sagabank -port 9090 -log-level debug      # Override specific options\n")
}
