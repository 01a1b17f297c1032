package config

import "time"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "sagabank",
			Environment: "development",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RequestTimeout:  30 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   200,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Saga: SagaConfig{
			Initiator:        "cloudbank",
			CreditService:    "creditscore",
			DecisionTimeout:  30 * time.Second,
			SessionGrace:     5 * time.Minute,
			WatchdogInterval: time.Second,
		},
		Banks: BanksConfig{
			BankA: "banka",
			BankB: "bankb",
		},
		Storage: StorageConfig{
			Type: "memory",
			Dir:  "./data",
		},
		SessionCache: CacheConfig{
			Type:          "memory",
			Addr:          "localhost:6379",
			DB:            0,
			SweepInterval: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9091,
			Path:    "/metrics",
		},
	}
}
