// Package config provides configuration management for sagabank.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	App          AppConfig     `mapstructure:"app" validate:"required"`
	Server       ServerConfig  `mapstructure:"server" validate:"required"`
	Log          LogConfig     `mapstructure:"log" validate:"required"`
	Saga         SagaConfig    `mapstructure:"saga" validate:"required"`
	Banks        BanksConfig   `mapstructure:"banks" validate:"required"`
	Storage      StorageConfig `mapstructure:"storage" validate:"required"`
	SessionCache CacheConfig   `mapstructure:"session_cache" validate:"required"`
	Metrics      MetricsConfig `mapstructure:"metrics" validate:"required"`
}

// AppConfig holds application identity settings.
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required,env"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host" validate:"required"`
	Port            int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"min=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"min=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" validate:"min=0"`

	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// Address returns the host:port listen address.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RateLimitConfig throttles the HTTP API.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps" validate:"min=0"`
	Burst   int     `mapstructure:"burst" validate:"min=0"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
	Output string `mapstructure:"output" validate:"required"`
}

// SagaConfig holds orchestrator settings.
type SagaConfig struct {
	Initiator        string        `mapstructure:"initiator" validate:"required"`
	CreditService    string        `mapstructure:"credit_service" validate:"required"`
	DecisionTimeout  time.Duration `mapstructure:"decision_timeout" validate:"required,min=1ms"`
	SessionGrace     time.Duration `mapstructure:"session_grace" validate:"min=0"`
	WatchdogInterval time.Duration `mapstructure:"watchdog_interval" validate:"required,min=1ms"`
}

// BanksConfig names the two bank participants.
type BanksConfig struct {
	BankA string `mapstructure:"bank_a" validate:"required,nefield=BankB"`
	BankB string `mapstructure:"bank_b" validate:"required"`
}

// StorageConfig selects the ledger and audit-book backend.
type StorageConfig struct {
	Type string `mapstructure:"type" validate:"required,oneof=memory badger postgres"`

	// Badger settings.
	Dir string `mapstructure:"dir"`

	// Postgres settings. Each bank gets its own database so the two
	// participants stay isolated.
	PostgresBankA string `mapstructure:"postgres_bank_a"`
	PostgresBankB string `mapstructure:"postgres_bank_b"`
	PostgresBook  string `mapstructure:"postgres_book"`
}

// CacheConfig selects the saga session cache backend.
type CacheConfig struct {
	Type string `mapstructure:"type" validate:"required,oneof=memory redis"`

	// Redis settings.
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"min=0"`

	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"min=0"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port" validate:"min=0,max=65535"`
	Path    string `mapstructure:"path"`
}
