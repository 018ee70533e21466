// Package config holds environment-driven configuration for momo: the
// backing stores, the schedule identity, the heartbeat cadence, and the
// optional metrics sink.
package config

import (
	"os"
	"strings"
	"time"
)

// LedgerBackend selects which store holds the executions ledger.
type LedgerBackend string

const (
	// LedgerBackendPostgres keeps the executions ledger in the same
	// PostgreSQL database as the job store.
	LedgerBackendPostgres LedgerBackend = "postgres"
	// LedgerBackendRedis keeps the executions ledger in Redis.
	LedgerBackendRedis LedgerBackend = "redis"
)

// AppConfig is the main configuration struct, loaded from environment
// variables using the github.com/caarlos0/env library.
type AppConfig struct {
	// IsDev controls development mode behavior (verbose logging).
	// Set DEV=true for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// Ledger selects the executions ledger backend: "postgres" or "redis".
	Ledger LedgerBackend `env:"LEDGER_BACKEND" envDefault:"postgres"`

	// Schedule configuration
	Schedule ScheduleConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Schedule.Sanitize()
	c.Observability.Sanitize()

	switch LedgerBackend(strings.ToLower(strings.TrimSpace(string(c.Ledger)))) {
	case LedgerBackendRedis:
		c.Ledger = LedgerBackendRedis
	default:
		c.Ledger = LedgerBackendPostgres
	}

	c.detectDevMode()
}

// detectDevMode checks both DEV and NODE_ENV environment variables.
// NODE_ENV is checked as a fallback (common in mixed-stack deployments).
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}

// ScheduleConfig controls the schedule identity and heartbeat cadence.
type ScheduleConfig struct {
	// Name is the logical schedule name shared by cooperating instances.
	Name string `env:"SCHEDULE_NAME" envDefault:"momo"`

	// PingInterval is how often the instance heartbeats the ledger. Entries
	// silent for two intervals are considered dead, so lowering this also
	// tightens the takeover window.
	PingInterval time.Duration `env:"SCHEDULE_PING_INTERVAL" envDefault:"1m"`

	// StopTimeout bounds how long Disconnect waits for running jobs.
	StopTimeout time.Duration `env:"SCHEDULE_STOP_TIMEOUT" envDefault:"30s"`
}

// Sanitize normalises the schedule configuration and enforces safe defaults.
func (c *ScheduleConfig) Sanitize() {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		c.Name = "momo"
	}
	if c.PingInterval <= 0 {
		c.PingInterval = time.Minute
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 30 * time.Second
	}
}
