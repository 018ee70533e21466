package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAppConfigSanitize(t *testing.T) {
	t.Run("defaults ledger backend to postgres", func(t *testing.T) {
		cfg := AppConfig{Ledger: "  bogus "}
		cfg.Sanitize()
		assert.Equal(t, LedgerBackendPostgres, cfg.Ledger)
	})

	t.Run("normalises redis ledger backend", func(t *testing.T) {
		cfg := AppConfig{Ledger: " Redis "}
		cfg.Sanitize()
		assert.Equal(t, LedgerBackendRedis, cfg.Ledger)
	})

	t.Run("detects dev mode from NODE_ENV", func(t *testing.T) {
		t.Setenv("NODE_ENV", "development")
		cfg := AppConfig{}
		cfg.Sanitize()
		assert.True(t, cfg.IsDev)
	})
}

func TestScheduleConfigSanitize(t *testing.T) {
	t.Run("applies defaults to empty values", func(t *testing.T) {
		cfg := ScheduleConfig{Name: "  ", PingInterval: 0, StopTimeout: -time.Second}
		cfg.Sanitize()
		assert.Equal(t, "momo", cfg.Name)
		assert.Equal(t, time.Minute, cfg.PingInterval)
		assert.Equal(t, 30*time.Second, cfg.StopTimeout)
	})

	t.Run("rejects non-positive ping intervals", func(t *testing.T) {
		cfg := ScheduleConfig{Name: "batch", PingInterval: -time.Second}
		cfg.Sanitize()
		assert.Equal(t, time.Minute, cfg.PingInterval)
	})

	t.Run("keeps valid values", func(t *testing.T) {
		cfg := ScheduleConfig{Name: "batch", PingInterval: 5 * time.Second, StopTimeout: time.Minute}
		cfg.Sanitize()
		assert.Equal(t, "batch", cfg.Name)
		assert.Equal(t, 5*time.Second, cfg.PingInterval)
		assert.Equal(t, time.Minute, cfg.StopTimeout)
	})
}

func TestObservabilityConfigSanitize(t *testing.T) {
	t.Run("disables metrics without an address", func(t *testing.T) {
		cfg := ObservabilityConfig{MetricsEnabled: true, StatsdAddress: "   "}
		cfg.Sanitize()
		assert.False(t, cfg.IsMetricsEnabled())
	})

	t.Run("keeps metrics enabled with an address", func(t *testing.T) {
		cfg := ObservabilityConfig{MetricsEnabled: true, StatsdAddress: "127.0.0.1:8125"}
		cfg.Sanitize()
		assert.True(t, cfg.IsMetricsEnabled())
	})
}
