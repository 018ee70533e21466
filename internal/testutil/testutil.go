// Package testutil provides helpers for unit and integration tests: shared
// in-memory repositories and gated connections to a test database and Redis.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"time"

	// Import pgx driver for database/sql compatibility in tests.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/momo-scheduler/momo/internal/migrate"
)

// TestingTB is the subset of testing.TB the helpers need.
type TestingTB interface {
	Helper()
	Skip(args ...any)
	Fatalf(format string, args ...any)
	Cleanup(func())
}

// TestDBConfig holds configuration for the test database.
type TestDBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// DefaultTestDBConfig returns the default test database configuration.
// Defaults to port 55432 (local test DB from the docker-compose test
// profile); CI environments should set TEST_DB_PORT explicitly.
func DefaultTestDBConfig() TestDBConfig {
	return TestDBConfig{
		Host:     getEnvOrDefault("TEST_DB_HOST", "localhost"),
		Port:     getEnvOrDefault("TEST_DB_PORT", "55432"),
		User:     getEnvOrDefault("TEST_DB_USER", "momo"),
		Password: getEnvOrDefault("TEST_DB_PASSWORD", "momo"),
		DBName:   getEnvOrDefault("TEST_DB_NAME", "momo"),
	}
}

// SkipIfNoTestDB skips the test unless TEST_DB is set.
func SkipIfNoTestDB(t TestingTB) {
	t.Helper()
	if os.Getenv("TEST_DB") == "" {
		t.Skip("set TEST_DB=1 to run database integration tests")
	}
}

// SkipIfNoTestRedis skips the test unless TEST_REDIS is set.
func SkipIfNoTestRedis(t TestingTB) {
	t.Helper()
	if os.Getenv("TEST_REDIS") == "" {
		t.Skip("set TEST_REDIS=1 to run Redis integration tests")
	}
}

// SetupTestDB connects to the test database, runs migrations, and truncates
// the momo tables so every test starts clean.
func SetupTestDB(t TestingTB) *sql.DB {
	t.Helper()
	SkipIfNoTestDB(t)

	cfg := DefaultTestDBConfig()
	hostPort := net.JoinHostPort(cfg.Host, cfg.Port)
	dsn := fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable",
		cfg.User, cfg.Password, hostPort, cfg.DBName)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("ping test database: %v", err)
	}
	if err := migrate.Run(ctx, db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	if _, err := db.ExecContext(ctx, `TRUNCATE momo_jobs, momo_executions`); err != nil {
		t.Fatalf("truncate momo tables: %v", err)
	}

	return db
}

// SetupTestRedis connects to the test Redis instance and flushes the
// database under test.
func SetupTestRedis(t TestingTB) *redis.Client {
	t.Helper()
	SkipIfNoTestRedis(t)

	client := redis.NewClient(&redis.Options{
		Addr: getEnvOrDefault("TEST_REDIS_ADDR", "localhost:6379"),
		DB:   15, // reserved for tests
	})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("ping test redis: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush test redis: %v", err)
	}

	return client
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
