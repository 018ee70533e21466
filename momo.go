// Package momo is a distributed, persistent job scheduler. Multiple
// processes sharing the same database and schedule name cooperate through a
// heartbeat-based election: one instance at a time runs the jobs, the rest
// stand by and take over when the active one dies.
package momo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/momo-scheduler/momo/config"
	"github.com/momo-scheduler/momo/core"
	"github.com/momo-scheduler/momo/internal/bootstrap"
	"github.com/momo-scheduler/momo/internal/data"
	"github.com/momo-scheduler/momo/internal/migrate"
	"github.com/momo-scheduler/momo/observability/statsd"
)

// Options configures Connect. Every field is optional: omitted dependencies
// are built from configuration, and an omitted configuration is loaded from
// the environment.
type Options struct {
	// Config overrides environment-based configuration loading.
	Config *config.AppConfig
	// Logger defaults to a JSON slog logger on stdout.
	Logger *slog.Logger
	// DB is an already-open PostgreSQL handle. When set, Connect neither
	// opens nor closes the connection.
	DB *sql.DB
	// Redis is an already-connected Redis client for the redis ledger
	// backend. When set, Connect neither opens nor closes it.
	Redis redis.UniversalClient
	// Jobs overrides the job store adapter.
	Jobs core.JobRepository
	// Executions overrides the executions ledger adapter.
	Executions core.ExecutionsRepository
	// Metrics overrides the StatsD sink built from configuration.
	Metrics statsd.Sink
}

// Connection is a connected schedule instance. The embedded Schedule carries
// the job operations; Disconnect tears everything down.
type Connection struct {
	*Schedule

	ping        *SchedulePing
	logger      *slog.Logger
	stopTimeout time.Duration
	closers     []func() error
}

// Connect builds a schedule instance: it loads configuration, connects the
// backing stores, applies migrations, registers the instance in the
// executions ledger, and starts the heartbeat loop. The returned Connection
// is ready for DefineJob immediately; jobs start running once this instance
// wins the election (instantly when it is alone).
func Connect(ctx context.Context, opts Options) (*Connection, error) {
	cfg, err := resolveConfig(opts)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = bootstrap.InitLogger(cfg.IsDev)
	}

	conn := &Connection{logger: logger, stopTimeout: cfg.Schedule.StopTimeout}

	jobs, executions, err := conn.wireStores(ctx, cfg, opts, logger)
	if err != nil {
		return nil, errors.Join(err, conn.closeAll())
	}

	sink, err := conn.wireMetrics(cfg, opts, logger)
	if err != nil {
		return nil, errors.Join(err, conn.closeAll())
	}

	scheduleID := uuid.NewString()
	conn.Schedule = NewSchedule(ScheduleOptions{
		ScheduleID:   scheduleID,
		Name:         cfg.Schedule.Name,
		Jobs:         jobs,
		Executions:   executions,
		Logger:       logger,
		Metrics:      sink,
		PingInterval: cfg.Schedule.PingInterval,
	})

	if err := executions.AddSchedule(ctx, scheduleID, cfg.Schedule.Name); err != nil {
		return nil, errors.Join(
			fmt.Errorf("register schedule %q: %w", scheduleID, err),
			conn.closeAll())
	}

	conn.ping = NewSchedulePing(SchedulePingOptions{
		ScheduleID:   scheduleID,
		Name:         cfg.Schedule.Name,
		Executions:   executions,
		Logger:       logger,
		Metrics:      sink,
		PingInterval: cfg.Schedule.PingInterval,
		OnActive: func(ctx context.Context) {
			if startErr := conn.Schedule.StartAll(ctx); startErr != nil {
				logger.ErrorContext(ctx, "starting all jobs after takeover failed", "error", startErr)
			}
		},
	})
	conn.ping.Start(ctx)

	logger.InfoContext(ctx, "schedule connected",
		"schedule", cfg.Schedule.Name,
		"schedule_id", scheduleID,
		"ledger", string(cfg.Ledger))
	return conn, nil
}

// Ping exposes the heartbeat loop, mainly so callers can observe Active().
func (c *Connection) Ping() *SchedulePing { return c.ping }

// Disconnect stops the heartbeat, removes this instance's ledger entry,
// stops all job schedulers (awaiting pending executions), and closes every
// resource Connect opened.
func (c *Connection) Disconnect(ctx context.Context) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.stopTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.stopTimeout)
		defer cancel()
	}

	var errs []error
	if c.ping != nil {
		if err := c.ping.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Schedule != nil {
		if err := c.Schedule.StopAll(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, c.closeAll())
	err := errors.Join(errs...)
	if err == nil {
		c.logger.InfoContext(ctx, "schedule disconnected")
	}
	return err
}

func (c *Connection) closeAll() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func resolveConfig(opts Options) (config.AppConfig, error) {
	if opts.Config != nil {
		cfg := *opts.Config
		cfg.Sanitize()
		return cfg, nil
	}
	return bootstrap.LoadConfig()
}

// wireStores resolves the job store and the executions ledger, opening and
// tracking whatever connections the configuration requires.
func (c *Connection) wireStores(
	ctx context.Context,
	cfg config.AppConfig,
	opts Options,
	logger *slog.Logger,
) (core.JobRepository, core.ExecutionsRepository, error) {
	jobs := opts.Jobs
	executions := opts.Executions

	needDB := jobs == nil || (executions == nil && cfg.Ledger == config.LedgerBackendPostgres)
	var db *sql.DB
	if needDB {
		db = opts.DB
		if db == nil {
			opened, err := bootstrap.ConnectDB(cfg.Postgres, logger)
			if err != nil {
				return nil, nil, err
			}
			db = opened
			c.closers = append(c.closers, db.Close)
		}
		if cfg.Postgres.RunMigrationsOnStart {
			if err := migrate.Run(ctx, db); err != nil {
				return nil, nil, fmt.Errorf("run migrations: %w", err)
			}
			logger.InfoContext(ctx, "database migrations completed")
		}
	}

	if jobs == nil {
		jobs = data.NewJobRepo(db)
	}
	if executions == nil {
		switch cfg.Ledger {
		case config.LedgerBackendRedis:
			client := opts.Redis
			if client == nil {
				connected, err := bootstrap.ConnectRedis(cfg.Redis, logger)
				if err != nil {
					return nil, nil, err
				}
				client = connected
				c.closers = append(c.closers, client.Close)
			}
			executions = data.NewRedisExecutionsRepo(client)
		default:
			executions = data.NewExecutionsRepo(db)
		}
	}
	return jobs, executions, nil
}

func (c *Connection) wireMetrics(
	cfg config.AppConfig,
	opts Options,
	logger *slog.Logger,
) (statsd.Sink, error) {
	if opts.Metrics != nil {
		return opts.Metrics, nil
	}
	if !cfg.Observability.IsMetricsEnabled() {
		return nil, nil
	}
	client, err := statsd.NewClient(statsd.Config{
		Enabled: true,
		Address: cfg.Observability.StatsdAddress,
		Prefix:  "momo",
		Logger:  logger,
		GlobalTags: map[string]string{
			"schedule": cfg.Schedule.Name,
		},
	})
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, client.Close)
	return client, nil
}
