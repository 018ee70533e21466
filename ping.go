package momo

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/momo-scheduler/momo/core"
	"github.com/momo-scheduler/momo/momoerrors"
	"github.com/momo-scheduler/momo/observability/metrics"
	"github.com/momo-scheduler/momo/observability/statsd"
)

// SchedulePing keeps one schedule instance visible in the executions ledger.
// Every pingInterval it checks whether the instance is the active holder of
// the schedule name, refreshes its heartbeat, and sweeps entries of dead
// peers. On the inactive-to-active transition it invokes the takeover
// callback so the new holder starts all jobs.
//
// A ping tick never fails: every ledger error is logged and the loop keeps
// running on its cadence.
type SchedulePing struct {
	scheduleID   string
	name         string
	executions   core.ExecutionsRepository
	logger       *slog.Logger
	time         core.TimeProvider
	metrics      statsd.Sink
	pingInterval time.Duration
	// onActive runs when this instance becomes the active holder.
	onActive func(ctx context.Context)

	mu     sync.Mutex
	handle *core.TimerHandle
	active bool
}

// SchedulePingOptions holds the dependencies for creating a SchedulePing.
type SchedulePingOptions struct {
	ScheduleID   string
	Name         string
	Executions   core.ExecutionsRepository
	Logger       *slog.Logger
	Time         core.TimeProvider
	Metrics      statsd.Sink
	PingInterval time.Duration
	// OnActive is invoked on the inactive-to-active transition, from the
	// ping goroutine.
	OnActive func(ctx context.Context)
}

// NewSchedulePing creates a stopped SchedulePing.
func NewSchedulePing(opts SchedulePingOptions) *SchedulePing {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Time == nil {
		opts.Time = realTime{}
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = time.Minute
	}
	return &SchedulePing{
		scheduleID:   opts.ScheduleID,
		name:         opts.Name,
		executions:   opts.Executions,
		logger:       opts.Logger,
		time:         opts.Time,
		metrics:      opts.Metrics,
		pingInterval: opts.PingInterval,
		onActive:     opts.OnActive,
	}
}

type realTime struct{}

func (realTime) Now() time.Time { return time.Now() }

// Start arms the ping loop. The first tick fires immediately, then every
// pingInterval. Calling Start on a running ping restarts the loop.
func (p *SchedulePing) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handle != nil {
		p.handle.Stop()
	}
	p.handle = core.StartTimer(0, p.pingInterval, func() {
		p.tick(ctx)
	})
}

// Stop cancels the ping loop and deletes this instance's ledger entry so
// peers can take over without waiting out the liveness window.
func (p *SchedulePing) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.handle != nil {
		p.handle.Stop()
		p.handle = nil
	}
	p.active = false
	p.mu.Unlock()

	if err := p.executions.Remove(ctx, p.scheduleID); err != nil {
		return momoerrors.Wrapf(err, momoerrors.CodeInternal,
			"remove ledger entry of schedule %q", p.scheduleID)
	}
	return nil
}

// Active reports whether this instance currently holds the schedule name.
func (p *SchedulePing) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// tick is one pass of the ping loop: election check, heartbeat, dead-peer
// sweep.
func (p *SchedulePing) tick(ctx context.Context) {
	deadAfter := 2 * p.pingInterval

	isActive, err := p.executions.IsActiveSchedule(ctx, p.scheduleID, p.name, deadAfter)
	if err != nil {
		p.fail(ctx, err)
		return
	}

	p.mu.Lock()
	becameActive := isActive && !p.active
	p.active = isActive
	p.mu.Unlock()

	if becameActive {
		p.logger.InfoContext(ctx, "schedule became active",
			"schedule", p.name, "schedule_id", p.scheduleID)
		if p.onActive != nil {
			p.onActive(ctx)
		}
	}

	if err := p.executions.Ping(ctx, p.scheduleID); err != nil {
		p.fail(ctx, err)
		return
	}

	removed, err := p.executions.RemoveDead(ctx, p.name, p.time.Now().Add(-deadAfter))
	if err != nil {
		p.fail(ctx, err)
		return
	}
	if removed > 0 {
		p.logger.InfoContext(ctx, "removed dead schedule entries",
			"schedule", p.name, "removed", removed)
	}

	result := metrics.ResultSuccess
	if !isActive {
		result = metrics.ResultNoop
	}
	metrics.EmitPing(p.metrics, p.name, result, removed)
}

func (p *SchedulePing) fail(ctx context.Context, err error) {
	p.logger.ErrorContext(ctx, "pinging or cleaning the schedules repository failed",
		"schedule", p.name, "schedule_id", p.scheduleID, "error", err)
	metrics.EmitPing(p.metrics, p.name, metrics.ResultError, 0)
}
