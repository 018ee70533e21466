package core

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momo-scheduler/momo/domain/model"
	"github.com/momo-scheduler/momo/momoerrors"
	"github.com/momo-scheduler/momo/observability/metrics"
	"github.com/momo-scheduler/momo/observability/statsd"
)

// JobScheduler owns the timing and dispatch loop for one job on one schedule
// instance. It decides how many executions each tick launches, tracks them
// until they settle, and drains them on Stop.
type JobScheduler struct {
	jobName  string
	jobs     JobRepository
	executor *Executor
	handler  model.Handler
	logger   *slog.Logger
	time     TimeProvider
	metrics  statsd.Sink

	mu       sync.Mutex
	handle   *TimerHandle
	interval time.Duration

	pending          *pendingSet
	unexpectedErrors atomic.Int64
}

// JobSchedulerOptions holds the dependencies for creating a JobScheduler.
type JobSchedulerOptions struct {
	JobName  string
	Jobs     JobRepository
	Executor *Executor
	Handler  model.Handler
	Logger   *slog.Logger
	Time     TimeProvider
	Metrics  statsd.Sink
}

// NewJobScheduler creates a stopped JobScheduler for one job.
func NewJobScheduler(opts JobSchedulerOptions) *JobScheduler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Time == nil {
		opts.Time = systemTime{}
	}
	return &JobScheduler{
		jobName:  opts.JobName,
		jobs:     opts.Jobs,
		executor: opts.Executor,
		handler:  opts.Handler,
		logger:   opts.Logger,
		time:     opts.Time,
		metrics:  opts.Metrics,
		pending:  newPendingSet(),
	}
}

// Start arms the interval timer for the job. Any prior timer is stopped
// first, so calling Start twice leaves exactly one active timer. A missing
// job definition is logged and skipped; a malformed interval is a programmer
// error and is returned.
func (s *JobScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil {
		s.handle.Stop()
		s.handle = nil
	}

	job, err := s.jobs.FindOne(ctx, s.jobName)
	if err != nil {
		if momoerrors.IsJobNotFound(err) {
			s.logger.WarnContext(ctx, "cannot start scheduling: job not found", "job", s.jobName)
			return nil
		}
		return momoerrors.Wrapf(err, momoerrors.CodeInternal, "load job %q", s.jobName)
	}

	parsed, err := job.ParsedInterval()
	if err != nil {
		return err
	}
	s.interval = parsed

	delay := ComputeDelay(parsed, job.Immediate, job.LastFinished(), s.time.Now())

	s.pending.reopen()
	s.handle = StartTimer(delay, parsed, func() {
		s.executeConcurrently(ctx)
	})

	s.logger.InfoContext(ctx, "job scheduled",
		"job", s.jobName, "interval", parsed, "delay", delay, "immediate", job.Immediate)
	return nil
}

// Stop cancels the timer and waits until every execution this scheduler
// launched has settled. After Stop returns no further executions originate
// from this scheduler until Start is called again.
func (s *JobScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.handle != nil {
		s.handle.Stop()
		s.handle = nil
	}
	s.pending.close()
	s.mu.Unlock()

	return s.pending.wait(ctx)
}

// Started reports whether the scheduler currently has an active timer.
func (s *JobScheduler) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil
}

// Interval returns the last parsed interval; zero before the first Start.
func (s *JobScheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// UnexpectedErrorCount returns how many unexpected errors the periodic loop
// has absorbed. The counter only ever grows and never affects scheduling.
func (s *JobScheduler) UnexpectedErrorCount() int64 {
	return s.unexpectedErrors.Load()
}

// ExecuteOnce runs the job a single time, bypassing the timer. A missing job
// definition yields a notFound result rather than an error.
func (s *JobScheduler) ExecuteOnce(ctx context.Context) (model.JobResult, error) {
	job, err := s.jobs.FindOne(ctx, s.jobName)
	if err != nil {
		if momoerrors.IsJobNotFound(err) {
			return model.JobResult{Status: model.ExecutionNotFound}, nil
		}
		return model.JobResult{}, momoerrors.Wrapf(err, momoerrors.CodeInternal, "load job %q", s.jobName)
	}
	return s.executor.Execute(ctx, job, s.handler)
}

// executeConcurrently is the periodic tick action. It reloads the job
// definition, computes how many executions the cluster cap leaves room for,
// and launches them. Errors are absorbed into the unexpected-error counter;
// a tick never stops the scheduler.
func (s *JobScheduler) executeConcurrently(ctx context.Context) {
	job, err := s.jobs.FindOne(ctx, s.jobName)
	if err != nil {
		if momoerrors.IsJobNotFound(err) {
			s.logger.WarnContext(ctx, "job definition disappeared, skipping tick", "job", s.jobName)
			return
		}
		s.recordUnexpected(ctx, err)
		return
	}

	n := job.Concurrency
	if job.MaxRunning > 0 {
		// A crashed peer can leave the ledger above the cap; clamp at zero.
		headroom := job.MaxRunning - job.Running
		if headroom < 0 {
			headroom = 0
		}
		if headroom < n {
			n = headroom
		}
	}

	metrics.EmitTick(s.metrics, s.jobName, n)

	for i := 0; i < n; i++ {
		if !s.pending.add() {
			return
		}
		go func() {
			defer s.pending.done()
			if _, execErr := s.executor.Execute(ctx, job, s.handler); execErr != nil {
				s.recordUnexpected(ctx, execErr)
			}
		}()
	}
}

func (s *JobScheduler) recordUnexpected(ctx context.Context, err error) {
	s.unexpectedErrors.Add(1)
	s.logger.ErrorContext(ctx, "unexpected error in job scheduler", "job", s.jobName, "error", err)
}

// pendingSet tracks in-flight executions. Closing it rejects new additions;
// wait blocks until every tracked execution has settled.
type pendingSet struct {
	mu      sync.Mutex
	count   int
	closed  bool
	drained chan struct{}
}

func newPendingSet() *pendingSet {
	return &pendingSet{closed: true}
}

func (p *pendingSet) reopen() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = false
}

func (p *pendingSet) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *pendingSet) add() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.count++
	return true
}

func (p *pendingSet) done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count--
	if p.count == 0 && p.drained != nil {
		close(p.drained)
		p.drained = nil
	}
}

func (p *pendingSet) wait(ctx context.Context) error {
	p.mu.Lock()
	if p.count == 0 {
		p.mu.Unlock()
		return nil
	}
	if p.drained == nil {
		p.drained = make(chan struct{})
	}
	drained := p.drained
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-drained:
		return nil
	}
}
