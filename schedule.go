package momo

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/momo-scheduler/momo/core"
	"github.com/momo-scheduler/momo/domain/model"
	"github.com/momo-scheduler/momo/momoerrors"
	"github.com/momo-scheduler/momo/observability/statsd"
)

// Schedule is one scheduler instance: a mapping from job name to its
// per-job scheduler, sharing a job store and an executions ledger with the
// other instances of the same logical schedule name. Safe for concurrent use.
type Schedule struct {
	scheduleID   string
	name         string
	jobs         core.JobRepository
	executions   core.ExecutionsRepository
	executor     *core.Executor
	logger       *slog.Logger
	time         core.TimeProvider
	metrics      statsd.Sink
	pingInterval time.Duration

	mu         sync.Mutex
	schedulers map[string]*core.JobScheduler
	defining   map[string]struct{}
}

// ScheduleOptions holds the dependencies for creating a Schedule.
type ScheduleOptions struct {
	// ScheduleID uniquely identifies this instance in the executions ledger.
	ScheduleID string
	// Name is the logical schedule name shared by cooperating instances.
	Name       string
	Jobs       core.JobRepository
	Executions core.ExecutionsRepository
	Logger     *slog.Logger
	Time       core.TimeProvider
	Metrics    statsd.Sink
	// PingInterval sets the liveness window: ledger entries silent for two
	// intervals are considered dead.
	PingInterval time.Duration
}

// NewSchedule creates a Schedule with no jobs defined.
func NewSchedule(opts ScheduleOptions) *Schedule {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = time.Minute
	}
	return &Schedule{
		scheduleID: opts.ScheduleID,
		name:       opts.Name,
		jobs:       opts.Jobs,
		executions: opts.Executions,
		executor: core.NewExecutor(core.ExecutorOptions{
			ScheduleID: opts.ScheduleID,
			Jobs:       opts.Jobs,
			Executions: opts.Executions,
			Logger:     opts.Logger,
			Time:       opts.Time,
			Metrics:    opts.Metrics,
		}),
		logger:       opts.Logger,
		time:         opts.Time,
		metrics:      opts.Metrics,
		pingInterval: opts.PingInterval,
		schedulers:   make(map[string]*core.JobScheduler),
		defining:     make(map[string]struct{}),
	}
}

// ID returns the ledger identity of this schedule instance.
func (s *Schedule) ID() string { return s.scheduleID }

// Name returns the logical schedule name.
func (s *Schedule) Name() string { return s.name }

// deadAfter is the liveness window for ledger reads.
func (s *Schedule) deadAfter() time.Duration { return 2 * s.pingInterval }

// DefineJob validates and persists a job definition and binds handler to it.
// Redefining an existing name is a full replace: the old scheduler is fully
// stopped and its pending executions drained before the new definition
// becomes callable. A concurrent DefineJob for the same name while the old
// scheduler is still draining returns jobAlreadyScheduled.
func (s *Schedule) DefineJob(ctx context.Context, job model.Job, handler model.Handler) error {
	if err := job.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if _, busy := s.defining[job.Name]; busy {
		s.mu.Unlock()
		return momoerrors.JobAlreadyScheduled(job.Name)
	}
	s.defining[job.Name] = struct{}{}
	old := s.schedulers[job.Name]
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.defining, job.Name)
		s.mu.Unlock()
	}()

	if old != nil {
		if err := old.Stop(ctx); err != nil {
			return momoerrors.Wrapf(err, momoerrors.CodeInternal,
				"stop previous scheduler of job %q", job.Name)
		}
	}

	if err := s.jobs.Save(ctx, &job); err != nil {
		return momoerrors.Wrapf(err, momoerrors.CodeInternal, "save job %q", job.Name)
	}

	scheduler := core.NewJobScheduler(core.JobSchedulerOptions{
		JobName:  job.Name,
		Jobs:     s.jobs,
		Executor: s.executor,
		Handler:  handler,
		Logger:   s.logger,
		Time:     s.time,
		Metrics:  s.metrics,
	})

	s.mu.Lock()
	s.schedulers[job.Name] = scheduler
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "job defined",
		"job", job.Name, "interval", job.Interval,
		"concurrency", job.Concurrency, "max_running", job.MaxRunning)
	return nil
}

// RemoveJob stops the scheduler for name, awaits pending drainage, and
// deletes the definition from the job store.
func (s *Schedule) RemoveJob(ctx context.Context, name string) error {
	s.mu.Lock()
	scheduler, ok := s.schedulers[name]
	delete(s.schedulers, name)
	s.mu.Unlock()

	if ok {
		if err := scheduler.Stop(ctx); err != nil {
			return momoerrors.Wrapf(err, momoerrors.CodeInternal,
				"stop scheduler of job %q", name)
		}
	}
	return s.jobs.Delete(ctx, name)
}

// Clear removes every locally defined job: each scheduler is stopped and the
// definition deleted from the job store.
func (s *Schedule) Clear(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range s.localNames() {
		g.Go(func() error { return s.RemoveJob(ctx, name) })
	}
	return g.Wait()
}

// Start arms the interval timer for the named job.
func (s *Schedule) Start(ctx context.Context, name string) error {
	scheduler, err := s.scheduler(name)
	if err != nil {
		return err
	}
	return scheduler.Start(ctx)
}

// StartAll arms the interval timers of every locally defined job.
func (s *Schedule) StartAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, scheduler := range s.localSchedulers() {
		g.Go(func() error { return scheduler.Start(ctx) })
	}
	return g.Wait()
}

// Stop cancels the timer of the named job and awaits its pending executions.
func (s *Schedule) Stop(ctx context.Context, name string) error {
	scheduler, err := s.scheduler(name)
	if err != nil {
		return err
	}
	return scheduler.Stop(ctx)
}

// StopAll stops every locally defined job in parallel; all must drain.
func (s *Schedule) StopAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, scheduler := range s.localSchedulers() {
		g.Go(func() error { return scheduler.Stop(ctx) })
	}
	return g.Wait()
}

// Cancel stops every scheduler and forgets the local job set. Definitions
// stay in the job store; other instances are unaffected.
func (s *Schedule) Cancel(ctx context.Context) error {
	s.mu.Lock()
	schedulers := s.schedulers
	s.schedulers = make(map[string]*core.JobScheduler)
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, scheduler := range schedulers {
		g.Go(func() error { return scheduler.Stop(ctx) })
	}
	return g.Wait()
}

// Run executes the named job once, bypassing the timer. An undefined name
// yields a notFound result.
func (s *Schedule) Run(ctx context.Context, name string) (model.JobResult, error) {
	scheduler, err := s.scheduler(name)
	if err != nil {
		if momoerrors.IsJobNotFound(err) {
			return model.JobResult{Status: model.ExecutionNotFound}, nil
		}
		return model.JobResult{}, err
	}
	return scheduler.ExecuteOnce(ctx)
}

// Get returns the description of the named job: its stored definition plus,
// when the job is started on this instance, the live schedule status with
// the cluster-wide running count.
func (s *Schedule) Get(ctx context.Context, name string) (*model.JobDescription, error) {
	job, err := s.jobs.FindOne(ctx, name)
	if err != nil {
		return nil, err
	}
	desc := &model.JobDescription{Job: *job}

	s.mu.Lock()
	scheduler := s.schedulers[name]
	s.mu.Unlock()

	if scheduler != nil && scheduler.Started() {
		running, countErr := s.executions.CountRunning(ctx, name, s.deadAfter())
		if countErr != nil {
			return nil, momoerrors.Wrapf(countErr, momoerrors.CodeInternal,
				"count running executions of job %q", name)
		}
		desc.Schedule = &model.ScheduleStatus{
			Interval: scheduler.Interval(),
			Running:  running,
		}
	}
	return desc, nil
}

// List returns descriptions of every locally defined job.
func (s *Schedule) List(ctx context.Context) ([]model.JobDescription, error) {
	names := s.localNames()
	out := make([]model.JobDescription, 0, len(names))
	for _, name := range names {
		desc, err := s.Get(ctx, name)
		if err != nil {
			if momoerrors.IsJobNotFound(err) {
				// Deleted by a peer since it was defined here.
				continue
			}
			return nil, err
		}
		out = append(out, *desc)
	}
	return out, nil
}

// Count returns how many jobs are known locally, optionally filtered by
// started state.
func (s *Schedule) Count(_ context.Context, filter model.CountFilter) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if filter.Started == nil {
		return len(s.schedulers)
	}
	count := 0
	for _, scheduler := range s.schedulers {
		if scheduler.Started() == *filter.Started {
			count++
		}
	}
	return count
}

func (s *Schedule) scheduler(name string) (*core.JobScheduler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scheduler, ok := s.schedulers[name]
	if !ok {
		return nil, momoerrors.JobNotFound(name)
	}
	return scheduler, nil
}

func (s *Schedule) localNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.schedulers))
	for name := range s.schedulers {
		names = append(names, name)
	}
	return names
}

func (s *Schedule) localSchedulers() []*core.JobScheduler {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*core.JobScheduler, 0, len(s.schedulers))
	for _, scheduler := range s.schedulers {
		out = append(out, scheduler)
	}
	return out
}
