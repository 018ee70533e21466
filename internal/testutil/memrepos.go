package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/momo-scheduler/momo/domain/model"
	"github.com/momo-scheduler/momo/momoerrors"
)

// Clock supplies the current time to the in-memory repositories; tests can
// swap it for a fixed clock.
type Clock func() time.Time

// InMemoryJobRepo is a thread-safe in-memory job store used by unit tests.
// It mirrors the counter semantics of the real adapters: conditional atomic
// increment and zero-floored decrement.
type InMemoryJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*model.Job

	// FailNext, when set, makes the next repository call return the error
	// and then clears itself.
	FailNext error
}

// NewInMemoryJobRepo creates an empty in-memory job store.
func NewInMemoryJobRepo() *InMemoryJobRepo {
	return &InMemoryJobRepo{jobs: make(map[string]*model.Job)}
}

func (r *InMemoryJobRepo) failure() error {
	err := r.FailNext
	r.FailNext = nil
	return err
}

// FindOne returns a copy of the named job.
func (r *InMemoryJobRepo) FindOne(_ context.Context, name string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(); err != nil {
		return nil, err
	}
	job, ok := r.jobs[name]
	if !ok {
		return nil, momoerrors.JobNotFound(name)
	}
	cp := *job
	if job.ExecutionInfo != nil {
		info := *job.ExecutionInfo
		cp.ExecutionInfo = &info
	}
	return &cp, nil
}

// Save upserts a job, preserving the running counter and execution info of
// an existing definition.
func (r *InMemoryJobRepo) Save(_ context.Context, job *model.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(); err != nil {
		return err
	}
	cp := *job
	if existing, ok := r.jobs[job.Name]; ok {
		cp.Running = existing.Running
		cp.ExecutionInfo = existing.ExecutionInfo
	}
	r.jobs[job.Name] = &cp
	return nil
}

// Delete removes a job definition.
func (r *InMemoryJobRepo) Delete(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(); err != nil {
		return err
	}
	if _, ok := r.jobs[name]; !ok {
		return momoerrors.JobNotFound(name)
	}
	delete(r.jobs, name)
	return nil
}

// List returns all job definitions sorted by name.
func (r *InMemoryJobRepo) List(_ context.Context) ([]model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(); err != nil {
		return nil, err
	}
	out := make([]model.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// IncrementRunning atomically increments the running counter unless the cap
// is already met.
func (r *InMemoryJobRepo) IncrementRunning(_ context.Context, name string, maxRunning int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(); err != nil {
		return false, err
	}
	job, ok := r.jobs[name]
	if !ok {
		return false, momoerrors.JobNotFound(name)
	}
	if maxRunning > 0 && job.Running >= maxRunning {
		return false, nil
	}
	job.Running++
	return true, nil
}

// DecrementRunning decrements the running counter, flooring at zero.
func (r *InMemoryJobRepo) DecrementRunning(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(); err != nil {
		return err
	}
	job, ok := r.jobs[name]
	if !ok {
		return momoerrors.JobNotFound(name)
	}
	if job.Running > 0 {
		job.Running--
	}
	return nil
}

// UpdateExecutionInfo records the latest execution outcome.
func (r *InMemoryJobRepo) UpdateExecutionInfo(_ context.Context, name string, info model.ExecutionInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(); err != nil {
		return err
	}
	job, ok := r.jobs[name]
	if !ok {
		return momoerrors.JobNotFound(name)
	}
	job.ExecutionInfo = &info
	return nil
}

// Running returns the current running counter of a job, for assertions.
func (r *InMemoryJobRepo) Running(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[name]; ok {
		return job.Running
	}
	return 0
}

// SetRunning seeds the running counter of a job, for cap tests.
func (r *InMemoryJobRepo) SetRunning(name string, running int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[name]; ok {
		job.Running = running
	}
}

// InMemoryExecutionsRepo is a thread-safe in-memory executions ledger.
type InMemoryExecutionsRepo struct {
	mu      sync.Mutex
	entries map[string]*model.ScheduleEntry

	// Now is the clock the ledger uses; defaults to time.Now.
	Now Clock
	// FailNext, when set, makes the next repository call return the error
	// and then clears itself.
	FailNext error
}

// NewInMemoryExecutionsRepo creates an empty in-memory ledger.
func NewInMemoryExecutionsRepo() *InMemoryExecutionsRepo {
	return &InMemoryExecutionsRepo{
		entries: make(map[string]*model.ScheduleEntry),
		Now:     time.Now,
	}
}

func (r *InMemoryExecutionsRepo) failure() error {
	err := r.FailNext
	r.FailNext = nil
	return err
}

// AddSchedule registers a schedule instance with a fresh heartbeat.
func (r *InMemoryExecutionsRepo) AddSchedule(_ context.Context, scheduleID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(); err != nil {
		return err
	}
	now := r.Now()
	if _, ok := r.entries[scheduleID]; ok {
		return nil
	}
	r.entries[scheduleID] = &model.ScheduleEntry{
		ScheduleID:   scheduleID,
		Name:         name,
		RegisteredAt: now,
		LastAlive:    now,
		Executions:   make(map[string]int),
	}
	return nil
}

// IsActiveSchedule elects the active holder of name among live entries:
// the earliest RegisteredAt wins, ties broken by lexicographic scheduleID.
// The caller's entry is (re-)registered when absent.
func (r *InMemoryExecutionsRepo) IsActiveSchedule(
	_ context.Context,
	scheduleID, name string,
	deadAfter time.Duration,
) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(); err != nil {
		return false, err
	}
	now := r.Now()
	if _, ok := r.entries[scheduleID]; !ok {
		r.entries[scheduleID] = &model.ScheduleEntry{
			ScheduleID:   scheduleID,
			Name:         name,
			RegisteredAt: now,
			LastAlive:    now,
			Executions:   make(map[string]int),
		}
	}

	cutoff := now.Add(-deadAfter)
	var winner *model.ScheduleEntry
	for _, e := range r.entries {
		if e.Name != name || e.DeadBefore(cutoff) {
			continue
		}
		if winner == nil || e.RegisteredAt.Before(winner.RegisteredAt) ||
			(e.RegisteredAt.Equal(winner.RegisteredAt) && e.ScheduleID < winner.ScheduleID) {
			winner = e
		}
	}
	if winner == nil {
		// No live entry: the caller claims ownership.
		r.entries[scheduleID].LastAlive = now
		return true, nil
	}
	return winner.ScheduleID == scheduleID, nil
}

// Ping refreshes the heartbeat of scheduleID.
func (r *InMemoryExecutionsRepo) Ping(_ context.Context, scheduleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(); err != nil {
		return err
	}
	if e, ok := r.entries[scheduleID]; ok {
		e.LastAlive = r.Now()
	}
	return nil
}

// Remove deletes the entry of scheduleID.
func (r *InMemoryExecutionsRepo) Remove(_ context.Context, scheduleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(); err != nil {
		return err
	}
	delete(r.entries, scheduleID)
	return nil
}

// RemoveDead deletes entries under name whose heartbeat is older than olderThan.
func (r *InMemoryExecutionsRepo) RemoveDead(_ context.Context, name string, olderThan time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(); err != nil {
		return 0, err
	}
	removed := 0
	for id, e := range r.entries {
		if e.Name == name && e.DeadBefore(olderThan) {
			delete(r.entries, id)
			removed++
		}
	}
	return removed, nil
}

// IncrementExecution adds one to the running count of jobName for scheduleID.
func (r *InMemoryExecutionsRepo) IncrementExecution(_ context.Context, scheduleID, jobName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(); err != nil {
		return err
	}
	e, ok := r.entries[scheduleID]
	if !ok {
		return momoerrors.Internalf("schedule %q not registered", scheduleID)
	}
	e.Executions[jobName]++
	return nil
}

// DecrementExecution removes one from the running count, flooring at zero.
func (r *InMemoryExecutionsRepo) DecrementExecution(_ context.Context, scheduleID, jobName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(); err != nil {
		return err
	}
	e, ok := r.entries[scheduleID]
	if !ok {
		return momoerrors.Internalf("schedule %q not registered", scheduleID)
	}
	if e.Executions[jobName] > 0 {
		e.Executions[jobName]--
	}
	return nil
}

// CountRunning sums the running counts of jobName across live entries.
func (r *InMemoryExecutionsRepo) CountRunning(_ context.Context, jobName string, deadAfter time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(); err != nil {
		return 0, err
	}
	cutoff := r.Now().Add(-deadAfter)
	total := 0
	for _, e := range r.entries {
		if !e.DeadBefore(cutoff) {
			total += e.Executions[jobName]
		}
	}
	return total, nil
}

// Entry returns a copy of the ledger entry for scheduleID, for assertions.
func (r *InMemoryExecutionsRepo) Entry(scheduleID string) (model.ScheduleEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[scheduleID]
	if !ok {
		return model.ScheduleEntry{}, false
	}
	cp := *e
	cp.Executions = make(map[string]int, len(e.Executions))
	for k, v := range e.Executions {
		cp.Executions[k] = v
	}
	return cp, true
}

// SetLastAlive overrides the heartbeat of an entry, for takeover tests.
func (r *InMemoryExecutionsRepo) SetLastAlive(scheduleID string, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[scheduleID]; ok {
		e.LastAlive = t
	}
}

// EntryCount returns how many entries the ledger holds.
func (r *InMemoryExecutionsRepo) EntryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
