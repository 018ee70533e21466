// Package metrics holds the metric naming and tagging conventions shared by
// the scheduler components.
package metrics

import (
	"time"

	"github.com/momo-scheduler/momo/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// ExecutionMetric captures details about one job execution for metric emission.
type ExecutionMetric struct {
	JobName  string
	Status   string
	Duration time.Duration
}

// EmitExecution emits standardised execution outcome metrics.
func EmitExecution(sink statsd.Sink, in ExecutionMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"job":    in.JobName,
		"status": in.Status,
	}

	sink.Count("execution", 1, tags)

	if in.Duration > 0 {
		sink.Timing("execution.duration", in.Duration, CloneTags(tags))
	}
}

// EmitTick emits the per-tick launch count for a job scheduler.
func EmitTick(sink statsd.Sink, jobName string, launched int) {
	if sink == nil {
		return
	}
	sink.Count("scheduler.tick", 1, map[string]string{"job": jobName})
	if launched > 0 {
		sink.Count("scheduler.launched", int64(launched), map[string]string{"job": jobName})
	}
}

// EmitPing emits the outcome of one ping loop iteration.
func EmitPing(sink statsd.Sink, scheduleName, result string, removedDead int) {
	if sink == nil {
		return
	}
	sink.Count("ping.tick", 1, map[string]string{"schedule": scheduleName, "result": result})
	if removedDead > 0 {
		sink.Count("ping.removed_dead", int64(removedDead), map[string]string{"schedule": scheduleName})
	}
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		if k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
