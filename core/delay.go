package core

import "time"

// ComputeDelay returns how long a job scheduler waits before its first fire.
//
// The effective period is preserved across restarts: when a previous
// execution exists the first fire lands at lastFinished + interval (or now,
// whichever is later), regardless of the immediate flag, so an immediate job
// does not double-fire on a fast restart. Without a previous execution an
// immediate job fires right away and a non-immediate one waits a full
// interval.
func ComputeDelay(interval time.Duration, immediate bool, lastFinished, now time.Time) time.Duration {
	if lastFinished.IsZero() {
		if immediate {
			return 0
		}
		return interval
	}

	delay := interval - now.Sub(lastFinished)
	if delay < 0 {
		return 0
	}
	return delay
}
