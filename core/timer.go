package core

import (
	"sync"
	"time"
)

// TimerHandle controls a running interval timer. Stop is idempotent and
// prevents any further fires; it does not interrupt a fire already in
// progress.
type TimerHandle struct {
	stop chan struct{}
	once sync.Once
	done chan struct{}
}

// StartTimer fires fn once after delay, then every period until stopped.
// The timer never queues fires: if fn takes longer than period, intervening
// ticks are dropped and the cadence stays anchored to the original schedule.
// fn is responsible for its own concurrency.
func StartTimer(delay, period time.Duration, fn func()) *TimerHandle {
	h := &TimerHandle{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	go func() {
		defer close(h.done)

		first := time.NewTimer(delay)
		defer first.Stop()

		select {
		case <-h.stop:
			return
		case <-first.C:
		}
		fn()

		ticker := time.NewTicker(period)
		defer ticker.Stop()

		for {
			select {
			case <-h.stop:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()

	return h
}

// Stop cancels the timer. Safe to call multiple times and from multiple
// goroutines.
func (h *TimerHandle) Stop() {
	if h == nil {
		return
	}
	h.once.Do(func() { close(h.stop) })
}

// Stopped reports whether the timer goroutine has exited. After Stop the
// goroutine may still be completing the fire that was in progress, so this
// can briefly report false.
func (h *TimerHandle) Stopped() bool {
	if h == nil {
		return true
	}
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
