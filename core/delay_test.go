package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeDelay(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	interval := time.Minute

	tests := []struct {
		name         string
		immediate    bool
		lastFinished time.Time
		want         time.Duration
	}{
		{
			name:      "immediate job with no prior execution fires now",
			immediate: true,
			want:      0,
		},
		{
			name: "non-immediate job with no prior execution waits a full interval",
			want: interval,
		},
		{
			name:         "prior execution keeps the cadence",
			immediate:    true,
			lastFinished: now.Add(-20 * time.Second),
			want:         40 * time.Second,
		},
		{
			name:         "overdue job fires now",
			lastFinished: now.Add(-5 * time.Minute),
			want:         0,
		},
		{
			name:         "execution that just finished waits the full interval",
			lastFinished: now,
			want:         interval,
		},
		{
			name:         "immediate flag ignored when a prior execution exists",
			immediate:    true,
			lastFinished: now.Add(-time.Second),
			want:         59 * time.Second,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeDelay(interval, tc.immediate, tc.lastFinished, now)
			assert.Equal(t, tc.want, got)
		})
	}
}
