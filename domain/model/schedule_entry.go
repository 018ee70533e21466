package model

import "time"

// ScheduleEntry is a row in the executions ledger: one live schedule
// instance, its heartbeat, and the running counts it contributes per job.
type ScheduleEntry struct {
	// ScheduleID is the process-unique identifier of a schedule instance.
	ScheduleID string `json:"scheduleId"`
	// Name is the logical schedule name; multiple instances may share a name
	// and compete for liveness.
	Name string `json:"name"`
	// RegisteredAt is when the instance first joined the ledger. The active-
	// schedule election orders live entries by this timestamp so activeness
	// stays stable between heartbeats.
	RegisteredAt time.Time `json:"registeredAt"`
	// LastAlive is the wall-clock timestamp of the last heartbeat.
	LastAlive time.Time `json:"lastAlive"`
	// Executions maps job names to the running count contributed by this instance.
	Executions map[string]int `json:"executions"`
}

// DeadBefore reports whether the entry's heartbeat is older than the given
// cutoff and the entry may be deleted by any peer.
func (e *ScheduleEntry) DeadBefore(cutoff time.Time) bool {
	return e.LastAlive.Before(cutoff)
}
