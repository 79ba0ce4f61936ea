package domain

import "time"

// TestTrigger is a request to run tests.
type TestTrigger struct {
	Modules     []string
	Unit        bool
	Integration bool
	Manual      bool
}

// PendingTestRun is a queued test run. Its ID is strictly increasing across a
// session and is handed to the test runner so cached results cannot be reused.
type PendingTestRun struct {
	ID          int64
	Modules     []string
	Unit        bool
	Integration bool
	Manual      bool
	QueuedAt    time.Time
}

// NewPendingTestRun creates a run for trigger with the given ID.
func NewPendingTestRun(id int64, trigger TestTrigger) *PendingTestRun {
	return &PendingTestRun{
		ID:          id,
		Modules:     append([]string(nil), trigger.Modules...),
		Unit:        trigger.Unit,
		Integration: trigger.Integration,
		Manual:      trigger.Manual,
		QueuedAt:    time.Now(),
	}
}
