// Package deadline tracks how close a turn is to the host's wall-clock
// execution ceiling.
package deadline

import "time"

// Budgets relative to the host's absolute 300s execution ceiling.
const (
	// HostCeiling is the absolute wall-clock limit imposed by the platform.
	HostCeiling = 300 * time.Second
	// HardBudget is the self-imposed limit the request runs under, leaving
	// headroom before the host kills the connection.
	HardBudget = 290 * time.Second
	// ContinuationThreshold is the elapsed time after which the turn must
	// capture a continuation snapshot instead of relaying more events.
	ContinuationThreshold = 230 * time.Second
	// WarningThreshold is the elapsed time after which the agent is told to
	// wrap up instead of starting new tool calls.
	WarningThreshold = 200 * time.Second
	// EmergencyMargin is the window before HostCeiling inside which billing
	// reconciliation is skipped entirely.
	EmergencyMargin = 8 * time.Second
)

const warningMessage = "Time is running out for this response. Finish your current train of thought and summarize; do not start new tool calls."

// Status is a point-in-time reading of the monitor.
type Status struct {
	Elapsed            time.Duration
	Remaining          time.Duration
	ShouldContinue     bool
	ApproachingTimeout bool
	WarningMessage     string
}

// Monitor reads elapsed time against the fixed thresholds. It holds no
// mutable state and is cheap enough to consult on every streamed event.
type Monitor struct {
	start time.Time
	now   func() time.Time
}

func NewMonitor(start time.Time) *Monitor {
	return &Monitor{start: start, now: time.Now}
}

// NewMonitorAt is like [NewMonitor] with an injectable clock, for tests.
func NewMonitorAt(start time.Time, now func() time.Time) *Monitor {
	return &Monitor{start: start, now: now}
}

func (m *Monitor) Start() time.Time { return m.start }

func (m *Monitor) Elapsed() time.Duration {
	return m.now().Sub(m.start)
}

// Status reports the current deadline state. ShouldContinue may be true
// before any output was produced; callers still have to emit a valid,
// possibly near-empty, continuation snapshot.
func (m *Monitor) Status() Status {
	elapsed := m.Elapsed()
	st := Status{
		Elapsed:        elapsed,
		Remaining:      HardBudget - elapsed,
		ShouldContinue: elapsed >= ContinuationThreshold,
	}
	if elapsed >= WarningThreshold {
		st.ApproachingTimeout = true
		st.WarningMessage = warningMessage
	}
	return st
}

// InEmergencyWindow reports whether the wall clock is within
// [EmergencyMargin] of the absolute host ceiling.
func (m *Monitor) InEmergencyWindow() bool {
	return m.Elapsed() >= HostCeiling-EmergencyMargin
}
