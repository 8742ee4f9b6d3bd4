package deadline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func monitorAt(t *testing.T, elapsed time.Duration) *Monitor {
	t.Helper()
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	return NewMonitorAt(start, func() time.Time { return start.Add(elapsed) })
}

func TestStatus_Fresh(t *testing.T) {
	t.Parallel()
	st := monitorAt(t, 5*time.Second).Status()
	require.False(t, st.ShouldContinue)
	require.False(t, st.ApproachingTimeout)
	require.Empty(t, st.WarningMessage)
	require.Equal(t, 5*time.Second, st.Elapsed)
	require.Equal(t, HardBudget-5*time.Second, st.Remaining)
}

func TestStatus_WarningOnly(t *testing.T) {
	t.Parallel()
	st := monitorAt(t, 210*time.Second).Status()
	require.False(t, st.ShouldContinue)
	require.True(t, st.ApproachingTimeout)
	require.NotEmpty(t, st.WarningMessage)
}

func TestStatus_PastContinuationThreshold(t *testing.T) {
	t.Parallel()
	// 235s: both thresholds crossed, warning message still present.
	st := monitorAt(t, 235*time.Second).Status()
	require.True(t, st.ShouldContinue)
	require.True(t, st.ApproachingTimeout)
	require.NotEmpty(t, st.WarningMessage)
}

func TestStatus_ExactThreshold(t *testing.T) {
	t.Parallel()
	require.True(t, monitorAt(t, ContinuationThreshold).Status().ShouldContinue)
	require.True(t, monitorAt(t, WarningThreshold).Status().ApproachingTimeout)
	require.False(t, monitorAt(t, ContinuationThreshold-time.Millisecond).Status().ShouldContinue)
}

func TestStatus_BeforeAnyOutput(t *testing.T) {
	t.Parallel()
	// A slow cold start can cross the threshold before the first token; the
	// monitor must still report it.
	st := monitorAt(t, 240*time.Second).Status()
	require.True(t, st.ShouldContinue)
}

func TestInEmergencyWindow(t *testing.T) {
	t.Parallel()
	require.False(t, monitorAt(t, 291*time.Second).InEmergencyWindow())
	require.True(t, monitorAt(t, 292*time.Second).InEmergencyWindow())
	require.True(t, monitorAt(t, 299*time.Second).InEmergencyWindow())
}

func TestStatus_Idempotent(t *testing.T) {
	t.Parallel()
	m := monitorAt(t, 100*time.Second)
	first := m.Status()
	for range 1000 {
		require.Equal(t, first, m.Status())
	}
}
