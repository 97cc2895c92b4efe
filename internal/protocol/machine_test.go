package protocol

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/vitals.report/internal/quality"
	"github.com/banshee-data/vitals.report/internal/timeutil"
	"github.com/banshee-data/vitals.report/internal/vitalerr"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestMachine(t *testing.T) (*Machine, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(epoch)
	n := 0
	m := NewMachine(Options{
		Clock: clock,
		Logf:  t.Logf,
		NewID: func() string { n++; return fmt.Sprintf("session-%d", n) },
	})
	return m, clock
}

func TestMachine_InitialState(t *testing.T) {
	m, _ := newTestMachine(t)
	assert.Equal(t, StatusNotStarted, m.Status().Status)
	assert.Nil(t, m.CurrentStepInfo())
	assert.Nil(t, m.Session())
}

func TestMachine_AdvanceBeforeStart(t *testing.T) {
	m, _ := newTestMachine(t)
	_, err := m.AdvanceStep(0.9)
	require.Error(t, err)
	assert.True(t, errors.Is(err, vitalerr.ErrNoActiveProtocol))
	assert.Equal(t, vitalerr.KindInvalidStateTransition, vitalerr.Classify(err).Kind)
}

func TestMachine_StartUnknown(t *testing.T) {
	m, _ := newTestMachine(t)
	_, err := m.StartProtocol("marathon")
	require.Error(t, err)
	assert.True(t, errors.Is(err, vitalerr.ErrUnknownProtocol))
	assert.Equal(t, vitalerr.KindInvalidConfiguration, vitalerr.Classify(err).Kind)
	assert.Equal(t, StatusNotStarted, m.Status().Status)
}

func TestMachine_QuickCheckHappyPath(t *testing.T) {
	m, clock := newTestMachine(t)

	info, err := m.StartProtocol("quick_check")
	require.NoError(t, err)
	assert.Equal(t, 0, info.StepIndex)
	assert.Equal(t, 3, info.TotalSteps)
	assert.Equal(t, PhaseCalibration, info.Step.Phase)
	assert.Equal(t, "session-1", info.SessionID)

	var res AdvanceResult
	for i := 0; i < 3; i++ {
		clock.Advance(10 * time.Second)
		res, err = m.AdvanceStep(0.9)
		require.NoError(t, err)
		assert.True(t, res.Passed)
		if i < 2 {
			require.NotNil(t, res.Next)
			assert.Nil(t, res.Summary)
			assert.Equal(t, i+1, res.Next.StepIndex)
		}
	}
	require.NotNil(t, res.Summary)
	assert.Nil(t, res.Next)

	sum := res.Summary
	assert.Equal(t, 3, sum.TotalSteps)
	assert.InDelta(t, 1.0, sum.PassRate, 1e-12)
	assert.InDelta(t, 0.9, sum.OverallQuality, 1e-12)
	assert.True(t, sum.RequiredPassed)
	assert.Equal(t, 30*time.Second, sum.Duration)
	assert.Equal(t, 3, sum.Distribution[quality.GradeFor(0.9)])

	st := m.Status()
	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, 3, st.StepsDone)
	assert.InDelta(t, 100, st.Progress, 1e-9)
	assert.Nil(t, m.CurrentStepInfo())

	_, err = m.AdvanceStep(0.9)
	assert.True(t, vitalerr.IsKind(err, vitalerr.KindInvalidStateTransition))
}

func TestMachine_EveryProtocolCompletes(t *testing.T) {
	for _, name := range DefaultRegistry.Names() {
		t.Run(name, func(t *testing.T) {
			m, _ := newTestMachine(t)
			p, _ := DefaultRegistry.Lookup(name)
			_, err := m.StartProtocol(name)
			require.NoError(t, err)
			var res AdvanceResult
			for range p.Steps {
				res, err = m.AdvanceStep(1)
				require.NoError(t, err)
			}
			require.NotNil(t, res.Summary)
			assert.Equal(t, len(p.Steps), res.Summary.TotalSteps)
			assert.InDelta(t, 1.0, res.Summary.PassRate, 1e-12)
		})
	}
}

func TestMachine_FailedStepsStillAdvance(t *testing.T) {
	m, _ := newTestMachine(t)
	_, err := m.StartProtocol("quick_check")
	require.NoError(t, err)

	scores := []float64{0.3, 0.9, 0.5}
	var res AdvanceResult
	for _, q := range scores {
		res, err = m.AdvanceStep(q)
		require.NoError(t, err)
	}
	require.NotNil(t, res.Summary)
	assert.InDelta(t, 1.0/3, res.Summary.PassRate, 1e-12)
	assert.InDelta(t, (0.3+0.9+0.5)/3, res.Summary.OverallQuality, 1e-12)
	assert.False(t, res.Summary.RequiredPassed)

	s := m.Session()
	require.NotNil(t, s)
	got := make([]bool, len(s.CompletionLog))
	for i, e := range s.CompletionLog {
		got[i] = e.Passed
	}
	if diff := cmp.Diff([]bool{false, true, false}, got); diff != "" {
		t.Errorf("passed flags mismatch (-want +got):\n%s", diff)
	}
}

func TestMachine_ScoreClamped(t *testing.T) {
	m, _ := newTestMachine(t)
	_, err := m.StartProtocol("quick_check")
	require.NoError(t, err)
	_, err = m.AdvanceStep(1.7)
	require.NoError(t, err)
	_, err = m.AdvanceStep(-2)
	require.NoError(t, err)
	h := m.Session().QualityHistory
	assert.Equal(t, 1.0, h[0].Quality)
	assert.Equal(t, 0.0, h[1].Quality)
}

func TestMachine_StartWhileActive(t *testing.T) {
	m, _ := newTestMachine(t)
	_, err := m.StartProtocol("quick_check")
	require.NoError(t, err)
	_, err = m.StartProtocol("standard")
	assert.True(t, errors.Is(err, vitalerr.ErrInvalidStateTransition))

	require.NoError(t, m.PauseProtocol())
	_, err = m.StartProtocol("standard")
	assert.True(t, errors.Is(err, vitalerr.ErrInvalidStateTransition))
}

func TestMachine_RestartAfterCompletion(t *testing.T) {
	m, _ := newTestMachine(t)
	_, err := m.StartProtocol("quick_check")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = m.AdvanceStep(1)
		require.NoError(t, err)
	}
	info, err := m.StartProtocol("standard")
	require.NoError(t, err)
	assert.Equal(t, "session-2", info.SessionID)
	assert.Equal(t, 5, info.TotalSteps)
	assert.Empty(t, m.Session().QualityHistory)
}

func TestMachine_PauseResume(t *testing.T) {
	m, clock := newTestMachine(t)
	_, err := m.StartProtocol("quick_check")
	require.NoError(t, err)

	clock.Advance(4 * time.Second)
	require.NoError(t, m.PauseProtocol())
	assert.Equal(t, StatusPaused, m.Status().Status)
	assert.Nil(t, m.CurrentStepInfo())

	_, err = m.AdvanceStep(1)
	assert.True(t, errors.Is(err, vitalerr.ErrNoActiveProtocol))
	assert.True(t, errors.Is(m.PauseProtocol(), vitalerr.ErrInvalidStateTransition))

	clock.Advance(time.Minute)
	assert.Equal(t, 4*time.Second, m.Status().Elapsed)
	require.NoError(t, m.ResumeProtocol())

	clock.Advance(2 * time.Second)
	info := m.CurrentStepInfo()
	require.NotNil(t, info)
	assert.Equal(t, 6*time.Second, info.Elapsed)
	assert.Equal(t, 4*time.Second, info.Remaining)
	assert.InDelta(t, 60, info.Progress, 1e-9)
	assert.True(t, errors.Is(m.ResumeProtocol(), vitalerr.ErrInvalidStateTransition))

	res, err := m.AdvanceStep(0.8)
	require.NoError(t, err)
	require.NotNil(t, res.Next)
	assert.Equal(t, time.Duration(0), res.Next.Elapsed)
	assert.Equal(t, 6*time.Second, m.Session().CompletionLog[0].Elapsed)
}

func TestMachine_ProgressCapped(t *testing.T) {
	m, clock := newTestMachine(t)
	_, err := m.StartProtocol("quick_check")
	require.NoError(t, err)
	clock.Advance(time.Hour)
	info := m.CurrentStepInfo()
	require.NotNil(t, info)
	assert.Equal(t, 100.0, info.Progress)
	assert.Equal(t, time.Duration(0), info.Remaining)
}

func TestMachine_Reset(t *testing.T) {
	m, _ := newTestMachine(t)
	_, err := m.StartProtocol("standard")
	require.NoError(t, err)
	_, err = m.AdvanceStep(0.9)
	require.NoError(t, err)

	m.ResetProtocol()
	assert.Equal(t, StatusNotStarted, m.Status().Status)
	assert.Nil(t, m.Session())
	_, ok := m.Protocol()
	assert.False(t, ok)
}

func TestMachine_Fail(t *testing.T) {
	m, _ := newTestMachine(t)
	assert.True(t, errors.Is(m.Fail(nil), vitalerr.ErrInvalidStateTransition))

	_, err := m.StartProtocol("quick_check")
	require.NoError(t, err)
	require.NoError(t, m.Fail(vitalerr.ErrNoRegionDetected))

	st := m.Status()
	assert.Equal(t, StatusFailed, st.Status)
	assert.Contains(t, st.FailureReason, "no region detected")

	_, err = m.AdvanceStep(1)
	assert.Error(t, err)
	_, err = m.StartProtocol("quick_check")
	assert.NoError(t, err)
}

func TestMachine_SessionIsCopy(t *testing.T) {
	m, _ := newTestMachine(t)
	_, err := m.StartProtocol("quick_check")
	require.NoError(t, err)
	_, err = m.AdvanceStep(0.9)
	require.NoError(t, err)

	s := m.Session()
	s.QualityHistory[0].Quality = 0
	assert.Equal(t, 0.9, m.Session().QualityHistory[0].Quality)
}

func TestMachine_History(t *testing.T) {
	m, clock := newTestMachine(t)
	assert.Nil(t, m.History())

	_, err := m.StartProtocol("quick_check")
	require.NoError(t, err)
	for _, score := range []float64{0.95, 0.4} {
		clock.Advance(10 * time.Second)
		_, err := m.AdvanceStep(score)
		require.NoError(t, err)
	}

	h := m.History()
	require.Len(t, h, 2)
	assert.Equal(t, []int{0, 1}, []int{h[0].StepIndex, h[1].StepIndex})
	assert.Equal(t, quality.GradeExcellent, h[0].Grade)
	assert.False(t, h[1].Passed)

	h[0].Quality = 0
	assert.Equal(t, 0.95, m.History()[0].Quality)
}
