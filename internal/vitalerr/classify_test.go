package vitalerr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_DomainErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		err      error
		severity Severity
		category Category
		restart  bool
	}{
		{"too_short", SignalTooShort(10, 64), SeverityMedium, CategorySignal, false},
		{"no_frequency", NoFrequencyInRange(0.7, 3), SeverityMedium, CategorySignal, false},
		{"bad_rate", InvalidSampleRate(0), SeverityHigh, CategorySystem, true},
		{"unknown_protocol", UnknownProtocol("nope"), SeverityHigh, CategoryUser, true},
		{"bad_transition", InvalidStateTransition("pause", "paused"), SeverityMedium, CategoryUser, false},
		{"missing_dep", MissingDependency("ica", "decomposition"), SeverityCritical, CategorySystem, true},
		{"no_region", ErrNoRegionDetected, SeverityLow, CategoryCamera, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cl := Classify(tc.err)
			assert.Equal(t, tc.severity, cl.Severity)
			assert.Equal(t, tc.category, cl.Category)
			assert.Equal(t, tc.restart, cl.RequiresRestart)
			assert.NotEmpty(t, cl.RecoverySteps)
			assert.NotEmpty(t, cl.UserMessage)
			if cl.RequiresRestart {
				assert.False(t, cl.Retryable, "restart-level errors are not retryable")
			}
		})
	}
}

func TestClassify_LowAndMediumAreRetryable(t *testing.T) {
	cl := Classify(fmt.Errorf("analyze: %w", SignalTooShort(3, 64)))
	assert.True(t, cl.Retryable)
	assert.Greater(t, cl.RetryAfter, time.Duration(0))
	assert.Equal(t, CodeSignalTooShort, cl.Code)
	assert.Equal(t, KindDataInsufficiency, cl.Kind)
}

func TestClassify_ForeignErrors(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		category Category
		severity Severity
	}{
		{"cancelled", context.Canceled, CategoryUser, SeverityLow},
		{"deadline", fmt.Errorf("analyze: %w", context.DeadlineExceeded), CategoryNetwork, SeverityMedium},
		{"permission", &os.PathError{Op: "open", Path: "/dev/video0", Err: os.ErrPermission}, CategoryCamera, SeverityCritical},
		{"not_exist", fmt.Errorf("load cascade: %w", os.ErrNotExist), CategorySystem, SeverityHigh},
		{"camera_keyword", errors.New("webcam disconnected"), CategoryCamera, SeverityHigh},
		{"light_keyword", errors.New("frame too dark"), CategoryEnvironment, SeverityLow},
		{"network_keyword", errors.New("connection reset by peer"), CategoryNetwork, SeverityMedium},
		{"unknown", errors.New("segfault in the matrix"), CategorySystem, SeverityHigh},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cl := Classify(tc.err)
			assert.Equal(t, tc.category, cl.Category)
			assert.Equal(t, tc.severity, cl.Severity)
			assert.Equal(t, CodeUnknown, cl.Code)
		})
	}
}

func TestClassify_Nil(t *testing.T) {
	assert.Equal(t, Classification{}, Classify(nil))
}

func TestClassifier_HistoryAndStats(t *testing.T) {
	c := NewClassifier(3, nil)

	c.Handle(SignalTooShort(1, 64))
	c.Handle(InvalidSampleRate(-1))
	c.Handle(nil)
	c.Handle(ErrNoRegionDetected)
	c.Handle(MissingDependency("pca", "decomposition"))

	history := c.History()
	require.Len(t, history, 3, "history is bounded")
	assert.Equal(t, CodeInvalidSampleRate, history[0].Classification.Code)
	assert.Equal(t, CodeMissingDependency, history[2].Classification.Code)

	stats := c.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByCategory[CategorySystem])
	assert.Equal(t, 1, stats.ByCategory[CategoryCamera])
	assert.Equal(t, 2, stats.Restarts)

	c.Clear()
	assert.Empty(t, c.History())
}
