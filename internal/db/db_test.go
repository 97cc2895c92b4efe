package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/vitals.report/internal/estimate"
	"github.com/banshee-data/vitals.report/internal/measure"
	"github.com/banshee-data/vitals.report/internal/protocol"
	"github.com/banshee-data/vitals.report/internal/quality"
	"github.com/banshee-data/vitals.report/internal/separation"
	"github.com/banshee-data/vitals.report/internal/timeutil"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// TestPragmasApplied verifies the connection pragmas on a fresh journal.
func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("Failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("Expected journal_mode=wal, got %s", journalMode)
	}

	for _, tc := range []struct {
		pragma string
		want   int
	}{
		{"busy_timeout", 5000},
		{"synchronous", 1}, // NORMAL
		{"temp_store", 2},  // MEMORY
		{"foreign_keys", 1},
	} {
		var got int
		if err := db.QueryRow("PRAGMA " + tc.pragma).Scan(&got); err != nil {
			t.Fatalf("Failed to query %s: %v", tc.pragma, err)
		}
		if got != tc.want {
			t.Errorf("Expected %s=%d, got %d", tc.pragma, tc.want, got)
		}
	}
}

func TestDSN(t *testing.T) {
	assert.Equal(t,
		"a.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=temp_store(MEMORY)&_pragma=foreign_keys(ON)",
		dsn("a.db"))
	assert.Contains(t, dsn("file:a.db?mode=rwc"), "mode=rwc&_pragma=journal_mode(WAL)")
}

func TestMigrations(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Reopening is a no-op.
	again, err := NewDB(db.Path())
	require.NoError(t, err)
	require.NoError(t, again.Close())

	require.NoError(t, db.MigrateDown())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	_, err = db.Exec("SELECT COUNT(*) FROM protocol_sessions")
	assert.Error(t, err)

	require.NoError(t, db.MigrateTo(2))
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestRecordRun(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := measure.Analysis{
		Method:       separation.MethodCHROM,
		SampleRateHz: 30,
		Samples:      600,
		Estimate:     estimate.VitalEstimate{BPM: 72, DominantFrequencyHz: 1.2, Confidence: 0.9, Prominence: 14},
		HRV:          estimate.HRV{RMSSDms: 31, SDNNms: 42},
		Signal:       quality.Score{Check: quality.CheckSignal, Valid: true, Confidence: 0.85},
		Report:       quality.Report{Grade: quality.GradeGood, Reasons: []string{"lighting uneven"}},
		Quality:      0.8,
	}
	run := RunFromAnalysis("trace.csv", a)
	run.CreatedAt = time.UnixMilli(1_700_000_000_000)

	id, err := db.RecordRun(ctx, run)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := db.Run(ctx, id)
	require.NoError(t, err)
	run.RunID = id
	if diff := cmp.Diff(run, got); diff != "" {
		t.Errorf("Run() mismatch (-want +got):\n%s", diff)
	}

	_, err = db.Run(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRuns_NewestFirst(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	base := time.UnixMilli(1_700_000_000_000)
	for i, bpm := range []float64{60, 70, 80} {
		_, err := db.RecordRun(ctx, AnalysisRun{
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Method:    "pca",
			BPM:       bpm,
			Grade:     "fair",
		})
		require.NoError(t, err)
	}

	all, err := db.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []float64{80, 70, 60}, []float64{all[0].BPM, all[1].BPM, all[2].BPM})
	assert.Empty(t, all[0].Reasons)

	two, err := db.Runs(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func completedSession(t *testing.T) *protocol.Session {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	m := protocol.NewMachine(protocol.Options{Clock: clock, NewID: func() string { return "session-1" }})
	info, err := m.StartProtocol("quick_check")
	require.NoError(t, err)
	for i := 0; i < info.TotalSteps; i++ {
		clock.Advance(10 * time.Second)
		_, err := m.AdvanceStep(0.9 - 0.3*float64(i))
		require.NoError(t, err)
	}
	s := m.Session()
	require.NotNil(t, s)
	require.Equal(t, protocol.StatusCompleted, s.Status)
	return s
}

func TestRecordProtocolSession(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := completedSession(t)

	require.NoError(t, db.RecordProtocolSession(ctx, s))
	// Recording again replaces rather than duplicates.
	require.NoError(t, db.RecordProtocolSession(ctx, s))

	steps, err := db.ProtocolSteps(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, steps, len(s.CompletionLog))
	for i, e := range steps {
		want := s.CompletionLog[i]
		assert.Equal(t, want.StepName, e.StepName)
		assert.Equal(t, want.Phase, e.Phase)
		assert.Equal(t, want.Passed, e.Passed)
		assert.InDelta(t, want.Quality, e.Quality, 1e-12)
		assert.Equal(t, want.Elapsed, e.Elapsed)
		assert.True(t, want.CompletedAt.Equal(e.CompletedAt))
	}

	var status string
	var ended *int64
	require.NoError(t, db.QueryRow("SELECT status, ended_unix_ms FROM protocol_sessions WHERE session_id = ?", s.ID).Scan(&status, &ended))
	assert.Equal(t, string(protocol.StatusCompleted), status)
	require.NotNil(t, ended)
	assert.Equal(t, s.EndTime.UnixMilli(), *ended)

	st, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{ProtocolSessions: 1, ProtocolSteps: len(s.CompletionLog)}, st)
}

func TestRecordProtocolSession_Errors(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	assert.Error(t, db.RecordProtocolSession(ctx, nil))
	assert.Error(t, db.RecordProtocolSession(ctx, &protocol.Session{}))

	_, err := db.ProtocolSteps(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestAttachAdminRoutes_AllEndpoints checks the debug routes are registered;
// they may answer 403 to non-local callers but never 404.
func TestAttachAdminRoutes_AllEndpoints(t *testing.T) {
	db := newTestDB(t)

	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	for _, endpoint := range []string{"/debug/journal-stats", "/debug/backup", "/debug/tailsql/"} {
		t.Run(endpoint, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, endpoint, nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			if w.Code == http.StatusNotFound {
				t.Errorf("Endpoint %s should be registered, got 404", endpoint)
			}
		})
	}
}

func TestServeStats(t *testing.T) {
	db := newTestDB(t)
	_, err := db.RecordRun(context.Background(), AnalysisRun{Method: "chrom", Grade: "good"})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	db.serveStats(w, httptest.NewRequest(http.MethodGet, "/debug/journal-stats", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"analysis_runs":1,"protocol_sessions":0,"protocol_steps":0}`, w.Body.String())
}

func TestServeBackup(t *testing.T) {
	db := newTestDB(t)

	w := httptest.NewRecorder()
	db.serveBackup(w, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".db.gz")
	assert.NotZero(t, w.Body.Len())
}
