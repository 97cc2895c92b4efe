package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/vitals.report/internal/measure"
	"github.com/banshee-data/vitals.report/internal/protocol"
)

// ErrNotFound is returned when a run or session id has no row.
var ErrNotFound = errors.New("not found")

// AnalysisRun is one journaled analysis.
type AnalysisRun struct {
	RunID          string
	CreatedAt      time.Time
	Source         string // file or tool that produced the trace
	Method         string
	SampleRateHz   float64
	Samples        int
	BPM            float64
	RMSSDms        float64
	SDNNms         float64
	DominantHz     float64
	Confidence     float64
	Prominence     float64
	Grade          string
	OverallQuality float64
	SignalValid    bool
	Reasons        []string
}

// RunFromAnalysis flattens a measurement analysis into a journal row.
func RunFromAnalysis(source string, a measure.Analysis) AnalysisRun {
	return AnalysisRun{
		Source:         source,
		Method:         string(a.Method),
		SampleRateHz:   a.SampleRateHz,
		Samples:        a.Samples,
		BPM:            a.Estimate.BPM,
		RMSSDms:        a.HRV.RMSSDms,
		SDNNms:         a.HRV.SDNNms,
		DominantHz:     a.Estimate.DominantFrequencyHz,
		Confidence:     a.Estimate.Confidence,
		Prominence:     a.Estimate.Prominence,
		Grade:          string(a.Report.Grade),
		OverallQuality: a.Quality,
		SignalValid:    a.Signal.Valid,
		Reasons:        a.Report.Reasons,
	}
}

// RecordRun inserts run, assigning a RunID and CreatedAt when unset, and
// returns the stored id.
func (db *DB) RecordRun(ctx context.Context, run AnalysisRun) (string, error) {
	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	reasons := run.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	reasonsJSON, err := json.Marshal(reasons)
	if err != nil {
		return "", fmt.Errorf("marshal reasons: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO analysis_runs (
			run_id, created_unix_ms, source, method, sample_rate_hz, samples,
			bpm, hrv_rmssd_ms, hrv_sdnn_ms, dominant_hz, confidence, prominence,
			grade, overall_quality, signal_valid, reasons_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.CreatedAt.UnixMilli(), run.Source, run.Method, run.SampleRateHz, run.Samples,
		run.BPM, run.RMSSDms, run.SDNNms, run.DominantHz, run.Confidence, run.Prominence,
		run.Grade, run.OverallQuality, run.SignalValid, string(reasonsJSON),
	)
	if err != nil {
		return "", fmt.Errorf("insert analysis run: %w", err)
	}
	return run.RunID, nil
}

const runColumns = `run_id, created_unix_ms, source, method, sample_rate_hz, samples,
	bpm, hrv_rmssd_ms, hrv_sdnn_ms, dominant_hz, confidence, prominence,
	grade, overall_quality, signal_valid, reasons_json`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (AnalysisRun, error) {
	var (
		run         AnalysisRun
		createdMs   int64
		reasonsJSON string
	)
	err := row.Scan(
		&run.RunID, &createdMs, &run.Source, &run.Method, &run.SampleRateHz, &run.Samples,
		&run.BPM, &run.RMSSDms, &run.SDNNms, &run.DominantHz, &run.Confidence, &run.Prominence,
		&run.Grade, &run.OverallQuality, &run.SignalValid, &reasonsJSON,
	)
	if err != nil {
		return AnalysisRun{}, err
	}
	run.CreatedAt = time.UnixMilli(createdMs)
	if err := json.Unmarshal([]byte(reasonsJSON), &run.Reasons); err != nil {
		return AnalysisRun{}, fmt.Errorf("decode reasons of run %s: %w", run.RunID, err)
	}
	return run, nil
}

// Run returns the run with the given id.
func (db *DB) Run(ctx context.Context, id string) (AnalysisRun, error) {
	row := db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM analysis_runs WHERE run_id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return AnalysisRun{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run, err
}

// Runs returns the most recent runs, newest first. limit <= 0 returns all.
func (db *DB) Runs(ctx context.Context, limit int) ([]AnalysisRun, error) {
	q := `SELECT ` + runColumns + ` FROM analysis_runs ORDER BY created_unix_ms DESC, run_id`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []AnalysisRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RecordProtocolSession upserts s and replaces its step log.
func (db *DB) RecordProtocolSession(ctx context.Context, s *protocol.Session) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("protocol session has no id")
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var ended sql.NullInt64
	if !s.EndTime.IsZero() {
		ended = sql.NullInt64{Int64: s.EndTime.UnixMilli(), Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO protocol_sessions (session_id, protocol_name, status, started_unix_ms, ended_unix_ms, failure_reason)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			protocol_name = excluded.protocol_name,
			status = excluded.status,
			started_unix_ms = excluded.started_unix_ms,
			ended_unix_ms = excluded.ended_unix_ms,
			failure_reason = excluded.failure_reason`,
		s.ID, s.ProtocolName, string(s.Status), s.StartTime.UnixMilli(), ended, s.FailureReason,
	)
	if err != nil {
		return fmt.Errorf("upsert protocol session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM protocol_steps WHERE session_id = ?`, s.ID); err != nil {
		return fmt.Errorf("clear protocol steps: %w", err)
	}
	for _, e := range s.CompletionLog {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO protocol_steps (session_id, step_index, step_name, phase, required, passed, quality, elapsed_ms, completed_unix_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.ID, e.StepIndex, e.StepName, string(e.Phase), e.Required, e.Passed, e.Quality,
			e.Elapsed.Milliseconds(), e.CompletedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert protocol step %d: %w", e.StepIndex, err)
		}
	}
	return tx.Commit()
}

// ProtocolSteps returns the journaled step log of a session in step order.
func (db *DB) ProtocolSteps(ctx context.Context, sessionID string) ([]protocol.CompletionEntry, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM protocol_sessions WHERE session_id = ?`, sessionID).Scan(&n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("protocol session %s: %w", sessionID, ErrNotFound)
	}
	rows, err := db.QueryContext(ctx, `
		SELECT step_index, step_name, phase, required, passed, quality, elapsed_ms, completed_unix_ms
		FROM protocol_steps WHERE session_id = ? ORDER BY step_index`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query protocol steps: %w", err)
	}
	defer rows.Close()

	var steps []protocol.CompletionEntry
	for rows.Next() {
		var (
			e                     protocol.CompletionEntry
			phase                 string
			elapsedMs, completeMs int64
		)
		if err := rows.Scan(&e.StepIndex, &e.StepName, &phase, &e.Required, &e.Passed, &e.Quality, &elapsedMs, &completeMs); err != nil {
			return nil, err
		}
		e.Phase = protocol.Phase(phase)
		e.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		e.CompletedAt = time.UnixMilli(completeMs)
		steps = append(steps, e)
	}
	return steps, rows.Err()
}
