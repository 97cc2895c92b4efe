package protocol

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/vitals.report/internal/monitoring"
	"github.com/banshee-data/vitals.report/internal/quality"
	"github.com/banshee-data/vitals.report/internal/timeutil"
	"github.com/banshee-data/vitals.report/internal/vitalerr"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// QualityRecord is the quality a step was completed with.
type QualityRecord struct {
	StepIndex int           `json:"step_index"`
	StepName  string        `json:"step_name"`
	Quality   float64       `json:"quality"`
	Grade     quality.Grade `json:"grade"`
	Passed    bool          `json:"passed"`
	At        time.Time     `json:"at"`
}

// CompletionEntry logs one completed step.
type CompletionEntry struct {
	StepIndex   int           `json:"step_index"`
	StepName    string        `json:"step_name"`
	Phase       Phase         `json:"phase"`
	Required    bool          `json:"required"`
	Passed      bool          `json:"passed"`
	Quality     float64       `json:"quality"`
	Elapsed     time.Duration `json:"elapsed"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Session is the mutable record of one protocol run. A Machine owns its
// session; callers only ever see copies.
type Session struct {
	ID               string            `json:"id"`
	ProtocolName     string            `json:"protocol_name"`
	CurrentStepIndex int               `json:"current_step_index"`
	Status           Status            `json:"status"`
	StartTime        time.Time         `json:"start_time"`
	StepStartTime    time.Time         `json:"step_start_time"`
	EndTime          time.Time         `json:"end_time,omitempty"`
	QualityHistory   []QualityRecord   `json:"quality_history"`
	CompletionLog    []CompletionEntry `json:"completion_log"`
	FailureReason    string            `json:"failure_reason,omitempty"`

	pausedAt       time.Time
	stepPaused     time.Duration
	sessionPaused  time.Duration
	protocolLength int
}

// StepInfo describes the current step of an in-progress session.
type StepInfo struct {
	SessionID       string        `json:"session_id"`
	ProtocolName    string        `json:"protocol_name"`
	StepIndex       int           `json:"step_index"`
	TotalSteps      int           `json:"total_steps"`
	Step            Step          `json:"step"`
	Elapsed         time.Duration `json:"elapsed"`
	Remaining       time.Duration `json:"remaining"`
	Progress        float64       `json:"progress"`         // percent of this step's duration
	OverallProgress float64       `json:"overall_progress"` // percent of steps completed
}

// CompletionSummary is returned when the final step is advanced.
type CompletionSummary struct {
	SessionID      string                `json:"session_id"`
	ProtocolName   string                `json:"protocol_name"`
	TotalSteps     int                   `json:"total_steps"`
	OverallQuality float64               `json:"overall_quality"`
	PassRate       float64               `json:"pass_rate"`
	RequiredPassed bool                  `json:"required_passed"`
	Distribution   map[quality.Grade]int `json:"distribution"`
	Duration       time.Duration         `json:"duration"`
}

// AdvanceResult is the outcome of AdvanceStep: either the next step or,
// after the last step, the completion summary.
type AdvanceResult struct {
	Passed  bool
	Next    *StepInfo
	Summary *CompletionSummary
}

// SessionStatus is a point-in-time view of the machine.
type SessionStatus struct {
	Status        Status        `json:"status"`
	SessionID     string        `json:"session_id,omitempty"`
	ProtocolName  string        `json:"protocol_name,omitempty"`
	StepIndex     int           `json:"step_index"`
	TotalSteps    int           `json:"total_steps"`
	StepsDone     int           `json:"steps_done"`
	Elapsed       time.Duration `json:"elapsed"`
	Progress      float64       `json:"progress"`
	FailureReason string        `json:"failure_reason,omitempty"`
}

// Options configures a Machine.
type Options struct {
	Registry *Registry
	Clock    timeutil.Clock
	Logf     monitoring.Logger
	// NewID generates session IDs; defaults to random UUIDs.
	NewID func() string
}

// Machine runs at most one session at a time. Its methods are safe for
// concurrent use, though a session is expected to be driven by one client.
type Machine struct {
	mu       sync.Mutex
	registry *Registry
	clock    timeutil.Clock
	logf     monitoring.Logger
	newID    func() string

	protocol Protocol
	session  *Session
}

// NewMachine returns a machine in the NotStarted state.
func NewMachine(opts Options) *Machine {
	if opts.Registry == nil {
		opts.Registry = DefaultRegistry
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Machine{registry: opts.Registry, clock: opts.Clock, logf: opts.Logf, newID: opts.NewID}
}

func (m *Machine) statusLocked() Status {
	if m.session == nil {
		return StatusNotStarted
	}
	return m.session.Status
}

// StartProtocol begins the named protocol at step 0. It fails with
// vitalerr.ErrUnknownProtocol for unregistered names and with
// vitalerr.ErrInvalidStateTransition while another session is active.
func (m *Machine) StartProtocol(name string) (StepInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.registry.Lookup(name)
	if !ok || len(p.Steps) == 0 {
		return StepInfo{}, vitalerr.UnknownProtocol(name)
	}
	if st := m.statusLocked(); st == StatusInProgress || st == StatusPaused {
		return StepInfo{}, vitalerr.InvalidStateTransition("start protocol", string(st))
	}

	now := m.clock.Now()
	m.protocol = p
	m.session = &Session{
		ID:             m.newID(),
		ProtocolName:   p.Name,
		Status:         StatusInProgress,
		StartTime:      now,
		StepStartTime:  now,
		protocolLength: len(p.Steps),
	}
	m.logf.Logf("protocol: session %s started %s (%d steps)", m.session.ID, p.Name, len(p.Steps))
	return m.stepInfoLocked(now), nil
}

// CurrentStepInfo returns the current step, or nil unless a session is in
// progress. Elapsed time excludes time spent paused.
func (m *Machine) CurrentStepInfo() *StepInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusLocked() != StatusInProgress {
		return nil
	}
	info := m.stepInfoLocked(m.clock.Now())
	return &info
}

func (m *Machine) stepElapsedLocked(now time.Time) time.Duration {
	s := m.session
	paused := s.stepPaused
	if s.Status == StatusPaused {
		paused += now.Sub(s.pausedAt)
	}
	elapsed := now.Sub(s.StepStartTime) - paused
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

func (m *Machine) stepInfoLocked(now time.Time) StepInfo {
	s := m.session
	step := m.protocol.Steps[s.CurrentStepIndex]
	elapsed := m.stepElapsedLocked(now)
	remaining := step.Duration - elapsed
	if remaining < 0 {
		remaining = 0
	}
	progress := 100.0
	if step.Duration > 0 {
		progress = min(100, 100*float64(elapsed)/float64(step.Duration))
	}
	return StepInfo{
		SessionID:       s.ID,
		ProtocolName:    s.ProtocolName,
		StepIndex:       s.CurrentStepIndex,
		TotalSteps:      len(m.protocol.Steps),
		Step:            step,
		Elapsed:         elapsed,
		Remaining:       remaining,
		Progress:        progress,
		OverallProgress: 100 * float64(s.CurrentStepIndex) / float64(len(m.protocol.Steps)),
	}
}

// AdvanceStep records score against the current step (passed when score is
// at least the step's threshold) and moves to the next step. Advancing past
// the final step completes the session and returns its summary. It fails
// with vitalerr.ErrNoActiveProtocol unless a session is in progress.
func (m *Machine) AdvanceStep(score float64) (AdvanceResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st := m.statusLocked(); st != StatusInProgress {
		return AdvanceResult{}, vitalerr.WithMetadata(vitalerr.CodeNoActiveProtocol,
			"cannot advance step from status "+string(st),
			map[string]string{"operation": "advance step", "status": string(st)})
	}
	score = clampScore(score)
	now := m.clock.Now()
	s := m.session
	step := m.protocol.Steps[s.CurrentStepIndex]
	passed := score >= step.QualityThreshold

	s.QualityHistory = append(s.QualityHistory, QualityRecord{
		StepIndex: s.CurrentStepIndex,
		StepName:  step.Name,
		Quality:   score,
		Grade:     quality.GradeFor(score),
		Passed:    passed,
		At:        now,
	})
	s.CompletionLog = append(s.CompletionLog, CompletionEntry{
		StepIndex:   s.CurrentStepIndex,
		StepName:    step.Name,
		Phase:       step.Phase,
		Required:    step.Required,
		Passed:      passed,
		Quality:     score,
		Elapsed:     m.stepElapsedLocked(now),
		CompletedAt: now,
	})
	m.logf.Logf("protocol: session %s step %d %q quality=%.2f passed=%v",
		s.ID, s.CurrentStepIndex, step.Name, score, passed)

	s.CurrentStepIndex++
	s.sessionPaused += s.stepPaused
	s.stepPaused = 0
	s.StepStartTime = now

	if s.CurrentStepIndex >= len(m.protocol.Steps) {
		s.Status = StatusCompleted
		s.EndTime = now
		sum := m.summaryLocked()
		m.logf.Logf("protocol: session %s completed pass_rate=%.2f quality=%.2f", s.ID, sum.PassRate, sum.OverallQuality)
		return AdvanceResult{Passed: passed, Summary: &sum}, nil
	}
	next := m.stepInfoLocked(now)
	return AdvanceResult{Passed: passed, Next: &next}, nil
}

func (m *Machine) summaryLocked() CompletionSummary {
	s := m.session
	sum := CompletionSummary{
		SessionID:      s.ID,
		ProtocolName:   s.ProtocolName,
		TotalSteps:     len(m.protocol.Steps),
		RequiredPassed: true,
		Distribution:   make(map[quality.Grade]int, len(quality.Grades)),
		Duration:       s.EndTime.Sub(s.StartTime) - s.sessionPaused,
	}
	for _, g := range quality.Grades {
		sum.Distribution[g] = 0
	}
	var total float64
	passed := 0
	for _, r := range s.QualityHistory {
		total += r.Quality
		sum.Distribution[r.Grade]++
		if r.Passed {
			passed++
		}
	}
	for _, e := range s.CompletionLog {
		if e.Required && !e.Passed {
			sum.RequiredPassed = false
		}
	}
	if n := len(s.QualityHistory); n > 0 {
		sum.OverallQuality = total / float64(n)
		sum.PassRate = float64(passed) / float64(n)
	}
	return sum
}

// PauseProtocol suspends an in-progress session.
func (m *Machine) PauseProtocol() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.statusLocked(); st != StatusInProgress {
		return vitalerr.InvalidStateTransition("pause", string(st))
	}
	m.session.Status = StatusPaused
	m.session.pausedAt = m.clock.Now()
	m.logf.Logf("protocol: session %s paused", m.session.ID)
	return nil
}

// ResumeProtocol continues a paused session.
func (m *Machine) ResumeProtocol() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.statusLocked(); st != StatusPaused {
		return vitalerr.InvalidStateTransition("resume", string(st))
	}
	s := m.session
	s.stepPaused += m.clock.Now().Sub(s.pausedAt)
	s.pausedAt = time.Time{}
	s.Status = StatusInProgress
	m.logf.Logf("protocol: session %s resumed", s.ID)
	return nil
}

// ResetProtocol discards the session and returns to NotStarted.
func (m *Machine) ResetProtocol() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		m.logf.Logf("protocol: session %s reset", m.session.ID)
	}
	m.session = nil
	m.protocol = Protocol{}
}

// Fail moves an active session to the terminal Failed state.
func (m *Machine) Fail(cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.statusLocked()
	if st != StatusInProgress && st != StatusPaused {
		return vitalerr.InvalidStateTransition("fail", string(st))
	}
	s := m.session
	now := m.clock.Now()
	if st == StatusPaused {
		s.stepPaused += now.Sub(s.pausedAt)
	}
	s.Status = StatusFailed
	s.EndTime = now
	if cause != nil {
		s.FailureReason = cause.Error()
	}
	m.logf.Logf("protocol: session %s failed: %s", s.ID, s.FailureReason)
	return nil
}

// Status returns a snapshot of the machine state.
func (m *Machine) Status() SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return SessionStatus{Status: StatusNotStarted}
	}
	s := m.session
	now := m.clock.Now()
	end := now
	if !s.EndTime.IsZero() {
		end = s.EndTime
	}
	paused := s.sessionPaused + s.stepPaused
	if s.Status == StatusPaused {
		paused += now.Sub(s.pausedAt)
	}
	total := len(m.protocol.Steps)
	return SessionStatus{
		Status:        s.Status,
		SessionID:     s.ID,
		ProtocolName:  s.ProtocolName,
		StepIndex:     s.CurrentStepIndex,
		TotalSteps:    total,
		StepsDone:     len(s.CompletionLog),
		Elapsed:       end.Sub(s.StartTime) - paused,
		Progress:      100 * float64(len(s.CompletionLog)) / float64(total),
		FailureReason: s.FailureReason,
	}
}

// Session returns a copy of the current session, or nil when none exists.
func (m *Machine) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	cp := *m.session
	cp.QualityHistory = append([]QualityRecord(nil), m.session.QualityHistory...)
	cp.CompletionLog = append([]CompletionEntry(nil), m.session.CompletionLog...)
	return &cp
}

// History returns a copy of the per-step quality records of the current
// session in the order the steps were advanced.
func (m *Machine) History() []QualityRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	return append([]QualityRecord(nil), m.session.QualityHistory...)
}

// Protocol returns the protocol of the current session.
func (m *Machine) Protocol() (Protocol, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.protocol, m.session != nil
}

func clampScore(x float64) float64 {
	switch {
	case x != x: // NaN
		return 0
	case x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}
