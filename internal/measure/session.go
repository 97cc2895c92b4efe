// Package measure is the measurement loop that drives the rPPG core for one
// client: it tracks the skin region in each frame, buffers the colour trace,
// runs the estimators at analysis boundaries and advances the protocol when
// a step has collected enough evidence.
package measure

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/banshee-data/vitals.report/internal/config"
	"github.com/banshee-data/vitals.report/internal/estimate"
	"github.com/banshee-data/vitals.report/internal/frame"
	"github.com/banshee-data/vitals.report/internal/monitoring"
	"github.com/banshee-data/vitals.report/internal/protocol"
	"github.com/banshee-data/vitals.report/internal/quality"
	"github.com/banshee-data/vitals.report/internal/region"
	"github.com/banshee-data/vitals.report/internal/separation"
	"github.com/banshee-data/vitals.report/internal/timeutil"
	"github.com/banshee-data/vitals.report/internal/trace"
	"github.com/banshee-data/vitals.report/internal/vitalerr"
)

const tracerName = "github.com/banshee-data/vitals.report/internal/measure"

// Options overrides the collaborators a Session builds from its config.
// Zero fields are derived from the config.
type Options struct {
	Tracker    *region.Tracker
	Validator  *quality.Validator
	Selector   *separation.Selector
	Machine    *protocol.Machine
	Classifier *vitalerr.Classifier
	Clock      timeutil.Clock
	Tracer     oteltrace.Tracer
	Logf       monitoring.Logger
}

// FrameResult is what ProcessFrame learned from one frame.
type FrameResult struct {
	Seq         uint64
	Skipped     bool // session paused, frame not buffered
	Region      region.Result
	Face        quality.Score
	Environment *quality.Score // set on frames where lighting was re-checked
	Samples     int            // trace length after this frame
}

// Analysis is the outcome of one analysis boundary.
type Analysis struct {
	Method       separation.Method
	SampleRateHz float64
	Samples      int
	Estimate     estimate.VitalEstimate
	HRV          estimate.HRV
	Signal       quality.Score
	Report       quality.Report
	// Quality is the step score: the mean of the quality report's overall
	// confidence and the spectral confidence of the estimate.
	Quality float64
	Pulse   []float64
}

// AnalysisResult is delivered by AnalyzeAsync.
type AnalysisResult struct {
	Analysis Analysis
	Err      error
}

// Session owns one colour trace and one protocol machine. It is not safe
// for concurrent use; only AnalyzeAsync hands work to another goroutine.
type Session struct {
	cfg        *config.VitalsConfig
	method     separation.Method
	fs         float64
	estOpts    estimate.Options
	tracker    *region.Tracker
	validator  *quality.Validator
	selector   *separation.Selector
	machine    *protocol.Machine
	classifier *vitalerr.Classifier
	clock      timeutil.Clock
	tracer     oteltrace.Tracer
	logf       monitoring.Logger

	trace    *trace.ColorTrace
	frames   int
	missed   int // frames with no detected region
	lastFace *quality.Score
	lastEnv  *quality.Score
	last     *Analysis

	// evidence gathered during the current protocol step
	stepFace []float64
	stepEnv  []float64
}

// NewSession validates cfg and wires the session. A nil cfg uses the
// built-in defaults. It fails when the configured separation method is
// unknown or its decomposition backend is unavailable.
func NewSession(cfg *config.VitalsConfig, opts Options) (*Session, error) {
	if cfg == nil {
		cfg = config.DefaultVitalsConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, vitalerr.Wrap(vitalerr.CodeInvalidConfig, "invalid vitals config", err)
	}
	method, err := separation.ParseMethod(cfg.GetSeparationMethod())
	if err != nil {
		return nil, err
	}

	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Tracker == nil {
		opts.Tracker = region.NewTrackerFromConfig(cfg, opts.Logf)
	}
	if opts.Validator == nil {
		opts.Validator = quality.NewValidator(quality.OptionsFromConfig(cfg))
	}
	if opts.Selector == nil {
		opts.Selector = separation.NewSelectorFromConfig(cfg)
	}
	if _, err := opts.Selector.Select(method); err != nil {
		return nil, err
	}
	if opts.Machine == nil {
		opts.Machine = protocol.NewMachine(protocol.Options{Clock: opts.Clock, Logf: opts.Logf})
	}
	if opts.Classifier == nil {
		opts.Classifier = vitalerr.NewClassifier(cfg.GetErrorHistoryLimit(), opts.Logf)
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}

	fs := cfg.GetSampleRateHz()
	return &Session{
		cfg:        cfg,
		method:     method,
		fs:         fs,
		estOpts:    estimate.OptionsFromConfig(cfg),
		tracker:    opts.Tracker,
		validator:  opts.Validator,
		selector:   opts.Selector,
		machine:    opts.Machine,
		classifier: opts.Classifier,
		clock:      opts.Clock,
		tracer:     opts.Tracer,
		logf:       opts.Logf,
		trace:      trace.New(int(fs * cfg.GetAnalysisWindowSeconds())),
	}, nil
}

// Start clears the trace and starts the configured protocol.
func (s *Session) Start() (protocol.StepInfo, error) {
	info, err := s.machine.StartProtocol(s.cfg.GetProtocol())
	if err != nil {
		return protocol.StepInfo{}, s.handle(err)
	}
	s.trace = trace.New(int(s.fs * s.cfg.GetAnalysisWindowSeconds()))
	s.frames, s.missed = 0, 0
	s.last, s.lastFace, s.lastEnv = nil, nil, nil
	s.resetStep()
	return info, nil
}

// ProcessFrame tracks the region in f, appends its mean colour to the trace
// and scores the face position. Lighting is re-checked on the first frame and
// every EnvironmentCheckEveryN frames after it. A missing face is not an
// error: the centre crop is sampled and the face score reports it.
func (s *Session) ProcessFrame(ctx context.Context, f *frame.Frame) (FrameResult, error) {
	_, span := s.tracer.Start(ctx, "measure.ProcessFrame")
	defer span.End()

	if f.Empty() {
		err := vitalerr.New(vitalerr.CodeInvalidTraceShape, "empty frame")
		recordError(span, err)
		return FrameResult{}, s.handle(err)
	}
	span.SetAttributes(attribute.Int64("frame.seq", int64(f.Seq)))
	if s.machine.Status().Status == protocol.StatusPaused {
		return FrameResult{Seq: f.Seq, Skipped: true, Samples: s.trace.Len()}, nil
	}

	r, g, b, res := s.tracker.Sample(f)
	ts := f.Timestamp
	if ts.IsZero() {
		ts = s.clock.Now()
	}
	s.trace.Append(trace.Sample{R: r, G: g, B: b, T: ts})

	if !res.Detected {
		s.missed++
	}
	face := s.validator.ValidateFace(f.Bounds(), res.Candidates)
	s.lastFace = &face
	s.stepFace = append(s.stepFace, face.Confidence)

	out := FrameResult{Seq: f.Seq, Region: res, Face: face}
	if s.frames%s.cfg.GetEnvironmentCheckEveryN() == 0 {
		env := s.validator.ValidateEnvironment(f)
		s.lastEnv = &env
		s.stepEnv = append(s.stepEnv, env.Confidence)
		out.Environment = &env
	}
	s.frames++
	out.Samples = s.trace.Len()

	span.SetAttributes(
		attribute.Bool("region.detected", res.Detected),
		attribute.String("region.backend", res.Backend),
		attribute.Float64("face.confidence", face.Confidence),
	)
	return out, nil
}

// AppendTraceSample appends an externally sampled colour triple, for callers
// that extract the region themselves.
func (s *Session) AppendTraceSample(sample trace.Sample) {
	if sample.T.IsZero() {
		sample.T = s.clock.Now()
	}
	s.trace.Append(sample)
}

// Analyze runs separation, estimation and signal validation over the
// trailing analysis window. Errors are classified; high and critical ones
// fail the active protocol.
func (s *Session) Analyze(ctx context.Context) (Analysis, error) {
	a, err := s.analyze(ctx, s.window(), s.contextScores())
	if err != nil {
		return Analysis{}, s.handle(err)
	}
	s.last = &a
	return a, nil
}

// AnalyzeAsync snapshots the trailing window now and analyses it on a new
// goroutine. The channel receives exactly one result and is then closed.
// The session must not be used concurrently except through this call.
func (s *Session) AnalyzeAsync(ctx context.Context) <-chan AnalysisResult {
	snap, scores := s.window(), s.contextScores()
	out := make(chan AnalysisResult, 1)
	go func() {
		defer close(out)
		a, err := s.analyze(ctx, snap, scores)
		if err != nil {
			err = s.handle(err)
		}
		out <- AnalysisResult{Analysis: a, Err: err}
	}()
	return out
}

func (s *Session) window() *trace.ColorTrace {
	n := int(s.fs * s.cfg.GetAnalysisWindowSeconds())
	return s.trace.Window(n)
}

// contextScores copies the latest face and lighting scores for the report.
func (s *Session) contextScores() []quality.Score {
	var scores []quality.Score
	if s.lastFace != nil {
		scores = append(scores, *s.lastFace)
	}
	if s.lastEnv != nil {
		scores = append(scores, *s.lastEnv)
	}
	return scores
}

// analyze touches only its arguments and goroutine-safe collaborators.
func (s *Session) analyze(ctx context.Context, ct *trace.ColorTrace, extra []quality.Score) (Analysis, error) {
	ctx, span := s.tracer.Start(ctx, "measure.Analyze",
		oteltrace.WithAttributes(
			attribute.String("separation.method", string(s.method)),
			attribute.Int("trace.samples", ct.Len()),
		))
	defer span.End()

	if err := ctx.Err(); err != nil {
		recordError(span, err)
		return Analysis{}, err
	}
	if ct.Len() < estimate.MinSignalSamples {
		err := vitalerr.InsufficientSamples(ct.Len(), estimate.MinSignalSamples)
		recordError(span, err)
		return Analysis{}, err
	}

	pulse, err := s.selector.Extract(s.method, ct.Channels())
	if err != nil {
		recordError(span, err)
		return Analysis{}, err
	}
	if err := ctx.Err(); err != nil {
		recordError(span, err)
		return Analysis{}, err
	}
	est, hrv, err := estimate.EstimateVitals(pulse, s.fs, s.estOpts)
	if err != nil {
		recordError(span, err)
		return Analysis{}, err
	}

	// Scored on the raw trace; the pulse is already band-limited.
	sig := s.validator.ValidateTrace(ct, s.fs)
	report := quality.GenerateQualityReport(append([]quality.Score{sig}, extra...))

	a := Analysis{
		Method:       s.method,
		SampleRateHz: s.fs,
		Samples:      ct.Len(),
		Estimate:     est,
		HRV:          hrv,
		Signal:       sig,
		Report:       report,
		Quality:      (report.OverallConfidence + est.Confidence) / 2,
		Pulse:        pulse,
	}
	span.SetAttributes(
		attribute.Float64("estimate.bpm", est.BPM),
		attribute.Float64("estimate.confidence", est.Confidence),
		attribute.Float64("estimate.hrv_ms", est.HRVms),
		attribute.String("quality.grade", string(report.Grade)),
	)
	s.logf.Logf("measure: %s over %d samples: %.1f bpm conf=%.2f hrv=%.1fms grade=%s",
		s.method, ct.Len(), est.BPM, est.Confidence, est.HRVms, report.Grade)
	return a, nil
}

// AdvanceIfReady advances the protocol once the current step's duration has
// elapsed and its score reaches StepAdvanceMinQuality. Calibration steps are
// scored on face position and lighting; every other step on a fresh
// analysis. A step whose analysis finds too little signal is scored zero;
// with StepAdvanceMinQuality at 0 it is recorded as failed and the protocol
// moves on, with a positive floor the step is held. The bool reports
// whether the step advanced.
func (s *Session) AdvanceIfReady(ctx context.Context) (protocol.AdvanceResult, bool, error) {
	info := s.machine.CurrentStepInfo()
	if info == nil {
		st := s.machine.Status().Status
		err := vitalerr.WithMetadata(vitalerr.CodeNoActiveProtocol,
			"no step in progress, status "+string(st),
			map[string]string{"status": string(st)})
		return protocol.AdvanceResult{}, false, s.handle(err)
	}
	if info.Remaining > 0 {
		return protocol.AdvanceResult{}, false, nil
	}

	score, err := s.stepScore(ctx, info.Step)
	if err != nil {
		return protocol.AdvanceResult{}, false, err
	}
	if score < s.cfg.GetStepAdvanceMinQuality() {
		s.logf.Logf("measure: step %q held at quality %.2f", info.Step.Name, score)
		return protocol.AdvanceResult{}, false, nil
	}

	res, err := s.machine.AdvanceStep(score)
	if err != nil {
		return protocol.AdvanceResult{}, false, s.handle(err)
	}
	s.resetStep()
	return res, true, nil
}

func (s *Session) stepScore(ctx context.Context, step protocol.Step) (float64, error) {
	if step.Phase == protocol.PhaseCalibration {
		parts := []float64{meanOf(s.stepFace)}
		if len(s.stepEnv) > 0 {
			parts = append(parts, meanOf(s.stepEnv))
		}
		return meanOf(parts), nil
	}

	a, err := s.Analyze(ctx)
	if err == nil {
		return a.Quality, nil
	}
	switch vitalerr.KindOf(err) {
	case vitalerr.KindDataInsufficiency, vitalerr.KindFrequencyRangeEmpty:
		return 0, nil
	}
	return 0, err
}

func (s *Session) resetStep() {
	s.stepFace = s.stepFace[:0]
	s.stepEnv = s.stepEnv[:0]
}

// handle classifies err and fails the protocol when the error is severe.
func (s *Session) handle(err error) error {
	cl := s.classifier.Handle(err)
	if cl.RequiresRestart {
		st := s.machine.Status().Status
		if st == protocol.StatusInProgress || st == protocol.StatusPaused {
			if ferr := s.machine.Fail(err); ferr != nil {
				s.logf.Logf("measure: failing protocol: %v", ferr)
			}
		}
	}
	return err
}

// Pause suspends the protocol; frames are dropped until Resume.
func (s *Session) Pause() error {
	if err := s.machine.PauseProtocol(); err != nil {
		return s.handle(err)
	}
	return nil
}

// Resume continues a paused protocol.
func (s *Session) Resume() error {
	if err := s.machine.ResumeProtocol(); err != nil {
		return s.handle(err)
	}
	return nil
}

// Reset abandons the protocol and clears the trace.
func (s *Session) Reset() {
	s.machine.ResetProtocol()
	s.trace = trace.New(int(s.fs * s.cfg.GetAnalysisWindowSeconds()))
	s.frames = 0
	s.last, s.lastFace, s.lastEnv = nil, nil, nil
	s.resetStep()
}

// Status reports the protocol state.
func (s *Session) Status() protocol.SessionStatus { return s.machine.Status() }

// CurrentStep returns the step in progress, or nil.
func (s *Session) CurrentStep() *protocol.StepInfo { return s.machine.CurrentStepInfo() }

// Trace returns a snapshot of the buffered trace.
func (s *Session) Trace() *trace.ColorTrace { return s.trace.Snapshot() }

// LastAnalysis returns the most recent successful synchronous analysis.
func (s *Session) LastAnalysis() (Analysis, bool) {
	if s.last == nil {
		return Analysis{}, false
	}
	return *s.last, true
}

// Method is the separation method in use.
func (s *Session) Method() separation.Method { return s.method }

// MissedFrames counts processed frames in which no region was detected.
func (s *Session) MissedFrames() int { return s.missed }

// Errors returns statistics over the classified errors.
func (s *Session) Errors() vitalerr.Stats { return s.classifier.Stats() }

// ErrorHistory returns the classified errors, oldest first.
func (s *Session) ErrorHistory() []vitalerr.Record { return s.classifier.History() }

// Protocol returns a copy of the protocol session record, or nil.
func (s *Session) Protocol() *protocol.Session { return s.machine.Session() }

// Close releases the region detector.
func (s *Session) Close() error { return s.tracker.Close() }

// Elapsed is the wall time covered by the buffered trace.
func (s *Session) Elapsed() time.Duration { return s.trace.Duration() }

func recordError(span oteltrace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
