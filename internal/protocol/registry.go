// Package protocol sequences a measurement through named, timed steps and
// records the quality each step was completed with. The machine enforces
// legal ordering only; deciding when a step is good enough to advance is
// the caller's job.
package protocol

import (
	"sort"
	"time"
)

// Phase is the kind of activity a step asks of the subject.
type Phase string

const (
	PhaseCalibration Phase = "calibration"
	PhaseBaseline    Phase = "baseline"
	PhaseBreathing   Phase = "controlled_breathing"
	PhaseBreathHold  Phase = "breath_hold"
	PhaseRecovery    Phase = "recovery"
	PhaseMeasurement Phase = "measurement"
	PhaseValidation  Phase = "validation"
)

// Step is one timed, quality-gated stage of a protocol. Steps are static
// and shared; never modify one obtained from the registry.
type Step struct {
	Phase            Phase         `json:"phase"`
	Name             string        `json:"name"`
	Duration         time.Duration `json:"duration"`
	Required         bool          `json:"required"`
	QualityThreshold float64       `json:"quality_threshold"`
	Instructions     []string      `json:"instructions"`
	SuccessCriteria  []string      `json:"success_criteria"`
}

// Protocol is a named, ordered list of steps.
type Protocol struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Steps       []Step `json:"steps"`
}

// TotalDuration sums the configured step durations.
func (p Protocol) TotalDuration() time.Duration {
	var d time.Duration
	for _, s := range p.Steps {
		d += s.Duration
	}
	return d
}

// Registry maps protocol names to their definitions. It is built once and
// only read afterwards, so it is safe to share between sessions.
type Registry struct {
	protocols map[string]Protocol
}

// NewRegistry builds a registry from the given protocols. Later entries
// replace earlier ones with the same name.
func NewRegistry(protocols ...Protocol) *Registry {
	r := &Registry{protocols: make(map[string]Protocol, len(protocols))}
	for _, p := range protocols {
		r.protocols[p.Name] = p
	}
	return r
}

// Lookup returns the named protocol.
func (r *Registry) Lookup(name string) (Protocol, bool) {
	p, ok := r.protocols[name]
	return p, ok
}

// Names returns every registered protocol name in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.protocols))
	for n := range r.protocols {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var (
	calibrationStep = Step{
		Phase:            PhaseCalibration,
		Name:             "Face positioning",
		Duration:         10 * time.Second,
		Required:         true,
		QualityThreshold: 0.6,
		Instructions: []string{
			"Sit comfortably facing the camera",
			"Keep your face centered and well lit",
		},
		SuccessCriteria: []string{"Single face detected", "Lighting within range"},
	}
	baselineStep = Step{
		Phase:            PhaseBaseline,
		Name:             "Resting baseline",
		Duration:         30 * time.Second,
		Required:         true,
		QualityThreshold: 0.7,
		Instructions: []string{
			"Relax and breathe normally",
			"Keep your head still",
		},
		SuccessCriteria: []string{"Stable pulse signal", "Low motion"},
	}
	breathingStep = Step{
		Phase:            PhaseBreathing,
		Name:             "Paced breathing",
		Duration:         60 * time.Second,
		Required:         true,
		QualityThreshold: 0.7,
		Instructions: []string{
			"Breathe in for four seconds",
			"Breathe out for six seconds",
		},
		SuccessCriteria: []string{"Pulse signal maintained through breathing"},
	}
	recoveryStep = Step{
		Phase:            PhaseRecovery,
		Name:             "Recovery",
		Duration:         30 * time.Second,
		Required:         false,
		QualityThreshold: 0.7,
		Instructions:     []string{"Return to normal breathing"},
		SuccessCriteria:  []string{"Heart rate returns towards baseline"},
	}
	validationStep = Step{
		Phase:            PhaseValidation,
		Name:             "Validation",
		Duration:         10 * time.Second,
		Required:         true,
		QualityThreshold: 0.6,
		Instructions:     []string{"Stay still while the result is confirmed"},
		SuccessCriteria:  []string{"Estimate consistent with earlier steps"},
	}
)

func withOverrides(s Step, d time.Duration, threshold float64, required bool) Step {
	s.Duration = d
	s.QualityThreshold = threshold
	s.Required = required
	return s
}

// DefaultProtocols are the built-in protocols.
var DefaultProtocols = []Protocol{
	{
		Name:        "quick_check",
		Description: "Short spot check of resting heart rate",
		Steps: []Step{
			calibrationStep,
			{
				Phase:            PhaseMeasurement,
				Name:             "Heart rate measurement",
				Duration:         30 * time.Second,
				Required:         true,
				QualityThreshold: 0.7,
				Instructions:     []string{"Keep still and breathe normally"},
				SuccessCriteria:  []string{"Confident heart-rate estimate"},
			},
			validationStep,
		},
	},
	{
		Name:        "standard",
		Description: "Resting heart rate and variability with paced breathing",
		Steps: []Step{
			withOverrides(calibrationStep, 15*time.Second, 0.6, true),
			baselineStep,
			breathingStep,
			recoveryStep,
			withOverrides(validationStep, 15*time.Second, 0.6, true),
		},
	},
	{
		Name:        "comprehensive",
		Description: "Extended assessment including breath hold and recovery",
		Steps: []Step{
			withOverrides(calibrationStep, 20*time.Second, 0.7, true),
			withOverrides(baselineStep, 60*time.Second, 0.8, true),
			withOverrides(breathingStep, 60*time.Second, 0.8, true),
			{
				Phase:            PhaseBreathHold,
				Name:             "Breath hold",
				Duration:         30 * time.Second,
				Required:         false,
				QualityThreshold: 0.7,
				Instructions:     []string{"Take a normal breath and hold it", "Stop early if uncomfortable"},
				SuccessCriteria:  []string{"Pulse signal maintained during hold"},
			},
			withOverrides(recoveryStep, 60*time.Second, 0.75, true),
			{
				Phase:            PhaseMeasurement,
				Name:             "Extended measurement",
				Duration:         120 * time.Second,
				Required:         true,
				QualityThreshold: 0.8,
				Instructions:     []string{"Keep still and breathe normally"},
				SuccessCriteria:  []string{"Confident heart-rate and HRV estimate"},
			},
			withOverrides(validationStep, 30*time.Second, 0.7, true),
		},
	},
}

// DefaultRegistry holds DefaultProtocols.
var DefaultRegistry = NewRegistry(DefaultProtocols...)
