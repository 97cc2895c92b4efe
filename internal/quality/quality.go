// Package quality scores face geometry, scene lighting and the pulse signal
// independently and aggregates the scores into a graded report.
package quality

import (
	"math"

	"github.com/banshee-data/vitals.report/internal/config"
	"github.com/banshee-data/vitals.report/internal/dsp"
	"github.com/banshee-data/vitals.report/internal/monitoring"
)

// Check names the sub-check that produced a Score.
type Check string

const (
	CheckFace        Check = "face"
	CheckEnvironment Check = "environment"
	CheckSignal      Check = "signal"
)

// Score is the outcome of one quality sub-check.
type Score struct {
	Check          Check
	Valid          bool
	Confidence     float64 // [0, 1]
	Reasons        []string
	Recommendation string
	Metrics        map[string]float64
}

// Options holds the thresholds of every sub-check.
type Options struct {
	// Face geometry, as fractions of the frame.
	FaceMinAreaRatio    float64
	FaceMaxAreaRatio    float64
	FaceIdealAreaRatio  float64
	FaceMaxCenterOffset float64 // of the frame's smaller dimension

	// Environment, on the 0-255 gray scale.
	BrightnessMin float64
	BrightnessMax float64
	ContrastMin   float64
	NoiseMax      float64

	// Signal.
	MinDurationSec float64
	MinStrength    float64
	MaxMotion      float64
	LowHz          float64
	HighHz         float64
	Threshold      float64

	Logf monitoring.Logger
}

// DefaultOptions returns the canonical thresholds.
func DefaultOptions() Options {
	return OptionsFromConfig(config.EmptyVitalsConfig())
}

// OptionsFromConfig builds Options from the engine configuration.
func OptionsFromConfig(cfg *config.VitalsConfig) Options {
	return Options{
		FaceMinAreaRatio:    cfg.GetFaceMinAreaRatio(),
		FaceMaxAreaRatio:    cfg.GetFaceMaxAreaRatio(),
		FaceIdealAreaRatio:  cfg.GetFaceIdealAreaRatio(),
		FaceMaxCenterOffset: cfg.GetFaceMaxCenterOffset(),
		BrightnessMin:       cfg.GetBrightnessMin(),
		BrightnessMax:       cfg.GetBrightnessMax(),
		ContrastMin:         cfg.GetContrastMin(),
		NoiseMax:            cfg.GetNoiseMax(),
		MinDurationSec:      cfg.GetMinSignalDurationSec(),
		MinStrength:         cfg.GetMinSignalStrength(),
		MaxMotion:           cfg.GetMaxSignalMotion(),
		LowHz:               cfg.GetBandLowHz(),
		HighHz:              cfg.GetBandHighHz(),
		Threshold:           cfg.GetSignalQualityThreshold(),
		Logf:                monitoring.Nop(),
	}
}

// Validator runs the three independent quality checks. It holds no
// per-session state and is safe for concurrent use.
type Validator struct {
	opts Options
}

// NewValidator returns a Validator with the given thresholds.
func NewValidator(opts Options) *Validator {
	if opts.LowHz <= 0 || opts.HighHz <= opts.LowHz {
		opts.LowHz, opts.HighHz = dsp.DefaultLowHz, dsp.DefaultHighHz
	}
	return &Validator{opts: opts}
}

// Options returns the validator's thresholds.
func (v *Validator) Options() Options { return v.opts }

func clamp01(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Max(0, math.Min(1, x))
}

func mean(xs ...float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}
