package quality

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/vitals.report/internal/dsp"
	"github.com/banshee-data/vitals.report/internal/trace"
)

const (
	reasonShortSignal  = "insufficient signal duration"
	reasonFlatSignal   = "no signal variation"
	reasonWeakSignal   = "weak pulse signal"
	reasonMotion       = "excessive motion"
	reasonInconsistent = "inconsistent signal"
	reasonOutOfBand    = "dominant frequency outside heart-rate range"
)

// Signal confidence weights.
const (
	weightStrength    = 0.3
	weightMotion      = 0.3
	weightConsistency = 0.2
	weightFrequency   = 0.2
)

// ValidateSignal scores a raw single-channel intensity trace.
//
// Strength is the share of the detrended signal's deviation that survives
// the pulse bandpass. Motion is the deviation of the first differences of
// the above-band residual relative to the detrended signal. Consistency is
// the strongest autocorrelation at a heart-period lag, and the periodogram
// peak must fall inside the pulse band.
func (v *Validator) ValidateSignal(signal []float64, sampleRateHz float64) Score {
	s := Score{Check: CheckSignal, Metrics: map[string]float64{"samples": float64(len(signal))}}
	if sampleRateHz <= 0 {
		s.Reasons = []string{fmt.Sprintf("invalid sample rate %g", sampleRateHz)}
		s.Recommendation = "Check the camera frame rate"
		return s
	}
	required := int(math.Ceil(sampleRateHz * v.opts.MinDurationSec))
	if len(signal) < required {
		s.Reasons = []string{reasonShortSignal}
		s.Recommendation = fmt.Sprintf("Keep still for at least %.0f seconds", v.opts.MinDurationSec)
		s.Metrics["required_samples"] = float64(required)
		return s
	}
	if dsp.IsFlat(signal) {
		s.Reasons = []string{reasonFlatSignal}
		s.Recommendation = "Make sure your face is visible and lit"
		return s
	}

	detrended := dsp.Detrend(signal)
	rawStd := stat.PopStdDev(detrended, nil)
	mean, std := stat.PopMeanStdDev(signal, nil)
	if mean != 0 {
		s.Metrics["std_mean_ratio"] = std / math.Abs(mean)
	}

	inBand, err := dsp.Bandpass(detrended, sampleRateHz, v.opts.LowHz, v.opts.HighHz)
	if err != nil {
		s.Reasons = []string{err.Error()}
		return s
	}
	strength := stat.PopStdDev(inBand, nil) / (rawStd + dsp.Epsilon)

	motion := 0.0
	if nyquist := sampleRateHz / 2; v.opts.HighHz < nyquist {
		residual, err := dsp.Bandpass(detrended, sampleRateHz, v.opts.HighHz, nyquist)
		if err == nil {
			motion = stat.PopStdDev(dsp.Diff(residual), nil) / (rawStd + dsp.Epsilon)
		}
	}

	consistency := v.consistency(inBand, sampleRateHz)

	dominant := 0.0
	if pg, err := dsp.Periodogram(detrended, sampleRateHz); err == nil && len(pg.Freqs) > 1 {
		dominant, _, _ = pg.Peak(pg.Freqs[1], sampleRateHz/2)
	}
	inRange := dominant >= v.opts.LowHz && dominant <= v.opts.HighHz

	strengthScore := clamp01(strength / (2 * v.opts.MinStrength))
	motionScore := clamp01(1 - motion/(2*v.opts.MaxMotion))
	freqScore := 0.0
	if inRange {
		freqScore = 1
	}
	s.Confidence = clamp01(weightStrength*strengthScore +
		weightMotion*motionScore +
		weightConsistency*clamp01(consistency) +
		weightFrequency*freqScore)

	s.Metrics["strength"] = strength
	s.Metrics["motion"] = motion
	s.Metrics["consistency"] = consistency
	s.Metrics["dominant_frequency_hz"] = dominant

	if strength < v.opts.MinStrength {
		s.Reasons = append(s.Reasons, reasonWeakSignal)
		s.Recommendation = "Improve lighting on your face"
	}
	if motion > v.opts.MaxMotion {
		s.Reasons = append(s.Reasons, reasonMotion)
		if s.Recommendation == "" {
			s.Recommendation = "Hold still and keep your head steady"
		}
	}
	if !inRange {
		s.Reasons = append(s.Reasons, reasonOutOfBand)
		if s.Recommendation == "" {
			s.Recommendation = "Hold still; the signal is dominated by non-pulse variation"
		}
	}
	if len(s.Reasons) == 0 && s.Confidence < v.opts.Threshold {
		s.Reasons = append(s.Reasons, reasonInconsistent)
		s.Recommendation = "Hold still and keep lighting steady"
	}
	s.Valid = len(s.Reasons) == 0
	if s.Valid {
		s.Recommendation = "Signal quality is good"
	}
	v.opts.Logf.Logf("quality: signal strength=%.2f motion=%.3f consistency=%.2f dominant=%.2fHz conf=%.2f",
		strength, motion, consistency, dominant, s.Confidence)
	return s
}

// ValidateTrace scores the green channel of a colour trace.
func (v *Validator) ValidateTrace(ct *trace.ColorTrace, sampleRateHz float64) Score {
	return v.ValidateSignal(ct.Green(), sampleRateHz)
}

// consistency is the peak normalised autocorrelation over lags that
// correspond to a heart period inside the pulse band.
func (v *Validator) consistency(x []float64, sampleRateHz float64) float64 {
	minLag := int(math.Floor(sampleRateHz / v.opts.HighHz))
	maxLag := int(math.Ceil(sampleRateHz / v.opts.LowHz))
	if minLag < 1 {
		minLag = 1
	}
	ac := dsp.Autocorrelation(x, maxLag)
	best := 0.0
	for lag := minLag; lag < len(ac); lag++ {
		if ac[lag] > best {
			best = ac[lag]
		}
	}
	return best
}
