// Package estimate derives heart rate and heart-rate variability from a
// candidate pulse signal. Estimators run once per analysis window, never
// per frame.
package estimate

import (
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/vitals.report/internal/config"
	"github.com/banshee-data/vitals.report/internal/dsp"
	"github.com/banshee-data/vitals.report/internal/vitalerr"
)

// MinSignalSamples is the shortest signal EstimateBPM accepts.
const MinSignalSamples = 64

// Default heart-rate search range.
const (
	DefaultMinBPM = 40.0
	DefaultMaxBPM = 180.0
)

// backgroundFraction is the share of the weakest in-band bins that defines
// the noise floor for the prominence ratio.
const backgroundFraction = 0.6

// VitalEstimate is the result of one estimation call.
type VitalEstimate struct {
	BPM                 float64 // within [minBPM, maxBPM]
	HRVms               float64 // RMSSD; zero when not computed or not enough beats
	DominantFrequencyHz float64
	Confidence          float64 // [0, 1]
	Prominence          float64 // peak power over the in-band noise floor
}

// Options bundles the estimator parameters.
type Options struct {
	MinBPM             float64
	MaxBPM             float64
	MinPeakDistanceSec float64
}

// DefaultOptions returns the canonical 40-180 BPM search with a 0.4 s
// refractory distance between beats.
func DefaultOptions() Options {
	return Options{MinBPM: DefaultMinBPM, MaxBPM: DefaultMaxBPM, MinPeakDistanceSec: DefaultMinPeakDistanceSec}
}

// OptionsFromConfig builds Options from the engine configuration.
func OptionsFromConfig(cfg *config.VitalsConfig) Options {
	return Options{
		MinBPM:             cfg.GetMinBPM(),
		MaxBPM:             cfg.GetMaxBPM(),
		MinPeakDistanceSec: cfg.GetHRVMinPeakDistanceSec(),
	}
}

// EstimateBPM finds the dominant frequency of signal inside
// [minBPM/60, maxBPM/60] Hz. The signal is detrended, normalised and Hann
// windowed before the transform.
//
// A constant signal has no spectral content and fails with
// vitalerr.ErrNoFrequencyInRange rather than reporting a spurious rate.
func EstimateBPM(signal []float64, sampleRateHz, minBPM, maxBPM float64) (VitalEstimate, error) {
	if len(signal) < MinSignalSamples {
		return VitalEstimate{}, vitalerr.SignalTooShort(len(signal), MinSignalSamples)
	}
	if sampleRateHz <= 0 || math.IsNaN(sampleRateHz) {
		return VitalEstimate{}, vitalerr.InvalidSampleRate(sampleRateHz)
	}
	if minBPM <= 0 || maxBPM <= minBPM {
		return VitalEstimate{}, vitalerr.WithMetadata(vitalerr.CodeInvalidConfig,
			fmt.Sprintf("bpm range must satisfy 0 < min < max, got [%g, %g]", minBPM, maxBPM),
			map[string]string{"min_bpm": fmt.Sprint(minBPM), "max_bpm": fmt.Sprint(maxBPM)})
	}
	lowHz, highHz := minBPM/60, maxBPM/60
	if dsp.IsFlat(signal) {
		return VitalEstimate{}, vitalerr.NoFrequencyInRange(lowHz, highHz)
	}

	x := dsp.HannWindow(dsp.Normalize(dsp.Detrend(signal)))
	spec, err := dsp.PowerSpectrum(x, sampleRateHz)
	if err != nil {
		return VitalEstimate{}, err
	}
	band := spec.Band(lowHz, highHz)
	if len(band) == 0 {
		return VitalEstimate{}, vitalerr.NoFrequencyInRange(lowHz, highHz)
	}

	peak := band[0]
	powers := make([]float64, len(band))
	var total float64
	for i, k := range band {
		powers[i] = spec.Power[k]
		total += spec.Power[k]
		if spec.Power[k] > spec.Power[peak] {
			peak = k
		}
	}
	if total <= dsp.Epsilon {
		return VitalEstimate{}, vitalerr.NoFrequencyInRange(lowHz, highHz)
	}

	prominence := spec.Power[peak] / (noiseFloor(powers) + dsp.Epsilon)
	freq := spec.Freqs[peak]
	return VitalEstimate{
		BPM:                 freq * 60,
		DominantFrequencyHz: freq,
		Confidence:          confidence(prominence),
		Prominence:          prominence,
	}, nil
}

// EstimateVitals runs EstimateBPM and EstimateHRV over the same signal and
// folds the RMSSD into the estimate.
func EstimateVitals(signal []float64, sampleRateHz float64, opts Options) (VitalEstimate, HRV, error) {
	est, err := EstimateBPM(signal, sampleRateHz, opts.MinBPM, opts.MaxBPM)
	if err != nil {
		return VitalEstimate{}, HRV{}, err
	}
	hrv, err := EstimateHRVWithDistance(signal, sampleRateHz, opts.MinPeakDistanceSec)
	if err != nil {
		return VitalEstimate{}, HRV{}, err
	}
	est.HRVms = hrv.RMSSDms
	return est, hrv, nil
}

// noiseFloor is the mean of the weakest backgroundFraction of the bins.
func noiseFloor(powers []float64) float64 {
	sorted := append([]float64(nil), powers...)
	sort.Float64s(sorted)
	n := int(math.Ceil(backgroundFraction * float64(len(sorted))))
	if n < 1 {
		n = 1
	}
	var sum float64
	for _, p := range sorted[:n] {
		sum += p
	}
	return sum / float64(n)
}

// confidence maps a prominence ratio onto [0, 1]: a flat spectrum (ratio 1)
// scores 0, a peak 100x above the floor scores 1.
func confidence(prominence float64) float64 {
	if prominence <= 1 || math.IsNaN(prominence) {
		return 0
	}
	return math.Min(1, math.Log10(prominence)/2)
}
