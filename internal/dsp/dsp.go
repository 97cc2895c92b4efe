// Package dsp provides the trace preprocessing and spectral primitives shared
// by separation, estimation and quality scoring. Every function returns a
// fresh slice and leaves its input untouched.
package dsp

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/vitals.report/internal/vitalerr"
)

// Epsilon guards divisions by a standard deviation or a power sum.
const Epsilon = 1e-12

// Canonical physiological pulse band used across the engine.
const (
	DefaultLowHz  = 0.7 // 42 BPM
	DefaultHighHz = 4.0 // 240 BPM
)

// Detrend subtracts the least-squares straight line from x. Inputs shorter
// than two samples are returned unchanged.
func Detrend(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	if len(x) < 2 {
		return out
	}
	idx := make([]float64, len(x))
	for i := range idx {
		idx[i] = float64(i)
	}
	alpha, beta := stat.LinearRegression(idx, x, nil, false)
	for i := range out {
		out[i] -= alpha + beta*float64(i)
	}
	return out
}

// Normalize returns (x - mean) / (std + Epsilon) using the population
// standard deviation. A constant input maps to all zeros.
func Normalize(x []float64) []float64 {
	out := make([]float64, len(x))
	if len(x) == 0 {
		return out
	}
	mean, std := stat.PopMeanStdDev(x, nil)
	for i, v := range x {
		out[i] = (v - mean) / (std + Epsilon)
	}
	return out
}

// Bandpass keeps only the Fourier bins whose frequency lies in [lowHz, highHz]
// and transforms back. The result has the same length as x.
func Bandpass(x []float64, sampleRateHz, lowHz, highHz float64) ([]float64, error) {
	if sampleRateHz <= 0 || math.IsNaN(sampleRateHz) {
		return nil, vitalerr.InvalidSampleRate(sampleRateHz)
	}
	if lowHz < 0 || highHz <= lowHz {
		return nil, vitalerr.New(vitalerr.CodeInvalidConfig, "bandpass requires 0 <= low < high")
	}
	n := len(x)
	if n == 0 {
		return []float64{}, nil
	}
	fft := fourier.NewFFT(n)
	coeff := fft.Coefficients(nil, x)
	for k := range coeff {
		f := binFrequency(k, n, sampleRateHz)
		if f < lowHz || f > highHz {
			coeff[k] = 0
		}
	}
	out := fft.Sequence(nil, coeff)
	floats.Scale(1/float64(n), out)
	return out, nil
}

// HannWindow returns x multiplied by a symmetric Hann window.
func HannWindow(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	if len(out) < 2 {
		return out
	}
	return window.Hann(out)
}

// Spectrum is a one-sided power spectrum.
type Spectrum struct {
	Freqs []float64 // Hz, one per bin
	Power []float64 // squared magnitude
}

// PowerSpectrum returns |FFT(x)|² for the non-negative frequency bins.
func PowerSpectrum(x []float64, sampleRateHz float64) (Spectrum, error) {
	if sampleRateHz <= 0 || math.IsNaN(sampleRateHz) {
		return Spectrum{}, vitalerr.InvalidSampleRate(sampleRateHz)
	}
	n := len(x)
	if n == 0 {
		return Spectrum{}, nil
	}
	coeff := fourier.NewFFT(n).Coefficients(nil, x)
	s := Spectrum{
		Freqs: make([]float64, len(coeff)),
		Power: make([]float64, len(coeff)),
	}
	for k, c := range coeff {
		s.Freqs[k] = binFrequency(k, n, sampleRateHz)
		re, im := real(c), imag(c)
		s.Power[k] = re*re + im*im
	}
	return s, nil
}

// Periodogram returns the one-sided power spectral density estimate of the
// mean-removed input, scaled by 1/(fs·N).
func Periodogram(x []float64, sampleRateHz float64) (Spectrum, error) {
	centred := make([]float64, len(x))
	if len(x) > 0 {
		mean := stat.Mean(x, nil)
		for i, v := range x {
			centred[i] = v - mean
		}
	}
	s, err := PowerSpectrum(centred, sampleRateHz)
	if err != nil || len(x) == 0 {
		return s, err
	}
	scale := 1 / (sampleRateHz * float64(len(x)))
	last := len(s.Power) - 1
	for k := range s.Power {
		s.Power[k] *= scale
		// Fold the negative frequencies in; DC and an even-length Nyquist bin are unique.
		if k > 0 && !(k == last && len(x)%2 == 0) {
			s.Power[k] *= 2
		}
	}
	return s, nil
}

// Band returns the indexes of the bins in [lowHz, highHz].
func (s Spectrum) Band(lowHz, highHz float64) []int {
	var idx []int
	for k, f := range s.Freqs {
		if f >= lowHz && f <= highHz {
			idx = append(idx, k)
		}
	}
	return idx
}

// BandPower sums the power of the bins in [lowHz, highHz].
func (s Spectrum) BandPower(lowHz, highHz float64) float64 {
	var total float64
	for _, k := range s.Band(lowHz, highHz) {
		total += s.Power[k]
	}
	return total
}

// Peak returns the strongest bin in [lowHz, highHz]. ok is false when the
// band holds no bins.
func (s Spectrum) Peak(lowHz, highHz float64) (freqHz, power float64, ok bool) {
	best := -1
	for _, k := range s.Band(lowHz, highHz) {
		if best < 0 || s.Power[k] > s.Power[best] {
			best = k
		}
	}
	if best < 0 {
		return 0, 0, false
	}
	return s.Freqs[best], s.Power[best], true
}

// Autocorrelation returns the normalised autocorrelation of x for lags
// 0..maxLag. r[0] is 1 for any non-constant input; a constant input yields
// all zeros.
func Autocorrelation(x []float64, maxLag int) []float64 {
	if maxLag >= len(x) {
		maxLag = len(x) - 1
	}
	if maxLag < 0 {
		return []float64{}
	}
	mean := stat.Mean(x, nil)
	centred := make([]float64, len(x))
	for i, v := range x {
		centred[i] = v - mean
	}
	denom := floats.Dot(centred, centred)
	out := make([]float64, maxLag+1)
	if denom <= Epsilon {
		return out
	}
	for lag := 0; lag <= maxLag; lag++ {
		out[lag] = floats.Dot(centred[:len(centred)-lag], centred[lag:]) / denom
	}
	return out
}

// Diff returns the first differences x[i+1]-x[i].
func Diff(x []float64) []float64 {
	if len(x) < 2 {
		return []float64{}
	}
	out := make([]float64, len(x)-1)
	for i := range out {
		out[i] = x[i+1] - x[i]
	}
	return out
}

// MeanNormalize divides x by its own mean, removing the illumination level.
// A zero-mean input is returned as a copy.
func MeanNormalize(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	if len(x) == 0 {
		return out
	}
	mean := stat.Mean(x, nil)
	if math.Abs(mean) <= Epsilon {
		return out
	}
	floats.Scale(1/mean, out)
	return out
}

// IsFlat reports whether x has no usable variation relative to its magnitude.
func IsFlat(x []float64) bool {
	if len(x) < 2 {
		return true
	}
	scale := math.Max(1, math.Max(math.Abs(floats.Max(x)), math.Abs(floats.Min(x))))
	return stat.PopStdDev(x, nil) <= 1e-9*scale
}

func binFrequency(k, n int, sampleRateHz float64) float64 {
	return float64(k) * sampleRateHz / float64(n)
}
