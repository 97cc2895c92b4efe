package estimate

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/vitals.report/internal/config"
	"github.com/banshee-data/vitals.report/internal/separation"
	"github.com/banshee-data/vitals.report/internal/testutil"
	"github.com/banshee-data/vitals.report/internal/vitalerr"
)

func sine(n int, fs, hz float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sin(2 * math.Pi * hz * float64(i) / fs)
	}
	return out
}

func TestEstimateBPM_TooShort(t *testing.T) {
	est, err := EstimateBPM(make([]float64, 10), 30, DefaultMinBPM, DefaultMaxBPM)
	require.Error(t, err)
	assert.ErrorIs(t, err, vitalerr.ErrSignalTooShort)
	assert.Equal(t, vitalerr.KindDataInsufficiency, vitalerr.KindOf(err))
	assert.Zero(t, est.BPM)

	_, err = EstimateBPM(make([]float64, MinSignalSamples-1), 30, DefaultMinBPM, DefaultMaxBPM)
	assert.ErrorIs(t, err, vitalerr.ErrSignalTooShort)
}

func TestEstimateBPM_ConstantSignal(t *testing.T) {
	x := make([]float64, 200)
	for i := range x {
		x[i] = 200
	}
	est, err := EstimateBPM(x, 30, DefaultMinBPM, DefaultMaxBPM)
	if err == nil {
		assert.Zero(t, est.Confidence, "constant signal must not report confidence")
		return
	}
	assert.ErrorIs(t, err, vitalerr.ErrNoFrequencyInRange)
	assert.Equal(t, vitalerr.KindFrequencyRangeEmpty, vitalerr.KindOf(err))
}

func TestEstimateBPM_InvalidInputs(t *testing.T) {
	x := sine(128, 30, 1.2)

	_, err := EstimateBPM(x, 0, DefaultMinBPM, DefaultMaxBPM)
	assert.ErrorIs(t, err, vitalerr.ErrInvalidSampleRate)

	_, err = EstimateBPM(x, 30, 120, 60)
	assert.ErrorIs(t, err, vitalerr.ErrInvalidConfig)

	// A band entirely above Nyquist has no bins.
	_, err = EstimateBPM(x, 2, 300, 600)
	assert.ErrorIs(t, err, vitalerr.ErrNoFrequencyInRange)
}

func TestEstimateBPM_PureTone(t *testing.T) {
	tests := []struct {
		hz      float64
		wantBPM float64
	}{
		{1.0, 60},
		{1.2, 72},
		{2.0, 120},
		{2.5, 150},
	}
	for _, tt := range tests {
		est, err := EstimateBPM(sine(600, 30, tt.hz), 30, DefaultMinBPM, DefaultMaxBPM)
		require.NoError(t, err)
		assert.InDelta(t, tt.wantBPM, est.BPM, 3, "%.1f Hz", tt.hz)
		assert.InDelta(t, tt.hz, est.DominantFrequencyHz, 0.05)
		assert.GreaterOrEqual(t, est.BPM, DefaultMinBPM)
		assert.LessOrEqual(t, est.BPM, DefaultMaxBPM)
		assert.Greater(t, est.Confidence, 0.9)
		assert.LessOrEqual(t, est.Confidence, 1.0)
	}
}

func TestEstimateBPM_ConfidenceTracksProminence(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	noise := make([]float64, 600)
	for i := range noise {
		noise[i] = rng.NormFloat64()
	}
	clean, err := EstimateBPM(sine(600, 30, 1.2), 30, DefaultMinBPM, DefaultMaxBPM)
	require.NoError(t, err)
	noisy, err := EstimateBPM(noise, 30, DefaultMinBPM, DefaultMaxBPM)
	require.NoError(t, err)

	assert.Greater(t, clean.Prominence, noisy.Prominence)
	assert.Greater(t, clean.Confidence, noisy.Confidence)
	assert.GreaterOrEqual(t, noisy.Confidence, 0.0)
}

func TestEstimateBPM_DoesNotMutateInput(t *testing.T) {
	x := sine(128, 30, 1.2)
	before := append([]float64(nil), x...)
	_, err := EstimateBPM(x, 30, DefaultMinBPM, DefaultMaxBPM)
	require.NoError(t, err)
	assert.Equal(t, before, x)
}

// CHROM pipeline at 72 BPM lands within [60, 90].
func TestCHROMPipeline_72BPM(t *testing.T) {
	tr := testutil.PulseChannels(testutil.PulseOptions{
		SampleRateHz: 30,
		Samples:      600,
		HeartRateHz:  1.2,
		Noise:        0.5,
		Drift:        0.03,
		Seed:         72,
	})
	sel := separation.NewSelector(separation.DefaultOptions(), nil)
	sig, err := sel.Extract(separation.MethodCHROM, tr)
	require.NoError(t, err)
	require.Len(t, sig, 600)

	est, err := EstimateBPM(sig, 30, DefaultMinBPM, DefaultMaxBPM)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, est.BPM, 60.0)
	assert.LessOrEqual(t, est.BPM, 90.0)
}

// Randomised single tones in [0.8, 3.0] Hz through CHROM stay within ±15 BPM.
func TestCHROMPipeline_RandomTones(t *testing.T) {
	rng := rand.New(rand.NewSource(20240601))
	sel := separation.NewSelector(separation.DefaultOptions(), nil)
	for trial := 0; trial < 40; trial++ {
		hz := 0.8 + 2.2*rng.Float64()
		seed := rng.Int63()
		tr := testutil.PulseChannels(testutil.PulseOptions{
			SampleRateHz: 30,
			Samples:      600,
			HeartRateHz:  hz,
			Noise:        0.3 + 0.5*rng.Float64(),
			Drift:        0.05 * rng.Float64(),
			Seed:         seed,
		})
		sig, err := sel.Extract(separation.MethodCHROM, tr)
		require.NoError(t, err)
		est, err := EstimateBPM(sig, 30, DefaultMinBPM, DefaultMaxBPM)
		require.NoError(t, err)
		assert.InDelta(t, hz*60, est.BPM, 15, "trial %d: f=%.3f Hz seed=%d", trial, hz, seed)
	}
}

func TestEstimateVitals(t *testing.T) {
	opts := OptionsFromConfig(config.EmptyVitalsConfig())
	assert.Equal(t, DefaultOptions(), opts)

	est, hrv, err := EstimateVitals(sine(600, 30, 1.0), 30, opts)
	require.NoError(t, err)
	assert.InDelta(t, 60, est.BPM, 3)
	assert.Equal(t, hrv.RMSSDms, est.HRVms)
	assert.NotEmpty(t, hrv.Peaks)

	_, _, err = EstimateVitals(make([]float64, 5), 30, opts)
	assert.ErrorIs(t, err, vitalerr.ErrSignalTooShort)
}
