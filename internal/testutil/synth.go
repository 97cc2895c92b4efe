// Package testutil generates synthetic skin-region traces and camera frames
// with a known pulse, for the engine's tests and the vitals-sim tool.
package testutil

import (
	"image"
	"math"
	"math/rand"
	"time"

	"github.com/banshee-data/vitals.report/internal/frame"
	"github.com/banshee-data/vitals.report/internal/trace"
)

// PulseWeights is the relative pulse amplitude carried by the R, G and B
// channels of skin. Green carries the strongest blood-volume signal.
var PulseWeights = [3]float64{0.3, 1.0, 0.2}

// PulseOptions describes a synthetic skin-region trace.
type PulseOptions struct {
	SampleRateHz float64    // default 30
	Samples      int        // default 600
	HeartRateHz  float64    // default 1.2 (72 BPM)
	Amplitude    float64    // pulse amplitude relative to baseline, default 0.01
	Noise        float64    // per-channel Gaussian noise std relative to Amplitude
	Drift        float64    // linear illumination drift over the whole trace, relative
	Jitter       float64    // beat-to-beat rate variation, fraction of HeartRateHz
	Baseline     [3]float64 // default {150, 110, 90}
	Seed         int64
	Start        time.Time
}

func (o PulseOptions) withDefaults() PulseOptions {
	if o.SampleRateHz <= 0 {
		o.SampleRateHz = 30
	}
	if o.Samples <= 0 {
		o.Samples = 600
	}
	if o.HeartRateHz <= 0 {
		o.HeartRateHz = 1.2
	}
	if o.Amplitude <= 0 {
		o.Amplitude = 0.01
	}
	if o.Baseline == ([3]float64{}) {
		o.Baseline = [3]float64{150, 110, 90}
	}
	if o.Start.IsZero() {
		o.Start = time.Unix(1700000000, 0)
	}
	return o
}

// PulseWave returns the unit-amplitude pulse waveform the channels carry.
func PulseWave(o PulseOptions) []float64 {
	o = o.withDefaults()
	rng := rand.New(rand.NewSource(o.Seed ^ 0x5eed))
	out := make([]float64, o.Samples)
	phase := 0.0
	rate := o.HeartRateHz
	for i := range out {
		out[i] = math.Sin(phase)
		prev := phase
		phase += 2 * math.Pi * rate / o.SampleRateHz
		// New beat: draw the next beat's rate.
		if o.Jitter > 0 && math.Floor(phase/(2*math.Pi)) != math.Floor(prev/(2*math.Pi)) {
			rate = o.HeartRateHz * (1 + o.Jitter*(2*rng.Float64()-1))
		}
	}
	return out
}

// PulseChannels returns a channels-first (3, N) trace carrying a pulse.
func PulseChannels(o PulseOptions) [][]float64 {
	o = o.withDefaults()
	rng := rand.New(rand.NewSource(o.Seed))
	wave := PulseWave(o)
	out := make([][]float64, 3)
	for c := range out {
		out[c] = make([]float64, o.Samples)
		for i := range out[c] {
			frac := float64(i) / float64(o.Samples)
			illum := 1 + o.Drift*frac
			v := 1 + o.Amplitude*PulseWeights[c]*wave[i] + o.Amplitude*o.Noise*rng.NormFloat64()
			out[c][i] = o.Baseline[c] * illum * v
		}
	}
	return out
}

// PulseTrace returns the same samples as PulseChannels as a timestamped trace.
func PulseTrace(o PulseOptions) *trace.ColorTrace {
	o = o.withDefaults()
	ch := PulseChannels(o)
	ct := trace.New(o.Samples)
	step := time.Duration(float64(time.Second) / o.SampleRateHz)
	for i := 0; i < o.Samples; i++ {
		ct.Append(trace.Sample{R: ch[0][i], G: ch[1][i], B: ch[2][i], T: o.Start.Add(time.Duration(i) * step)})
	}
	return ct
}

// Transpose converts between (3, N) and (N, 3) layouts.
func Transpose(m [][]float64) [][]float64 {
	if len(m) == 0 {
		return nil
	}
	out := make([][]float64, len(m[0]))
	for j := range out {
		out[j] = make([]float64, len(m))
		for i := range m {
			out[j][i] = m[i][j]
		}
	}
	return out
}

// UniformFrame returns a frame filled with one colour.
func UniformFrame(width, height int, r, g, b uint8) *frame.Frame {
	f := frame.New(width, height, time.Time{})
	f.Fill(f.Bounds(), r, g, b)
	return f
}

// Skin is a typical skin tone that falls inside the YCbCr skin cluster.
var Skin = [3]uint8{200, 150, 120}

// FaceFrame draws a skin-coloured box over a checkered, mid-grey
// background. The background has enough contrast to pass environment checks
// while staying outside the skin cluster.
func FaceFrame(width, height int, box image.Rectangle, skin [3]uint8, seq uint64) *frame.Frame {
	f := frame.New(width, height, time.Time{})
	f.Seq = seq
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := uint8(60)
			if ((x/16)+(y/16))%2 == 0 {
				v = 160
			}
			f.Set(x, y, v, v, v)
		}
	}
	f.Fill(box, skin[0], skin[1], skin[2])
	return f
}

// PulseFrames renders a face box whose colour follows the pulse of o, one
// frame per sample. Frame timestamps follow the sample rate.
func PulseFrames(width, height int, box image.Rectangle, o PulseOptions) []*frame.Frame {
	o = o.withDefaults()
	ch := PulseChannels(PulseOptions{
		SampleRateHz: o.SampleRateHz,
		Samples:      o.Samples,
		HeartRateHz:  o.HeartRateHz,
		Amplitude:    o.Amplitude,
		Noise:        o.Noise,
		Drift:        o.Drift,
		Jitter:       o.Jitter,
		Baseline:     [3]float64{float64(Skin[0]), float64(Skin[1]), float64(Skin[2])},
		Seed:         o.Seed,
	})
	step := time.Duration(float64(time.Second) / o.SampleRateHz)
	base := FaceFrame(width, height, box, Skin, 0)
	out := make([]*frame.Frame, o.Samples)
	for i := range out {
		f := frame.New(width, height, o.Start.Add(time.Duration(i)*step))
		copy(f.Pix, base.Pix)
		f.Seq = uint64(i)
		f.Fill(box, clamp8(ch[0][i]), clamp8(ch[1][i]), clamp8(ch[2][i]))
		out[i] = f
	}
	return out
}

func clamp8(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(math.Round(v))
	}
}
