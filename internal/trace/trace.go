// Package trace holds the append-only per-frame colour trace of one session.
package trace

import (
	"time"
)

// Sample is the mean skin-region intensity of one processed frame.
type Sample struct {
	R, G, B float64
	T       time.Time
}

// ColorTrace is an ordered, append-only sequence of samples. The sample count
// only grows and samples are never reordered. A ColorTrace is owned by a
// single measurement session and is not safe for concurrent use.
type ColorTrace struct {
	samples []Sample
}

// New returns an empty trace with capacity for hint samples.
func New(hint int) *ColorTrace {
	if hint < 0 {
		hint = 0
	}
	return &ColorTrace{samples: make([]Sample, 0, hint)}
}

// Append adds one sample to the end of the trace.
func (c *ColorTrace) Append(s Sample) {
	c.samples = append(c.samples, s)
}

// Len returns the number of samples appended so far.
func (c *ColorTrace) Len() int {
	if c == nil {
		return 0
	}
	return len(c.samples)
}

// At returns the i-th sample.
func (c *ColorTrace) At(i int) Sample {
	return c.samples[i]
}

// Channels returns fresh copies of the trace in channels-first (3, N) layout.
func (c *ColorTrace) Channels() [][]float64 {
	r := make([]float64, len(c.samples))
	g := make([]float64, len(c.samples))
	b := make([]float64, len(c.samples))
	for i, s := range c.samples {
		r[i], g[i], b[i] = s.R, s.G, s.B
	}
	return [][]float64{r, g, b}
}

// Rows returns a fresh copy of the trace in samples-first (N, 3) layout.
func (c *ColorTrace) Rows() [][]float64 {
	out := make([][]float64, len(c.samples))
	for i, s := range c.samples {
		out[i] = []float64{s.R, s.G, s.B}
	}
	return out
}

// Green returns the green channel, the strongest single-channel pulse carrier.
func (c *ColorTrace) Green() []float64 {
	out := make([]float64, len(c.samples))
	for i, s := range c.samples {
		out[i] = s.G
	}
	return out
}

// Duration is the time between the first and last sample.
func (c *ColorTrace) Duration() time.Duration {
	if c.Len() < 2 {
		return 0
	}
	return c.samples[len(c.samples)-1].T.Sub(c.samples[0].T)
}

// Window returns a new trace holding at most the last n samples. The
// receiver is left untouched.
func (c *ColorTrace) Window(n int) *ColorTrace {
	if n <= 0 || c.Len() == 0 {
		return New(0)
	}
	start := len(c.samples) - n
	if start < 0 {
		start = 0
	}
	out := New(len(c.samples) - start)
	out.samples = append(out.samples, c.samples[start:]...)
	return out
}

// Snapshot returns an independent copy of the whole trace.
func (c *ColorTrace) Snapshot() *ColorTrace {
	return c.Window(c.Len())
}

// EffectiveRate estimates the sampling rate from the sample timestamps. It
// returns 0 when the trace is too short or timestamps are not increasing.
func (c *ColorTrace) EffectiveRate() float64 {
	d := c.Duration()
	if d <= 0 {
		return 0
	}
	return float64(c.Len()-1) / d.Seconds()
}
