package separation

import (
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/vitals.report/internal/dsp"
	"github.com/banshee-data/vitals.report/internal/vitalerr"
)

// minSamples is the shortest trace any separator accepts.
const minSamples = 4

type chromSeparator struct {
	opts Options
}

func (c *chromSeparator) Method() Method { return MethodCHROM }

// Extract projects the mean-normalised channels onto the chrominance
// plane: X = 3R - 2G, Y = 1.5R + G - 1.5B, S = X - αY with α = σX/σY.
func (c *chromSeparator) Extract(tr [][]float64) ([]float64, error) {
	ch, err := Shape(tr)
	if err != nil {
		return nil, err
	}
	n := len(ch[0])
	if n < minSamples {
		return nil, vitalerr.InsufficientSamples(n, minSamples)
	}
	r := dsp.Detrend(dsp.MeanNormalize(ch[0]))
	g := dsp.Detrend(dsp.MeanNormalize(ch[1]))
	b := dsp.Detrend(dsp.MeanNormalize(ch[2]))

	x := make([]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		x[i] = 3*r[i] - 2*g[i]
		y[i] = 1.5*r[i] + g[i] - 1.5*b[i]
	}
	alpha := stat.PopStdDev(x, nil) / (stat.PopStdDev(y, nil) + dsp.Epsilon)
	s := make([]float64, n)
	for i := range s {
		s[i] = x[i] - alpha*y[i]
	}
	return dsp.Bandpass(dsp.Normalize(s), c.opts.SampleRateHz, c.opts.LowHz, c.opts.HighHz)
}
