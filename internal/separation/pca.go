package separation

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/vitals.report/internal/dsp"
	"github.com/banshee-data/vitals.report/internal/vitalerr"
)

type pcaSeparator struct {
	opts      Options
	dec       Decomposer
	method    Method
	selection Selection
}

func (p *pcaSeparator) Method() Method { return p.method }

func (p *pcaSeparator) Extract(tr [][]float64) ([]float64, error) {
	x, err := observations(tr)
	if err != nil {
		return nil, err
	}
	scores, _, err := p.dec.Principal(x)
	if err != nil {
		return nil, fmt.Errorf("%s principal components: %w", p.dec.Name(), err)
	}
	comps := columns(scores)
	idx := 0
	if p.selection != SelectFirst {
		idx = selectByBandPower(comps, p.opts)
	}
	p.opts.Logf.Logf("separation: %s selected component %d of %d", p.method, idx, len(comps))
	return dsp.Bandpass(dsp.Normalize(comps[idx]), p.opts.SampleRateHz, p.opts.LowHz, p.opts.HighHz)
}

type icaSeparator struct {
	opts Options
	dec  Decomposer
}

func (s *icaSeparator) Method() Method { return MethodICA }

func (s *icaSeparator) Extract(tr [][]float64) ([]float64, error) {
	x, err := observations(tr)
	if err != nil {
		return nil, err
	}
	sources, err := s.dec.Independent(x, s.opts.Seed, s.opts.MaxIter)
	if err != nil {
		return nil, fmt.Errorf("%s independent components: %w", s.dec.Name(), err)
	}
	comps := columns(sources)
	idx := selectByBandPower(comps, s.opts)
	s.opts.Logf.Logf("separation: ica selected source %d of %d", idx, len(comps))
	return dsp.Bandpass(dsp.Normalize(comps[idx]), s.opts.SampleRateHz, s.opts.LowHz, s.opts.HighHz)
}

// observations shapes the trace into an N×3 matrix of mean-normalised,
// detrended channels.
func observations(tr [][]float64) (*mat.Dense, error) {
	ch, err := Shape(tr)
	if err != nil {
		return nil, err
	}
	n := len(ch[0])
	if n < minSamples {
		return nil, vitalerr.InsufficientSamples(n, minSamples)
	}
	x := mat.NewDense(n, 3, nil)
	for c := range ch {
		x.SetCol(c, dsp.Detrend(dsp.MeanNormalize(ch[c])))
	}
	return x, nil
}

func columns(m *mat.Dense) [][]float64 {
	_, k := m.Dims()
	out := make([][]float64, k)
	for j := range out {
		out[j] = mat.Col(nil, j, m)
	}
	return out
}

// selectByBandPower returns the index of the component whose normalised
// spectrum carries the most power inside the pulse band.
func selectByBandPower(comps [][]float64, opts Options) int {
	best, bestPower := 0, -1.0
	for i, c := range comps {
		s, err := dsp.PowerSpectrum(dsp.Normalize(c), opts.SampleRateHz)
		if err != nil {
			continue
		}
		if p := s.BandPower(opts.LowHz, opts.HighHz); p > bestPower {
			best, bestPower = i, p
		}
	}
	return best
}
