package separation

import (
	"fmt"

	"github.com/banshee-data/vitals.report/internal/config"
	"github.com/banshee-data/vitals.report/internal/vitalerr"
)

// Separator extracts one candidate pulse signal of length N from a
// three-channel trace shaped (3, N) or (N, 3).
type Separator interface {
	Method() Method
	Extract(trace [][]float64) ([]float64, error)
}

// Selector hands out separators by method name. It is immutable once built
// and safe to share between sessions.
type Selector struct {
	opts Options
	dec  Decomposer
}

// NewSelector returns a selector. A nil Decomposer limits it to CHROM.
func NewSelector(opts Options, dec Decomposer) *Selector {
	if opts.Logf == nil {
		opts.Logf = DefaultOptions().Logf
	}
	if opts.MaxIter <= 0 {
		opts.MaxIter = DefaultOptions().MaxIter
	}
	if opts.PCASelection == "" {
		opts.PCASelection = SelectMaxPower
	}
	return &Selector{opts: opts, dec: dec}
}

// NewSelectorFromConfig wires the configured decomposition backend.
func NewSelectorFromConfig(cfg *config.VitalsConfig) *Selector {
	var dec Decomposer
	if cfg.GetDecompositionBackend() == "gonum" {
		dec = GonumDecomposer{}
	}
	return NewSelector(OptionsFromConfig(cfg), dec)
}

// Available lists the methods this selector can serve.
func (s *Selector) Available() []Method {
	out := make([]Method, 0, len(Methods))
	for _, m := range Methods {
		if !m.NeedsDecomposer() || s.dec != nil {
			out = append(out, m)
		}
	}
	return out
}

// Backend returns the decomposition backend name, or "" when none is wired.
func (s *Selector) Backend() string {
	if s.dec == nil {
		return ""
	}
	return s.dec.Name()
}

// Select returns the separator for m. Methods that need a decomposition
// backend fail with vitalerr.ErrMissingDependency when none is wired.
func (s *Selector) Select(m Method) (Separator, error) {
	if m.NeedsDecomposer() && s.dec == nil {
		return nil, vitalerr.MissingDependency(string(m), "decomposition")
	}
	switch m {
	case MethodCHROM:
		return &chromSeparator{opts: s.opts}, nil
	case MethodPCA:
		return &pcaSeparator{opts: s.opts, dec: s.dec, method: m, selection: s.opts.PCASelection}, nil
	case MethodMaxPowerPCA:
		return &pcaSeparator{opts: s.opts, dec: s.dec, method: m, selection: SelectMaxPower}, nil
	case MethodICA:
		return &icaSeparator{opts: s.opts, dec: s.dec}, nil
	default:
		return nil, vitalerr.WithMetadata(vitalerr.CodeUnknownMethod,
			fmt.Sprintf("unknown separation method %q", m),
			map[string]string{"method": string(m)})
	}
}

// Extract is shorthand for Select followed by Extract.
func (s *Selector) Extract(m Method, trace [][]float64) ([]float64, error) {
	sep, err := s.Select(m)
	if err != nil {
		return nil, err
	}
	return sep.Extract(trace)
}
