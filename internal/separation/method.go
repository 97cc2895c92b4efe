// Package separation turns a three-channel colour trace into a single
// candidate pulse signal. The algorithms are interchangeable behind the
// Separator interface and are chosen by name through a Selector.
package separation

import (
	"fmt"
	"strings"

	"github.com/banshee-data/vitals.report/internal/vitalerr"
)

// Method names a separation algorithm.
type Method string

const (
	MethodCHROM       Method = "chrom"
	MethodPCA         Method = "pca"
	MethodMaxPowerPCA Method = "max_power_pca"
	MethodICA         Method = "ica"
)

// Methods lists every known method in preference order.
var Methods = []Method{MethodCHROM, MethodPCA, MethodMaxPowerPCA, MethodICA}

// ParseMethod accepts a method name, ignoring case and treating '-' as '_'.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	for _, known := range Methods {
		if m == known {
			return m, nil
		}
	}
	return "", vitalerr.WithMetadata(vitalerr.CodeUnknownMethod,
		fmt.Sprintf("unknown separation method %q", s),
		map[string]string{"method": s})
}

// NeedsDecomposer reports whether m requires a decomposition backend.
func (m Method) NeedsDecomposer() bool {
	return m == MethodPCA || m == MethodMaxPowerPCA || m == MethodICA
}

// Selection picks one PCA/ICA component as the pulse candidate.
type Selection string

const (
	// SelectFirst keeps the highest-variance component.
	SelectFirst Selection = "first"
	// SelectMaxPower keeps the component with the most in-band power.
	SelectMaxPower Selection = "max_power"
)

// Shape returns the trace as three channel slices of equal length N,
// accepting either (3, N) or (N, 3) input. A 3x3 input is read as
// channels-first. The returned slices are copies.
func Shape(tr [][]float64) ([][]float64, error) {
	if len(tr) == 0 {
		return nil, shapeError(tr, "empty trace")
	}
	if len(tr) == 3 && len(tr[0]) > 0 && len(tr[1]) == len(tr[0]) && len(tr[2]) == len(tr[0]) {
		out := make([][]float64, 3)
		for c := range out {
			out[c] = append([]float64(nil), tr[c]...)
		}
		return out, nil
	}
	out := [][]float64{
		make([]float64, len(tr)),
		make([]float64, len(tr)),
		make([]float64, len(tr)),
	}
	for i, row := range tr {
		if len(row) != 3 {
			return nil, shapeError(tr, fmt.Sprintf("row %d has %d values", i, len(row)))
		}
		out[0][i], out[1][i], out[2][i] = row[0], row[1], row[2]
	}
	return out, nil
}

func shapeError(tr [][]float64, why string) error {
	cols := 0
	if len(tr) > 0 {
		cols = len(tr[0])
	}
	return vitalerr.WithMetadata(vitalerr.CodeInvalidTraceShape,
		fmt.Sprintf("trace must be shaped (3, N) or (N, 3): %s", why),
		map[string]string{"rows": fmt.Sprint(len(tr)), "cols": fmt.Sprint(cols)})
}
