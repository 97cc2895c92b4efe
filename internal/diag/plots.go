// Package diag renders offline diagnostics for an analysis: PNG plots of the
// colour trace, the extracted pulse and its spectrum, and an HTML dashboard.
package diag

import (
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/vitals.report/internal/dsp"
	"github.com/banshee-data/vitals.report/internal/trace"
)

var (
	plotWidth  = 12 * vg.Inch
	plotHeight = 5 * vg.Inch

	channelColors = [3]color.Color{
		color.RGBA{R: 214, G: 39, B: 40, A: 255},
		color.RGBA{R: 44, G: 160, B: 44, A: 255},
		color.RGBA{R: 31, G: 119, B: 180, A: 255},
	}
	markerColor = color.RGBA{R: 127, G: 127, B: 127, A: 255}
	peakColor   = color.RGBA{R: 255, G: 127, B: 14, A: 255}
)

// TracePlot plots the mean R, G and B of the region against time in seconds.
// Each channel is shown relative to its own mean so the three share an axis.
func TracePlot(ct *trace.ColorTrace) (*plot.Plot, error) {
	if ct.Len() == 0 {
		return nil, fmt.Errorf("empty trace")
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Region colour trace (%d samples)", ct.Len())
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Intensity - mean"

	start := ct.At(0).T
	ch := ct.Channels()
	for c, name := range []string{"R", "G", "B"} {
		mean := stat.Mean(ch[c], nil)
		pts := make(plotter.XYs, ct.Len())
		for i := range pts {
			pts[i].X = ct.At(i).T.Sub(start).Seconds()
			pts[i].Y = ch[c][i] - mean
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		line.Color = channelColors[c]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(name, line)
	}
	p.Legend.Top = true
	return p, nil
}

// PulsePlot plots the extracted pulse signal with the detected beats marked.
func PulsePlot(pulse []float64, sampleRateHz float64, peaks []int) (*plot.Plot, error) {
	if len(pulse) == 0 {
		return nil, fmt.Errorf("empty pulse signal")
	}
	if sampleRateHz <= 0 {
		return nil, fmt.Errorf("invalid sample rate %g", sampleRateHz)
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Pulse signal (%d beats)", len(peaks))
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Amplitude"

	pts := make(plotter.XYs, len(pulse))
	for i, v := range pulse {
		pts[i] = plotter.XY{X: float64(i) / sampleRateHz, Y: v}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.Color = channelColors[1]
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("pulse", line)

	beats := make(plotter.XYs, 0, len(peaks))
	for _, k := range peaks {
		if k >= 0 && k < len(pulse) {
			beats = append(beats, plotter.XY{X: float64(k) / sampleRateHz, Y: pulse[k]})
		}
	}
	if len(beats) > 0 {
		sc, err := plotter.NewScatter(beats)
		if err != nil {
			return nil, err
		}
		sc.Color = peakColor
		sc.Radius = vg.Points(3)
		p.Add(sc)
		p.Legend.Add("beats", sc)
	}
	p.Legend.Top = true
	return p, nil
}

// SpectrumPlot plots spectral power against BPM with the search band and
// the selected peak marked.
func SpectrumPlot(spec dsp.Spectrum, lowHz, highHz, peakHz float64) (*plot.Plot, error) {
	if len(spec.Freqs) == 0 {
		return nil, fmt.Errorf("empty spectrum")
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Power spectrum (peak %.1f BPM)", peakHz*60)
	p.X.Label.Text = "Heart rate (BPM)"
	p.Y.Label.Text = "Power"

	var maxPower float64
	pts := make(plotter.XYs, 0, len(spec.Freqs))
	for k, f := range spec.Freqs {
		// Plot up to twice the band so harmonics stay visible.
		if f > 2*highHz {
			break
		}
		pts = append(pts, plotter.XY{X: f * 60, Y: spec.Power[k]})
		maxPower = max(maxPower, spec.Power[k])
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.Color = channelColors[2]
	line.Width = vg.Points(1)
	p.Add(line)

	for _, m := range []struct {
		hz  float64
		col color.Color
	}{{lowHz, markerColor}, {highHz, markerColor}, {peakHz, peakColor}} {
		if m.hz <= 0 {
			continue
		}
		v, err := plotter.NewLine(plotter.XYs{{X: m.hz * 60, Y: 0}, {X: m.hz * 60, Y: maxPower}})
		if err != nil {
			return nil, err
		}
		v.Color = m.col
		v.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(v)
	}
	return p, nil
}

// WritePNG renders p as a PNG into w.
func WritePNG(w io.Writer, p *plot.Plot) error {
	wt, err := p.WriterTo(plotWidth, plotHeight, "png")
	if err != nil {
		return fmt.Errorf("render plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// SavePNG renders p to path, creating parent directories.
func SavePNG(path string, p *plot.Plot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create plot dir: %w", err)
	}
	if err := p.Save(plotWidth, plotHeight, path); err != nil {
		return fmt.Errorf("save plot %s: %w", path, err)
	}
	return nil
}
