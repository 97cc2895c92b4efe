package diag

import (
	"fmt"
	"io"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/vitals.report/internal/dsp"
	"github.com/banshee-data/vitals.report/internal/estimate"
	"github.com/banshee-data/vitals.report/internal/protocol"
	"github.com/banshee-data/vitals.report/internal/quality"
)

// AssetsHost is where the rendered dashboard loads the echarts scripts from.
var AssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// Dashboard is everything the HTML dashboard shows for one analysis. Any
// section whose data is missing is left out.
type Dashboard struct {
	Title        string
	SampleRateHz float64
	LowHz        float64
	HighHz       float64
	Pulse        []float64
	Spectrum     dsp.Spectrum
	Estimate     estimate.VitalEstimate
	HRV          estimate.HRV
	Report       quality.Report
	Summary      *protocol.CompletionSummary
}

// RenderDashboard writes d as a standalone HTML page.
func RenderDashboard(w io.Writer, d Dashboard) error {
	page := components.NewPage()
	page.SetPageTitle(d.Title)
	page.SetAssetsHost(AssetsHost)

	added := 0
	if len(d.Pulse) > 0 && d.SampleRateHz > 0 {
		page.AddCharts(pulseChart(d))
		added++
	}
	if len(d.Spectrum.Freqs) > 0 {
		page.AddCharts(spectrumChart(d))
		added++
	}
	if len(d.Report.ByCheck) > 0 {
		page.AddCharts(qualityChart(d.Report))
		added++
	}
	if d.Summary != nil && d.Summary.TotalSteps > 0 {
		page.AddCharts(gradeChart(*d.Summary))
		added++
	}
	if added == 0 {
		return fmt.Errorf("dashboard %q has nothing to show", d.Title)
	}
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render dashboard: %w", err)
	}
	return nil
}

func initOpts(title string) charts.GlobalOpts {
	return charts.WithInitializationOpts(opts.Initialization{
		PageTitle:  title,
		Width:      "100%",
		Height:     "420px",
		AssetsHost: AssetsHost,
	})
}

func pulseChart(d Dashboard) *charts.Line {
	x := make([]string, len(d.Pulse))
	y := make([]opts.LineData, len(d.Pulse))
	for i, v := range d.Pulse {
		x[i] = fmt.Sprintf("%.2f", float64(i)/d.SampleRateHz)
		y[i] = opts.LineData{Value: v}
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		initOpts(d.Title),
		charts.WithTitleOpts(opts.Title{
			Title:    "Pulse signal",
			Subtitle: fmt.Sprintf("%.1f BPM, RMSSD %.1f ms, %d beats", d.Estimate.BPM, d.HRV.RMSSDms, len(d.HRV.Peaks)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "s", NameLocation: "middle", NameGap: 25}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(x).AddSeries("pulse", y,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	return line
}

func spectrumChart(d Dashboard) *charts.Line {
	high := d.HighHz
	if high <= 0 {
		high = dsp.DefaultHighHz
	}
	var x []string
	var y []opts.LineData
	for k, f := range d.Spectrum.Freqs {
		if f > 2*high {
			break
		}
		x = append(x, fmt.Sprintf("%.1f", f*60))
		y = append(y, opts.LineData{Value: d.Spectrum.Power[k]})
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		initOpts(d.Title),
		charts.WithTitleOpts(opts.Title{
			Title:    "Power spectrum",
			Subtitle: fmt.Sprintf("peak %.2f Hz, confidence %.2f, prominence %.1f", d.Estimate.DominantFrequencyHz, d.Estimate.Confidence, d.Estimate.Prominence),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "BPM", NameLocation: "middle", NameGap: 25}),
	)
	line.SetXAxis(x).AddSeries("power", y,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Opacity: opts.Float(0.2)}),
	)
	return line
}

func qualityChart(r quality.Report) *charts.Bar {
	checks := make([]string, 0, len(r.ByCheck))
	for c := range r.ByCheck {
		checks = append(checks, string(c))
	}
	sort.Strings(checks)
	y := make([]opts.BarData, len(checks))
	for i, c := range checks {
		y[i] = opts.BarData{Value: r.ByCheck[quality.Check(c)]}
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		initOpts("Quality"),
		charts.WithTitleOpts(opts.Title{
			Title:    "Quality checks",
			Subtitle: fmt.Sprintf("grade %s, overall %.2f, %d/%d passed", r.Grade, r.OverallConfidence, r.Passed, r.Total),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1}),
	)
	bar.SetXAxis(checks).AddSeries("confidence", y,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
	)
	return bar
}

func gradeChart(s protocol.CompletionSummary) *charts.Pie {
	data := make([]opts.PieData, 0, len(quality.Grades))
	for _, g := range quality.Grades {
		if n := s.Distribution[g]; n > 0 {
			data = append(data, opts.PieData{Name: string(g), Value: n})
		}
	}
	pie := charts.NewPie()
	pie.SetGlobalOptions(
		initOpts("Protocol"),
		charts.WithTitleOpts(opts.Title{
			Title:    "Step grades",
			Subtitle: fmt.Sprintf("%s: %d steps, pass rate %.0f%%", s.ProtocolName, s.TotalSteps, 100*s.PassRate),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	pie.AddSeries("grades", data,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Formatter: "{b}: {c}"}),
	)
	return pie
}
