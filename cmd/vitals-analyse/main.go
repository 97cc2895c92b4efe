// Command vitals-analyse runs the rPPG pipeline over a recorded colour trace.
//
// The input is a CSV of t,r,g,b rows (seconds, mean skin-region intensity).
// It prints the heart-rate and HRV estimates with the quality report, can
// write PNG plots and an HTML dashboard, and journals each run in a local
// sqlite file that can be browsed through the -admin debug server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/banshee-data/vitals.report/internal/config"
	"github.com/banshee-data/vitals.report/internal/db"
	"github.com/banshee-data/vitals.report/internal/diag"
	"github.com/banshee-data/vitals.report/internal/dsp"
	"github.com/banshee-data/vitals.report/internal/measure"
	"github.com/banshee-data/vitals.report/internal/monitoring"
	"github.com/banshee-data/vitals.report/internal/telemetry"
	"github.com/banshee-data/vitals.report/internal/version"
)

type options struct {
	Input      string
	ConfigPath string
	Method     string
	SampleRate float64 // 0 derives the rate from the timestamps
	WindowSec  float64 // 0 analyses the whole trace
	OutDir     string
	DBPath     string
	Admin      string
	JSON       bool
	Verbose    bool
}

func main() {
	var opts options
	flag.StringVar(&opts.ConfigPath, "config", "", "path to a vitals JSON config (defaults are built in)")
	flag.StringVar(&opts.Method, "method", "", "separation method: chrom, pca, max_power_pca, ica (overrides config)")
	flag.Float64Var(&opts.SampleRate, "fs", 0, "sample rate in Hz (0 = derive from timestamps)")
	flag.Float64Var(&opts.WindowSec, "window", 0, "analyse only the trailing N seconds (0 = whole trace)")
	flag.StringVar(&opts.OutDir, "out", "", "directory for PNG plots and dashboard.html")
	flag.StringVar(&opts.DBPath, "db", "", "sqlite journal to record the run in")
	flag.StringVar(&opts.Admin, "admin", "", "after the run, serve /debug/ on this address (requires -db)")
	flag.BoolVar(&opts.JSON, "json", false, "print the result as JSON")
	flag.BoolVar(&opts.Verbose, "v", false, "verbose logging")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] trace.csv\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	opts.Input = flag.Arg(0)
	if opts.Admin != "" && opts.DBPath == "" {
		log.Fatal("-admin requires -db")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, "vitals-analyse")
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}()

	if err := run(ctx, opts, os.Stdout); err != nil {
		log.Fatalf("vitals-analyse: %v", err)
	}
}

// result is the JSON form of one analysis.
type result struct {
	RunID        string   `json:"run_id,omitempty"`
	Source       string   `json:"source"`
	Method       string   `json:"method"`
	SampleRateHz float64  `json:"sample_rate_hz"`
	Samples      int      `json:"samples"`
	BPM          float64  `json:"bpm"`
	DominantHz   float64  `json:"dominant_hz"`
	Confidence   float64  `json:"confidence"`
	Prominence   float64  `json:"prominence"`
	RMSSDms      float64  `json:"hrv_rmssd_ms"`
	SDNNms       float64  `json:"hrv_sdnn_ms"`
	Beats        int      `json:"beats"`
	SignalValid  bool     `json:"signal_valid"`
	Grade        string   `json:"grade"`
	Quality      float64  `json:"quality"`
	Reasons      []string `json:"reasons,omitempty"`
	Advice       []string `json:"recommendations,omitempty"`
	Outputs      []string `json:"outputs,omitempty"`
}

func buildConfig(opts options, rateFromTrace, traceSec float64) (*config.VitalsConfig, error) {
	cfg := config.DefaultVitalsConfig()
	if opts.ConfigPath != "" {
		loaded, err := config.LoadVitalsConfig(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if opts.Method != "" {
		cfg.SeparationMethod = &opts.Method
	}
	fs := opts.SampleRate
	if fs <= 0 {
		fs = rateFromTrace
	}
	if fs <= 0 {
		return nil, fmt.Errorf("cannot derive a sample rate from the trace; pass -fs")
	}
	cfg.SampleRateHz = &fs
	window := opts.WindowSec
	if window <= 0 {
		// One extra sample period so the whole trace fits the window.
		window = traceSec + 1/fs
	}
	cfg.AnalysisWindowSeconds = &window
	return cfg, nil
}

func run(ctx context.Context, opts options, stdout io.Writer) error {
	f, err := os.Open(opts.Input)
	if err != nil {
		return err
	}
	ct, err := readTraceCSV(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", opts.Input, err)
	}

	cfg, err := buildConfig(opts, ct.EffectiveRate(), ct.Duration().Seconds())
	if err != nil {
		return err
	}

	logf := newLogger(opts.Verbose)
	sess, err := measure.NewSession(cfg, measure.Options{Logf: logf})
	if err != nil {
		return err
	}
	defer sess.Close()
	for i := 0; i < ct.Len(); i++ {
		sess.AppendTraceSample(ct.At(i))
	}

	a, err := sess.Analyze(ctx)
	if err != nil {
		return err
	}

	res := result{
		Source:       opts.Input,
		Method:       string(a.Method),
		SampleRateHz: a.SampleRateHz,
		Samples:      a.Samples,
		BPM:          a.Estimate.BPM,
		DominantHz:   a.Estimate.DominantFrequencyHz,
		Confidence:   a.Estimate.Confidence,
		Prominence:   a.Estimate.Prominence,
		RMSSDms:      a.HRV.RMSSDms,
		SDNNms:       a.HRV.SDNNms,
		Beats:        len(a.HRV.Peaks),
		SignalValid:  a.Signal.Valid,
		Grade:        string(a.Report.Grade),
		Quality:      a.Quality,
		Reasons:      a.Report.Reasons,
		Advice:       a.Report.Recommendations,
	}

	if opts.OutDir != "" {
		outputs, err := writeDiagnostics(opts.OutDir, filepath.Base(opts.Input), cfg, sess, a)
		if err != nil {
			return err
		}
		res.Outputs = outputs
	}

	var journal *db.DB
	if opts.DBPath != "" {
		journal, err = db.NewDB(opts.DBPath)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer journal.Close()
		res.RunID, err = journal.RecordRun(ctx, db.RunFromAnalysis(opts.Input, a))
		if err != nil {
			return err
		}
	}

	if err := printResult(stdout, res, opts.JSON); err != nil {
		return err
	}

	if opts.Admin != "" && journal != nil {
		return serveAdmin(ctx, opts.Admin, journal)
	}
	return nil
}

func writeDiagnostics(dir, name string, cfg *config.VitalsConfig, sess *measure.Session, a measure.Analysis) ([]string, error) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	low, high := cfg.GetBandLowHz(), cfg.GetBandHighHz()

	spec, err := dsp.PowerSpectrum(a.Pulse, a.SampleRateHz)
	if err != nil {
		return nil, err
	}
	tp, err := diag.TracePlot(sess.Trace())
	if err != nil {
		return nil, err
	}
	pp, err := diag.PulsePlot(a.Pulse, a.SampleRateHz, a.HRV.Peaks)
	if err != nil {
		return nil, err
	}
	sp, err := diag.SpectrumPlot(spec, low, high, a.Estimate.DominantFrequencyHz)
	if err != nil {
		return nil, err
	}

	var outputs []string
	for _, out := range []struct {
		suffix string
		save   func(string) error
	}{
		{"trace", func(path string) error { return diag.SavePNG(path, tp) }},
		{"pulse", func(path string) error { return diag.SavePNG(path, pp) }},
		{"spectrum", func(path string) error { return diag.SavePNG(path, sp) }},
	} {
		path := filepath.Join(dir, stem+"-"+out.suffix+".png")
		if err := out.save(path); err != nil {
			return nil, err
		}
		outputs = append(outputs, path)
	}

	path := filepath.Join(dir, stem+"-dashboard.html")
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	err = diag.RenderDashboard(f, diag.Dashboard{
		Title:        name,
		SampleRateHz: a.SampleRateHz,
		LowHz:        low,
		HighHz:       high,
		Pulse:        a.Pulse,
		Spectrum:     spec,
		Estimate:     a.Estimate,
		HRV:          a.HRV,
		Report:       a.Report,
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	return append(outputs, path), nil
}

func printResult(w io.Writer, res result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintf(w, "source:      %s (%d samples at %.2f Hz, %s)\n", res.Source, res.Samples, res.SampleRateHz, res.Method)
	fmt.Fprintf(w, "heart rate:  %.1f BPM (%.3f Hz, confidence %.2f, prominence %.1f)\n", res.BPM, res.DominantHz, res.Confidence, res.Prominence)
	fmt.Fprintf(w, "hrv:         RMSSD %.1f ms, SDNN %.1f ms over %d beats\n", res.RMSSDms, res.SDNNms, res.Beats)
	fmt.Fprintf(w, "quality:     %s (%.2f), signal valid: %t\n", res.Grade, res.Quality, res.SignalValid)
	for _, r := range res.Reasons {
		fmt.Fprintf(w, "  - %s\n", r)
	}
	for _, r := range res.Advice {
		fmt.Fprintf(w, "  > %s\n", r)
	}
	for _, o := range res.Outputs {
		fmt.Fprintf(w, "wrote:       %s\n", o)
	}
	if res.RunID != "" {
		fmt.Fprintf(w, "run id:      %s\n", res.RunID)
	}
	return nil
}

func serveAdmin(ctx context.Context, addr string, journal *db.DB) error {
	mux := http.NewServeMux()
	if err := journal.AttachAdminRoutes(mux); err != nil {
		return err
	}
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("admin server shutdown: %v", err)
		}
	}()
	log.Printf("serving journal debug pages on http://%s/debug/", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newLogger(verbose bool) monitoring.Logger {
	if !verbose {
		return monitoring.Nop()
	}
	return monitoring.Std().WithPrefix("vitals-analyse")
}
