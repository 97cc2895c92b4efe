// Command vitals-sim drives a full measurement protocol with synthetic
// camera frames. A face-sized skin patch pulses at the requested heart rate;
// the simulated clock advances one frame period per frame so a protocol runs
// in seconds of wall time.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/vitals.report/internal/config"
	"github.com/banshee-data/vitals.report/internal/db"
	"github.com/banshee-data/vitals.report/internal/frame"
	"github.com/banshee-data/vitals.report/internal/measure"
	"github.com/banshee-data/vitals.report/internal/monitoring"
	"github.com/banshee-data/vitals.report/internal/protocol"
	"github.com/banshee-data/vitals.report/internal/telemetry"
	"github.com/banshee-data/vitals.report/internal/testutil"
	"github.com/banshee-data/vitals.report/internal/timeutil"
	"github.com/banshee-data/vitals.report/internal/version"
)

type options struct {
	ConfigPath string
	Protocol   string
	Method     string
	BPM        float64
	Amplitude  float64
	Noise      float64
	Jitter     float64
	Width      int
	Height     int
	Seed       int64
	DBPath     string
	Verbose    bool
}

func main() {
	var opts options
	flag.StringVar(&opts.ConfigPath, "config", "", "path to a vitals JSON config (defaults are built in)")
	flag.StringVar(&opts.Protocol, "protocol", "", "protocol to run (overrides config)")
	flag.StringVar(&opts.Method, "method", "", "separation method (overrides config)")
	flag.Float64Var(&opts.BPM, "bpm", 72, "simulated heart rate")
	flag.Float64Var(&opts.Amplitude, "amplitude", 0.03, "pulse amplitude relative to skin intensity")
	flag.Float64Var(&opts.Noise, "noise", 0.2, "sensor noise relative to the pulse amplitude")
	flag.Float64Var(&opts.Jitter, "jitter", 0.02, "beat-to-beat rate variation")
	flag.IntVar(&opts.Width, "width", 160, "frame width")
	flag.IntVar(&opts.Height, "height", 120, "frame height")
	flag.Int64Var(&opts.Seed, "seed", 1, "random seed")
	flag.StringVar(&opts.DBPath, "db", "", "sqlite journal to record the protocol session in")
	flag.BoolVar(&opts.Verbose, "v", false, "verbose logging")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, "vitals-sim")
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}()

	if err := run(ctx, opts, os.Stdout); err != nil {
		log.Fatalf("vitals-sim: %v", err)
	}
}

func loadConfig(opts options) (*config.VitalsConfig, error) {
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
	if opts.Protocol != "" {
		cfg.Protocol = &opts.Protocol
	}
	if opts.Method != "" {
		cfg.SeparationMethod = &opts.Method
	}
	return cfg, nil
}

// outcome summarises one simulated protocol.
type outcome struct {
	Frames   int
	Status   protocol.Status
	Summary  *protocol.CompletionSummary
	Last     *measure.Analysis
	Session  *protocol.Session
	Restarts int
}

// faceBox is the centred face rectangle, about 15% of the frame area.
func faceBox(width, height int) image.Rectangle {
	w, h := int(float64(width)*0.38), int(float64(height)*0.4)
	x0, y0 := (width-w)/2, (height-h)/2
	return image.Rect(x0, y0, x0+w, y0+h)
}

func simulate(ctx context.Context, cfg *config.VitalsConfig, opts options, logf monitoring.Logger, progress io.Writer) (outcome, error) {
	fs := cfg.GetSampleRateHz()
	p, ok := protocol.DefaultRegistry.Lookup(cfg.GetProtocol())
	if !ok {
		return outcome{}, fmt.Errorf("unknown protocol %q", cfg.GetProtocol())
	}
	// Leave room for steps whose analysis has to wait for a full window.
	maxFrames := int(math.Ceil((p.TotalDuration().Seconds() + cfg.GetAnalysisWindowSeconds()) * fs * 1.5))

	start := time.Unix(1_700_000_000, 0)
	clock := timeutil.NewMockClock(start)
	sess, err := measure.NewSession(cfg, measure.Options{Clock: clock, Logf: logf})
	if err != nil {
		return outcome{}, err
	}
	defer sess.Close()

	info, err := sess.Start()
	if err != nil {
		return outcome{}, err
	}
	fmt.Fprintf(progress, "protocol %s: %d steps\n", info.ProtocolName, info.TotalSteps)
	fmt.Fprintf(progress, "  step 1/%d %s (%s)\n", info.TotalSteps, info.Step.Name, info.Step.Phase)

	box := faceBox(opts.Width, opts.Height)
	ch := testutil.PulseChannels(testutil.PulseOptions{
		SampleRateHz: fs,
		Samples:      maxFrames,
		HeartRateHz:  opts.BPM / 60,
		Amplitude:    opts.Amplitude,
		Noise:        opts.Noise,
		Jitter:       opts.Jitter,
		Baseline:     [3]float64{float64(testutil.Skin[0]), float64(testutil.Skin[1]), float64(testutil.Skin[2])},
		Seed:         opts.Seed,
	})
	base := testutil.FaceFrame(opts.Width, opts.Height, box, testutil.Skin, 0)
	period := time.Duration(float64(time.Second) / fs)
	checkEvery := max(1, int(fs))

	out := outcome{}
	for i := 0; i < maxFrames; i++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		f := frame.New(opts.Width, opts.Height, start.Add(time.Duration(i)*period))
		copy(f.Pix, base.Pix)
		f.Seq = uint64(i)
		f.Fill(box, clamp8(ch[0][i]), clamp8(ch[1][i]), clamp8(ch[2][i]))

		if _, err := sess.ProcessFrame(ctx, f); err != nil {
			return out, err
		}
		out.Frames++
		clock.Advance(period)

		if (i+1)%checkEvery != 0 {
			continue
		}
		res, advanced, err := sess.AdvanceIfReady(ctx)
		if err != nil {
			return out, err
		}
		if !advanced {
			continue
		}
		if res.Next != nil {
			fmt.Fprintf(progress, "  step %d/%d %s (%s)\n", res.Next.StepIndex+1, res.Next.TotalSteps, res.Next.Step.Name, res.Next.Step.Phase)
		}
		if res.Summary != nil {
			out.Summary = res.Summary
			break
		}
	}

	out.Status = sess.Status().Status
	out.Session = sess.Protocol()
	out.Restarts = sess.Errors().Restarts
	if a, ok := sess.LastAnalysis(); ok {
		out.Last = &a
	}
	if out.Summary == nil && out.Status == protocol.StatusInProgress {
		return out, fmt.Errorf("protocol did not complete within %d frames", maxFrames)
	}
	return out, nil
}

func run(ctx context.Context, opts options, stdout io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logf := newLogger(opts.Verbose)

	out, err := simulate(ctx, cfg, opts, logf, stdout)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "status: %s after %d frames\n", out.Status, out.Frames)
	if s := out.Summary; s != nil {
		fmt.Fprintf(stdout, "summary: quality %.2f, pass rate %.0f%%, required passed %t, %s\n",
			s.OverallQuality, 100*s.PassRate, s.RequiredPassed, s.Duration)
	}
	if a := out.Last; a != nil {
		fmt.Fprintf(stdout, "last analysis: %.1f BPM (simulated %.1f), RMSSD %.1f ms, grade %s\n",
			a.Estimate.BPM, opts.BPM, a.HRV.RMSSDms, a.Report.Grade)
	}

	if opts.DBPath != "" && out.Session != nil {
		journal, err := db.NewDB(opts.DBPath)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer journal.Close()
		if err := journal.RecordProtocolSession(ctx, out.Session); err != nil {
			return err
		}
		if out.Last != nil {
			if _, err := journal.RecordRun(ctx, db.RunFromAnalysis("vitals-sim", *out.Last)); err != nil {
				return err
			}
		}
		fmt.Fprintf(stdout, "journaled session %s\n", out.Session.ID)
	}
	return nil
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

func newLogger(verbose bool) monitoring.Logger {
	if !verbose {
		return monitoring.Nop()
	}
	return monitoring.Std().WithPrefix("vitals-sim")
}
