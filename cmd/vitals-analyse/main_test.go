package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/vitals.report/internal/db"
	"github.com/banshee-data/vitals.report/internal/testutil"
)

func writeTrace(t *testing.T, o testutil.PulseOptions) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, writeTraceCSV(&buf, testutil.PulseTrace(o)))
	path := filepath.Join(t.TempDir(), "trace.csv")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestReadTraceCSV(t *testing.T) {
	in := "# recorded on bench\nt,r,g,b\n0,150,110,90\n0.0333,151,111,91\n\n0.0667, 152, 112, 92\n"
	ct, err := readTraceCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Equal(t, 3, ct.Len())
	assert.Equal(t, 112.0, ct.At(2).G)
	assert.InDelta(t, 0.0667, ct.Duration().Seconds(), 1e-9)
}

func TestReadTraceCSV_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"header only", "t,r,g,b\n"},
		{"short row", "0,1,2\n"},
		{"bad number", "0,1,2,3\n0.1,x,2,3\n"},
		{"non increasing", "0,1,2,3\n0,1,2,3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readTraceCSV(strings.NewReader(tt.in))
			assert.Error(t, err)
		})
	}
}

func TestTraceCSV_RoundTrip(t *testing.T) {
	src := testutil.PulseTrace(testutil.PulseOptions{Samples: 50})
	var buf bytes.Buffer
	require.NoError(t, writeTraceCSV(&buf, src))

	got, err := readTraceCSV(&buf)
	require.NoError(t, err)
	require.Equal(t, src.Len(), got.Len())
	assert.InDelta(t, src.At(49).R, got.At(49).R, 1e-9)
	assert.InDelta(t, src.Duration().Seconds(), got.Duration().Seconds(), 1e-6)
}

func TestBuildConfig(t *testing.T) {
	cfg, err := buildConfig(options{Method: "pca"}, 29.97, 20)
	require.NoError(t, err)
	assert.Equal(t, "pca", cfg.GetSeparationMethod())
	assert.InDelta(t, 29.97, cfg.GetSampleRateHz(), 1e-9)
	assert.Greater(t, cfg.GetAnalysisWindowSeconds(), 20.0)

	cfg, err = buildConfig(options{SampleRate: 25, WindowSec: 8}, 29.97, 20)
	require.NoError(t, err)
	assert.Equal(t, 25.0, cfg.GetSampleRateHz())
	assert.Equal(t, 8.0, cfg.GetAnalysisWindowSeconds())

	_, err = buildConfig(options{}, 0, 0)
	assert.Error(t, err)

	t.Setenv("VITALS_PROTOCOL", "standard")
	cfg, err = buildConfig(options{}, 30, 20)
	require.NoError(t, err)
	assert.Equal(t, "standard", cfg.GetProtocol())
}

func TestRun_Text(t *testing.T) {
	input := writeTrace(t, testutil.PulseOptions{Samples: 600, Noise: 0.2, Seed: 3})
	outDir := filepath.Join(t.TempDir(), "out")
	dbPath := filepath.Join(t.TempDir(), "journal.db")

	var stdout bytes.Buffer
	err := run(context.Background(), options{Input: input, OutDir: outDir, DBPath: dbPath}, &stdout)
	require.NoError(t, err)

	out := stdout.String()
	assert.Contains(t, out, "heart rate:")
	assert.Contains(t, out, "run id:")
	for _, name := range []string{"trace-trace.png", "trace-pulse.png", "trace-spectrum.png", "trace-dashboard.html"} {
		_, err := os.Stat(filepath.Join(outDir, name))
		assert.NoError(t, err, name)
	}

	journal, err := db.NewDB(dbPath)
	require.NoError(t, err)
	defer journal.Close()
	runs, err := journal.Runs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.InDelta(t, 72, runs[0].BPM, 3)
	assert.Equal(t, "chrom", runs[0].Method)
}

func TestRun_JSON(t *testing.T) {
	input := writeTrace(t, testutil.PulseOptions{Samples: 600, HeartRateHz: 1.5, Seed: 5})

	for _, method := range []string{"chrom", "pca", "max_power_pca", "ica"} {
		t.Run(method, func(t *testing.T) {
			var stdout bytes.Buffer
			require.NoError(t, run(context.Background(), options{Input: input, Method: method, JSON: true}, &stdout))

			var res result
			require.NoError(t, json.Unmarshal(stdout.Bytes(), &res))
			assert.Equal(t, method, res.Method)
			assert.Equal(t, 600, res.Samples)
			assert.InDelta(t, 90, res.BPM, 3)
			assert.Empty(t, res.RunID)
		})
	}
}

func TestRun_Errors(t *testing.T) {
	ctx := context.Background()
	var stdout bytes.Buffer

	err := run(ctx, options{Input: filepath.Join(t.TempDir(), "missing.csv")}, &stdout)
	assert.Error(t, err)

	short := writeTrace(t, testutil.PulseOptions{Samples: 10})
	err = run(ctx, options{Input: short}, &stdout)
	assert.Error(t, err)

	input := writeTrace(t, testutil.PulseOptions{Samples: 300})
	err = run(ctx, options{Input: input, Method: "wavelet"}, &stdout)
	assert.Error(t, err)
	assert.Zero(t, stdout.Len())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	flags, out := log.Flags(), log.Writer()
	log.SetFlags(0)
	log.SetOutput(&buf)
	t.Cleanup(func() {
		log.SetFlags(flags)
		log.SetOutput(out)
	})

	newLogger(false).Logf("dropped")
	assert.Zero(t, buf.Len())

	newLogger(true).Logf("analysed %d samples", 600)
	assert.Equal(t, "[vitals-analyse] analysed 600 samples\n", buf.String())
}
