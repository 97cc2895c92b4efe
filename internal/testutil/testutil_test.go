package testutil

import (
	"image"
	"math"
	"testing"
)

func TestPulseChannels_Shape(t *testing.T) {
	ch := PulseChannels(PulseOptions{Samples: 90})
	if len(ch) != 3 {
		t.Fatalf("channels = %d, want 3", len(ch))
	}
	for c := range ch {
		if len(ch[c]) != 90 {
			t.Fatalf("channel %d len = %d, want 90", c, len(ch[c]))
		}
	}
	// Noise-free pulse stays within baseline ± amplitude.
	for _, v := range ch[1] {
		if math.Abs(v-110) > 110*0.01+1e-9 {
			t.Fatalf("green sample %g outside pulse envelope", v)
		}
	}
	rows := Transpose(ch)
	if len(rows) != 90 || len(rows[0]) != 3 {
		t.Fatalf("Transpose shape = %dx%d", len(rows), len(rows[0]))
	}
}

func TestPulseChannels_Deterministic(t *testing.T) {
	a := PulseChannels(PulseOptions{Noise: 0.5, Seed: 9})
	b := PulseChannels(PulseOptions{Noise: 0.5, Seed: 9})
	for c := range a {
		for i := range a[c] {
			if a[c][i] != b[c][i] {
				t.Fatalf("seeded traces differ at [%d][%d]", c, i)
			}
		}
	}
}

func TestPulseTrace_Timestamps(t *testing.T) {
	ct := PulseTrace(PulseOptions{Samples: 31, SampleRateHz: 30})
	if ct.Len() != 31 {
		t.Fatalf("Len = %d", ct.Len())
	}
	if rate := ct.EffectiveRate(); math.Abs(rate-30) > 0.01 {
		t.Errorf("EffectiveRate = %g, want 30", rate)
	}
}

func TestPulseFrames(t *testing.T) {
	box := image.Rect(40, 30, 90, 100)
	frames := PulseFrames(160, 120, box, PulseOptions{Samples: 5})
	if len(frames) != 5 {
		t.Fatalf("frames = %d", len(frames))
	}
	r, g, b := frames[0].RGBAt(60, 60)
	if int(r) < 190 || int(g) < 140 || int(b) < 110 {
		t.Errorf("face pixel = %d,%d,%d, want near skin tone", r, g, b)
	}
	if frames[4].Seq != 4 {
		t.Errorf("Seq = %d, want 4", frames[4].Seq)
	}
}
