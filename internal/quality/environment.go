package quality

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/vitals.report/internal/frame"
)

const (
	reasonLowLight    = "low light"
	reasonOverexposed = "overexposed, too bright"
	reasonLowContrast = "low contrast"
	reasonNoisy       = "image too noisy"
)

// Bilateral filter parameters for the noise estimate: a 5x5 neighbourhood
// whose colour kernel keeps genuine edges and smooths sensor noise.
const (
	bilateralRadius     = 2
	bilateralSigmaSpace = 3.0
	bilateralSigmaColor = 50.0
)

// maxNoiseSide bounds the plane the noise estimate runs on; larger frames
// are subsampled.
const maxNoiseSide = 320

// ValidateEnvironment scores mean brightness, contrast and sensor noise of
// the whole frame.
func (v *Validator) ValidateEnvironment(f *frame.Frame) Score {
	s := Score{Check: CheckEnvironment, Metrics: map[string]float64{}}
	if f.Empty() {
		s.Reasons = []string{reasonLowLight}
		s.Recommendation = "Check that the camera is delivering frames"
		return s
	}
	gray := f.Gray()
	brightness, contrast := stat.PopMeanStdDev(gray, nil)
	noise := estimateNoise(gray, f.Width, f.Height)

	s.Metrics["brightness"] = brightness
	s.Metrics["contrast"] = contrast
	s.Metrics["noise"] = noise

	switch {
	case brightness < v.opts.BrightnessMin:
		s.Reasons = append(s.Reasons, reasonLowLight)
		s.Recommendation = "Improve lighting: move to a brighter area or turn on a light"
	case brightness > v.opts.BrightnessMax:
		s.Reasons = append(s.Reasons, reasonOverexposed)
		s.Recommendation = "Reduce direct light or move away from bright light sources"
	}
	if contrast < v.opts.ContrastMin {
		s.Reasons = append(s.Reasons, reasonLowContrast)
		if s.Recommendation == "" {
			s.Recommendation = "Improve lighting contrast on your face"
		}
	}
	if noise > v.opts.NoiseMax {
		s.Reasons = append(s.Reasons, reasonNoisy)
		if s.Recommendation == "" {
			s.Recommendation = "Improve lighting to reduce camera noise"
		}
	}

	ideal := (v.opts.BrightnessMin + v.opts.BrightnessMax) / 2
	half := (v.opts.BrightnessMax - v.opts.BrightnessMin) / 2
	brightnessScore := clamp01(1 - math.Abs(brightness-ideal)/(2*half))
	contrastScore := clamp01(contrast / (2 * v.opts.ContrastMin))
	noiseScore := clamp01(1 - noise/(2*v.opts.NoiseMax))
	s.Metrics["brightness_score"] = brightnessScore
	s.Metrics["contrast_score"] = contrastScore
	s.Metrics["noise_score"] = noiseScore
	s.Confidence = mean(brightnessScore, contrastScore, noiseScore)

	s.Valid = len(s.Reasons) == 0
	if s.Valid {
		s.Recommendation = "Lighting conditions are good"
	}
	return s
}

// estimateNoise returns mean |gray - bilateral(gray)| over the (possibly
// subsampled) plane.
func estimateNoise(gray []float64, w, h int) float64 {
	step := 1
	for w/step > maxNoiseSide || h/step > maxNoiseSide {
		step++
	}
	sw, sh := w/step, h/step
	if sw == 0 || sh == 0 {
		return 0
	}
	plane := make([]float64, sw*sh)
	for y := 0; y < sh; y++ {
		for x := 0; x < sw; x++ {
			plane[y*sw+x] = gray[(y*step)*w+x*step]
		}
	}
	smoothed := bilateral(plane, sw, sh)
	var sum float64
	for i := range plane {
		sum += math.Abs(plane[i] - smoothed[i])
	}
	return sum / float64(len(plane))
}

var spatialKernel = func() [2*bilateralRadius + 1][2*bilateralRadius + 1]float64 {
	var k [2*bilateralRadius + 1][2*bilateralRadius + 1]float64
	for dy := -bilateralRadius; dy <= bilateralRadius; dy++ {
		for dx := -bilateralRadius; dx <= bilateralRadius; dx++ {
			d2 := float64(dx*dx + dy*dy)
			k[dy+bilateralRadius][dx+bilateralRadius] = math.Exp(-d2 / (2 * bilateralSigmaSpace * bilateralSigmaSpace))
		}
	}
	return k
}()

// bilateral is an edge-preserving smoothing filter on a gray plane.
func bilateral(src []float64, w, h int) []float64 {
	out := make([]float64, len(src))
	colorDen := 2 * bilateralSigmaColor * bilateralSigmaColor
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := src[y*w+x]
			var num, den float64
			for dy := -bilateralRadius; dy <= bilateralRadius; dy++ {
				yy := y + dy
				if yy < 0 || yy >= h {
					continue
				}
				for dx := -bilateralRadius; dx <= bilateralRadius; dx++ {
					xx := x + dx
					if xx < 0 || xx >= w {
						continue
					}
					p := src[yy*w+xx]
					d := p - c
					wt := spatialKernel[dy+bilateralRadius][dx+bilateralRadius] * math.Exp(-d*d/colorDen)
					num += wt * p
					den += wt
				}
			}
			out[y*w+x] = num / den
		}
	}
	return out
}
