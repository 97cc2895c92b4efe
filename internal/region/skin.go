package region

import (
	"image"
	"image/color"

	"github.com/banshee-data/vitals.report/internal/frame"
)

// SkinOptions tunes the colour-based detector.
type SkinOptions struct {
	// Chrominance bounds of the skin cluster in YCbCr.
	CbMin, CbMax uint8
	CrMin, CrMax uint8
	// MinAreaFraction drops blobs smaller than this share of the frame.
	MinAreaFraction float64
	// MinFill drops blobs that cover less than this share of their box.
	MinFill float64
	// MaxSide bounds the analysis grid; larger frames are subsampled.
	MaxSide int
}

// DefaultSkinOptions returns the Chai-Ngan skin cluster
// (Cb 77-127, Cr 133-173).
func DefaultSkinOptions() SkinOptions {
	return SkinOptions{
		CbMin: 77, CbMax: 127,
		CrMin: 133, CrMax: 173,
		MinAreaFraction: 0.01,
		MinFill:         0.4,
		MaxSide:         160,
	}
}

// SkinDetector segments skin-coloured pixels and reports the bounding box
// of each sufficiently large connected blob. It needs no model files and is
// always available.
type SkinDetector struct {
	opts SkinOptions
}

// NewSkinDetector returns a detector with the given options.
func NewSkinDetector(opts SkinOptions) *SkinDetector {
	if opts.MaxSide <= 0 {
		opts.MaxSide = DefaultSkinOptions().MaxSide
	}
	return &SkinDetector{opts: opts}
}

// Name implements Detector.
func (d *SkinDetector) Name() string { return "skin_ycbcr" }

// Close implements Detector.
func (d *SkinDetector) Close() error { return nil }

// Detect implements Detector.
func (d *SkinDetector) Detect(f *frame.Frame) ([]Detection, error) {
	step := 1
	for f.Width/step > d.opts.MaxSide || f.Height/step > d.opts.MaxSide {
		step++
	}
	gw, gh := f.Width/step, f.Height/step
	if gw == 0 || gh == 0 {
		return nil, nil
	}
	mask := make([]bool, gw*gh)
	for gy := 0; gy < gh; gy++ {
		for gx := 0; gx < gw; gx++ {
			r, g, b := f.RGBAt(gx*step, gy*step)
			_, cb, cr := color.RGBToYCbCr(r, g, b)
			mask[gy*gw+gx] = cb >= d.opts.CbMin && cb <= d.opts.CbMax && cr >= d.opts.CrMin && cr <= d.opts.CrMax
		}
	}

	minArea := int(d.opts.MinAreaFraction * float64(gw*gh))
	if minArea < 1 {
		minArea = 1
	}
	var out []Detection
	seen := make([]bool, len(mask))
	queue := make([]int, 0, 64)
	for start := range mask {
		if !mask[start] || seen[start] {
			continue
		}
		// Flood fill one 4-connected blob.
		seen[start] = true
		queue = append(queue[:0], start)
		count := 0
		box := image.Rect(start%gw, start/gw, start%gw+1, start/gw+1)
		for len(queue) > 0 {
			p := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			count++
			x, y := p%gw, p/gw
			box = box.Union(image.Rect(x, y, x+1, y+1))
			for _, n := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				nx, ny := n[0], n[1]
				if nx < 0 || ny < 0 || nx >= gw || ny >= gh {
					continue
				}
				q := ny*gw + nx
				if mask[q] && !seen[q] {
					seen[q] = true
					queue = append(queue, q)
				}
			}
		}
		fill := float64(count) / float64(box.Dx()*box.Dy())
		if count < minArea || fill < d.opts.MinFill {
			continue
		}
		out = append(out, Detection{
			Box:   image.Rect(box.Min.X*step, box.Min.Y*step, box.Max.X*step, box.Max.Y*step).Intersect(f.Bounds()),
			Score: fill,
		})
	}
	return out, nil
}
