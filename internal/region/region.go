// Package region locates the skin region of a frame and reports the
// sub-region the colour trace is sampled from. Finding nothing is a normal
// outcome: the tracker then falls back to a fixed centre crop.
package region

import (
	"image"
	"sort"

	"github.com/banshee-data/vitals.report/internal/frame"
	"github.com/banshee-data/vitals.report/internal/monitoring"
)

// Landmark is a named facial keypoint in frame pixel coordinates.
type Landmark struct {
	Name string  `json:"name"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// Detection is one candidate region reported by a Detector.
type Detection struct {
	Box       image.Rectangle
	Score     float64 // detector confidence in [0, 1]
	Landmarks []Landmark
}

// Detector finds candidate skin regions in a frame. Implementations may
// keep read-only model state; Detect must not mutate it per frame.
type Detector interface {
	// Name identifies the backend in results and logs.
	Name() string
	// Detect returns every candidate region. An empty slice means nothing
	// was found and is not an error.
	Detect(f *frame.Frame) ([]Detection, error)
	// Close releases any resources held by the detector.
	Close() error
}

// BackendCenterCrop is reported when the fallback region was used.
const BackendCenterCrop = "center_crop"

// Result describes the region found in one frame.
type Result struct {
	Detected   bool
	Fallback   bool
	Backend    string
	Box        image.Rectangle   // primary region, or the centre crop
	Candidates []image.Rectangle // every detected box, largest first
	Landmarks  []Landmark
	Forehead   image.Rectangle // sampling sub-region inside Box
	Score      float64
}

// ROI returns the rectangle the trace sample is averaged over.
func (r Result) ROI() image.Rectangle {
	if !r.Forehead.Empty() {
		return r.Forehead
	}
	return r.Box
}

// Options configures a Tracker.
type Options struct {
	// CenterCropFraction is the width and height of the fallback crop as a
	// fraction of the frame.
	CenterCropFraction float64
	Logf               monitoring.Logger
}

// DefaultOptions returns a half-frame centre crop and a silent logger.
func DefaultOptions() Options {
	return Options{CenterCropFraction: 0.5, Logf: monitoring.Nop()}
}

// Tracker runs one Detector and derives the sampling region.
type Tracker struct {
	det  Detector
	opts Options
}

// NewTracker returns a tracker. A nil detector always yields the fallback.
func NewTracker(det Detector, opts Options) *Tracker {
	if opts.CenterCropFraction <= 0 || opts.CenterCropFraction > 1 {
		opts.CenterCropFraction = DefaultOptions().CenterCropFraction
	}
	return &Tracker{det: det, opts: opts}
}

// Backend returns the detector name, or BackendCenterCrop without one.
func (t *Tracker) Backend() string {
	if t.det == nil {
		return BackendCenterCrop
	}
	return t.det.Name()
}

// Track finds the primary region in f. It never fails: detector errors are
// logged and treated like an empty detection.
func (t *Tracker) Track(f *frame.Frame) Result {
	if f.Empty() {
		return Result{Fallback: true, Backend: BackendCenterCrop}
	}
	var dets []Detection
	if t.det != nil {
		var err error
		dets, err = t.det.Detect(f)
		if err != nil {
			t.opts.Logf.Logf("region: %s detector failed on frame %d: %v", t.det.Name(), f.Seq, err)
			dets = nil
		}
	}

	bounds := f.Bounds()
	var kept []Detection
	for _, d := range dets {
		if box := d.Box.Intersect(bounds); !box.Empty() {
			d.Box = box
			kept = append(kept, d)
		}
	}
	if len(kept) == 0 {
		crop := CenterCrop(bounds, t.opts.CenterCropFraction)
		return Result{
			Fallback: true,
			Backend:  BackendCenterCrop,
			Box:      crop,
			Forehead: ForeheadBand(crop),
		}
	}

	sort.SliceStable(kept, func(i, j int) bool { return area(kept[i].Box) > area(kept[j].Box) })
	primary := kept[0]
	res := Result{
		Detected:   true,
		Backend:    t.det.Name(),
		Box:        primary.Box,
		Landmarks:  primary.Landmarks,
		Forehead:   ForeheadBand(primary.Box),
		Score:      primary.Score,
		Candidates: make([]image.Rectangle, len(kept)),
	}
	for i, d := range kept {
		res.Candidates[i] = d.Box
	}
	return res
}

// Sample tracks f and averages each channel over the result's ROI.
func (t *Tracker) Sample(f *frame.Frame) (r, g, b float64, res Result) {
	res = t.Track(f)
	r, g, b, _ = f.MeanRGB(res.ROI())
	return r, g, b, res
}

// Close releases the detector.
func (t *Tracker) Close() error {
	if t.det == nil {
		return nil
	}
	return t.det.Close()
}

// ForeheadBand returns the upper-forehead band of a face box: the rows
// between 10% and 30% of its height, across the central 60% of its width.
func ForeheadBand(box image.Rectangle) image.Rectangle {
	w, h := box.Dx(), box.Dy()
	band := image.Rect(
		box.Min.X+w*2/10,
		box.Min.Y+h/10,
		box.Min.X+w*8/10,
		box.Min.Y+h*3/10,
	)
	if band.Empty() {
		return box
	}
	return band
}

// CenterCrop returns the centred rectangle covering fraction of each
// dimension of bounds.
func CenterCrop(bounds image.Rectangle, fraction float64) image.Rectangle {
	w := int(float64(bounds.Dx()) * fraction)
	h := int(float64(bounds.Dy()) * fraction)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	x0 := bounds.Min.X + (bounds.Dx()-w)/2
	y0 := bounds.Min.Y + (bounds.Dy()-h)/2
	return image.Rect(x0, y0, x0+w, y0+h)
}

func area(r image.Rectangle) int { return r.Dx() * r.Dy() }
