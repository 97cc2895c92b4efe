//go:build gocv

package region

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"github.com/banshee-data/vitals.report/internal/frame"
)

// CascadeAvailable reports whether this binary was built with OpenCV.
const CascadeAvailable = true

// CascadeDetector finds frontal faces with an OpenCV Haar cascade.
type CascadeDetector struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
}

// NewCascadeDetector loads the cascade XML at path.
func NewCascadeDetector(path string) (*CascadeDetector, error) {
	c := gocv.NewCascadeClassifier()
	if !c.Load(path) {
		c.Close()
		return nil, fmt.Errorf("load cascade %q: %w", path, ErrCascadeUnavailable)
	}
	return &CascadeDetector{classifier: c}, nil
}

// Name implements Detector.
func (d *CascadeDetector) Name() string { return "haar_cascade" }

// Detect implements Detector.
func (d *CascadeDetector) Detect(f *frame.Frame) ([]Detection, error) {
	img, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Pix)
	if err != nil {
		return nil, fmt.Errorf("wrap frame: %w", err)
	}
	defer img.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorRGBToGray)

	// The classifier is not safe for concurrent use.
	d.mu.Lock()
	rects := d.classifier.DetectMultiScale(gray)
	d.mu.Unlock()

	out := make([]Detection, len(rects))
	for i, r := range rects {
		out[i] = Detection{Box: r, Score: 1}
	}
	return out, nil
}

// Close implements Detector.
func (d *CascadeDetector) Close() error {
	return d.classifier.Close()
}
