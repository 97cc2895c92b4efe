//go:build !gocv

package region

import (
	"fmt"

	"github.com/banshee-data/vitals.report/internal/frame"
)

// CascadeAvailable reports whether this binary was built with OpenCV.
const CascadeAvailable = false

// CascadeDetector is unavailable without the gocv build tag.
type CascadeDetector struct{}

// NewCascadeDetector always fails in builds without OpenCV.
func NewCascadeDetector(path string) (*CascadeDetector, error) {
	return nil, fmt.Errorf("load cascade %q: %w (build with -tags gocv)", path, ErrCascadeUnavailable)
}

// Name implements Detector.
func (d *CascadeDetector) Name() string { return "haar_cascade" }

// Detect implements Detector.
func (d *CascadeDetector) Detect(*frame.Frame) ([]Detection, error) {
	return nil, ErrCascadeUnavailable
}

// Close implements Detector.
func (d *CascadeDetector) Close() error { return nil }
