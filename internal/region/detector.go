package region

import (
	"errors"

	"github.com/banshee-data/vitals.report/internal/config"
	"github.com/banshee-data/vitals.report/internal/monitoring"
)

// ErrCascadeUnavailable is returned when the Haar cascade backend cannot be used.
var ErrCascadeUnavailable = errors.New("haar cascade detector unavailable")

// NewDetectorFromConfig returns the Haar cascade detector when a cascade
// path is configured and OpenCV is linked in, and the skin detector
// otherwise.
func NewDetectorFromConfig(cfg *config.VitalsConfig, logf monitoring.Logger) Detector {
	if path := cfg.GetCascadePath(); path != "" {
		det, err := NewCascadeDetector(path)
		if err == nil {
			return det
		}
		logf.Logf("region: falling back to skin detector: %v", err)
	}
	return NewSkinDetector(DefaultSkinOptions())
}

// NewTrackerFromConfig wires the configured detector into a Tracker.
func NewTrackerFromConfig(cfg *config.VitalsConfig, logf monitoring.Logger) *Tracker {
	opts := DefaultOptions()
	if logf != nil {
		opts.Logf = logf
	}
	return NewTracker(NewDetectorFromConfig(cfg, opts.Logf), opts)
}
