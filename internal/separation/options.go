package separation

import (
	"github.com/banshee-data/vitals.report/internal/config"
	"github.com/banshee-data/vitals.report/internal/dsp"
	"github.com/banshee-data/vitals.report/internal/monitoring"
)

// Options configures every separator built by a Selector.
type Options struct {
	SampleRateHz float64
	LowHz        float64
	HighHz       float64
	PCASelection Selection // used by MethodPCA; MethodMaxPowerPCA always uses SelectMaxPower
	Seed         int64     // FastICA initialisation
	MaxIter      int       // FastICA iterations per component
	Logf         monitoring.Logger
}

// DefaultOptions returns the canonical 30 Hz, 0.7-4.0 Hz configuration.
func DefaultOptions() Options {
	return Options{
		SampleRateHz: 30,
		LowHz:        dsp.DefaultLowHz,
		HighHz:       dsp.DefaultHighHz,
		PCASelection: SelectMaxPower,
		Seed:         1,
		MaxIter:      200,
		Logf:         monitoring.Nop(),
	}
}

// OptionsFromConfig builds Options from the engine configuration.
func OptionsFromConfig(cfg *config.VitalsConfig) Options {
	o := DefaultOptions()
	o.SampleRateHz = cfg.GetSampleRateHz()
	o.LowHz = cfg.GetBandLowHz()
	o.HighHz = cfg.GetBandHighHz()
	o.PCASelection = Selection(cfg.GetPCASelection())
	return o
}
