package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// DefaultConfigPath is the path to the canonical measurement defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/vitals.defaults.json"

// EnvPrefix prefixes every environment override, e.g. VITALS_SAMPLE_RATE_HZ.
const EnvPrefix = "VITALS_"

// VitalsConfig represents the root configuration for a measurement engine.
// Every field is optional; the Get* accessors supply the canonical default
// for anything left unset, so partial files and overrides are safe.
type VitalsConfig struct {
	// Acquisition
	SampleRateHz *float64 `json:"sample_rate_hz,omitempty" env:"SAMPLE_RATE_HZ"`

	// Physiological bounds
	MinBPM     *float64 `json:"min_bpm,omitempty" env:"MIN_BPM"`
	MaxBPM     *float64 `json:"max_bpm,omitempty" env:"MAX_BPM"`
	BandLowHz  *float64 `json:"band_low_hz,omitempty" env:"BAND_LOW_HZ"`
	BandHighHz *float64 `json:"band_high_hz,omitempty" env:"BAND_HIGH_HZ"`

	// Source separation
	SeparationMethod     *string `json:"separation_method,omitempty" env:"SEPARATION_METHOD"`         // chrom, pca, max_power_pca, ica
	PCASelection         *string `json:"pca_selection,omitempty" env:"PCA_SELECTION"`                 // first, max_power
	DecompositionBackend *string `json:"decomposition_backend,omitempty" env:"DECOMPOSITION_BACKEND"` // gonum, none

	// Protocol
	Protocol *string `json:"protocol,omitempty" env:"PROTOCOL"`

	// Analysis
	AnalysisWindowSeconds   *float64 `json:"analysis_window_seconds,omitempty" env:"ANALYSIS_WINDOW_SECONDS"`
	HRVMinPeakDistanceSec   *float64 `json:"hrv_min_peak_distance_seconds,omitempty" env:"HRV_MIN_PEAK_DISTANCE_SECONDS"`
	MinSignalDurationSec    *float64 `json:"min_signal_duration_seconds,omitempty" env:"MIN_SIGNAL_DURATION_SECONDS"`
	SignalQualityThreshold  *float64 `json:"signal_quality_threshold,omitempty" env:"SIGNAL_QUALITY_THRESHOLD"`
	MaxSignalMotion         *float64 `json:"max_signal_motion,omitempty" env:"MAX_SIGNAL_MOTION"`
	MinSignalStrength       *float64 `json:"min_signal_strength,omitempty" env:"MIN_SIGNAL_STRENGTH"`
	EnvironmentCheckEveryN  *int     `json:"environment_check_every_n,omitempty" env:"ENVIRONMENT_CHECK_EVERY_N"`
	ErrorHistoryLimit       *int     `json:"error_history_limit,omitempty" env:"ERROR_HISTORY_LIMIT"`
	FaceMinAreaRatio        *float64 `json:"face_min_area_ratio,omitempty" env:"FACE_MIN_AREA_RATIO"`
	FaceMaxAreaRatio        *float64 `json:"face_max_area_ratio,omitempty" env:"FACE_MAX_AREA_RATIO"`
	FaceIdealAreaRatio      *float64 `json:"face_ideal_area_ratio,omitempty" env:"FACE_IDEAL_AREA_RATIO"`
	FaceMaxCenterOffset     *float64 `json:"face_max_center_offset,omitempty" env:"FACE_MAX_CENTER_OFFSET"`
	BrightnessMin           *float64 `json:"brightness_min,omitempty" env:"BRIGHTNESS_MIN"`
	BrightnessMax           *float64 `json:"brightness_max,omitempty" env:"BRIGHTNESS_MAX"`
	ContrastMin             *float64 `json:"contrast_min,omitempty" env:"CONTRAST_MIN"`
	NoiseMax                *float64 `json:"noise_max,omitempty" env:"NOISE_MAX"`
	CascadePath             *string  `json:"cascade_path,omitempty" env:"CASCADE_PATH"`
	StepAdvanceMinQuality   *float64 `json:"step_advance_min_quality,omitempty" env:"STEP_ADVANCE_MIN_QUALITY"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyVitalsConfig returns a VitalsConfig with all fields set to nil.
// Use LoadVitalsConfig to load actual values from the defaults file.
func EmptyVitalsConfig() *VitalsConfig {
	return &VitalsConfig{}
}

// DefaultVitalsConfig returns a VitalsConfig with every field populated from
// the built-in defaults. It does not touch the filesystem.
func DefaultVitalsConfig() *VitalsConfig {
	e := EmptyVitalsConfig()
	return &VitalsConfig{
		SampleRateHz:           ptrFloat64(e.GetSampleRateHz()),
		MinBPM:                 ptrFloat64(e.GetMinBPM()),
		MaxBPM:                 ptrFloat64(e.GetMaxBPM()),
		BandLowHz:              ptrFloat64(e.GetBandLowHz()),
		BandHighHz:             ptrFloat64(e.GetBandHighHz()),
		SeparationMethod:       ptrString(e.GetSeparationMethod()),
		PCASelection:           ptrString(e.GetPCASelection()),
		DecompositionBackend:   ptrString(e.GetDecompositionBackend()),
		Protocol:               ptrString(e.GetProtocol()),
		AnalysisWindowSeconds:  ptrFloat64(e.GetAnalysisWindowSeconds()),
		HRVMinPeakDistanceSec:  ptrFloat64(e.GetHRVMinPeakDistanceSec()),
		MinSignalDurationSec:   ptrFloat64(e.GetMinSignalDurationSec()),
		SignalQualityThreshold: ptrFloat64(e.GetSignalQualityThreshold()),
		MaxSignalMotion:        ptrFloat64(e.GetMaxSignalMotion()),
		MinSignalStrength:      ptrFloat64(e.GetMinSignalStrength()),
		EnvironmentCheckEveryN: ptrInt(e.GetEnvironmentCheckEveryN()),
		ErrorHistoryLimit:      ptrInt(e.GetErrorHistoryLimit()),
		FaceMinAreaRatio:       ptrFloat64(e.GetFaceMinAreaRatio()),
		FaceMaxAreaRatio:       ptrFloat64(e.GetFaceMaxAreaRatio()),
		FaceIdealAreaRatio:     ptrFloat64(e.GetFaceIdealAreaRatio()),
		FaceMaxCenterOffset:    ptrFloat64(e.GetFaceMaxCenterOffset()),
		BrightnessMin:          ptrFloat64(e.GetBrightnessMin()),
		BrightnessMax:          ptrFloat64(e.GetBrightnessMax()),
		ContrastMin:            ptrFloat64(e.GetContrastMin()),
		NoiseMax:               ptrFloat64(e.GetNoiseMax()),
		CascadePath:            ptrString(e.GetCascadePath()),
		StepAdvanceMinQuality:  ptrFloat64(e.GetStepAdvanceMinQuality()),
	}
}

// LoadVitalsConfig loads a VitalsConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadVitalsConfig(path string) (*VitalsConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyVitalsConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overlays VITALS_* environment variables onto cfg and re-validates.
// Variables that are not set leave the corresponding field untouched.
func (c *VitalsConfig) ApplyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration from env: %w", err)
	}
	return nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *VitalsConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,       // from cmd/<tool>/
		"../../" + DefaultConfigPath,    // from internal/<pkg>/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadVitalsConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

var (
	validMethods    = map[string]bool{"chrom": true, "pca": true, "max_power_pca": true, "ica": true}
	validSelections = map[string]bool{"first": true, "max_power": true}
	validBackends   = map[string]bool{"gonum": true, "none": true}
)

// Validate checks that the configuration values are valid.
func (c *VitalsConfig) Validate() error {
	if c.SampleRateHz != nil && *c.SampleRateHz <= 0 {
		return fmt.Errorf("sample_rate_hz must be positive, got %f", *c.SampleRateHz)
	}

	minBPM, maxBPM := c.GetMinBPM(), c.GetMaxBPM()
	if minBPM <= 0 || maxBPM <= minBPM {
		return fmt.Errorf("bpm range must satisfy 0 < min_bpm < max_bpm, got [%g, %g]", minBPM, maxBPM)
	}

	low, high := c.GetBandLowHz(), c.GetBandHighHz()
	if low <= 0 || high <= low {
		return fmt.Errorf("band must satisfy 0 < band_low_hz < band_high_hz, got [%g, %g]", low, high)
	}
	if nyquist := c.GetSampleRateHz() / 2; high >= nyquist {
		return fmt.Errorf("band_high_hz %g must be below the Nyquist frequency %g", high, nyquist)
	}

	if c.SeparationMethod != nil && !validMethods[*c.SeparationMethod] {
		return fmt.Errorf("unknown separation_method %q", *c.SeparationMethod)
	}
	if c.PCASelection != nil && !validSelections[*c.PCASelection] {
		return fmt.Errorf("unknown pca_selection %q", *c.PCASelection)
	}
	if c.DecompositionBackend != nil && !validBackends[*c.DecompositionBackend] {
		return fmt.Errorf("unknown decomposition_backend %q", *c.DecompositionBackend)
	}

	for name, v := range map[string]*float64{
		"signal_quality_threshold": c.SignalQualityThreshold,
		"step_advance_min_quality": c.StepAdvanceMinQuality,
		"face_min_area_ratio":      c.FaceMinAreaRatio,
		"face_max_area_ratio":      c.FaceMaxAreaRatio,
		"face_ideal_area_ratio":    c.FaceIdealAreaRatio,
		"face_max_center_offset":   c.FaceMaxCenterOffset,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
		}
	}
	if c.GetFaceMinAreaRatio() >= c.GetFaceMaxAreaRatio() {
		return fmt.Errorf("face_min_area_ratio must be below face_max_area_ratio")
	}
	if c.GetBrightnessMin() >= c.GetBrightnessMax() {
		return fmt.Errorf("brightness_min must be below brightness_max")
	}

	if c.AnalysisWindowSeconds != nil && *c.AnalysisWindowSeconds <= 0 {
		return fmt.Errorf("analysis_window_seconds must be positive, got %f", *c.AnalysisWindowSeconds)
	}
	if c.MinSignalDurationSec != nil && *c.MinSignalDurationSec <= 0 {
		return fmt.Errorf("min_signal_duration_seconds must be positive, got %f", *c.MinSignalDurationSec)
	}
	if c.HRVMinPeakDistanceSec != nil && *c.HRVMinPeakDistanceSec <= 0 {
		return fmt.Errorf("hrv_min_peak_distance_seconds must be positive, got %f", *c.HRVMinPeakDistanceSec)
	}
	if c.EnvironmentCheckEveryN != nil && *c.EnvironmentCheckEveryN < 1 {
		return fmt.Errorf("environment_check_every_n must be at least 1, got %d", *c.EnvironmentCheckEveryN)
	}

	return nil
}

// GetSampleRateHz returns the camera frame rate in Hz.
func (c *VitalsConfig) GetSampleRateHz() float64 {
	if c.SampleRateHz == nil {
		return 30.0
	}
	return *c.SampleRateHz
}

// GetMinBPM returns the lowest heart rate reported by the estimator.
func (c *VitalsConfig) GetMinBPM() float64 {
	if c.MinBPM == nil {
		return 40.0
	}
	return *c.MinBPM
}

// GetMaxBPM returns the highest heart rate reported by the estimator.
func (c *VitalsConfig) GetMaxBPM() float64 {
	if c.MaxBPM == nil {
		return 180.0
	}
	return *c.MaxBPM
}

// GetBandLowHz returns the bandpass lower edge (0.7 Hz = 42 BPM).
func (c *VitalsConfig) GetBandLowHz() float64 {
	if c.BandLowHz == nil {
		return 0.7
	}
	return *c.BandLowHz
}

// GetBandHighHz returns the bandpass upper edge (4.0 Hz = 240 BPM).
func (c *VitalsConfig) GetBandHighHz() float64 {
	if c.BandHighHz == nil {
		return 4.0
	}
	return *c.BandHighHz
}

// GetSeparationMethod returns the configured source separation method.
func (c *VitalsConfig) GetSeparationMethod() string {
	if c.SeparationMethod == nil {
		return "chrom"
	}
	return *c.SeparationMethod
}

// GetPCASelection returns the PCA component selection strategy.
func (c *VitalsConfig) GetPCASelection() string {
	if c.PCASelection == nil {
		return "max_power"
	}
	return *c.PCASelection
}

// GetDecompositionBackend returns the decomposition backend name.
func (c *VitalsConfig) GetDecompositionBackend() string {
	if c.DecompositionBackend == nil {
		return "gonum"
	}
	return *c.DecompositionBackend
}

// GetProtocol returns the protocol name to run.
func (c *VitalsConfig) GetProtocol() string {
	if c.Protocol == nil {
		return "quick_check"
	}
	return *c.Protocol
}

// GetAnalysisWindowSeconds returns the trailing trace window analysed at a boundary.
func (c *VitalsConfig) GetAnalysisWindowSeconds() float64 {
	if c.AnalysisWindowSeconds == nil {
		return 20.0
	}
	return *c.AnalysisWindowSeconds
}

// GetHRVMinPeakDistanceSec returns the refractory distance between beats.
func (c *VitalsConfig) GetHRVMinPeakDistanceSec() float64 {
	if c.HRVMinPeakDistanceSec == nil {
		return 0.4
	}
	return *c.HRVMinPeakDistanceSec
}

// GetMinSignalDurationSec returns the minimum trace duration for the signal check.
func (c *VitalsConfig) GetMinSignalDurationSec() float64 {
	if c.MinSignalDurationSec == nil {
		return 10.0
	}
	return *c.MinSignalDurationSec
}

// GetSignalQualityThreshold returns the confidence needed for a valid signal.
func (c *VitalsConfig) GetSignalQualityThreshold() float64 {
	if c.SignalQualityThreshold == nil {
		return 0.7
	}
	return *c.SignalQualityThreshold
}

// GetMaxSignalMotion returns the motion level above which a signal is invalid.
func (c *VitalsConfig) GetMaxSignalMotion() float64 {
	if c.MaxSignalMotion == nil {
		return 0.15
	}
	return *c.MaxSignalMotion
}

// GetMinSignalStrength returns the strength ratio below which a signal is invalid.
func (c *VitalsConfig) GetMinSignalStrength() float64 {
	if c.MinSignalStrength == nil {
		return 0.3
	}
	return *c.MinSignalStrength
}

// GetEnvironmentCheckEveryN returns how often (in frames) lighting is re-checked.
func (c *VitalsConfig) GetEnvironmentCheckEveryN() int {
	if c.EnvironmentCheckEveryN == nil {
		return 15
	}
	return *c.EnvironmentCheckEveryN
}

// GetErrorHistoryLimit returns the classifier history size.
func (c *VitalsConfig) GetErrorHistoryLimit() int {
	if c.ErrorHistoryLimit == nil {
		return 100
	}
	return *c.ErrorHistoryLimit
}

// GetFaceMinAreaRatio returns the smallest acceptable region/frame area ratio.
func (c *VitalsConfig) GetFaceMinAreaRatio() float64 {
	if c.FaceMinAreaRatio == nil {
		return 0.05
	}
	return *c.FaceMinAreaRatio
}

// GetFaceMaxAreaRatio returns the largest acceptable region/frame area ratio.
func (c *VitalsConfig) GetFaceMaxAreaRatio() float64 {
	if c.FaceMaxAreaRatio == nil {
		return 0.80
	}
	return *c.FaceMaxAreaRatio
}

// GetFaceIdealAreaRatio returns the area ratio that scores best.
func (c *VitalsConfig) GetFaceIdealAreaRatio() float64 {
	if c.FaceIdealAreaRatio == nil {
		return 0.15
	}
	return *c.FaceIdealAreaRatio
}

// GetFaceMaxCenterOffset returns the max center offset as a fraction of the frame min-dimension.
func (c *VitalsConfig) GetFaceMaxCenterOffset() float64 {
	if c.FaceMaxCenterOffset == nil {
		return 0.30
	}
	return *c.FaceMaxCenterOffset
}

// GetBrightnessMin returns the darkest acceptable mean gray level.
func (c *VitalsConfig) GetBrightnessMin() float64 {
	if c.BrightnessMin == nil {
		return 50
	}
	return *c.BrightnessMin
}

// GetBrightnessMax returns the brightest acceptable mean gray level.
func (c *VitalsConfig) GetBrightnessMax() float64 {
	if c.BrightnessMax == nil {
		return 200
	}
	return *c.BrightnessMax
}

// GetContrastMin returns the minimum gray-level standard deviation.
func (c *VitalsConfig) GetContrastMin() float64 {
	if c.ContrastMin == nil {
		return 20
	}
	return *c.ContrastMin
}

// GetNoiseMax returns the largest acceptable mean |gray - smoothed gray|.
func (c *VitalsConfig) GetNoiseMax() float64 {
	if c.NoiseMax == nil {
		return 10
	}
	return *c.NoiseMax
}

// GetCascadePath returns the Haar cascade file used by the gocv detector.
func (c *VitalsConfig) GetCascadePath() string {
	if c.CascadePath == nil {
		return ""
	}
	return *c.CascadePath
}

// GetStepAdvanceMinQuality returns the signal confidence the measurement loop
// needs before it advances a timed step on its own.
func (c *VitalsConfig) GetStepAdvanceMinQuality() float64 {
	if c.StepAdvanceMinQuality == nil {
		return 0.0
	}
	return *c.StepAdvanceMinQuality
}
