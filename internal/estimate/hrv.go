package estimate

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/vitals.report/internal/vitalerr"
)

// DefaultMinPeakDistanceSec keeps noise spikes from being counted as beats.
const DefaultMinPeakDistanceSec = 0.4

// minPeaks is the fewest beats that give a meaningful interval series.
const minPeaks = 3

// expectedPeaksPerSecond is the baseline beat density confidence is scored against.
const expectedPeaksPerSecond = 2.0

// HRV holds the time-domain variability statistics of one signal.
type HRV struct {
	RMSSDms        float64 // root mean square of successive interval differences
	SDNNms         float64 // sample standard deviation of the intervals
	MeanIntervalMs float64
	Peaks          []int   // sample indexes of detected beats
	Confidence     float64 // [0, 1]
}

// EstimateHRV detects beats with the default 0.4 s refractory distance and
// reports RMSSD and SDNN. Fewer than three beats is not an error: the result
// is zero with zero confidence.
func EstimateHRV(signal []float64, sampleRateHz float64) (HRV, error) {
	return EstimateHRVWithDistance(signal, sampleRateHz, DefaultMinPeakDistanceSec)
}

// EstimateHRVWithDistance is EstimateHRV with a custom refractory distance.
func EstimateHRVWithDistance(signal []float64, sampleRateHz, minDistanceSec float64) (HRV, error) {
	if sampleRateHz <= 0 || math.IsNaN(sampleRateHz) {
		return HRV{}, vitalerr.InvalidSampleRate(sampleRateHz)
	}
	if minDistanceSec <= 0 {
		minDistanceSec = DefaultMinPeakDistanceSec
	}
	minDist := int(math.Round(minDistanceSec * sampleRateHz))
	peaks := DetectPeaks(signal, minDist)
	if len(peaks) < minPeaks {
		return HRV{Peaks: peaks}, nil
	}

	intervals := make([]float64, len(peaks)-1)
	for i := range intervals {
		intervals[i] = float64(peaks[i+1]-peaks[i]) / sampleRateHz * 1000
	}
	var sq float64
	for i := 1; i < len(intervals); i++ {
		d := intervals[i] - intervals[i-1]
		sq += d * d
	}
	rmssd := math.Sqrt(sq / float64(len(intervals)-1))

	durationSec := float64(len(signal)) / sampleRateHz
	conf := 0.0
	if durationSec > 0 {
		conf = math.Min(1, float64(len(peaks))/(durationSec*expectedPeaksPerSecond))
	}
	return HRV{
		RMSSDms:        rmssd,
		SDNNms:         stat.StdDev(intervals, nil),
		MeanIntervalMs: stat.Mean(intervals, nil),
		Peaks:          peaks,
		Confidence:     conf,
	}, nil
}

// DetectPeaks returns the indexes of local maxima that lie above the signal
// mean and are at least minDistance samples apart. When two maxima are
// closer than that, the taller one wins.
func DetectPeaks(x []float64, minDistance int) []int {
	if len(x) < 3 {
		return nil
	}
	if minDistance < 1 {
		minDistance = 1
	}
	mean := stat.Mean(x, nil)
	var peaks []int
	for i := 1; i < len(x)-1; i++ {
		if x[i] <= mean || x[i] <= x[i-1] || x[i] < x[i+1] {
			continue
		}
		if n := len(peaks); n > 0 && i-peaks[n-1] < minDistance {
			if x[i] > x[peaks[n-1]] {
				peaks[n-1] = i
			}
			continue
		}
		peaks = append(peaks, i)
	}
	return peaks
}
