package quality

import (
	"image"
	"math"
)

const (
	reasonNoFace        = "no face detected"
	reasonMultipleFaces = "multiple faces detected"
	reasonFaceTooSmall  = "face too small, too far from camera"
	reasonFaceTooLarge  = "face too large, too close to camera"
	reasonFaceOffCenter = "face not centered"
)

// ValidateFace scores the detected regions against the frame bounds. Exactly
// one region of a reasonable size near the frame centre is valid.
func (v *Validator) ValidateFace(bounds image.Rectangle, regions []image.Rectangle) Score {
	s := Score{Check: CheckFace, Metrics: map[string]float64{"faces": float64(len(regions))}}
	switch {
	case len(regions) == 0:
		s.Reasons = []string{reasonNoFace}
		s.Recommendation = "Position your face in the camera frame"
		return s
	case len(regions) > 1:
		s.Reasons = []string{reasonMultipleFaces}
		s.Recommendation = "Ensure only one person is in the frame"
		return s
	}

	face := regions[0]
	frameArea := float64(bounds.Dx() * bounds.Dy())
	if frameArea <= 0 {
		s.Reasons = []string{reasonNoFace}
		s.Recommendation = "Position your face in the camera frame"
		return s
	}
	ratio := float64(face.Dx()*face.Dy()) / frameArea

	fc := center(face)
	bc := center(bounds)
	offset := math.Hypot(fc.X-bc.X, fc.Y-bc.Y)
	minDim := float64(min(bounds.Dx(), bounds.Dy()))
	maxOffset := v.opts.FaceMaxCenterOffset * minDim

	sizeScore := clamp01(1 - math.Abs(ratio-v.opts.FaceIdealAreaRatio)/v.opts.FaceIdealAreaRatio)
	centerScore := 0.0
	if maxOffset > 0 {
		centerScore = clamp01(1 - offset/maxOffset)
	}
	s.Metrics["area_ratio"] = ratio
	s.Metrics["center_offset_px"] = offset
	s.Metrics["size_score"] = sizeScore
	s.Metrics["center_score"] = centerScore
	s.Confidence = mean(sizeScore, centerScore)

	switch {
	case ratio < v.opts.FaceMinAreaRatio:
		s.Reasons = append(s.Reasons, reasonFaceTooSmall)
		s.Recommendation = "Move closer to the camera"
	case ratio > v.opts.FaceMaxAreaRatio:
		s.Reasons = append(s.Reasons, reasonFaceTooLarge)
		s.Recommendation = "Move further away from the camera"
	}
	if offset > maxOffset {
		s.Reasons = append(s.Reasons, reasonFaceOffCenter)
		if s.Recommendation == "" {
			s.Recommendation = "Center your face in the frame"
		}
	}
	s.Valid = len(s.Reasons) == 0
	if s.Valid {
		s.Recommendation = "Face position is good"
	}
	return s
}

type point struct{ X, Y float64 }

func center(r image.Rectangle) point {
	return point{X: float64(r.Min.X+r.Max.X) / 2, Y: float64(r.Min.Y+r.Max.Y) / 2}
}
