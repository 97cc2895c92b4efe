package quality

import (
	"sort"
)

// Grade is the coarse quality band of a confidence value.
type Grade string

const (
	GradeExcellent Grade = "excellent"
	GradeGood      Grade = "good"
	GradeFair      Grade = "fair"
	GradePoor      Grade = "poor"
)

// Grades lists every grade from best to worst.
var Grades = []Grade{GradeExcellent, GradeGood, GradeFair, GradePoor}

// GradeFor maps a confidence onto its grade: excellent ≥ 0.8, good ≥ 0.6,
// fair ≥ 0.4, otherwise poor.
func GradeFor(confidence float64) Grade {
	switch {
	case confidence >= 0.8:
		return GradeExcellent
	case confidence >= 0.6:
		return GradeGood
	case confidence >= 0.4:
		return GradeFair
	default:
		return GradePoor
	}
}

// Report aggregates any number of scores.
type Report struct {
	Grade             Grade
	OverallConfidence float64
	Total             int
	Passed            int
	Failed            int
	Recommendations   []string // deduplicated, first-seen order
	Reasons           []string // failing reasons, worst score first
	ByCheck           map[Check]float64
}

// GenerateQualityReport averages the confidences of scores and collects
// their recommendations and failure reasons.
func GenerateQualityReport(scores []Score) Report {
	r := Report{Grade: GradePoor, Total: len(scores), ByCheck: map[Check]float64{}}
	if len(scores) == 0 {
		return r
	}

	var sum float64
	seenRec := map[string]bool{}
	counts := map[Check]int{}
	for _, s := range scores {
		sum += s.Confidence
		if s.Valid {
			r.Passed++
		} else {
			r.Failed++
		}
		if s.Recommendation != "" && !seenRec[s.Recommendation] {
			seenRec[s.Recommendation] = true
			r.Recommendations = append(r.Recommendations, s.Recommendation)
		}
		if s.Check != "" {
			r.ByCheck[s.Check] += s.Confidence
			counts[s.Check]++
		}
	}
	for c, n := range counts {
		r.ByCheck[c] /= float64(n)
	}
	r.OverallConfidence = clamp01(sum / float64(len(scores)))
	r.Grade = GradeFor(r.OverallConfidence)

	failing := make([]Score, 0, r.Failed)
	for _, s := range scores {
		if !s.Valid {
			failing = append(failing, s)
		}
	}
	sort.SliceStable(failing, func(i, j int) bool { return failing[i].Confidence < failing[j].Confidence })
	seenReason := map[string]bool{}
	for _, s := range failing {
		for _, reason := range s.Reasons {
			if !seenReason[reason] {
				seenReason[reason] = true
				r.Reasons = append(r.Reasons, reason)
			}
		}
	}
	return r
}
