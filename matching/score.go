package matching

import (
	"gitea.kood.tech/petrkubec/matrimony/backend/geo"
	"gitea.kood.tech/petrkubec/matrimony/backend/model"
)

// ProximityThresholdKm is the distance under which the location criterion
// counts as satisfied.
const ProximityThresholdKm = 50.0

// Score counts how many of the viewer's activated criteria a candidate meets.
// Every criterion contributes equally; this is a coverage ratio, not a
// calibrated similarity.
type Score struct {
	Matched   int `json:"matched"`
	Evaluated int `json:"evaluated"`
}

// Fraction is Matched/Evaluated, or 0 when no criterion was activated.
func (s Score) Fraction() float64 {
	if s.Evaluated == 0 {
		return 0
	}
	return float64(s.Matched) / float64(s.Evaluated)
}

// Percentage is Fraction scaled to 0..100.
func (s Score) Percentage() float64 {
	return s.Fraction() * 100
}

// A criterion reports whether the viewer activated it and, if so, whether the
// candidate satisfies it.
type criterion func(viewer model.Profile, pref model.Preference, cand model.Profile) (active, ok bool)

var criteria = []criterion{
	ageCriterion,
	heightCriterion,
	weightCriterion,
	proximityCriterion,
}

// Evaluate scores cand against the viewer's preference. The viewer's own
// profile supplies the origin for the proximity criterion.
func Evaluate(viewer model.Profile, pref model.Preference, cand model.Profile) Score {
	var s Score
	for _, c := range criteria {
		active, ok := c(viewer, pref, cand)
		if !active {
			continue
		}
		s.Evaluated++
		if ok {
			s.Matched++
		}
	}
	return s
}

func ageCriterion(_ model.Profile, pref model.Preference, cand model.Profile) (bool, bool) {
	if pref.AgeMin == nil || pref.AgeMax == nil {
		return false, false
	}
	if cand.Age <= 0 {
		return true, false
	}
	return true, *pref.AgeMin <= cand.Age && cand.Age <= *pref.AgeMax
}

func heightCriterion(_ model.Profile, pref model.Preference, cand model.Profile) (bool, bool) {
	return floatRange(pref.HeightMin, pref.HeightMax, cand.Height)
}

func weightCriterion(_ model.Profile, pref model.Preference, cand model.Profile) (bool, bool) {
	return floatRange(pref.WeightMin, pref.WeightMax, cand.Weight)
}

func floatRange(min, max, v *float64) (bool, bool) {
	if min == nil || max == nil {
		return false, false
	}
	if v == nil {
		return true, false
	}
	return true, *min <= *v && *v <= *max
}

func proximityCriterion(viewer model.Profile, _ model.Preference, cand model.Profile) (bool, bool) {
	origin, ok := viewer.Point()
	if !ok {
		return false, false
	}
	target, ok := cand.Point()
	if !ok {
		return true, false
	}
	d, err := geo.Distance(origin, target)
	if err != nil {
		return true, false
	}
	return true, d <= ProximityThresholdKm
}
