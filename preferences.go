package main

import (
	"net/http"
	"strings"

	"gitea.kood.tech/petrkubec/matrimony/backend/model"
)

// preferenceInput is the writable part of a preference row. Absent fields
// keep their current value; null clears them.
type preferenceInput struct {
	HeightMin optional[float64] `json:"preferred_height_min"`
	HeightMax optional[float64] `json:"preferred_height_max"`
	AgeMin    optional[int]     `json:"preferred_age_min"`
	AgeMax    optional[int]     `json:"preferred_age_max"`
	WeightMin optional[float64] `json:"preferred_weight_min"`
	WeightMax optional[float64] `json:"preferred_weight_max"`
	Education optional[string]  `json:"preferred_education"`
	Location  optional[string]  `json:"preferred_location"`
}

func (in preferenceInput) apply(p *model.Preference) {
	assign(&p.HeightMin, in.HeightMin)
	assign(&p.HeightMax, in.HeightMax)
	assign(&p.AgeMin, in.AgeMin)
	assign(&p.AgeMax, in.AgeMax)
	assign(&p.WeightMin, in.WeightMin)
	assign(&p.WeightMax, in.WeightMax)
	assign(&p.Education, trimmed(in.Education))
	assign(&p.Location, trimmed(in.Location))
}

func trimmed(v optional[string]) optional[string] {
	v.Value = strings.TrimSpace(v.Value)
	return v
}

func validatePreference(p model.Preference, fields fieldErrors) {
	checkFloatRange(fields, "preferred_height", p.HeightMin, p.HeightMax)
	checkFloatRange(fields, "preferred_weight", p.WeightMin, p.WeightMax)

	if p.AgeMin != nil && *p.AgeMin <= 0 {
		fields.add("preferred_age_min", "must be positive")
	}
	if p.AgeMax != nil && *p.AgeMax <= 0 {
		fields.add("preferred_age_max", "must be positive")
	}
	if p.AgeMin != nil && p.AgeMax != nil && *p.AgeMin > *p.AgeMax {
		fields.add("preferred_age_min", "must not exceed preferred_age_max")
	}
	if p.Education != nil && len(*p.Education) > 255 {
		fields.add("preferred_education", "at most 255 characters")
	}
	if p.Location != nil && len(*p.Location) > 255 {
		fields.add("preferred_location", "at most 255 characters")
	}
}

func checkFloatRange(fields fieldErrors, name string, lo, hi *float64) {
	if lo != nil && (*lo <= 0 || *lo > maxMeasure) {
		fields.add(name+"_min", "must be above 0 and at most 999.99")
	}
	if hi != nil && (*hi <= 0 || *hi > maxMeasure) {
		fields.add(name+"_max", "must be above 0 and at most 999.99")
	}
	if lo != nil && hi != nil && *lo > *hi {
		fields.add(name+"_min", "must not exceed "+name+"_max")
	}
}

// GET /preferences
// Returns the caller's preferences, creating an empty row on first use.
func (s *server) getPreferencesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := userIDFrom(r.Context())
		pref, err := s.store.EnsurePreference(r.Context(), me)
		if err != nil {
			s.log.Error("ensure preferences", "error", err, "user_id", me)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, pref)
	}
}

// PUT /preferences
func (s *server) updatePreferencesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in preferenceInput
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		s.savePreference(w, r, in)
	}
}

// PUT /update_preferred_education
func (s *server) updatePreferredEducationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Education optional[string] `json:"preferred_education"`
		}
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		if !in.Education.Set {
			writeError(w, http.StatusBadRequest, "missing_fields")
			return
		}
		s.savePreference(w, r, preferenceInput{Education: in.Education})
	}
}

// PUT /update_preferred_location
func (s *server) updatePreferredLocationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Location optional[string] `json:"preferred_location"`
		}
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		if !in.Location.Set {
			writeError(w, http.StatusBadRequest, "missing_fields")
			return
		}
		s.savePreference(w, r, preferenceInput{Location: in.Location})
	}
}

func (s *server) savePreference(w http.ResponseWriter, r *http.Request, in preferenceInput) {
	me := userIDFrom(r.Context())
	pref, err := s.store.EnsurePreference(r.Context(), me)
	if err != nil {
		s.log.Error("ensure preferences", "error", err, "user_id", me)
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	in.apply(&pref)
	fields := fieldErrors{}
	validatePreference(pref, fields)
	if len(fields) > 0 {
		writeValidation(w, fields)
		return
	}

	if err := s.store.UpdatePreference(r.Context(), &pref); err != nil {
		s.log.Error("update preferences", "error", err, "user_id", me)
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, pref)
}
