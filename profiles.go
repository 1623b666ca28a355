package main

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"gitea.kood.tech/petrkubec/matrimony/backend/model"
	"gitea.kood.tech/petrkubec/matrimony/backend/store"
)

// maxMeasure is the largest height or weight a NUMERIC(5,2) column holds.
const maxMeasure = 999.99

// profileInput is the writable part of a profile. Absent fields keep their
// current value; null clears the optional ones and is refused for the rest.
type profileInput struct {
	CreatedBy       optional[string]     `json:"created_by"`
	Gender          optional[string]     `json:"gender"`
	Name            optional[string]     `json:"name"`
	DateOfBirth     optional[model.Date] `json:"date_of_birth"`
	Email           optional[string]     `json:"email"`
	Height          optional[float64]    `json:"height"`
	Weight          optional[float64]    `json:"weight"`
	Education       optional[string]     `json:"education"`
	Country         optional[string]     `json:"country"`
	Address         optional[string]     `json:"address"`
	PhoneNumber     optional[string]     `json:"phone_number"`
	HidePhoneNumber optional[bool]       `json:"hide_phone_number"`
	Language        optional[string]     `json:"language"`
	Religion        optional[string]     `json:"religion"`
	Latitude        optional[float64]    `json:"latitude"`
	Longitude       optional[float64]    `json:"longitude"`
	Location        optional[string]     `json:"location"`
}

func setString(fields fieldErrors, name string, dst *string, v optional[string]) {
	switch {
	case !v.Set:
	case v.Null:
		fields.add(name, "may not be null")
	default:
		*dst = strings.TrimSpace(v.Value)
	}
}

// apply copies the sent fields onto p and recomputes the age from the birth
// date. Nulls sent for required fields are recorded in fields.
func (in profileInput) apply(p *model.Profile, now time.Time, fields fieldErrors) {
	setString(fields, "created_by", &p.CreatedBy, in.CreatedBy)
	setString(fields, "gender", &p.Gender, in.Gender)
	setString(fields, "name", &p.Name, in.Name)
	setString(fields, "email", &p.Email, in.Email)
	setString(fields, "education", &p.Education, in.Education)
	setString(fields, "country", &p.Country, in.Country)
	setString(fields, "address", &p.Address, in.Address)
	setString(fields, "phone_number", &p.PhoneNumber, in.PhoneNumber)
	setString(fields, "language", &p.Language, in.Language)
	setString(fields, "religion", &p.Religion, in.Religion)
	setString(fields, "location", &p.Location, in.Location)

	switch dob := in.DateOfBirth; {
	case !dob.Set:
	case dob.Null || dob.Value.IsZero():
		fields.add("date_of_birth", "may not be null")
	default:
		p.DateOfBirth = dob.Value
	}
	switch hide := in.HidePhoneNumber; {
	case !hide.Set:
	case hide.Null:
		fields.add("hide_phone_number", "may not be null")
	default:
		p.HidePhoneNumber = hide.Value
	}

	assign(&p.Height, in.Height)
	assign(&p.Weight, in.Weight)
	assign(&p.Latitude, in.Latitude)
	assign(&p.Longitude, in.Longitude)

	if !p.DateOfBirth.IsZero() {
		p.Age = model.AgeOn(p.DateOfBirth, now)
	}
}

// validateProfile records every problem with p in fields.
func validateProfile(p model.Profile, now time.Time, fields fieldErrors) {
	if !slices.Contains(model.CreatedByChoices, p.CreatedBy) {
		fields.add("created_by", "must be one of "+strings.Join(model.CreatedByChoices, ", "))
	}
	if !slices.Contains(model.GenderChoices, p.Gender) {
		fields.add("gender", "must be one of "+strings.Join(model.GenderChoices, ", "))
	}
	if p.Name == "" || len(p.Name) > 255 {
		fields.add("name", "is required, at most 255 characters")
	}
	switch {
	case p.DateOfBirth.IsZero():
		fields.add("date_of_birth", "is required (YYYY-MM-DD)")
	case p.DateOfBirth.After(now):
		fields.add("date_of_birth", "cannot be in the future")
	case p.Age <= 0:
		fields.add("date_of_birth", "age must be positive")
	}
	if !validEmail(p.Email) {
		fields.add("email", "must be a valid email address")
	}
	if p.PhoneNumber == "" || len(p.PhoneNumber) > 20 {
		fields.add("phone_number", "is required, at most 20 characters")
	}
	if p.Height != nil && (*p.Height <= 0 || *p.Height > maxMeasure) {
		fields.add("height", "must be above 0 and at most 999.99")
	}
	if p.Weight != nil && (*p.Weight <= 0 || *p.Weight > maxMeasure) {
		fields.add("weight", "must be above 0 and at most 999.99")
	}
	if (p.Latitude == nil) != (p.Longitude == nil) {
		fields.add("latitude", "latitude and longitude must be set together")
	} else if pt, ok := p.Point(); ok {
		if err := pt.Validate(); err != nil {
			fields.add("latitude", err.Error())
		}
	}
}

// viewAs hides what only the owner may see.
func viewAs(p model.Profile, viewer int) model.Profile {
	if p.UserID == viewer {
		return p
	}
	return p.Redacted()
}

func viewAllAs(ps []model.Profile, viewer int) []model.Profile {
	out := make([]model.Profile, len(ps))
	for i, p := range ps {
		out[i] = viewAs(p, viewer)
	}
	return out
}

// GET /profiles
func (s *server) listProfilesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profiles, err := s.store.ListProfiles(r.Context())
		if err != nil {
			s.log.Error("list profiles", "error", err)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, viewAllAs(profiles, userIDFrom(r.Context())))
	}
}

// POST /profiles
// Creates the caller's profile when registration did not.
func (s *server) createProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := userIDFrom(r.Context())

		var in profileInput
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}

		_, exists, err := s.store.ProfileByUser(r.Context(), me)
		if err != nil {
			s.log.Error("load profile", "error", err, "user_id", me)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if exists {
			writeError(w, http.StatusConflict, "profile_exists")
			return
		}

		now := time.Now()
		p := model.Profile{UserID: me, HidePhoneNumber: true}
		fields := fieldErrors{}
		in.apply(&p, now, fields)
		validateProfile(p, now, fields)
		if len(fields) > 0 {
			writeValidation(w, fields)
			return
		}

		if err := s.store.CreateProfile(r.Context(), &p); err != nil {
			if errors.Is(err, store.ErrConflict) {
				writeError(w, http.StatusConflict, "already_exists")
				return
			}
			s.log.Error("create profile", "error", err, "user_id", me)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

// GET /profiles/{id}
func (s *server) getProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := s.loadProfile(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, viewAs(p, userIDFrom(r.Context())))
	}
}

// PUT /profiles/{id}
// Partial update, owner only.
func (s *server) updateProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := s.loadOwnProfile(w, r)
		if !ok {
			return
		}

		var in profileInput
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}

		now := time.Now()
		fields := fieldErrors{}
		in.apply(&p, now, fields)
		validateProfile(p, now, fields)
		if len(fields) > 0 {
			writeValidation(w, fields)
			return
		}

		if err := s.store.UpdateProfile(r.Context(), &p); err != nil {
			if errors.Is(err, store.ErrConflict) {
				writeError(w, http.StatusConflict, "already_exists")
				return
			}
			s.log.Error("update profile", "error", err, "profile_id", p.ID)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// DELETE /profiles/{id}
func (s *server) deleteProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := s.loadOwnProfile(w, r)
		if !ok {
			return
		}
		deleted, err := s.store.DeleteProfile(r.Context(), p.ID)
		if err != nil {
			s.log.Error("delete profile", "error", err, "profile_id", p.ID)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if !deleted {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// GET /users
// Explore: every profile except the caller's.
func (s *server) exploreHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := userIDFrom(r.Context())
		profiles, err := s.store.ProfilesExcluding(r.Context(), me)
		if err != nil {
			s.log.Error("explore profiles", "error", err, "user_id", me)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		writeJSON(w, http.StatusOK, viewAllAs(profiles, me))
	}
}

// GET /api/last_joined_user
func (s *server) lastJoinedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, found, err := s.store.LastJoinedProfile(r.Context())
		if err != nil {
			s.log.Error("last joined profile", "error", err)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if !found {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		writeJSON(w, http.StatusOK, viewAs(p, userIDFrom(r.Context())))
	}
}

func (s *server) loadProfile(w http.ResponseWriter, r *http.Request) (model.Profile, bool) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found")
		return model.Profile{}, false
	}
	p, found, err := s.store.ProfileByID(r.Context(), id)
	if err != nil {
		s.log.Error("load profile", "error", err, "profile_id", id)
		writeError(w, http.StatusInternalServerError, "db_error")
		return model.Profile{}, false
	}
	if !found {
		writeError(w, http.StatusNotFound, "not_found")
		return model.Profile{}, false
	}
	return p, true
}

func (s *server) loadOwnProfile(w http.ResponseWriter, r *http.Request) (model.Profile, bool) {
	p, ok := s.loadProfile(w, r)
	if !ok {
		return p, false
	}
	if p.UserID != userIDFrom(r.Context()) {
		writeError(w, http.StatusForbidden, "forbidden")
		return model.Profile{}, false
	}
	return p, true
}
