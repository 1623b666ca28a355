// Package matching finds compatible profiles for a viewer, either by
// distance alone, by preference coverage, or by both.
//
// Every call scans all other profiles; cost grows linearly with the number
// of users and nothing is cached between calls.
package matching

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"gitea.kood.tech/petrkubec/matrimony/backend/geo"
	"gitea.kood.tech/petrkubec/matrimony/backend/model"
)

// DefaultRadiusKm is used when no radius is configured.
const DefaultRadiusKm = 50.0

var (
	ErrViewerNotFound     = errors.New("viewer profile not found")
	ErrPreferenceNotFound = errors.New("viewer preferences not found")
	ErrInvalidRadius      = errors.New("radius must be a finite, non-negative number of kilometres")
)

// Source is the read side of the profile store the finder scans.
type Source interface {
	ProfileByUser(ctx context.Context, userID int) (model.Profile, bool, error)
	PreferenceByUser(ctx context.Context, userID int) (model.Preference, bool, error)
	ProfilesExcluding(ctx context.Context, userID int) ([]model.Profile, error)
}

// RecordSink persists percentage-mode results.
type RecordSink interface {
	SaveMatchRecords(ctx context.Context, records []model.MatchRecord) error
}

// Match is one qualifying candidate. DistanceKm is nil when either party has
// no coordinates; Percentage is nil in radius mode.
type Match struct {
	Candidate  model.ProfileCard `json:"candidate"`
	DistanceKm *float64          `json:"distance_km"`
	Percentage *float64          `json:"match_percentage"`
	Score      *Score            `json:"score,omitempty"`
}

// Finder runs the three match modes against a Source.
type Finder struct {
	src           Source
	defaultRadius float64
}

type Option func(*Finder)

// WithDefaultRadius sets the radius used when callers pass none.
func WithDefaultRadius(km float64) Option {
	return func(f *Finder) {
		if ValidateRadius(km) == nil {
			f.defaultRadius = km
		}
	}
}

func NewFinder(src Source, opts ...Option) *Finder {
	f := &Finder{src: src, defaultRadius: DefaultRadiusKm}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// DefaultRadius is the radius WithinRadius falls back to.
func (f *Finder) DefaultRadius() float64 { return f.defaultRadius }

// ValidateRadius rejects NaN, infinite and negative radii.
func ValidateRadius(km float64) error {
	if math.IsNaN(km) || math.IsInf(km, 0) || km < 0 {
		return ErrInvalidRadius
	}
	return nil
}

// WithinRadius returns every other user whose coordinates lie within
// radiusKm of the viewer, nearest first. Candidates (or a viewer) without
// coordinates never qualify. A nil radius means the default.
func (f *Finder) WithinRadius(ctx context.Context, viewerID int, radiusKm *float64) ([]Match, error) {
	radius := f.defaultRadius
	if radiusKm != nil {
		radius = *radiusKm
	}
	if err := ValidateRadius(radius); err != nil {
		return nil, err
	}

	viewer, err := f.viewer(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	candidates, err := f.src.ProfilesExcluding(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	matches := make([]Match, 0)
	origin, ok := viewer.Point()
	if !ok {
		return matches, nil
	}
	for _, c := range candidates {
		if c.UserID == viewerID {
			continue
		}
		d, ok := distanceTo(origin, c)
		if !ok || d > radius {
			continue
		}
		matches = append(matches, Match{Candidate: c.Card(), DistanceKm: &d})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return *matches[i].DistanceKm < *matches[j].DistanceKm
	})
	return matches, nil
}

// ByPreference scores every other user against the viewer's preferences
// and keeps those with a positive percentage, best first.
func (f *Finder) ByPreference(ctx context.Context, viewerID int) ([]Match, error) {
	return f.scored(ctx, viewerID, false)
}

// Combined is ByPreference with the distance to each candidate attached
// whenever both parties have coordinates.
func (f *Finder) Combined(ctx context.Context, viewerID int) ([]Match, error) {
	return f.scored(ctx, viewerID, true)
}

func (f *Finder) scored(ctx context.Context, viewerID int, withDistance bool) ([]Match, error) {
	viewer, err := f.viewer(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	pref, found, err := f.src.PreferenceByUser(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	if !found {
		return nil, ErrPreferenceNotFound
	}
	candidates, err := f.src.ProfilesExcluding(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	origin, hasOrigin := viewer.Point()
	matches := make([]Match, 0)
	for _, c := range candidates {
		if c.UserID == viewerID {
			continue
		}
		score := Evaluate(viewer, pref, c)
		pct := score.Percentage()
		if pct <= 0 {
			continue
		}
		m := Match{Candidate: c.Card(), Percentage: &pct}
		if withDistance {
			s := score
			m.Score = &s
			if hasOrigin {
				if d, ok := distanceTo(origin, c); ok {
					m.DistanceKm = &d
				}
			}
		}
		matches = append(matches, m)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return *matches[i].Percentage > *matches[j].Percentage
	})
	return matches, nil
}

func (f *Finder) viewer(ctx context.Context, viewerID int) (model.Profile, error) {
	viewer, found, err := f.src.ProfileByUser(ctx, viewerID)
	if err != nil {
		return model.Profile{}, fmt.Errorf("load viewer profile: %w", err)
	}
	if !found {
		return model.Profile{}, ErrViewerNotFound
	}
	return viewer, nil
}

func distanceTo(origin geo.Point, c model.Profile) (float64, bool) {
	target, ok := c.Point()
	if !ok {
		return 0, false
	}
	d, err := geo.Distance(origin, target)
	if err != nil {
		return 0, false
	}
	return d, true
}

// Records converts percentage-mode matches into history rows stamped at.
func Records(viewerID int, matches []Match, at time.Time) []model.MatchRecord {
	out := make([]model.MatchRecord, 0, len(matches))
	for _, m := range matches {
		if m.Percentage == nil {
			continue
		}
		out = append(out, model.MatchRecord{
			UserID:          viewerID,
			MatchedUserID:   m.Candidate.UserID,
			MatchPercentage: *m.Percentage,
			CreatedAt:       at,
		})
	}
	return out
}
