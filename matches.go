package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gitea.kood.tech/petrkubec/matrimony/backend/matching"
	"gitea.kood.tech/petrkubec/matrimony/backend/metrics"
	"gitea.kood.tech/petrkubec/matrimony/backend/model"
)

const (
	modeRadius     = "radius"
	modePercentage = "percentage"
	modeCombined   = "combined"

	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

type radiusEntry struct {
	UserID     int     `json:"user_id"`
	Name       string  `json:"name"`
	DistanceKm float64 `json:"distance_km"`
	Image      string  `json:"image,omitempty"`
}

type percentageEntry struct {
	UserID          int     `json:"user_id"`
	Name            string  `json:"name"`
	MatchPercentage float64 `json:"match_percentage"`
	Image           string  `json:"image,omitempty"`
}

type combinedEntry struct {
	UserID          int             `json:"user_id"`
	Name            string          `json:"name"`
	MatchPercentage float64         `json:"match_percentage"`
	DistanceKm      *float64        `json:"distance_km"`
	Image           string          `json:"image,omitempty"`
	Score           *matching.Score `json:"score,omitempty"`
}

type historyEntry struct {
	ID              int64     `json:"id"`
	UserID          int       `json:"user_id"`
	Name            string    `json:"name"`
	Image           string    `json:"image,omitempty"`
	MatchPercentage float64   `json:"match_percentage"`
	CreatedAt       time.Time `json:"created_at"`
}

// matchNotice is pushed to a candidate when someone's matching run found them.
type matchNotice struct {
	UserID          int     `json:"user_id"`
	MatchPercentage float64 `json:"match_percentage"`
}

// GET /api/matching?radius=<km>
func (s *server) radiusMatchesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var radius *float64
		if v := strings.TrimSpace(r.URL.Query().Get("radius")); v != "" {
			km, err := strconv.ParseFloat(v, 64)
			if err != nil || matching.ValidateRadius(km) != nil {
				metrics.MatchRequestsTotal.WithLabelValues(modeRadius, "invalid").Inc()
				writeError(w, http.StatusBadRequest, "invalid_radius")
				return
			}
			radius = &km
		}

		matches, ok := s.runMatch(w, r, modeRadius, func(ctx context.Context, me int) ([]matching.Match, error) {
			return s.finder.WithinRadius(ctx, me, radius)
		})
		if !ok {
			return
		}
		out := make([]radiusEntry, 0, len(matches))
		for _, m := range matches {
			out = append(out, radiusEntry{
				UserID:     m.Candidate.UserID,
				Name:       m.Candidate.Name,
				DistanceKm: *m.DistanceKm,
				Image:      m.Candidate.Image,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// GET /start_matching
// Scores every candidate against the caller's preferences, stores the
// results as match history and notifies the matched users.
func (s *server) startMatchingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		matches, ok := s.runMatch(w, r, modePercentage, s.finder.ByPreference)
		if !ok {
			return
		}
		me := userIDFrom(r.Context())

		if records := matching.Records(me, matches, time.Now().UTC()); len(records) > 0 {
			// history is derived data; a failed write does not void the result
			if err := s.store.SaveMatchRecords(r.Context(), records); err != nil {
				s.log.Error("save match records", "error", err, "user_id", me, "request_id", requestIDFrom(r.Context()))
			}
		}

		out := make([]percentageEntry, 0, len(matches))
		for _, m := range matches {
			out = append(out, percentageEntry{
				UserID:          m.Candidate.UserID,
				Name:            m.Candidate.Name,
				MatchPercentage: *m.Percentage,
				Image:           m.Candidate.Image,
			})
			s.hub.sendToUser(m.Candidate.UserID, ServerEvent{
				Type: "match",
				From: me,
				Data: matchNotice{UserID: me, MatchPercentage: *m.Percentage},
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// GET /api/find_matches_with_all_percentise
func (s *server) combinedMatchesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		matches, ok := s.runMatch(w, r, modeCombined, s.finder.Combined)
		if !ok {
			return
		}
		out := make([]combinedEntry, 0, len(matches))
		for _, m := range matches {
			out = append(out, combinedEntry{
				UserID:          m.Candidate.UserID,
				Name:            m.Candidate.Name,
				MatchPercentage: *m.Percentage,
				DistanceKm:      m.DistanceKm,
				Image:           m.Candidate.Image,
				Score:           m.Score,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// runMatch executes one finder mode for the caller, records metrics and
// answers the error cases itself.
func (s *server) runMatch(w http.ResponseWriter, r *http.Request, mode string, find func(context.Context, int) ([]matching.Match, error)) ([]matching.Match, bool) {
	me := userIDFrom(r.Context())
	start := time.Now()
	matches, err := find(r.Context(), me)
	metrics.MatchDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.MatchRequestsTotal.WithLabelValues(mode, "ok").Inc()
		metrics.MatchResults.WithLabelValues(mode).Observe(float64(len(matches)))
		s.log.Debug("match run", "mode", mode, "user_id", me, "results", len(matches))
		return matches, true
	case errors.Is(err, matching.ErrViewerNotFound):
		metrics.MatchRequestsTotal.WithLabelValues(mode, "not_found").Inc()
		writeError(w, http.StatusNotFound, "profile_not_found")
	case errors.Is(err, matching.ErrPreferenceNotFound):
		metrics.MatchRequestsTotal.WithLabelValues(mode, "not_found").Inc()
		writeError(w, http.StatusNotFound, "preferences_not_found")
	case errors.Is(err, matching.ErrInvalidRadius):
		metrics.MatchRequestsTotal.WithLabelValues(mode, "invalid").Inc()
		writeError(w, http.StatusBadRequest, "invalid_radius")
	default:
		metrics.MatchRequestsTotal.WithLabelValues(mode, "error").Inc()
		s.log.Error("match run failed", "mode", mode, "user_id", me, "error", err, "request_id", requestIDFrom(r.Context()))
		writeError(w, http.StatusInternalServerError, "match_error")
	}
	return nil, false
}

// GET /api/matches/history?limit=50
func (s *server) matchHistoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := userIDFrom(r.Context())

		limit := defaultHistoryLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = min(n, maxHistoryLimit)
			}
		}

		records, err := s.store.MatchHistory(r.Context(), me, limit)
		if err != nil {
			s.log.Error("load match history", "error", err, "user_id", me)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}

		cards := loadCards(r.Context(), s.store, records)
		out := make([]historyEntry, 0, len(records))
		for _, rec := range records {
			card := cards[rec.MatchedUserID]
			out = append(out, historyEntry{
				ID:              rec.ID,
				UserID:          rec.MatchedUserID,
				Name:            card.Name,
				Image:           card.Image,
				MatchPercentage: rec.MatchPercentage,
				CreatedAt:       rec.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// loadCards resolves the matched users through the request's dataloader so
// one query serves the whole page.
func loadCards(ctx context.Context, st Store, records []model.MatchRecord) map[int]model.ProfileCard {
	loaders := GetDataLoadersFromContext(ctx)
	if loaders == nil {
		loaders = NewDataLoaders(st)
	}

	ids := make([]int, 0, len(records))
	seen := make(map[int]bool, len(records))
	for _, rec := range records {
		if !seen[rec.MatchedUserID] {
			seen[rec.MatchedUserID] = true
			ids = append(ids, rec.MatchedUserID)
		}
	}

	cards := make(map[int]model.ProfileCard, len(ids))
	results, errs := loaders.CardLoader.LoadMany(ctx, ids)()
	for i, id := range ids {
		if len(errs) > i && errs[i] != nil {
			cards[id] = model.ProfileCard{UserID: id}
			continue
		}
		cards[id] = results[i]
	}
	return cards
}

// rateLimit caps match requests per user. Limiter failures let the request
// through.
func (s *server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		me := userIDFrom(r.Context())
		ok, err := s.limiter.Allow(r.Context(), strconv.Itoa(me))
		if err != nil {
			s.log.Warn("rate limiter unavailable, allowing request", "error", err, "user_id", me)
		}
		if !ok {
			metrics.MatchRequestsTotal.WithLabelValues(matchMode(r.URL.Path), "rate_limited").Inc()
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate_limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func matchMode(path string) string {
	switch {
	case strings.Contains(path, "start_matching"):
		return modePercentage
	case strings.Contains(path, "percentise"):
		return modeCombined
	default:
		return modeRadius
	}
}
