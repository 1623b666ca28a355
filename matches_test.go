package main

import (
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitea.kood.tech/petrkubec/matrimony/backend/geo"
	"gitea.kood.tech/petrkubec/matrimony/backend/model"
)

// kmEast returns the longitude lying km east of (0, 0) along the equator.
func kmEast(km float64) float64 {
	return km / (geo.EarthRadiusKm * math.Pi / 180)
}

func candidate(name string, age int, lon *float64) model.Profile {
	p := model.Profile{Name: name, Age: age, Gender: "female", CreatedBy: "self"}
	p.Email = name + "@example.com"
	p.PhoneNumber = name
	if lon != nil {
		p.Latitude, p.Longitude = floatp(0), lon
	}
	return p
}

// ============================================================================
// MATCHING TEST SUITE
// ============================================================================

func TestMatchingSuite(t *testing.T) {
	t.Run("Radius", func(t *testing.T) {
		testRadiusMatching(t)
	})

	t.Run("Percentage", func(t *testing.T) {
		testPercentageMatching(t)
	})

	t.Run("Combined", func(t *testing.T) {
		testCombinedMatching(t)
	})

	t.Run("History", func(t *testing.T) {
		testMatchHistory(t)
	})

	t.Run("Rate Limit", func(t *testing.T) {
		testMatchRateLimit(t)
	})
}

func testRadiusMatching(t *testing.T) {
	e := newTestEnv(t)
	me := e.store.seedUser(candidate("viewer", 30, floatp(0)), nil)
	e.store.seedUser(candidate("ten", 30, floatp(kmEast(10))), nil)
	e.store.seedUser(candidate("sixty", 30, floatp(kmEast(60))), nil)
	e.store.seedUser(candidate("almost_fifty", 30, floatp(kmEast(49.9))), nil)
	e.store.seedUser(candidate("nowhere", 30, nil), nil)
	tok := e.tokenFor(t, me)

	t.Run("Default Radius", func(t *testing.T) {
		w := e.do(t, http.MethodGet, "/api/matching", tok, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		got := decodeBody[[]radiusEntry](t, w)
		require.Len(t, got, 2)
		assert.Equal(t, "ten", got[0].Name)
		assert.InDelta(t, 10, got[0].DistanceKm, 1e-6)
		assert.Equal(t, "almost_fifty", got[1].Name)
		assert.InDelta(t, 49.9, got[1].DistanceKm, 1e-6)
	})

	t.Run("Wider Radius", func(t *testing.T) {
		w := e.do(t, http.MethodGet, "/api/matching?radius=100", tok, nil)
		require.Equal(t, http.StatusOK, w.Code)
		got := decodeBody[[]radiusEntry](t, w)
		require.Len(t, got, 3)
		assert.Equal(t, "sixty", got[2].Name)
	})

	t.Run("Zero Radius", func(t *testing.T) {
		w := e.do(t, http.MethodGet, "/api/matching?radius=0", tok, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `[]`, w.Body.String())
	})

	for _, bad := range []string{"-1", "abc", "NaN", "Inf"} {
		t.Run("Invalid Radius "+bad, func(t *testing.T) {
			w := e.do(t, http.MethodGet, "/api/matching?radius="+bad, tok, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "invalid_radius", errorCode(t, w))
		})
	}

	t.Run("Viewer Without Coordinates", func(t *testing.T) {
		w := e.do(t, http.MethodGet, "/api/matching", e.tokenFor(t, 5), nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `[]`, w.Body.String())
	})

	t.Run("No Profile", func(t *testing.T) {
		w := e.do(t, http.MethodGet, "/api/matching", e.tokenFor(t, 42), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "profile_not_found", errorCode(t, w))
	})
}

func testPercentageMatching(t *testing.T) {
	e := newTestEnv(t)
	me := e.store.seedUser(candidate("viewer", 28, floatp(0)),
		&model.Preference{AgeMin: intp(20), AgeMax: intp(30)})
	perfect := e.store.seedUser(candidate("perfect", 25, floatp(kmEast(5))), nil)
	half := e.store.seedUser(candidate("half", 40, floatp(kmEast(5))), nil)
	e.store.seedUser(candidate("none", 40, nil), nil)
	tok := e.tokenFor(t, me)

	w := e.do(t, http.MethodGet, "/start_matching", tok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decodeBody[[]percentageEntry](t, w)
	require.Len(t, got, 2)
	assert.Equal(t, perfect, got[0].UserID)
	assert.InDelta(t, 100, got[0].MatchPercentage, 1e-9)
	assert.Equal(t, half, got[1].UserID)
	assert.InDelta(t, 50, got[1].MatchPercentage, 1e-9)

	t.Run("Results Persisted", func(t *testing.T) {
		records, err := e.store.MatchHistory(t.Context(), me, 10)
		require.NoError(t, err)
		require.Len(t, records, 2)
		for _, r := range records {
			assert.Equal(t, me, r.UserID)
			assert.NotZero(t, r.ID)
		}
	})

	t.Run("Missing Preferences", func(t *testing.T) {
		w := e.do(t, http.MethodGet, "/start_matching", e.tokenFor(t, perfect), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "preferences_not_found", errorCode(t, w))
	})

	t.Run("No Active Criteria", func(t *testing.T) {
		loner := e.store.seedUser(candidate("loner", 30, nil), &model.Preference{})
		w := e.do(t, http.MethodGet, "/start_matching", e.tokenFor(t, loner), nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `[]`, w.Body.String())
	})
}

func testCombinedMatching(t *testing.T) {
	e := newTestEnv(t)
	me := e.store.seedUser(candidate("viewer", 28, floatp(0)),
		&model.Preference{AgeMin: intp(20), AgeMax: intp(30)})
	e.store.seedUser(candidate("near", 25, floatp(kmEast(20))), nil)
	e.store.seedUser(candidate("hidden", 25, nil), nil)
	tok := e.tokenFor(t, me)

	w := e.do(t, http.MethodGet, "/api/find_matches_with_all_percentise", tok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decodeBody[[]combinedEntry](t, w)
	require.Len(t, got, 2)

	assert.Equal(t, "near", got[0].Name)
	assert.InDelta(t, 100, got[0].MatchPercentage, 1e-9)
	require.NotNil(t, got[0].DistanceKm)
	assert.InDelta(t, 20, *got[0].DistanceKm, 1e-6)
	require.NotNil(t, got[0].Score)
	assert.Equal(t, 2, got[0].Score.Evaluated)

	assert.Equal(t, "hidden", got[1].Name)
	assert.InDelta(t, 50, got[1].MatchPercentage, 1e-9)
	assert.Nil(t, got[1].DistanceKm, "no coordinates, no distance")

	assert.Empty(t, e.store.records, "combined mode does not write history")
}

func testMatchHistory(t *testing.T) {
	e := newTestEnv(t)
	me := e.store.seedUser(candidate("viewer", 28, floatp(0)),
		&model.Preference{AgeMin: intp(20), AgeMax: intp(30)})
	e.store.seedUser(candidate("first", 25, floatp(kmEast(1))), nil)
	e.store.seedUser(candidate("second", 26, floatp(kmEast(2))), nil)
	tok := e.tokenFor(t, me)

	t.Run("Empty", func(t *testing.T) {
		w := e.do(t, http.MethodGet, "/api/matches/history", tok, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `[]`, w.Body.String())
	})

	for range 2 {
		w := e.do(t, http.MethodGet, "/start_matching", tok, nil)
		require.Equal(t, http.StatusOK, w.Code)
	}

	t.Run("Names Resolved In One Batch", func(t *testing.T) {
		before := e.store.cardCalls
		w := e.do(t, http.MethodGet, "/api/matches/history", tok, nil)
		require.Equal(t, http.StatusOK, w.Code)
		got := decodeBody[[]historyEntry](t, w)
		require.Len(t, got, 4)
		assert.Equal(t, 1, e.store.cardCalls-before)

		names := map[string]bool{}
		for _, h := range got {
			names[h.Name] = true
			assert.InDelta(t, 100, h.MatchPercentage, 1e-9)
			assert.WithinDuration(t, time.Now(), h.CreatedAt, time.Minute)
		}
		assert.Equal(t, map[string]bool{"first": true, "second": true}, names)
	})

	t.Run("Limit", func(t *testing.T) {
		w := e.do(t, http.MethodGet, "/api/matches/history?limit=3", tok, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, decodeBody[[]historyEntry](t, w), 3)
	})

	t.Run("Bad Limit Falls Back To Default", func(t *testing.T) {
		w := e.do(t, http.MethodGet, "/api/matches/history?limit=-5", tok, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, decodeBody[[]historyEntry](t, w), 4)
	})

	t.Run("Deleted Candidate Keeps Its Row", func(t *testing.T) {
		_, _ = e.store.DeleteProfile(t.Context(), 2)
		w := e.do(t, http.MethodGet, "/api/matches/history", tok, nil)
		require.Equal(t, http.StatusOK, w.Code)
		got := decodeBody[[]historyEntry](t, w)
		require.Len(t, got, 4)
		var blank int
		for _, h := range got {
			if h.Name == "" {
				blank++
			}
		}
		assert.Equal(t, 2, blank)
	})
}

func testMatchRateLimit(t *testing.T) {
	e := newTestEnv(t, func(s *server) {
		s.limiter = newMemoryLimiter(1, time.Minute)
	})
	me := e.store.seedUser(candidate("viewer", 28, floatp(0)), nil)
	tok := e.tokenFor(t, me)

	w := e.do(t, http.MethodGet, "/api/matching", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/api/find_matches_with_all_percentise", tok, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limited", errorCode(t, w))
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	t.Run("History Is Not Limited", func(t *testing.T) {
		w := e.do(t, http.MethodGet, "/api/matches/history", tok, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Per User", func(t *testing.T) {
		other := e.store.seedUser(candidate("other", 28, floatp(0)), nil)
		w := e.do(t, http.MethodGet, "/api/matching", e.tokenFor(t, other), nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
