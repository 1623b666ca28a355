package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"gitea.kood.tech/petrkubec/matrimony/backend/logger"
	"gitea.kood.tech/petrkubec/matrimony/backend/matching"
	"gitea.kood.tech/petrkubec/matrimony/backend/metrics"
	"gitea.kood.tech/petrkubec/matrimony/backend/model"
)

// Store is everything the HTTP layer reads and writes. store.Postgres
// implements it in production.
type Store interface {
	matching.Source
	matching.RecordSink

	CreateAccount(ctx context.Context, u *model.User, passwordHash string, p *model.Profile, pref *model.Preference) error
	Credentials(ctx context.Context, username string) (int, string, bool, error)
	TouchLastLogin(ctx context.Context, userID int) error

	ListProfiles(ctx context.Context) ([]model.Profile, error)
	ProfileByID(ctx context.Context, id int) (model.Profile, bool, error)
	CreateProfile(ctx context.Context, p *model.Profile) error
	UpdateProfile(ctx context.Context, p *model.Profile) error
	DeleteProfile(ctx context.Context, id int) (bool, error)
	LastJoinedProfile(ctx context.Context) (model.Profile, bool, error)
	SetProfilePicture(ctx context.Context, userID int, file *string) (bool, error)
	ProfileCards(ctx context.Context, userIDs []int) (map[int]model.ProfileCard, error)

	EnsurePreference(ctx context.Context, userID int) (model.Preference, error)
	UpdatePreference(ctx context.Context, p *model.Preference) error

	MatchHistory(ctx context.Context, userID, limit int) ([]model.MatchRecord, error)
	PruneMatchRecords(ctx context.Context, before time.Time) (int64, error)
}

type server struct {
	cfg     config
	store   Store
	finder  *matching.Finder
	tokens  *tokenIssuer
	revoked revoker
	limiter limiter
	hub     *Hub
	log     *logger.Logger
}

func newServer(cfg config, st Store, rev revoker, lim limiter, log *logger.Logger) *server {
	return &server{
		cfg:     cfg,
		store:   st,
		finder:  matching.NewFinder(st, matching.WithDefaultRadius(cfg.MatchRadiusKm)),
		tokens:  newTokenIssuer(cfg),
		revoked: rev,
		limiter: lim,
		hub:     newHub(),
		log:     log,
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Accounts
	r.Post("/api/register", s.registerHandler())
	r.Post("/api/login", s.loginHandler())
	r.Post("/api/token/refresh", s.refreshHandler())

	// Authenticates from the query string as well, browsers cannot set
	// headers on websocket upgrades.
	r.Get("/ws/matches", s.wsMatchesHandler())

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(DataLoaderMiddleware(s.store))

		r.Post("/api/logout", s.logoutHandler())

		r.Get("/users", s.exploreHandler())
		r.Get("/api/last_joined_user", s.lastJoinedHandler())

		r.Route("/profiles", func(r chi.Router) {
			r.Get("/", s.listProfilesHandler())
			r.Post("/", s.createProfileHandler())
			r.Get("/{id}", s.getProfileHandler())
			r.Put("/{id}", s.updateProfileHandler())
			r.Patch("/{id}", s.updateProfileHandler())
			r.Delete("/{id}", s.deleteProfileHandler())
		})

		r.Get("/preferences", s.getPreferencesHandler())
		r.Put("/preferences", s.updatePreferencesHandler())
		r.Patch("/preferences", s.updatePreferencesHandler())
		r.Put("/update_preferred_education", s.updatePreferredEducationHandler())
		r.Put("/update_preferred_location", s.updatePreferredLocationHandler())

		r.Post("/me/avatar", s.uploadAvatarHandler())
		r.Delete("/me/avatar", s.removeAvatarHandler())
		r.Get("/avatars/{id}", s.getAvatarHandler())

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit)
			r.Get("/api/matching", s.radiusMatchesHandler())
			r.Get("/start_matching", s.startMatchingHandler())
			r.Get("/api/find_matches_with_all_percentise", s.combinedMatchesHandler())
		})
		r.Get("/api/matches/history", s.matchHistoryHandler())
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "invalid_method")
	})
	return r
}
