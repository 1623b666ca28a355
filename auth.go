package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"gitea.kood.tech/petrkubec/matrimony/backend/model"
	"gitea.kood.tech/petrkubec/matrimony/backend/store"
)

const minPasswordLength = 8

type registerRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	profileInput
	preferenceInput
}

type tokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	UserID  int    `json:"user_id,omitempty"`
}

// POST /api/register
// Creates the user together with their profile and preferences.
func (s *server) registerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}

		req.Username = strings.TrimSpace(req.Username)
		req.Email = strings.TrimSpace(req.Email)
		if req.Username == "" || req.Email == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "missing_fields")
			return
		}

		fields := fieldErrors{}
		if len(req.Password) < minPasswordLength {
			fields.add("password", "must be at least 8 characters")
		}
		if !validEmail(req.Email) {
			fields.add("email", "must be a valid email address")
		}

		now := time.Now()
		profile := model.Profile{Email: req.Email, HidePhoneNumber: true}
		req.profileInput.apply(&profile, now, fields)
		validateProfile(profile, now, fields)

		pref := model.Preference{Email: &req.Email}
		req.preferenceInput.apply(&pref)
		validatePreference(pref, fields)

		if len(fields) > 0 {
			writeValidation(w, fields)
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			s.log.Error("hash password", "error", err)
			writeError(w, http.StatusInternalServerError, "hash_error")
			return
		}

		user := model.User{
			Username:  req.Username,
			Email:     req.Email,
			FirstName: strings.TrimSpace(req.FirstName),
			LastName:  strings.TrimSpace(req.LastName),
		}
		if err := s.store.CreateAccount(r.Context(), &user, string(hash), &profile, &pref); err != nil {
			if errors.Is(err, store.ErrConflict) {
				writeError(w, http.StatusConflict, "already_exists")
				return
			}
			s.log.Error("create account", "error", err, "request_id", requestIDFrom(r.Context()))
			writeError(w, http.StatusInternalServerError, "register_error")
			return
		}

		access, refresh, err := s.tokens.pair(user.ID)
		if err != nil {
			s.log.Error("issue tokens", "error", err, "user_id", user.ID)
			writeError(w, http.StatusInternalServerError, "token_generation_error")
			return
		}
		s.log.Info("user registered", "user_id", user.ID)
		writeJSON(w, http.StatusCreated, tokenPair{Access: access, Refresh: refresh, UserID: user.ID})
	}
}

// POST /api/login
func (s *server) loginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		req.Username = strings.TrimSpace(req.Username)
		if req.Username == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "missing_fields")
			return
		}

		userID, hash, found, err := s.store.Credentials(r.Context(), req.Username)
		if err != nil {
			s.log.Error("load credentials", "error", err)
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if !found || bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}

		if err := s.store.TouchLastLogin(r.Context(), userID); err != nil {
			// not worth failing the login over
			s.log.Warn("update last_login", "error", err, "user_id", userID)
		}

		access, refresh, err := s.tokens.pair(userID)
		if err != nil {
			s.log.Error("issue tokens", "error", err, "user_id", userID)
			writeError(w, http.StatusInternalServerError, "token_generation_error")
			return
		}
		writeJSON(w, http.StatusOK, tokenPair{Access: access, Refresh: refresh, UserID: userID})
	}
}

// POST /api/token/refresh
func (s *server) refreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Refresh string `json:"refresh"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		if req.Refresh == "" {
			writeError(w, http.StatusBadRequest, "missing_fields")
			return
		}

		claims, err := s.tokens.parse(req.Refresh, refreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		revoked, err := s.revoked.Revoked(r.Context(), claims.ID)
		if err != nil {
			s.log.Error("revocation lookup", "error", err)
			writeError(w, http.StatusServiceUnavailable, "auth_unavailable")
			return
		}
		if revoked {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}

		access, err := s.tokens.issue(claims.UserID, accessToken)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "token_generation_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"access": access})
	}
}

// POST /api/logout
// Revokes the refresh token from the body and the access token used for
// this request.
func (s *server) logoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me := userIDFrom(r.Context())

		var req struct {
			Refresh string `json:"refresh"`
		}
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		if req.Refresh == "" {
			writeError(w, http.StatusBadRequest, "missing_fields")
			return
		}
		refresh, err := s.tokens.parse(req.Refresh, refreshToken)
		if err != nil || refresh.UserID != me {
			writeError(w, http.StatusBadRequest, "invalid_token")
			return
		}

		toRevoke := []tokenClaims{refresh}
		if access, ok := r.Context().Value(claimsKey).(tokenClaims); ok {
			toRevoke = append(toRevoke, access)
		}
		for _, c := range toRevoke {
			if err := s.revoked.Revoke(r.Context(), c.ID, time.Until(c.ExpiresAt)); err != nil {
				s.log.Error("revoke token", "error", err, "user_id", me)
				writeError(w, http.StatusServiceUnavailable, "auth_unavailable")
				return
			}
		}
		w.WriteHeader(http.StatusResetContent)
	}
}

// authenticate resolves the bearer access token to a user id and stores it
// in the request context.
func (s *server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		claims, status, code := s.verifyAccess(r.Context(), tok)
		if status != 0 {
			writeError(w, status, code)
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, claims.UserID)
		ctx = context.WithValue(ctx, claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// verifyAccess returns a non-zero status and error code when the token must
// be refused.
func (s *server) verifyAccess(ctx context.Context, tok string) (tokenClaims, int, string) {
	claims, err := s.tokens.parse(tok, accessToken)
	if err != nil {
		return tokenClaims{}, http.StatusUnauthorized, "invalid_token"
	}
	revoked, err := s.revoked.Revoked(ctx, claims.ID)
	if err != nil {
		s.log.Error("revocation lookup", "error", err)
		return tokenClaims{}, http.StatusServiceUnavailable, "auth_unavailable"
	}
	if revoked {
		return tokenClaims{}, http.StatusUnauthorized, "invalid_token"
	}
	return claims, 0, ""
}

// userIDFromRequest accepts the Authorization header or, for websocket
// upgrades, a ?token= query parameter.
func (s *server) userIDFromRequest(r *http.Request) (int, bool) {
	tok, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		tok = r.URL.Query().Get("token")
	}
	if tok == "" {
		return 0, false
	}
	claims, status, _ := s.verifyAccess(r.Context(), tok)
	if status != 0 {
		return 0, false
	}
	return claims.UserID, true
}

func validEmail(email string) bool {
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\r\n") && strings.Count(email, "@") == 1
}
