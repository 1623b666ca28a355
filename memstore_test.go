package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gitea.kood.tech/petrkubec/matrimony/backend/logger"
	"gitea.kood.tech/petrkubec/matrimony/backend/model"
	"gitea.kood.tech/petrkubec/matrimony/backend/store"
)

// memStore is an in-memory Store for handler tests.
type memStore struct {
	mu          sync.Mutex
	clock       time.Time
	nextUser    int
	nextProfile int
	nextRecord  int64

	users       map[int]model.User
	hashes      map[int]string
	profiles    map[int]model.Profile // by profile id
	preferences map[int]model.Preference
	records     []model.MatchRecord

	cardCalls int
	listErr   error
}

func newMemStore() *memStore {
	return &memStore{
		clock:       time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		users:       make(map[int]model.User),
		hashes:      make(map[int]string),
		profiles:    make(map[int]model.Profile),
		preferences: make(map[int]model.Preference),
	}
}

func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memStore) profileConflict(p model.Profile) bool {
	for _, other := range m.profiles {
		if other.ID == p.ID {
			continue
		}
		if other.UserID == p.UserID || other.Email == p.Email || other.PhoneNumber == p.PhoneNumber {
			return true
		}
	}
	return false
}

func (m *memStore) CreateAccount(_ context.Context, u *model.User, hash string, p *model.Profile, pref *model.Preference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.users {
		if other.Username == u.Username || other.Email == u.Email {
			return fmt.Errorf("create account: %w", store.ErrConflict)
		}
	}
	m.nextUser++
	u.ID = m.nextUser
	p.UserID = u.ID
	if m.profileConflict(*p) {
		m.nextUser--
		return fmt.Errorf("create account: %w", store.ErrConflict)
	}
	now := m.tick()
	u.CreatedAt = now
	m.users[u.ID] = *u
	m.hashes[u.ID] = hash

	m.nextProfile++
	p.ID = m.nextProfile
	p.CreatedAt, p.UpdatedAt = now, now
	m.profiles[p.ID] = *p

	pref.UserID = u.ID
	pref.CreatedAt, pref.UpdatedAt = now, now
	m.preferences[u.ID] = *pref
	return nil
}

func (m *memStore) Credentials(_ context.Context, username string) (int, string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, u := range m.users {
		if u.Username == username {
			return id, m.hashes[id], true, nil
		}
	}
	return 0, "", false, nil
}

func (m *memStore) TouchLastLogin(_ context.Context, userID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[userID]
	now := m.tick()
	u.LastLogin = &now
	m.users[userID] = u
	return nil
}

func (m *memStore) sortedProfiles(skipUser int) []model.Profile {
	out := make([]model.Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		if p.UserID != skipUser {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) ListProfiles(context.Context) ([]model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.sortedProfiles(0), nil
}

func (m *memStore) ProfilesExcluding(_ context.Context, userID int) ([]model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.sortedProfiles(userID), nil
}

func (m *memStore) ProfileByID(_ context.Context, id int) (model.Profile, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	return p, ok, nil
}

func (m *memStore) ProfileByUser(_ context.Context, userID int) (model.Profile, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profiles {
		if p.UserID == userID {
			return p, true, nil
		}
	}
	return model.Profile{}, false, nil
}

func (m *memStore) CreateProfile(_ context.Context, p *model.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.profileConflict(*p) {
		return fmt.Errorf("create profile: %w", store.ErrConflict)
	}
	m.nextProfile++
	p.ID = m.nextProfile
	now := m.tick()
	p.CreatedAt, p.UpdatedAt = now, now
	m.profiles[p.ID] = *p
	return nil
}

func (m *memStore) UpdateProfile(_ context.Context, p *model.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[p.ID]; !ok {
		return errors.New("update profile: no rows")
	}
	if m.profileConflict(*p) {
		return fmt.Errorf("update profile: %w", store.ErrConflict)
	}
	p.UpdatedAt = m.tick()
	m.profiles[p.ID] = *p
	return nil
}

func (m *memStore) DeleteProfile(_ context.Context, id int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.profiles[id]
	delete(m.profiles, id)
	return ok, nil
}

func (m *memStore) LastJoinedProfile(context.Context) (model.Profile, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		last  model.Profile
		found bool
	)
	for _, p := range m.profiles {
		if !found || p.CreatedAt.After(last.CreatedAt) || (p.CreatedAt.Equal(last.CreatedAt) && p.ID > last.ID) {
			last, found = p, true
		}
	}
	return last, found, nil
}

func (m *memStore) SetProfilePicture(_ context.Context, userID int, file *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.profiles {
		if p.UserID == userID {
			p.ProfilePicture = ""
			if file != nil {
				p.ProfilePicture = *file
			}
			m.profiles[id] = p
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) ProfileCards(_ context.Context, userIDs []int) (map[int]model.ProfileCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cardCalls++
	out := make(map[int]model.ProfileCard, len(userIDs))
	for _, id := range userIDs {
		for _, p := range m.profiles {
			if p.UserID == id {
				out[id] = p.Card()
			}
		}
	}
	return out, nil
}

func (m *memStore) PreferenceByUser(_ context.Context, userID int) (model.Preference, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.preferences[userID]
	return p, ok, nil
}

func (m *memStore) EnsurePreference(_ context.Context, userID int) (model.Preference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.preferences[userID]; ok {
		return p, nil
	}
	now := m.tick()
	p := model.Preference{UserID: userID, CreatedAt: now, UpdatedAt: now}
	if u, ok := m.users[userID]; ok {
		email := u.Email
		p.Email = &email
	}
	m.preferences[userID] = p
	return p, nil
}

func (m *memStore) UpdatePreference(_ context.Context, p *model.Preference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.UpdatedAt = m.tick()
	m.preferences[p.UserID] = *p
	return nil
}

func (m *memStore) SaveMatchRecords(_ context.Context, records []model.MatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range records {
		m.nextRecord++
		records[i].ID = m.nextRecord
		m.records = append(m.records, records[i])
	}
	return nil
}

func (m *memStore) MatchHistory(_ context.Context, userID, limit int) ([]model.MatchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.MatchRecord, 0)
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		if m.records[i].UserID == userID {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

func (m *memStore) PruneMatchRecords(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	var n int64
	for _, r := range m.records {
		if r.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return n, nil
}

// seedUser stores a user with the given profile and, when pref is non-nil,
// preferences. It returns the user id.
func (m *memStore) seedUser(p model.Profile, pref *model.Preference) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextUser++
	id := m.nextUser
	now := m.tick()
	m.users[id] = model.User{ID: id, Username: fmt.Sprintf("seed%d", id), Email: fmt.Sprintf("seed%d@example.com", id), CreatedAt: now}

	m.nextProfile++
	p.ID = m.nextProfile
	p.UserID = id
	if p.Name == "" {
		p.Name = fmt.Sprintf("Seed %d", id)
	}
	p.CreatedAt, p.UpdatedAt = now, now
	m.profiles[p.ID] = p

	if pref != nil {
		pref.UserID = id
		m.preferences[id] = *pref
	}
	return id
}

// --- test harness ---

const testSecret = "test-secret-key-for-testing"

func testConfig(t *testing.T) config {
	return config{
		Env:             "test",
		JWTSecret:       []byte(testSecret),
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
		MatchRadiusKm:   50,
		AvatarDir:       t.TempDir(),
		CORSOrigins:     []string{"http://localhost:5173"},
	}
}

type testEnv struct {
	srv     *server
	store   *memStore
	handler http.Handler
}

func newTestEnv(t *testing.T, opts ...func(*server)) *testEnv {
	t.Helper()
	st := newMemStore()
	srv := newServer(testConfig(t), st, newMemoryRevoker(), noopLimiter{}, logger.Nop())
	for _, opt := range opts {
		opt(srv)
	}
	return &testEnv{srv: srv, store: st, handler: srv.routes()}
}

// tokenFor issues an access token without going through login.
func (e *testEnv) tokenFor(t *testing.T, userID int) string {
	t.Helper()
	tok, err := e.srv.tokens.issue(userID, accessToken)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[map[string]any](t, w)["error"].(string)
}

func floatp(f float64) *float64 { return &f }
func intp(i int) *int           { return &i }
func strp(s string) *string     { return &s }
