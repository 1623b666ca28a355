package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	accessToken  = "access"
	refreshToken = "refresh"
)

var errWrongTokenType = errors.New("wrong token type")

// tokenClaims is what the server reads back out of a verified JWT.
type tokenClaims struct {
	UserID    int
	Type      string
	ID        string
	ExpiresAt time.Time
}

type tokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func newTokenIssuer(cfg config) *tokenIssuer {
	return &tokenIssuer{secret: cfg.JWTSecret, accessTTL: cfg.AccessTokenTTL, refreshTTL: cfg.RefreshTokenTTL}
}

func (ti *tokenIssuer) issue(userID int, kind string) (string, error) {
	ttl := ti.accessTTL
	if kind == refreshToken {
		ttl = ti.refreshTTL
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"type":    kind,
		"jti":     uuid.NewString(),
		"iat":     now.Unix(),
		"exp":     now.Add(ttl).Unix(),
	})
	return token.SignedString(ti.secret)
}

// pair issues a fresh access and refresh token.
func (ti *tokenIssuer) pair(userID int) (access, refresh string, err error) {
	if access, err = ti.issue(userID, accessToken); err != nil {
		return "", "", err
	}
	if refresh, err = ti.issue(userID, refreshToken); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// parse verifies signature, expiry and token type.
func (ti *tokenIssuer) parse(tokenStr, kind string) (tokenClaims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return ti.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return tokenClaims{}, fmt.Errorf("invalid token: %w", err)
	}

	// jwt.MapClaims stores numbers as float64
	uid, ok := claims["user_id"].(float64)
	if !ok || uid <= 0 {
		return tokenClaims{}, errors.New("invalid user id in token")
	}
	typ, _ := claims["type"].(string)
	if typ != kind {
		return tokenClaims{}, errWrongTokenType
	}
	jti, _ := claims["jti"].(string)
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return tokenClaims{}, errors.New("invalid expiry in token")
	}
	return tokenClaims{UserID: int(uid), Type: typ, ID: jti, ExpiresAt: exp.Time}, nil
}

// revoker remembers token ids that must no longer be accepted. Entries only
// need to live until the token would have expired anyway.
type revoker interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	Revoked(ctx context.Context, jti string) (bool, error)
}

type redisRevoker struct {
	rdb *redis.Client
}

func (r *redisRevoker) key(jti string) string { return "revoked:" + jti }

func (r *redisRevoker) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return r.rdb.Set(ctx, r.key(jti), 1, ttl).Err()
}

func (r *redisRevoker) Revoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.key(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type memoryRevoker struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

func newMemoryRevoker() *memoryRevoker {
	return &memoryRevoker{revoked: make(map[string]time.Time)}
}

func (m *memoryRevoker) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for id, until := range m.revoked {
		if now.After(until) {
			delete(m.revoked, id)
		}
	}
	m.revoked[jti] = now.Add(ttl)
	return nil
}

func (m *memoryRevoker) Revoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.revoked[jti]
	return ok && time.Now().Before(until), nil
}

// limiter is a fixed-window request counter keyed by caller.
type limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type noopLimiter struct{}

func (noopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// redisLimiter counts with INCR and opens the window with EXPIRE on the first
// hit. Redis errors let the request through.
type redisLimiter struct {
	rdb    *redis.Client
	prefix string
	limit  int
	window time.Duration
}

func (l *redisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := l.prefix + key
	count, err := l.rdb.Incr(ctx, k).Result()
	if err != nil {
		return true, err
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, k, l.window).Err(); err != nil {
			l.rdb.Del(ctx, k)
			return true, err
		}
	}
	return int(count) <= l.limit, nil
}

type memoryLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string]*window
}

type window struct {
	count int
	ends  time.Time
}

func newMemoryLimiter(limit int, w time.Duration) *memoryLimiter {
	return &memoryLimiter{limit: limit, window: w, buckets: make(map[string]*window)}
}

func (l *memoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	b, ok := l.buckets[key]
	if !ok || now.After(b.ends) {
		b = &window{ends: now.Add(l.window)}
		l.buckets[key] = b
	}
	b.count++
	return b.count <= l.limit, nil
}

// newLimiter picks the backend: disabled at limit 0, Redis when available,
// process memory otherwise.
func newLimiter(rdb *redis.Client, limit int) limiter {
	switch {
	case limit <= 0:
		return noopLimiter{}
	case rdb != nil:
		return &redisLimiter{rdb: rdb, prefix: "rl:match:", limit: limit, window: time.Minute}
	default:
		return newMemoryLimiter(limit, time.Minute)
	}
}

func newRevoker(rdb *redis.Client) revoker {
	if rdb != nil {
		return &redisRevoker{rdb: rdb}
	}
	return newMemoryRevoker()
}

func bearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return tok, tok != ""
}
