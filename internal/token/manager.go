// Package token issues the signed session tokens and maintains the
// revocation list consulted on every authenticated request.
package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL      = 30 * 24 * time.Hour
	blacklistPrefix = "blacklist_"
)

var (
	// ErrInvalid covers malformed tokens and bad signatures.
	ErrInvalid = errors.New("invalid token")
	// ErrExpired marks a token past its embedded expiry.
	ErrExpired = errors.New("token expired")
	// ErrRevoked marks a structurally valid token present on the
	// revocation list.
	ErrRevoked = errors.New("token revoked")
	// ErrUnavailable indicates the revocation backend is unreachable.
	// Validation fails closed on it.
	ErrUnavailable = errors.New("revocation store unavailable")
)

// Claims is the session token payload: subject id, flat role label, and
// the registered issue/expiry times.
type Claims struct {
	UserID string `json:"uid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Config tunes the manager. TTL defaults to 30 days.
type Config struct {
	Secret []byte
	TTL    time.Duration
	Issuer string
}

// Manager signs and validates session tokens (HS256) and drives the
// Redis-backed revocation list. Tokens themselves are stateless; only
// revocations are persisted, each with a TTL equal to the token's
// remaining lifetime so the list is self-cleaning.
type Manager struct {
	config Config
	redis  redis.UniversalClient
	now    func() time.Time
}

func NewManager(cfg Config, redisClient redis.UniversalClient) (*Manager, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token: signing secret is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	return &Manager{
		config: cfg,
		redis:  redisClient,
		now:    time.Now,
	}, nil
}

// WithClock overrides the time source. Tests only.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Issue signs a session token for the subject.
func (m *Manager) Issue(subjectID, role string) (string, error) {
	now := m.now()
	claims := Claims{
		UserID: subjectID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.TTL)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.config.Secret)
}

// Validate checks signature and expiry locally first, then consults the
// revocation list. A revoked token fails even though its signature and
// expiry are still nominally valid. Revoked and expired are distinct
// errors for logging; callers surface both as unauthorized.
func (m *Manager) Validate(ctx context.Context, raw string) (*Claims, error) {
	claims, err := m.parse(raw)
	if err != nil {
		return nil, err
	}

	revoked, err := m.redis.Exists(ctx, blacklistKey(raw)).Result()
	if err != nil {
		// Fail closed: an unreachable blacklist must reject, not admit.
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if revoked > 0 {
		return nil, ErrRevoked
	}

	return claims, nil
}

// Revoke puts the token on the revocation list for exactly its remaining
// lifetime: never shorter (the token would come back to life), never
// longer (wasted storage). Revoking an already-expired token is a no-op.
func (m *Manager) Revoke(ctx context.Context, raw string) error {
	claims, err := m.parse(raw)
	if err != nil {
		if errors.Is(err, ErrExpired) {
			return nil
		}
		return err
	}

	remaining := claims.ExpiresAt.Time.Sub(m.now())
	if remaining <= 0 {
		return nil
	}

	if err := m.redis.Set(ctx, blacklistKey(raw), "1", remaining).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (m *Manager) parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (any, error) { return m.config.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing expiry", ErrInvalid)
	}
	return claims, nil
}

// Tokens are blacklisted under a digest of their value; the raw token
// never becomes a Redis key.
func blacklistKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return blacklistPrefix + hex.EncodeToString(sum[:])
}
