// Package ticket issues and verifies the short-lived single-use secrets
// behind email verification and password reset. Only a salted hash of a
// secret is ever stored; a successful verification consumes the ticket.
package ticket

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Purpose selects a ticket keyspace and the shape of its secret.
type Purpose string

const (
	// PurposeEmailVerification tickets carry a numeric OTP.
	PurposeEmailVerification Purpose = "email_verification"
	// PurposePasswordReset tickets carry an opaque high-entropy token.
	PurposePasswordReset Purpose = "password_reset"
)

const (
	defaultTTL       = 300 * time.Second
	otpDigits        = 6
	resetSecretBytes = 32
	saltBytes        = 16
)

var (
	// ErrUnavailable indicates the ticket backend is unreachable.
	ErrUnavailable = errors.New("ticket store unavailable")
)

type record struct {
	Salt string `json:"salt"`
	Hash string `json:"hash"`
}

// Store keeps ticket hashes in Redis under (purpose, subject) keys.
// Issuing is an unconditional SET: a fresh ticket always replaces any
// prior one for the same key.
type Store struct {
	redis redis.UniversalClient
	ttl   time.Duration
}

func New(redisClient redis.UniversalClient, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{redis: redisClient, ttl: ttl}
}

func key(purpose Purpose, subjectID string) string {
	switch purpose {
	case PurposeEmailVerification:
		return "auth_verification_otp_" + subjectID
	default:
		return "auth_" + string(purpose) + "_" + subjectID
	}
}

// Issue generates a fresh secret for the key, stores its salted hash with
// the configured TTL and returns the plaintext to be delivered out of
// band. The plaintext never touches the store.
func (s *Store) Issue(ctx context.Context, purpose Purpose, subjectID string) (string, error) {
	secret, err := newSecret(purpose)
	if err != nil {
		return "", err
	}

	salt := make([]byte, saltBytes)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	rec := record{
		Salt: base64.StdEncoding.EncodeToString(salt),
		Hash: base64.StdEncoding.EncodeToString(hashSecret(salt, secret)),
	}
	encoded, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}

	if err := s.redis.Set(ctx, key(purpose, subjectID), encoded, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return secret, nil
}

// Verify checks the candidate against the stored hash. A missing key
// (expired or never issued, the caller cannot tell which) and a mismatch
// both return false; a mismatch leaves the ticket in place. On a match
// the ticket is deleted before returning, and the DEL count decides the
// winner if two verifications race: only the one that actually removed
// the key succeeds.
func (s *Store) Verify(ctx context.Context, purpose Purpose, subjectID, candidate string) (bool, error) {
	k := key(purpose, subjectID)

	data, err := s.redis.Get(ctx, k).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return false, fmt.Errorf("%w: corrupt ticket record: %v", ErrUnavailable, err)
	}
	salt, err := base64.StdEncoding.DecodeString(rec.Salt)
	if err != nil {
		return false, fmt.Errorf("%w: corrupt ticket record: %v", ErrUnavailable, err)
	}
	stored, err := base64.StdEncoding.DecodeString(rec.Hash)
	if err != nil {
		return false, fmt.Errorf("%w: corrupt ticket record: %v", ErrUnavailable, err)
	}

	computed := hashSecret(salt, candidate)
	if subtle.ConstantTimeCompare(computed, stored) != 1 {
		return false, nil
	}

	deleted, err := s.redis.Del(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return deleted == 1, nil
}

func hashSecret(salt []byte, secret string) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(secret))
	return h.Sum(nil)
}

func newSecret(purpose Purpose) (string, error) {
	if purpose == PurposeEmailVerification {
		return newOTP(otpDigits)
	}

	raw := make([]byte, resetSecretBytes)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func newOTP(digits int) (string, error) {
	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	return b.String(), nil
}
