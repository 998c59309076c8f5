// Package auth orchestrates the authentication flows across the guard,
// ticket store, token manager, credential store and notification queue.
// It owns flow ordering and failure precedence; the mechanics live in the
// component packages.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/google/uuid"

	"github.com/realhut/authd/internal/cache"
	"github.com/realhut/authd/internal/guard"
	"github.com/realhut/authd/internal/mail"
	"github.com/realhut/authd/internal/metrics"
	"github.com/realhut/authd/internal/notify"
	"github.com/realhut/authd/internal/password"
	"github.com/realhut/authd/internal/ticket"
	"github.com/realhut/authd/internal/token"
	"github.com/realhut/authd/internal/user"
)

// DefaultRole is assigned to every self-registered account.
const DefaultRole = "buyer"

// Session is the result of a successful register or login.
type Session struct {
	UserID string
	Token  string
	User   user.Profile
}

// Service wires the auth components together. All collaborators are
// required except cache, logger and metrics.
type Service struct {
	users     user.Repository
	hasher    *password.Hasher
	guard     *guard.Guard
	tickets   *ticket.Store
	tokens    *token.Manager
	queue     *notify.Queue
	cache     *cache.ProfileCache
	validator EmailValidator
	logger    *slog.Logger
	metrics   *metrics.Metrics

	// resetURLBase is the page the reset mail links to; uid and token are
	// appended as query parameters.
	resetURLBase string
}

type Config struct {
	Users        user.Repository
	Hasher       *password.Hasher
	Guard        *guard.Guard
	Tickets      *ticket.Store
	Tokens       *token.Manager
	Queue        *notify.Queue
	Cache        *cache.ProfileCache
	Validator    EmailValidator
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	ResetURLBase string
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Users == nil || cfg.Hasher == nil || cfg.Guard == nil ||
		cfg.Tickets == nil || cfg.Tokens == nil || cfg.Queue == nil ||
		cfg.Validator == nil {
		return nil, errors.New("auth: missing required collaborator")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		users:        cfg.Users,
		hasher:       cfg.Hasher,
		guard:        cfg.Guard,
		tickets:      cfg.Tickets,
		tokens:       cfg.Tokens,
		queue:        cfg.Queue,
		cache:        cfg.Cache,
		validator:    cfg.Validator,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		resetURLBase: cfg.ResetURLBase,
	}, nil
}

// Register creates an unverified account, issues its verification OTP and
// returns a live session. If the verification ticket cannot be issued the
// account is removed again so no half-registered record survives.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.validator.ValidateEmail(ctx, req.Email); err != nil {
		return nil, err
	}

	if _, err := s.users.FindByEmail(ctx, req.Email); err == nil {
		return nil, user.ErrDuplicateEmail
	} else if !errors.Is(err, user.ErrNotFound) {
		return nil, err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	u := &user.User{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         DefaultRole,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}

	if err := s.sendVerificationOTP(ctx, u.ID, u.Email); err != nil {
		if delErr := s.users.Delete(ctx, u.ID); delErr != nil {
			s.logger.Error("registration rollback failed",
				"user_id", u.ID, "error", delErr)
		}
		return nil, err
	}

	raw, err := s.tokens.Issue(u.ID, u.Role)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered", "user_id", u.ID)
	return &Session{UserID: u.ID, Token: raw, User: u.Profile()}, nil
}

// Login runs the guard check before any credential-store access. The
// second return value is non-nil when the caller is throttled; error is
// reserved for bad credentials and infrastructure failures.
func (s *Service) Login(ctx context.Context, req LoginRequest, ip string) (*Session, *guard.RetryInfo, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}

	if blocked, err := s.guard.CheckBlocked(ctx, ip, req.Email); err != nil {
		return nil, nil, err
	} else if blocked != nil {
		s.metrics.IncLoginBlocked()
		return nil, blocked, nil
	}

	u, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return s.loginFailure(ctx, ip, req.Email, false)
		}
		return nil, nil, err
	}

	ok, err := s.hasher.Verify(req.Password, u.PasswordHash)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return s.loginFailure(ctx, ip, req.Email, true)
	}

	if err := s.guard.RecordSuccess(ctx, ip, req.Email); err != nil {
		return nil, nil, err
	}

	raw, err := s.tokens.Issue(u.ID, u.Role)
	if err != nil {
		return nil, nil, err
	}

	s.metrics.IncLoginSuccess()
	s.logger.Info("login succeeded", "user_id", u.ID)
	return &Session{UserID: u.ID, Token: raw, User: u.Profile()}, nil, nil
}

func (s *Service) loginFailure(ctx context.Context, ip, email string, userExists bool) (*Session, *guard.RetryInfo, error) {
	blocked, err := s.guard.RecordFailure(ctx, ip, email, userExists)
	if err != nil {
		return nil, nil, err
	}
	s.metrics.IncLoginFailure()
	if blocked != nil {
		s.metrics.IncLoginBlocked()
		return nil, blocked, nil
	}
	return nil, nil, ErrInvalidCredentials
}

// VerifyEmail consumes the OTP and marks the address confirmed.
func (s *Service) VerifyEmail(ctx context.Context, userID string, req VerifyEmailRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	ok, err := s.tickets.Verify(ctx, ticket.PurposeEmailVerification, userID, req.OTP)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidTicket
	}

	if err := s.users.SetEmailVerified(ctx, userID, true); err != nil {
		return err
	}
	s.invalidateProfile(ctx, userID)

	s.logger.Info("email verified", "user_id", userID)
	return nil
}

// ResendOTP issues a fresh verification code; the previous one stops
// working as a side effect of the overwrite.
func (s *Service) ResendOTP(ctx context.Context, userID string) error {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.EmailVerified {
		return ErrAlreadyVerified
	}
	return s.sendVerificationOTP(ctx, u.ID, u.Email)
}

// Logout revokes the presented token for its remaining lifetime.
func (s *Service) Logout(ctx context.Context, rawToken string) error {
	return s.tokens.Revoke(ctx, rawToken)
}

// ValidateToken checks a raw session token; the HTTP middleware calls
// this on every authenticated request.
func (s *Service) ValidateToken(ctx context.Context, rawToken string) (*token.Claims, error) {
	return s.tokens.Validate(ctx, rawToken)
}

// UpdateEmail switches the account to a new address, drops it back to
// unverified and mails a fresh OTP.
func (s *Service) UpdateEmail(ctx context.Context, userID string, req UpdateEmailRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if err := s.validator.ValidateEmail(ctx, req.Email); err != nil {
		return err
	}

	if err := s.users.UpdateEmail(ctx, userID, req.Email); err != nil {
		return err
	}
	s.invalidateProfile(ctx, userID)

	return s.sendVerificationOTP(ctx, userID, req.Email)
}

// UpdatePassword requires the current password. Existing sessions stay
// valid; only the credential changes.
func (s *Service) UpdatePassword(ctx context.Context, userID string, req UpdatePasswordRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := s.hasher.Verify(req.OldPassword, u.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}

	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return err
	}
	return s.users.UpdatePasswordHash(ctx, userID, hash)
}

// RequestPasswordReset issues a reset ticket and mails the link. The
// response is identical whether or not the account exists so the endpoint
// cannot be used to enumerate addresses.
func (s *Service) RequestPasswordReset(ctx context.Context, req ResetPasswordRequestRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	u, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			s.logger.Info("password reset requested for unknown address")
			return nil
		}
		return err
	}

	secret, err := s.tickets.Issue(ctx, ticket.PurposePasswordReset, u.ID)
	if err != nil {
		return err
	}

	msg, err := mail.PasswordReset(s.resetURL(u.ID, secret))
	if err != nil {
		return err
	}

	s.queue.Enqueue(notify.Job{
		Kind:      notify.KindPasswordReset,
		Recipient: u.Email,
		Message:   msg,
	})
	return nil
}

// ResetPassword consumes the reset ticket and installs the new password.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	ok, err := s.tickets.Verify(ctx, ticket.PurposePasswordReset, req.UserID, req.Token)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidTicket
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePasswordHash(ctx, req.UserID, hash); err != nil {
		return err
	}

	s.logger.Info("password reset", "user_id", req.UserID)
	return nil
}

// Profile returns the cached profile, falling back to the credential
// store and repopulating the cache on a miss.
func (s *Service) Profile(ctx context.Context, userID string) (*user.Profile, error) {
	if s.cache != nil {
		if p, err := s.cache.Get(ctx, userID); err != nil {
			s.logger.Warn("profile cache read failed", "user_id", userID, "error", err)
		} else if p != nil {
			return p, nil
		}
	}

	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	p := u.Profile()
	if s.cache != nil {
		if err := s.cache.Set(ctx, userID, p); err != nil {
			s.logger.Warn("profile cache write failed", "user_id", userID, "error", err)
		}
	}
	return &p, nil
}

// UpdateProfile updates the mutable profile fields.
func (s *Service) UpdateProfile(ctx context.Context, userID string, req UpdateProfileRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if err := s.users.UpdateProfile(ctx, userID, req.Name, req.AvatarURL); err != nil {
		return err
	}
	s.invalidateProfile(ctx, userID)
	return nil
}

// DeleteAccount removes the account and revokes the presented token.
func (s *Service) DeleteAccount(ctx context.Context, userID, rawToken string) error {
	if err := s.users.Delete(ctx, userID); err != nil {
		return err
	}
	s.invalidateProfile(ctx, userID)

	if err := s.tokens.Revoke(ctx, rawToken); err != nil {
		s.logger.Warn("token revocation after account deletion failed",
			"user_id", userID, "error", err)
	}

	s.logger.Info("account deleted", "user_id", userID)
	return nil
}

func (s *Service) sendVerificationOTP(ctx context.Context, userID, email string) error {
	otp, err := s.tickets.Issue(ctx, ticket.PurposeEmailVerification, userID)
	if err != nil {
		return err
	}

	msg, err := mail.VerificationOTP(otp)
	if err != nil {
		return err
	}

	s.queue.Enqueue(notify.Job{
		Kind:      notify.KindVerificationOTP,
		Recipient: email,
		Message:   msg,
	})
	return nil
}

func (s *Service) invalidateProfile(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("profile cache invalidation failed", "user_id", userID, "error", err)
	}
}

func (s *Service) resetURL(userID, secret string) string {
	q := url.Values{}
	q.Set("uid", userID)
	q.Set("token", secret)
	return fmt.Sprintf("%s?%s", s.resetURLBase, q.Encode())
}
