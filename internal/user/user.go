// Package user defines the account record and the credential-store
// contract. The store itself is an external collaborator; the auth core
// only depends on this interface.
package user

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no account matches the lookup key.
	ErrNotFound = errors.New("user not found")
	// ErrDuplicateEmail is returned when a create or email change would
	// violate email uniqueness.
	ErrDuplicateEmail = errors.New("email already in use")
)

// User is the durable account record.
type User struct {
	ID            string
	Name          string
	Email         string
	PasswordHash  string
	Role          string
	EmailVerified bool
	AvatarURL     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Profile is the subset of fields exposed to the profile endpoints and
// kept in the profile cache.
type Profile struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"is_email_verified"`
	AvatarURL     string `json:"avatar_url"`
}

func (u *User) Profile() Profile {
	return Profile{
		Name:          u.Name,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		AvatarURL:     u.AvatarURL,
	}
}

// Repository is the credential-store collaborator, keyed on an opaque id
// and a unique email.
type Repository interface {
	Create(ctx context.Context, u *User) error
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	SetEmailVerified(ctx context.Context, id string, verified bool) error
	UpdateEmail(ctx context.Context, id, email string) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	UpdateProfile(ctx context.Context, id, name, avatarURL string) error
	Delete(ctx context.Context, id string) error
}
