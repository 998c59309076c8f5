package auth

import "errors"

var (
	// ErrInvalidCredentials covers both an unknown email and a wrong
	// password; callers must not be able to tell them apart.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidTicket covers a wrong, expired or already-consumed
	// one-time secret.
	ErrInvalidTicket = errors.New("invalid or expired code")
	// ErrAlreadyVerified is returned when a verification is requested for
	// an address that is already confirmed.
	ErrAlreadyVerified = errors.New("email already verified")
	// ErrEmailRejected is returned by the email validator for addresses
	// that are malformed or on the deny list.
	ErrEmailRejected = errors.New("email address rejected")
	// ErrValidation marks a request that failed field validation.
	ErrValidation = errors.New("validation failed")
)
