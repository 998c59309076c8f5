package auth

import (
	"fmt"
	"net/mail"
	"unicode"
)

// Request DTOs with field validation. The rules mirror the public API
// contract: name 3-16 characters, well-formed email, password at least 8
// characters mixing upper, lower, digit and special.

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r RegisterRequest) Validate() error {
	if err := validateName(r.Name); err != nil {
		return err
	}
	if err := validateEmailFormat(r.Email); err != nil {
		return err
	}
	return validatePassword(r.Password)
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r LoginRequest) Validate() error {
	if err := validateEmailFormat(r.Email); err != nil {
		return err
	}
	if r.Password == "" {
		return fmt.Errorf("%w: password is required", ErrValidation)
	}
	return nil
}

type VerifyEmailRequest struct {
	OTP string `json:"otp"`
}

func (r VerifyEmailRequest) Validate() error {
	if len(r.OTP) != 6 {
		return fmt.Errorf("%w: otp must be 6 digits", ErrValidation)
	}
	for _, c := range r.OTP {
		if c < '0' || c > '9' {
			return fmt.Errorf("%w: otp must be 6 digits", ErrValidation)
		}
	}
	return nil
}

type UpdateEmailRequest struct {
	Email string `json:"email"`
}

func (r UpdateEmailRequest) Validate() error {
	return validateEmailFormat(r.Email)
}

type UpdatePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (r UpdatePasswordRequest) Validate() error {
	if r.OldPassword == "" {
		return fmt.Errorf("%w: old password is required", ErrValidation)
	}
	return validatePassword(r.NewPassword)
}

type ResetPasswordRequestRequest struct {
	Email string `json:"email"`
}

func (r ResetPasswordRequestRequest) Validate() error {
	return validateEmailFormat(r.Email)
}

type ResetPasswordRequest struct {
	UserID   string `json:"user_id"`
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (r ResetPasswordRequest) Validate() error {
	if r.UserID == "" || r.Token == "" {
		return fmt.Errorf("%w: user id and token are required", ErrValidation)
	}
	return validatePassword(r.Password)
}

type UpdateProfileRequest struct {
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

func (r UpdateProfileRequest) Validate() error {
	return validateName(r.Name)
}

func validateName(name string) error {
	if len(name) < 3 || len(name) > 16 {
		return fmt.Errorf("%w: name must be 3-16 characters", ErrValidation)
	}
	return nil
}

func validateEmailFormat(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return fmt.Errorf("%w: malformed email address", ErrValidation)
	}
	return nil
}

func validatePassword(pw string) error {
	if len(pw) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrValidation)
	}
	var upper, lower, digit, special bool
	for _, c := range pw {
		switch {
		case unicode.IsUpper(c):
			upper = true
		case unicode.IsLower(c):
			lower = true
		case unicode.IsDigit(c):
			digit = true
		default:
			special = true
		}
	}
	if !upper || !lower || !digit || !special {
		return fmt.Errorf("%w: password needs upper, lower, digit and special characters", ErrValidation)
	}
	return nil
}
