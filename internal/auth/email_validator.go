package auth

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
)

// EmailValidator decides whether an address may be attached to an
// account. Implementations may call out to a reputation service; the
// built-in one is purely local.
type EmailValidator interface {
	ValidateEmail(ctx context.Context, email string) error
}

// DenyListValidator accepts syntactically valid addresses whose domain
// is not on the deny list.
type DenyListValidator struct {
	denied map[string]struct{}
}

// DefaultDeniedDomains are well-known throwaway mail providers.
var DefaultDeniedDomains = []string{
	"mailinator.com",
	"guerrillamail.com",
	"10minutemail.com",
	"tempmail.com",
	"trashmail.com",
	"yopmail.com",
}

func NewDenyListValidator(domains []string) *DenyListValidator {
	denied := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		denied[strings.ToLower(d)] = struct{}{}
	}
	return &DenyListValidator{denied: denied}
}

func (v *DenyListValidator) ValidateEmail(_ context.Context, email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: malformed address", ErrEmailRejected)
	}

	at := strings.LastIndex(email, "@")
	domain := strings.ToLower(email[at+1:])
	if _, ok := v.denied[domain]; ok {
		return fmt.Errorf("%w: disposable domain %s", ErrEmailRejected, domain)
	}
	return nil
}
