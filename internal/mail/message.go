// Package mail renders the outbound notification bodies and defines the
// transport contract the dispatch queue delivers through.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
)

// Message is a rendered outbound mail.
type Message struct {
	Subject string
	HTML    string
}

// Transport delivers a message to one recipient and returns a
// provider-side delivery id. Implementations are called from queue
// workers and must be safe for concurrent use.
type Transport interface {
	Send(ctx context.Context, recipient string, msg Message) (deliveryID string, err error)
}

var otpTemplate = template.Must(template.New("otp").Parse(`<!DOCTYPE html>
<html>
  <body style="font-family: Arial, sans-serif; color: #222;">
    <h2>Confirm your email address</h2>
    <p>Use this one-time code to verify your RealHut account:</p>
    <p style="font-size: 28px; font-weight: bold; letter-spacing: 6px;">{{.OTP}}</p>
    <p>The code expires in 5 minutes. If you didn't request it, you can ignore this mail.</p>
  </body>
</html>`))

var resetTemplate = template.Must(template.New("reset").Parse(`<!DOCTYPE html>
<html>
  <body style="font-family: Arial, sans-serif; color: #222;">
    <h2>Reset your password</h2>
    <p>We received a request to reset the password for your RealHut account.</p>
    <p><a href="{{.ResetURL}}">Choose a new password</a></p>
    <p>The link expires in 5 minutes. If you didn't request a reset, no action is needed.</p>
  </body>
</html>`))

// VerificationOTP renders the email-verification mail for a code.
func VerificationOTP(otp string) (Message, error) {
	var buf bytes.Buffer
	if err := otpTemplate.Execute(&buf, struct{ OTP string }{OTP: otp}); err != nil {
		return Message{}, fmt.Errorf("mail: render otp template: %w", err)
	}
	return Message{Subject: "Verify your email address", HTML: buf.String()}, nil
}

// PasswordReset renders the reset mail pointing at the given URL.
func PasswordReset(resetURL string) (Message, error) {
	var buf bytes.Buffer
	if err := resetTemplate.Execute(&buf, struct{ ResetURL string }{ResetURL: resetURL}); err != nil {
		return Message{}, fmt.Errorf("mail: render reset template: %w", err)
	}
	return Message{Subject: "Reset your password", HTML: buf.String()}, nil
}
