package mail

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/google/uuid"
)

// SMTPConfig locates the outbound relay.
type SMTPConfig struct {
	Addr     string // host:port
	Host     string // for AUTH and TLS verification
	Username string
	Password string
	From     string
}

// SMTPTransport sends through a plain SMTP relay. There is no connection
// pooling; the dispatch queue already caps concurrent deliveries.
type SMTPTransport struct {
	config SMTPConfig
}

func NewSMTPTransport(cfg SMTPConfig) *SMTPTransport {
	return &SMTPTransport{config: cfg}
}

func (t *SMTPTransport) Send(ctx context.Context, recipient string, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	deliveryID := uuid.NewString()

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", t.config.From)
	fmt.Fprintf(&b, "To: %s\r\n", recipient)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "Message-ID: <%s@realhut>\r\n", deliveryID)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)

	var auth smtp.Auth
	if t.config.Username != "" {
		auth = smtp.PlainAuth("", t.config.Username, t.config.Password, t.config.Host)
	}

	if err := smtp.SendMail(t.config.Addr, auth, t.config.From, []string{recipient}, []byte(b.String())); err != nil {
		return "", fmt.Errorf("mail: smtp send: %w", err)
	}
	return deliveryID, nil
}

// LogTransport is the dev/no-relay transport: it logs instead of sending.
type LogTransport struct {
	Logger *slog.Logger
}

func (t *LogTransport) Send(_ context.Context, recipient string, msg Message) (string, error) {
	deliveryID := uuid.NewString()
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("mail delivery (log transport)",
		"recipient", recipient,
		"subject", msg.Subject,
		"delivery_id", deliveryID,
	)
	return deliveryID, nil
}
