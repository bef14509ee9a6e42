package mailer

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/google/uuid"

	"github.com/crowdreach/automation/internal/config"
)

// Provider delivers one rendered message to one recipient and returns a
// provider message identifier.
type Provider interface {
	// Configured reports whether the delivery credential is present. When
	// it is not, the queue processor fails its whole batch without
	// attempting a single send.
	Configured() bool
	Send(from, to, subject, body string) (string, error)
}

// SMTPProvider delivers via plain SMTP.
type SMTPProvider struct {
	host string
	port string
	user string
	pass string
}

func NewSMTPProvider(cfg *config.Config) *SMTPProvider {
	return &SMTPProvider{
		host: cfg.SMTPHost,
		port: cfg.SMTPPort,
		user: cfg.SMTPUser,
		pass: cfg.SMTPPass,
	}
}

func (p *SMTPProvider) Configured() bool {
	return p.host != "" && p.port != ""
}

func (p *SMTPProvider) Send(from, to, subject, body string) (string, error) {
	messageID := uuid.New().String()

	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString(fmt.Sprintf("Message-ID: <%s@%s>\r\n", messageID, p.host))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%s", p.host, p.port)
	var auth smtp.Auth
	if p.user != "" {
		auth = smtp.PlainAuth("", p.user, p.pass, p.host)
	}
	if err := smtp.SendMail(addr, auth, from, []string{to}, []byte(msg.String())); err != nil {
		return "", fmt.Errorf("smtp send to %s via %s failed: %w", to, addr, err)
	}
	return messageID, nil
}
