// Package notify delivers member notifications by email.
package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"gymledger/internal/membership"
)

// Gym is the branding printed in every message.
type Gym struct {
	Name    string
	Address string
	Phone   string
	Email   string
}

// SMTPConfig holds the outgoing mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	FromName string
	UseTLS   bool
}

// ErrNoRecipient is returned for a member without an email address.
var ErrNoRecipient = errors.New("member has no email address")

type sendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// Mailer renders a template per reason and sends it over SMTP. Sends are paced
// by a token bucket shared by all callers.
type Mailer struct {
	smtp    SMTPConfig
	gym     Gym
	limiter *rate.Limiter
	logger  *slog.Logger
	send    sendFunc
}

var _ membership.Notifier = (*Mailer)(nil)

// NewMailer builds a Mailer sending at most perMinute messages a minute. A
// non-positive perMinute disables pacing.
func NewMailer(cfg SMTPConfig, gym Gym, perMinute int, logger *slog.Logger) *Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if perMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	}
	m := &Mailer{
		smtp:    cfg,
		gym:     gym,
		limiter: limiter,
		logger:  logger,
	}
	m.send = smtp.SendMail
	if cfg.UseTLS {
		m.send = m.sendTLS
	}
	return m
}

// Notify implements membership.Notifier.
func (m *Mailer) Notify(ctx context.Context, member *membership.Member, reason membership.Reason) error {
	if member.Email == "" {
		return ErrNoRecipient
	}
	subject, body, err := m.Render(member, reason)
	if err != nil {
		return err
	}
	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for send slot: %w", err)
	}

	msg := m.buildMessage(member.Email, subject, body)
	var auth smtp.Auth
	if m.smtp.User != "" {
		auth = smtp.PlainAuth("", m.smtp.User, m.smtp.Password, m.smtp.Host)
	}
	addr := net.JoinHostPort(m.smtp.Host, strconv.Itoa(m.smtp.Port))
	if err := m.send(addr, auth, m.smtp.From, []string{member.Email}, msg); err != nil {
		return fmt.Errorf("send %s email: %w", reason, err)
	}

	m.logger.InfoContext(ctx, "email sent", "member_id", member.ID, "reason", reason)
	return nil
}

// Render returns the subject and HTML body for reason.
func (m *Mailer) Render(member *membership.Member, reason membership.Reason) (string, string, error) {
	tmpl, ok := templates[reason]
	if !ok {
		return "", "", fmt.Errorf("no email template for %q", reason)
	}
	var body bytes.Buffer
	data := struct {
		Gym    Gym
		Member *membership.Member
	}{m.gym, member}
	if err := tmpl.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("render %s email: %w", reason, err)
	}
	return fmt.Sprintf(subjects[reason], m.gym.Name, member.Name), body.String(), nil
}

func (m *Mailer) buildMessage(to, subject, htmlBody string) []byte {
	var msg bytes.Buffer
	from := m.smtp.From
	if m.smtp.FromName != "" {
		from = fmt.Sprintf("%s <%s>", m.smtp.FromName, m.smtp.From)
	}
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", strings.NewReplacer("\r", "", "\n", "").Replace(subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(htmlBody)
	return msg.Bytes()
}

func (m *Mailer) sendTLS(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: m.smtp.Host})
	if err != nil {
		return fmt.Errorf("TLS dial error: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, m.smtp.Host)
	if err != nil {
		return fmt.Errorf("SMTP client error: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth error: %w", err)
		}
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("mail error: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt error: %w", err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data error: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write error: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close error: %w", err)
	}
	return client.Quit()
}

// LogNotifier writes notifications to the log instead of sending them. It is
// used when no SMTP host is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

var _ membership.Notifier = LogNotifier{}

func (n LogNotifier) Notify(ctx context.Context, member *membership.Member, reason membership.Reason) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification",
		"member_id", member.ID,
		"email", member.Email,
		"reason", reason,
		"amount_due", member.AmountDue,
		"expires_at", member.ExpiresAt,
	)
	return nil
}
