// Package mailer sends plain-text mail over SMTP with go-mail.
package mailer

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/wneessen/go-mail"
)

const DefaultTimeout = 30 * time.Second

// Config holds SMTP connection settings
type Config struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Sender   string `mapstructure:"sender"`
	UseTLS   bool   `mapstructure:"use_tls"`
}

// Configured reports whether enough is set to send mail
func (c Config) Configured() bool {
	return c.Host != "" && c.Sender != ""
}

// Sender delivers a message using the given settings
type Sender interface {
	Send(ctx context.Context, cfg Config, msg *mail.Msg) error
}

// Message builds a plain-text message
func Message(from, to, subject, body string) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, errors.Wrapf(err, "invalid sender %q", from)
	}
	if err := m.To(to); err != nil {
		return nil, errors.Wrapf(err, "invalid recipient %q", to)
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextPlain, body)
	return m, nil
}

// SMTP is the network Sender
type SMTP struct{}

// Send dials the server, upgrading with STARTTLS when UseTLS is set, and
// authenticates only when both username and password are present.
func (SMTP) Send(ctx context.Context, cfg Config, msg *mail.Msg) error {
	port := cfg.Port
	if port == 0 {
		port = 25
	}
	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTimeout(DefaultTimeout),
	}
	if cfg.UseTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return errors.Wrap(err, "failed to create SMTP client")
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return errors.Wrapf(err, "failed to send mail via %s:%d", cfg.Host, port)
	}
	return nil
}
