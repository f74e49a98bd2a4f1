// Package smtp delivers mail.Message values over SMTP using gomail.
package smtp

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/MrEthical07/goAccount/mail"
	"gopkg.in/gomail.v2"
)

// Config holds SMTP connection settings.
type Config struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"required,min=1,max=65535"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from" validate:"required,email"`
	// SSL forces implicit TLS; otherwise STARTTLS is used when offered.
	SSL                bool `yaml:"ssl"`
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Transport implements mail.Transport.
type Transport struct {
	dialer sender
	from   string
}

// New returns a transport for cfg. No connection is made until Send.
func New(cfg Config) *Transport {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	dialer.SSL = cfg.SSL
	if cfg.InsecureSkipVerify {
		dialer.TLSConfig = &tls.Config{InsecureSkipVerify: true, ServerName: cfg.Host}
	}
	return &Transport{dialer: dialer, from: cfg.From}
}

// Send dials, delivers and hangs up. gomail has no context support, so a
// cancelled ctx abandons the wait but not the in-flight SMTP exchange.
func (t *Transport) Send(ctx context.Context, msg mail.Message) error {
	m := gomail.NewMessage()
	m.SetHeader("From", t.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)

	done := make(chan error, 1)
	go func() { done <- t.dialer.DialAndSend(m) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
