package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/storefront/authguard"
	"gopkg.in/gomail.v2"
)

type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailConfig holds SMTP settings.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailSender delivers codes over SMTP.
type EmailSender struct {
	dialer mailDialer
	from   string
	now    func() time.Time
}

// NewEmailSender validates cfg and returns a sender.
func NewEmailSender(cfg EmailConfig) (*EmailSender, error) {
	if cfg.Host == "" || cfg.Port <= 0 {
		return nil, errors.New("notify: smtp host and port required")
	}
	if cfg.From == "" {
		return nil, errors.New("notify: smtp from address required")
	}
	return &EmailSender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
		now:    time.Now,
	}, nil
}

// Send mails the code in msg to msg.Destination.
func (s *EmailSender) Send(ctx context.Context, msg authguard.Notification) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.Destination)
	m.SetHeader("Subject", subjectFor(msg.Purpose))
	m.SetBody("text/plain", bodyFor(msg, s.now()))

	if err := run(ctx, func() error { return s.dialer.DialAndSend(m) }); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}
