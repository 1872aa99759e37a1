// Package mail delivers the plain text emails queued by send-email jobs.
package mail

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/kilianp07/citro80/core/jobs"
	"github.com/kilianp07/citro80/infra/logger"
)

// Config selects and configures the mail transport.
type Config struct {
	Driver   string `json:"driver"` // smtp or log
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "log"
	}
	if c.Port == 0 {
		c.Port = 587
	}
	if c.From == "" {
		c.From = "Citro 80 <noreply@citro80.local>"
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	switch c.Driver {
	case "log":
		return nil
	case "smtp":
		if c.Host == "" {
			return fmt.Errorf("mail: host required for smtp driver")
		}
		return nil
	default:
		return fmt.Errorf("mail: unknown driver %q", c.Driver)
	}
}

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, msg jobs.SendEmailPayload) error
}

// New returns the sender selected by cfg.
func New(cfg Config, log logger.Logger) (Sender, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	if cfg.Driver == "log" {
		return &LogSender{log: log}, nil
	}
	return &SMTPSender{cfg: cfg, send: smtp.SendMail}, nil
}

// LogSender writes messages to the logger instead of sending them.
type LogSender struct {
	log logger.Logger
}

// Send logs msg.
func (s *LogSender) Send(_ context.Context, msg jobs.SendEmailPayload) error {
	s.log.Infow("email", map[string]any{"to": msg.To, "subject": msg.Subject, "message": msg.Message})
	return nil
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender delivers through an SMTP relay with STARTTLS when offered.
type SMTPSender struct {
	cfg  Config
	send sendFunc
}

// Send delivers msg. Header injection through the recipient or subject is
// rejected.
func (s *SMTPSender) Send(ctx context.Context, msg jobs.SendEmailPayload) error {
	if strings.ContainsAny(msg.To+msg.Subject, "\r\n") {
		return jobs.Permanent(fmt.Errorf("mail: invalid header value"))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	if err := s.send(addr, auth, envelopeFrom(s.cfg.From), []string{msg.To}, s.render(msg)); err != nil {
		return fmt.Errorf("mail: send to %s: %w", msg.To, err)
	}
	return nil
}

func (s *SMTPSender) render(msg jobs.SendEmailPayload) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(msg.Message, "\r\n", "\n"), "\n", "\r\n"))
	return []byte(b.String())
}

func envelopeFrom(from string) string {
	if i := strings.LastIndex(from, "<"); i >= 0 {
		return strings.TrimSuffix(from[i+1:], ">")
	}
	return from
}

// Handler returns the send-email job handler.
func Handler(s Sender) jobs.Handler {
	return func(ctx context.Context, j jobs.Job) error {
		msg, err := jobs.Decode[jobs.SendEmailPayload](j)
		if err != nil {
			return err
		}
		if msg.To == "" {
			return jobs.Permanent(fmt.Errorf("mail: empty recipient"))
		}
		return s.Send(ctx, msg)
	}
}
