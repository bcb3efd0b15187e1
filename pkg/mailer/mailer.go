// Package mailer sends notification emails over SMTP.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/esg-compliance-api/pkg/config"
)

// Message is a multipart plain text + HTML email.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Noop discards every message.
type Noop struct{}

// Send implements Mailer.
func (Noop) Send(context.Context, Message) error { return nil }

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer delivers through an SMTP relay with PLAIN auth.
type SMTPMailer struct {
	addr string
	from string
	auth smtp.Auth
	send sendFunc
	now  func() time.Time
}

// New returns an SMTP mailer when cfg.Enabled, otherwise Noop.
func New(cfg config.SMTPConfig) Mailer {
	if !cfg.Enabled || cfg.Host == "" {
		return Noop{}
	}
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPMailer{
		addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		from: cfg.From,
		auth: auth,
		send: smtp.SendMail,
		now:  time.Now,
	}
}

// Send renders and delivers msg. net/smtp has no context support, so ctx is only
// checked before dialing.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("mail recipient required")
	}
	body, err := m.render(msg)
	if err != nil {
		return err
	}
	if err := m.send(m.addr, m.auth, m.from, []string{msg.To}, body); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}

func (m *SMTPMailer) render(msg Message) ([]byte, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)

	headers := []string{
		"From: " + m.from,
		"To: " + msg.To,
		"Subject: " + sanitizeHeader(msg.Subject),
		"Date: " + m.now().UTC().Format(time.RFC1123Z),
		"Message-ID: <" + uuid.NewString() + "@esg-compliance>",
		"MIME-Version: 1.0",
		"Content-Type: multipart/alternative; boundary=" + mw.Boundary(),
	}
	var head bytes.Buffer
	head.WriteString(strings.Join(headers, "\r\n"))
	head.WriteString("\r\n\r\n")

	parts := []struct {
		contentType string
		body        string
	}{
		{"text/plain; charset=utf-8", msg.Text},
		{"text/html; charset=utf-8", msg.HTML},
	}
	for _, p := range parts {
		if p.body == "" {
			continue
		}
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {p.contentType}})
		if err != nil {
			return nil, fmt.Errorf("create mail part: %w", err)
		}
		if _, err := w.Write([]byte(p.body)); err != nil {
			return nil, fmt.Errorf("write mail part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close mail body: %w", err)
	}
	return append(head.Bytes(), buf.Bytes()...), nil
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}
