// Package notification provides email delivery for Alzheon: a template engine
// for the outbound messages, an SMTP sender that composes with gomail, a
// log-only sender for environments without a mail relay, and test doubles.
package notification

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"
)

// Built-in template ids.
const (
	// TemplateSessionReminder is sent by the reminder worker.
	TemplateSessionReminder = "session-reminder"
	// TemplateSubmissionAnalyzed tells a doctor a new result was uploaded.
	TemplateSubmissionAnalyzed = "submission-analyzed"
)

// DefaultMotivationalMessage is used when a user has not stored one.
const DefaultMotivationalMessage = "Cada sesión cuenta. ¡Sigue entrenando tu memoria!"

// ---------------------------------------------------------------------------
// Sender Interfaces
// ---------------------------------------------------------------------------

// EmailSender is the interface for sending email messages. Body is HTML.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

// Template defines a reusable email template. Placeholders use the {{key}}
// form and are HTML-escaped in the body when rendered.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine manages templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TemplateSessionReminder,
			Name:    "Session Reminder",
			Subject: "Alzheon: es hora de tu sesión, {{nombre}}",
			Body: "<p>Hola {{nombre}},</p>" +
				"<p>Te recordamos que tienes una sesión de entrenamiento cognitivo pendiente.</p>" +
				"<p><em>{{mensaje}}</em></p>" +
				"<p>El equipo de Alzheon</p>",
		},
		{
			ID:      TemplateSubmissionAnalyzed,
			Name:    "Submission Analyzed",
			Subject: "Nuevo resultado de {{paciente}}",
			Body:    "<p>Se ha recibido un nuevo resultado para la prueba <strong>{{test}}</strong> de {{paciente}}.</p>",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is. Substitution is a single pass, so placeholders inside values stay
// literal.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subjectPairs := make([]string, 0, 2*len(data))
	bodyPairs := make([]string, 0, 2*len(data))
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subjectPairs = append(subjectPairs, placeholder, v)
		bodyPairs = append(bodyPairs, placeholder, html.EscapeString(v))
	}
	subject = strings.NewReplacer(subjectPairs...).Replace(t.Subject)
	body = strings.NewReplacer(bodyPairs...).Replace(t.Body)
	return subject, body, nil
}

// ---------------------------------------------------------------------------
// SMTP Sender
// ---------------------------------------------------------------------------

// SMTPConfig holds the mail relay settings.
type SMTPConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	From               string
	InsecureSkipVerify bool
}

// SMTPSender delivers mail through an SMTP relay. Messages are composed with
// gomail; the session runs on a connection bound to the caller's context.
type SMTPSender struct {
	cfg      SMTPConfig
	envelope string
	tls      *tls.Config
}

// NewSMTPSender builds a sender for the given relay. Each send opens its own
// connection. Port 465 uses implicit TLS, other ports upgrade with STARTTLS
// when the relay offers it.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}
	from, err := mail.ParseAddress(cfg.From)
	if err != nil {
		return nil, fmt.Errorf("smtp from address: %w", err)
	}
	return &SMTPSender{
		cfg:      cfg,
		envelope: from.Address,
		tls:      &tls.Config{ServerName: cfg.Host, InsecureSkipVerify: cfg.InsecureSkipVerify},
	}, nil
}

// SendEmail sends one HTML message. It returns once ctx is done even if the
// relay stops responding.
func (s *SMTPSender) SendEmail(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	if err := s.deliver(ctx, to, m); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return fmt.Errorf("send email to %s: %w", to, err)
	}
	return nil
}

// deliver runs one SMTP session. Cancellation or the context deadline closes
// the socket, which unblocks any pending read or write.
func (s *SMTPSender) deliver(ctx context.Context, to string, m *gomail.Message) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if s.cfg.Port == 465 {
		conn = tls.Client(conn, s.tls)
	}
	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if s.cfg.Port != 465 {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(s.tls); err != nil {
				return err
			}
		}
	}
	if s.cfg.Username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
				return err
			}
		}
	}
	if err := c.Mail(s.envelope); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := m.WriteTo(w); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// ---------------------------------------------------------------------------
// Log Sender
// ---------------------------------------------------------------------------

// LogSender writes messages to the logger instead of delivering them. It is
// selected when no SMTP host is configured.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "mail").Logger()}
}

func (s *LogSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.logger.Info().
		Str("to", to).
		Str("subject", subject).
		Int("body_bytes", len(body)).
		Msg("email not delivered: no SMTP relay configured")
	return nil
}

// ---------------------------------------------------------------------------
// Mock Senders (test doubles)
// ---------------------------------------------------------------------------

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailError  string
	// FailFor makes sends to the listed recipients fail while others succeed.
	FailFor map[string]bool
}

// SendEmail records the call and optionally returns an error.
func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail || m.FailFor[to] {
		msg := m.FailError
		if msg == "" {
			msg = "mock send failure"
		}
		return errors.New(msg)
	}
	return nil
}

// Calls returns a copy of recorded email calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}
