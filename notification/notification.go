// Package notification delivers verification and password change pins.
package notification

import (
	"bytes"
	"context"
	"embed"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/template/django/v3"
	"github.com/goliatone/go-errors"
	"gopkg.in/gomail.v2"

	auth "github.com/goliatone/go-auth-gateway"
)

const templateExt = ".tmpl"

//go:embed templates/*.tmpl
var defaultTemplates embed.FS

// ErrNoRecipient is returned when a notification has no email address.
var ErrNoRecipient = errors.New("notification has no email recipient", errors.CategoryBadInput)

// Message is a rendered notification.
type Message struct {
	Subject string
	Text    string
	HTML    string
}

// Renderer renders pin messages from django templates named
// <kind>.subject, <kind>.text and <kind>.html.
type Renderer struct {
	engine   *django.Engine
	resetTTL time.Duration
}

// NewRenderer loads the embedded templates.
func NewRenderer(resetTTL time.Duration) (*Renderer, error) {
	sub, err := fs.Sub(defaultTemplates, "templates")
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to open notification templates")
	}
	return NewRendererFS(sub, resetTTL)
}

// NewRendererFS loads templates from fsys, e.g. to override the copy.
func NewRendererFS(fsys fs.FS, resetTTL time.Duration) (*Renderer, error) {
	engine := django.NewFileSystem(http.FS(fsys), templateExt)
	if err := engine.Load(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load notification templates")
	}

	if resetTTL <= 0 {
		resetTTL = auth.DefaultResetPinTTL
	}

	return &Renderer{engine: engine, resetTTL: resetTTL}, nil
}

// Render builds the message for n.
func (r *Renderer) Render(n auth.Notification) (Message, error) {
	if n.Kind == "" {
		return Message{}, errors.New("notification kind is required", errors.CategoryBadInput)
	}

	binding := map[string]any{
		"name":       n.Name,
		"email":      n.Email,
		"pin":        n.Pin,
		"issued_at":  n.IssuedAt,
		"expires_in": r.resetTTL.String(),
	}

	var msg Message
	parts := []struct {
		suffix string
		dst    *string
	}{
		{"subject", &msg.Subject},
		{"text", &msg.Text},
		{"html", &msg.HTML},
	}

	for _, part := range parts {
		var buf bytes.Buffer
		name := string(n.Kind) + "." + part.suffix
		if err := r.engine.Render(&buf, name, binding); err != nil {
			return Message{}, errors.Wrap(err, errors.CategoryInternal, "failed to render "+name).
				WithMetadata(map[string]any{"template": name})
		}
		*part.dst = strings.TrimSpace(buf.String())
	}

	return msg, nil
}

// LogNotifier writes notifications to the log. Pins are only logged at
// debug level.
type LogNotifier struct {
	logger auth.Logger
}

var _ auth.Notifier = (*LogNotifier)(nil)

// NewLogNotifier returns a notifier that only logs.
func NewLogNotifier(logger auth.Logger) *LogNotifier {
	if logger == nil {
		logger = auth.NewSlogLogger(nil)
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Send(_ context.Context, n auth.Notification) error {
	l.logger.Info("notification dispatched", "kind", n.Kind, "user_id", n.UserID, "email", n.Email)
	l.logger.Debug("notification pin", "kind", n.Kind, "user_id", n.UserID, "pin", n.Pin)
	return nil
}

// SMTPConfig holds mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPNotifier emails pins using gomail.
type SMTPNotifier struct {
	from     string
	renderer *Renderer
	logger   auth.Logger
	send     func(m *gomail.Message) error
}

var _ auth.Notifier = (*SMTPNotifier)(nil)

// NewSMTPNotifier returns a notifier that dials the SMTP server per message.
func NewSMTPNotifier(cfg SMTPConfig, renderer *Renderer, logger auth.Logger) (*SMTPNotifier, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, errors.New("smtp host and from address are required", errors.CategoryBadInput)
	}

	if renderer == nil {
		return nil, errors.New("smtp notifier requires a renderer", errors.CategoryBadInput)
	}

	if logger == nil {
		logger = auth.NewSlogLogger(nil)
	}

	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)

	return &SMTPNotifier{
		from:     cfg.From,
		renderer: renderer,
		logger:   logger,
		send: func(m *gomail.Message) error {
			return dialer.DialAndSend(m)
		},
	}, nil
}

func (s *SMTPNotifier) Send(ctx context.Context, n auth.Notification) error {
	if strings.TrimSpace(n.Email) == "" {
		return ErrNoRecipient
	}

	msg, err := s.renderer.Render(n)
	if err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", n.Email)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Text)
	m.AddAlternative("text/html", msg.HTML)

	done := make(chan error, 1)
	go func() {
		done <- s.send(m)
	}()

	select {
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.CategoryOperation, "smtp delivery timed out")
	case err := <-done:
		if err != nil {
			return errors.Wrap(err, errors.CategoryOperation, "smtp delivery failed")
		}
	}

	s.logger.Info("notification emailed", "kind", n.Kind, "user_id", n.UserID)
	return nil
}
