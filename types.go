package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Logger is the logging contract used across the package. Arguments
// after the message are key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Session holds attributes that are part of an auth session
type Session interface {
	GetUserID() string
	GetUserUUID() (uuid.UUID, error)
	GetTokenID() string
	GetTokenType() string
	GetAudience() []string
	GetIssuer() string
	GetIssuedAt() *time.Time
	GetExpiresAt() *time.Time
}

// Authenticator holds methods to deal with authentication
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*TokenResponse, error)
	SessionFromToken(ctx context.Context, token string) (Session, error)
	IdentityFromSession(ctx context.Context, session Session) (Identity, error)
	Refresh(ctx context.Context, token string) (*TokenResponse, error)
	Logout(ctx context.Context, session Session) error
}

// Identity holds the attributes of an authenticated principal
type Identity interface {
	ID() string
	Username() string
	Email() string
	Verified() bool
	Enabled() bool
}

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetSigningKeyID() string
	GetVerificationKeys() map[string]string
	GetTokenExpiration() time.Duration
	GetIssuer() string
	GetAudience() []string
	GetContextKey() string
	GetTokenLookup() string
	GetAuthScheme() string
	GetPinDigits() int
	GetResetPinTTL() time.Duration
	GetDirectoryTimeout() time.Duration
	GetInvalidPinStatus() int
}

// DirectoryAuthenticator checks credentials against an external directory.
type DirectoryAuthenticator interface {
	Authenticate(ctx context.Context, username, password string) (bool, error)
}

// DirectoryAuthenticatorFunc adapts a function to DirectoryAuthenticator.
type DirectoryAuthenticatorFunc func(ctx context.Context, username, password string) (bool, error)

// Authenticate implements DirectoryAuthenticator.
func (f DirectoryAuthenticatorFunc) Authenticate(ctx context.Context, username, password string) (bool, error) {
	return f(ctx, username, password)
}

// Notification is a pin message addressed to an identity.
type Notification struct {
	Kind     NotificationKind
	UserID   string
	Name     string
	Email    string
	Phone    string
	Pin      string
	IssuedAt time.Time
}

// NotificationKind identifies which template a Notification uses.
type NotificationKind string

const (
	NotificationVerifyAccount  NotificationKind = "verify_account"
	NotificationPasswordChange NotificationKind = "password_change"
)

// Notifier delivers pins to users. Delivery is best effort.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification) error

// Send implements Notifier.
func (f NotifierFunc) Send(ctx context.Context, n Notification) error {
	if f == nil {
		return nil
	}
	return f(ctx, n)
}

type noopNotifier struct{}

func (noopNotifier) Send(context.Context, Notification) error { return nil }

func normalizeNotifier(n Notifier) Notifier {
	if n == nil {
		return noopNotifier{}
	}
	return n
}

type defLogger struct {
	l *slog.Logger
}

func defaultLogger() Logger {
	return defLogger{l: slog.Default().With("component", "auth")}
}

// NewSlogLogger wraps a slog.Logger so it satisfies Logger.
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		return defaultLogger()
	}
	return defLogger{l: l}
}

func (d defLogger) Debug(msg string, args ...any) { d.l.Debug(msg, args...) }
func (d defLogger) Info(msg string, args ...any)  { d.l.Info(msg, args...) }
func (d defLogger) Warn(msg string, args ...any)  { d.l.Warn(msg, args...) }
func (d defLogger) Error(msg string, args ...any) { d.l.Error(msg, args...) }
