// Package ldap authenticates credentials against an LDAP directory.
package ldap

import (
	"context"
	"crypto/tls"
	"net"
	"strings"
	"time"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/goliatone/go-errors"
)

const (
	// DefaultFilter matches Active Directory logon names.
	DefaultFilter = "(samaccountname={username})"
	// DefaultTimeout bounds dial and every request on the connection.
	DefaultTimeout = 5 * time.Second

	usernamePlaceholder = "{username}"
)

// ErrNotConfigured is returned when the directory has no server URL.
var ErrNotConfigured = errors.New("ldap directory is not configured", errors.CategoryBadInput)

// Logger is the subset of the auth Logger used here.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Config describes how to reach and search the directory.
type Config struct {
	URL          string
	BindDN       string
	BindPassword string
	BaseDN       string
	// Filter must contain {username}
	Filter string
	// UserDNTemplate binds directly as the user, skipping the search.
	// Example: uid={username},ou=people,dc=example,dc=com
	UserDNTemplate     string
	StartTLS           bool
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// Authenticator checks credentials with a search then bind, or with a
// direct bind when a user DN template is configured.
type Authenticator struct {
	cfg    Config
	logger Logger
}

// New returns a directory Authenticator for cfg.
func New(cfg Config, logger Logger) (*Authenticator, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, ErrNotConfigured
	}

	if cfg.Filter == "" {
		cfg.Filter = DefaultFilter
	}

	if cfg.UserDNTemplate == "" && !strings.Contains(cfg.Filter, usernamePlaceholder) {
		return nil, errors.New("ldap filter must contain "+usernamePlaceholder, errors.CategoryBadInput)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if logger == nil {
		logger = nopLogger{}
	}

	return &Authenticator{cfg: cfg, logger: logger}, nil
}

// Authenticate reports whether the directory accepts username/password.
// A rejected credential is (false, nil); an unreachable or misbehaving
// directory is (false, err).
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (bool, error) {
	username = strings.TrimSpace(username)
	// an empty password is an unauthenticated bind, which servers accept
	if username == "" || password == "" {
		return false, nil
	}

	l, err := a.dialURL(ctx)
	if err != nil {
		return false, errors.Wrap(err, errors.CategoryOperation, "ldap dial failed")
	}
	defer l.Close()

	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	l.SetTimeout(a.timeout(ctx))

	if a.cfg.StartTLS {
		if err := l.StartTLS(&tls.Config{InsecureSkipVerify: a.cfg.InsecureSkipVerify}); err != nil {
			return false, errors.Wrap(err, errors.CategoryOperation, "ldap start tls failed")
		}
	}

	userDN, err := a.resolveUserDN(l, username)
	if err != nil || userDN == "" {
		return false, err
	}

	if err := l.Bind(userDN, password); err != nil {
		if goldap.IsErrorWithCode(err, goldap.LDAPResultInvalidCredentials) {
			a.logger.Debug("ldap rejected credentials", "username", username)
			return false, nil
		}
		return false, errors.Wrap(err, errors.CategoryOperation, "ldap user bind failed")
	}

	return true, nil
}

func (a *Authenticator) resolveUserDN(l *goldap.Conn, username string) (string, error) {
	if a.cfg.UserDNTemplate != "" {
		return strings.ReplaceAll(a.cfg.UserDNTemplate, usernamePlaceholder, goldap.EscapeDN(username)), nil
	}

	if a.cfg.BindDN != "" {
		if err := l.Bind(a.cfg.BindDN, a.cfg.BindPassword); err != nil {
			return "", errors.Wrap(err, errors.CategoryOperation, "ldap service bind failed")
		}
	}

	req := goldap.NewSearchRequest(
		a.cfg.BaseDN,
		goldap.ScopeWholeSubtree, goldap.NeverDerefAliases, 2, 0, false,
		BuildFilter(a.cfg.Filter, username),
		[]string{"dn"},
		nil,
	)

	sr, err := l.Search(req)
	if err != nil {
		if goldap.IsErrorWithCode(err, goldap.LDAPResultSizeLimitExceeded) {
			a.logger.Warn("ldap filter matched several entries", "username", username)
			return "", nil
		}
		return "", errors.Wrap(err, errors.CategoryOperation, "ldap search failed")
	}

	if len(sr.Entries) != 1 {
		a.logger.Debug("ldap user lookup did not match one entry", "username", username, "entries", len(sr.Entries))
		return "", nil
	}

	return sr.Entries[0].DN, nil
}

func (a *Authenticator) dialURL(ctx context.Context) (*goldap.Conn, error) {
	dialer := &net.Dialer{Timeout: a.timeout(ctx)}
	return goldap.DialURL(a.cfg.URL, goldap.DialWithDialer(dialer), goldap.DialWithTLSConfig(&tls.Config{
		InsecureSkipVerify: a.cfg.InsecureSkipVerify,
	}))
}

func (a *Authenticator) timeout(ctx context.Context) time.Duration {
	timeout := a.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		timeout = time.Millisecond
	}
	return timeout
}

// BuildFilter substitutes the escaped username into filter.
func BuildFilter(filter, username string) string {
	return strings.ReplaceAll(filter, usernamePlaceholder, goldap.EscapeFilter(username))
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
