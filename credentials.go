package auth

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
)

// DefaultDirectoryTimeout bounds a directory round trip.
const DefaultDirectoryTimeout = 5 * time.Second

// CredentialVerifier decides whether a username/password pair is valid.
// The directory is tried first; local hashes are the fallback.
type CredentialVerifier struct {
	users            Users
	directory        DirectoryAuthenticator
	directoryTimeout time.Duration
	logger           Logger
}

// CredentialVerifierOption customizes a CredentialVerifier
type CredentialVerifierOption func(*CredentialVerifier)

// WithDirectory enables directory authentication ahead of local checks.
func WithDirectory(directory DirectoryAuthenticator, timeout time.Duration) CredentialVerifierOption {
	return func(v *CredentialVerifier) {
		v.directory = directory
		if timeout > 0 {
			v.directoryTimeout = timeout
		}
	}
}

// WithVerifierLogger overrides the logger.
func WithVerifierLogger(logger Logger) CredentialVerifierOption {
	return func(v *CredentialVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewCredentialVerifier returns a verifier backed by users
func NewCredentialVerifier(users Users, opts ...CredentialVerifierOption) *CredentialVerifier {
	v := &CredentialVerifier{
		users:            users,
		directoryTimeout: DefaultDirectoryTimeout,
		logger:           defaultLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Verify returns the identity for a credential pair or ErrInvalidCredentials.
func (v *CredentialVerifier) Verify(ctx context.Context, username, password string) (Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	if identity, ok := v.verifyDirectory(ctx, username, password); ok {
		return identity, nil
	}

	if identity, ok := v.verifyLocal(ctx, username, password); ok {
		return identity, nil
	}

	return nil, ErrInvalidCredentials
}

func (v *CredentialVerifier) verifyDirectory(ctx context.Context, username, password string) (Identity, bool) {
	if v.directory == nil {
		return nil, false
	}

	dctx, cancel := context.WithTimeout(ctx, v.directoryTimeout)
	defer cancel()

	ok, err := v.directory.Authenticate(dctx, username, password)
	if err != nil {
		v.logger.Warn("directory authentication unavailable", "username", username, "error", err)
		return nil, false
	}
	if !ok {
		v.logger.Debug("directory rejected credentials", "username", username)
		return nil, false
	}

	user, err := v.directoryUser(ctx, username)
	if err != nil {
		if errors.Is(err, errDirectoryUsernameTaken) {
			v.logger.Warn("directory login collides with a local account", "username", username)
			return nil, false
		}
		v.logger.Error("directory user provisioning failed", "username", username, "error", err)
		return nil, false
	}

	if !user.Enabled {
		v.logger.Info("directory login for disabled account", "username", username)
		return nil, false
	}

	return NewIdentityFromUser(user), true
}

var errDirectoryUsernameTaken = errors.New("username belongs to a local account", errors.CategoryConflict)

// directoryUser returns the local record for a directory account,
// provisioning it on first login. Only directory sourced records are
// linked; a self registered account never inherits a directory login.
func (v *CredentialVerifier) directoryUser(ctx context.Context, username string) (*User, error) {
	username = NormalizeUsername(username)

	user, err := v.users.GetByUsername(ctx, username)
	if err == nil {
		if user.Source != SourceDirectory {
			return nil, errDirectoryUsernameTaken
		}
		return user, nil
	}

	if !IsRecordNotFound(err) {
		return nil, err
	}

	return v.users.Create(ctx, &User{
		Name:         username,
		Username:     username,
		PasswordHash: RandomPasswordHash(),
		Verified:     true,
		Enabled:      true,
		Source:       SourceDirectory,
	})
}

func (v *CredentialVerifier) verifyLocal(ctx context.Context, identifier, password string) (Identity, bool) {
	user, err := v.users.GetByIdentifier(ctx, identifier)
	if err != nil {
		if !IsRecordNotFound(err) {
			v.logger.Error("local credential lookup failed", "identifier", identifier, "error", err)
		}
		return nil, false
	}

	if err := ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		v.logger.Debug("local password mismatch", "identifier", identifier)
		return nil, false
	}

	if !user.Enabled {
		v.logger.Info("local login for disabled account", "identifier", identifier)
		return nil, false
	}

	return NewIdentityFromUser(user), true
}
