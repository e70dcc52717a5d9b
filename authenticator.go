package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
)

// TokenResponse is returned by login and refresh
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	User        *User  `json:"user,omitempty"`
}

// BearerTokenType is the token_type reported to clients
const BearerTokenType = "bearer"

var _ Authenticator = (*Auther)(nil)

// Auther composes credential verification, token signing and the
// identity store into the Authenticator contract.
type Auther struct {
	users        Users
	revocations  RevokedTokens
	verifier     *CredentialVerifier
	tokenService TokenService
	logger       Logger
	activitySink ActivitySink
	cfg          Config
	now          func() time.Time
}

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(repo RepositoryManager, opts Config) *Auther {
	logger := defaultLogger()
	return &Auther{
		users:        repo.Users(),
		revocations:  repo.RevokedTokens(),
		verifier:     NewCredentialVerifier(repo.Users(), WithVerifierLogger(logger)),
		tokenService: NewTokenServiceFromConfig(opts, logger),
		logger:       logger,
		activitySink: noopActivitySink{},
		cfg:          opts,
		now:          time.Now,
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	if logger == nil {
		return s
	}
	s.logger = logger
	s.verifier.logger = logger
	if ts, ok := s.tokenService.(*TokenServiceImpl); ok {
		ts.logger = logger
	}
	return s
}

// WithDirectoryAuthenticator puts a directory ahead of local credentials.
func (s *Auther) WithDirectoryAuthenticator(directory DirectoryAuthenticator) *Auther {
	WithDirectory(directory, s.cfg.GetDirectoryTimeout())(s.verifier)
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// WithTokenService replaces the signer, mostly for tests with a fixed clock.
func (s *Auther) WithTokenService(ts TokenService) *Auther {
	if ts != nil {
		s.tokenService = ts
	}
	return s
}

// TokenService returns the TokenService instance used by this Authenticator
func (s *Auther) TokenService() TokenService {
	return s.tokenService
}

func (s *Auther) Login(ctx context.Context, username, password string) (*TokenResponse, error) {
	identity, err := s.verifier.Verify(ctx, username, password)
	if err != nil {
		s.logger.Info("Login rejected", "username", username)
		recordActivity(ctx, s.activitySink, s.logger, ActivityEventLoginFailure, userActor(""), "", map[string]any{
			"username": username,
		})
		return nil, err
	}

	issued, err := s.tokenService.Issue(identity)
	if err != nil {
		s.logger.Error("Login token issuance failed", "user_id", identity.ID(), "error", err)
		recordActivity(ctx, s.activitySink, s.logger, ActivityEventLoginFailure, userActor(identity.ID()), identity.ID(), map[string]any{
			"username": username,
			"error":    err.Error(),
		})
		return nil, ErrTokenIssuance
	}

	user, _ := UserFromIdentity(identity)
	if user != nil {
		if err := s.users.TrackSuccessfulLogin(ctx, user.ID); err != nil {
			s.logger.Warn("Login could not track login time", "user_id", identity.ID(), "error", err)
		}
	}

	recordActivity(ctx, s.activitySink, s.logger, ActivityEventLoginSuccess, userActor(identity.ID()), identity.ID(), map[string]any{
		"username": username,
		"jti":      issued.TokenID,
	})

	return &TokenResponse{
		AccessToken: issued.Token,
		TokenType:   BearerTokenType,
		ExpiresIn:   issued.ExpiresIn,
		User:        user,
	}, nil
}

// SessionFromToken validates raw and rejects revoked token ids.
func (s *Auther) SessionFromToken(ctx context.Context, raw string) (Session, error) {
	claims, err := s.tokenService.Validate(raw)
	if err != nil {
		return nil, err
	}

	revoked, err := s.revocations.IsRevoked(ctx, claims.TokenID())
	if err != nil {
		s.logger.Error("SessionFromToken revocation lookup failed", "jti", claims.TokenID(), "error", err)
		return nil, ErrTokenInvalid
	}
	if revoked {
		s.logger.Debug("SessionFromToken token revoked", "jti", claims.TokenID())
		return nil, ErrTokenInvalid
	}

	return sessionFromClaims(claims)
}

// IdentityFromSession resolves the identity a session was issued for.
// Missing or disabled identities make the session invalid.
func (s *Auther) IdentityFromSession(ctx context.Context, session Session) (Identity, error) {
	if session == nil {
		return nil, ErrTokenAbsent
	}

	user, err := s.users.GetByID(ctx, session.GetUserID())
	if err != nil {
		if IsRecordNotFound(err) {
			s.logger.Info("IdentityFromSession identity gone", "user_id", session.GetUserID())
		} else {
			s.logger.Error("IdentityFromSession store failure", "user_id", session.GetUserID(), "error", err)
		}
		return nil, ErrTokenInvalid
	}

	if !user.Enabled {
		return nil, ErrTokenInvalid
	}

	return NewIdentityFromUser(user), nil
}

// Refresh swaps a live token for a new one and revokes the one presented.
// Revoked tokens and disabled accounts are refused.
func (s *Auther) Refresh(ctx context.Context, token string) (*TokenResponse, error) {
	session, err := s.SessionFromToken(ctx, token)
	if err != nil {
		return nil, err
	}

	identity, err := s.IdentityFromSession(ctx, session)
	if err != nil {
		return nil, err
	}

	issued, err := s.tokenService.Refresh(token)
	if err != nil {
		if IsTokenExpiredError(err) || IsTokenInvalidError(err) {
			return nil, err
		}
		s.logger.Error("Refresh token issuance failed", "user_id", identity.ID(), "error", err)
		return nil, ErrTokenIssuance
	}

	if err := s.revoke(ctx, session); err != nil {
		return nil, err
	}

	recordActivity(ctx, s.activitySink, s.logger, ActivityEventTokenRefreshed, userActor(identity.ID()), identity.ID(), map[string]any{
		"previous_jti": session.GetTokenID(),
		"jti":          issued.TokenID,
	})

	return &TokenResponse{
		AccessToken: issued.Token,
		TokenType:   BearerTokenType,
		ExpiresIn:   issued.ExpiresIn,
	}, nil
}

// Logout revokes the presented token until it would have expired.
func (s *Auther) Logout(ctx context.Context, session Session) error {
	if session == nil {
		return ErrTokenAbsent
	}

	if err := s.revoke(ctx, session); err != nil {
		return err
	}

	recordActivity(ctx, s.activitySink, s.logger, ActivityEventLogout, userActor(session.GetUserID()), session.GetUserID(), map[string]any{
		"jti": session.GetTokenID(),
	})

	return nil
}

func (s *Auther) revoke(ctx context.Context, session Session) error {
	expiresAt := s.now().Add(s.cfg.GetTokenExpiration())
	if exp := session.GetExpiresAt(); exp != nil && !exp.IsZero() {
		expiresAt = *exp
	}

	if err := s.revocations.Revoke(ctx, session.GetTokenID(), session.GetUserID(), expiresAt); err != nil {
		s.logger.Error("token revocation failed", "jti", session.GetTokenID(), "error", err)
		return errors.Wrap(err, errors.CategoryInternal, "failed to revoke token")
	}

	return nil
}
