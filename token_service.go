package auth

import (
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
)

// DefaultSigningKeyID is the kid stamped on tokens when none is configured.
const DefaultSigningKeyID = "default"

// IssuedToken is a freshly signed token and its lifetime
type IssuedToken struct {
	Token     string
	TokenID   string
	ExpiresIn int
	ExpiresAt time.Time
}

// TokenService issues, validates and refreshes signed tokens
type TokenService interface {
	Issue(identity Identity) (*IssuedToken, error)
	Validate(tokenString string) (*JWTClaims, error)
	Refresh(tokenString string) (*IssuedToken, error)
}

// TokenServiceImpl implements the TokenService interface
type TokenServiceImpl struct {
	signingKey      []byte
	signingKeyID    string
	verifyKeys      map[string][]byte
	tokenExpiration time.Duration
	issuer          string
	audience        jwt.ClaimStrings
	logger          Logger
	now             func() time.Time
	keyfunc         jwt.Keyfunc
}

// TokenServiceOption customizes a TokenServiceImpl
type TokenServiceOption func(*TokenServiceImpl)

// WithSigningKeyID sets the kid header on issued tokens.
func WithSigningKeyID(kid string) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if kid != "" {
			ts.signingKeyID = kid
		}
	}
}

// WithVerificationKey accepts tokens signed with a retired key.
func WithVerificationKey(kid string, key []byte) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if kid != "" && len(key) > 0 {
			ts.verifyKeys[kid] = key
		}
	}
}

// WithTokenClock injects a custom clock (useful for tests).
func WithTokenClock(now func() time.Time) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if now != nil {
			ts.now = now
		}
	}
}

// NewTokenService creates a new TokenService instance
func NewTokenService(signingKey []byte, tokenExpiration time.Duration, issuer string, audience jwt.ClaimStrings, logger Logger, opts ...TokenServiceOption) *TokenServiceImpl {
	if logger == nil {
		logger = defaultLogger()
	}

	ts := &TokenServiceImpl{
		signingKey:      signingKey,
		signingKeyID:    DefaultSigningKeyID,
		verifyKeys:      map[string][]byte{},
		tokenExpiration: tokenExpiration,
		issuer:          issuer,
		audience:        audience,
		logger:          logger,
		now:             time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}

	givenKeys := make(map[string]keyfunc.GivenKey, len(ts.verifyKeys)+1)
	for kid, key := range ts.verifyKeys {
		givenKeys[kid] = keyfunc.NewGivenCustom(key, keyfunc.GivenKeyOptions{
			Algorithm: jwt.SigningMethodHS256.Alg(),
		})
	}
	givenKeys[ts.signingKeyID] = keyfunc.NewGivenCustom(ts.signingKey, keyfunc.GivenKeyOptions{
		Algorithm: jwt.SigningMethodHS256.Alg(),
	})
	ts.keyfunc = keyfunc.NewGiven(givenKeys).Keyfunc

	return ts
}

// NewTokenServiceFromConfig builds a TokenService from the auth Config.
func NewTokenServiceFromConfig(cfg Config, logger Logger, opts ...TokenServiceOption) *TokenServiceImpl {
	base := []TokenServiceOption{WithSigningKeyID(cfg.GetSigningKeyID())}
	for kid, key := range cfg.GetVerificationKeys() {
		base = append(base, WithVerificationKey(kid, []byte(key)))
	}
	return NewTokenService(
		[]byte(cfg.GetSigningKey()),
		cfg.GetTokenExpiration(),
		cfg.GetIssuer(),
		cfg.GetAudience(),
		logger,
		append(base, opts...)...,
	)
}

// Issue creates an access token for identity
func (ts *TokenServiceImpl) Issue(identity Identity) (*IssuedToken, error) {
	if identity == nil || identity.ID() == "" {
		return nil, errors.New("identity is required", errors.CategoryBadInput)
	}

	now := ts.now()

	var aud jwt.ClaimStrings
	if len(ts.audience) > 0 {
		aud = make(jwt.ClaimStrings, len(ts.audience))
		copy(aud, ts.audience)
	}

	claims := &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   identity.ID(),
			Audience:  aud,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.tokenExpiration)),
		},
		UID:       identity.ID(),
		TokenType: TokenTypeAccess,
	}

	ensureTokenID(&claims.RegisteredClaims)

	signed, err := ts.SignClaims(claims)
	if err != nil {
		return nil, err
	}

	return &IssuedToken{
		Token:     signed,
		TokenID:   claims.TokenID(),
		ExpiresIn: int(ts.tokenExpiration / time.Second),
		ExpiresAt: claims.Expires(),
	}, nil
}

// SignClaims signs arbitrary JWT claims using the configured signing key.
func (ts *TokenServiceImpl) SignClaims(claims *JWTClaims) (string, error) {
	if claims == nil {
		return "", errors.New("claims must not be nil", errors.CategoryInternal)
	}

	if len(ts.signingKey) == 0 {
		ts.logger.Error("TokenService missing signing key")
		return "", ErrTokenIssuance
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = ts.signingKeyID

	signedString, err := token.SignedString(ts.signingKey)
	if err != nil {
		ts.logger.Error("TokenService failed to sign JWT", "error", err)
		return "", ErrTokenIssuance
	}

	return signedString, nil
}

// Validate parses and validates a token string, returning structured claims
func (ts *TokenServiceImpl) Validate(tokenString string) (*JWTClaims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrTokenAbsent
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ts.now),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience[0]))
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, ts.keyfunc, parserOptions...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		ts.logger.Debug("TokenService validate rejected token", "error", err)
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid || claims.UserID() == "" {
		ts.logger.Error("TokenService validate could not decode or validate claims")
		return nil, ErrTokenInvalid
	}

	if claims.Type() != TokenTypeAccess {
		return nil, ErrTokenInvalid
	}

	// the parser checks one audience; the rest are checked here
	for _, aud := range ts.audience[min(1, len(ts.audience)):] {
		if !slices.Contains(claims.Audience, aud) {
			ts.logger.Debug("TokenService validate rejected token", "error", "missing audience", "audience", aud)
			return nil, ErrTokenInvalid
		}
	}

	return claims, nil
}

// Refresh mints a new token for the subject of a still valid token. It
// keeps no state, so the old token stays valid until it expires unless the
// caller revokes it. Auther.Refresh does that.
func (ts *TokenServiceImpl) Refresh(tokenString string) (*IssuedToken, error) {
	claims, err := ts.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	return ts.Issue(subjectIdentity(claims.UserID()))
}

// TokenExpiration is the configured token lifetime.
func (ts *TokenServiceImpl) TokenExpiration() time.Duration {
	return ts.tokenExpiration
}

// subjectIdentity is the minimal Identity needed to sign a token.
type subjectIdentity string

func (s subjectIdentity) ID() string       { return string(s) }
func (s subjectIdentity) Username() string { return "" }
func (s subjectIdentity) Email() string    { return "" }
func (s subjectIdentity) Verified() bool   { return false }
func (s subjectIdentity) Enabled() bool    { return true }
