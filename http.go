package auth

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-auth-gateway/middleware/jwtware"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

// RouteAuthenticator builds the session gate for protected routes.
type RouteAuthenticator struct {
	auth         Authenticator
	cfg          Config
	Logger       Logger
	ErrorHandler router.ErrorHandler
}

func NewHTTPAuthenticator(auther Authenticator, cfg Config) *RouteAuthenticator {
	a := &RouteAuthenticator{
		auth:   auther,
		cfg:    cfg,
		Logger: defaultLogger(),
	}
	a.ErrorHandler = a.defaultAuthErrHandler
	return a
}

// WithLogger overrides the logger.
func (a *RouteAuthenticator) WithLogger(logger Logger) *RouteAuthenticator {
	if logger != nil {
		a.Logger = logger
	}
	return a
}

// ContextKey is the Locals key principals are stored under.
func (a *RouteAuthenticator) ContextKey() string {
	if key := a.cfg.GetContextKey(); key != "" {
		return key
	}
	return DefaultContextKey
}

// ProtectedRoute returns the bearer gate as route middleware. On success
// the request carries a *Principal in Locals and in its context.
func (a *RouteAuthenticator) ProtectedRoute(listeners ...jwtware.ValidationListener) router.MiddlewareFunc {
	return jwtware.New(jwtware.Config{
		Resolver:            a.resolve,
		ErrorHandler:        a.ErrorHandler,
		AuthScheme:          a.cfg.GetAuthScheme(),
		ContextKey:          a.ContextKey(),
		TokenLookup:         a.cfg.GetTokenLookup(),
		ValidationListeners: listeners,
		ContextEnricher: func(ctx context.Context, principal any) context.Context {
			p, _ := principal.(*Principal)
			return WithPrincipalContext(ctx, p)
		},
	})
}

func (a *RouteAuthenticator) resolve(ctx context.Context, raw string) (any, error) {
	session, err := a.auth.SessionFromToken(ctx, raw)
	if err != nil {
		return nil, err
	}

	identity, err := a.auth.IdentityFromSession(ctx, session)
	if err != nil {
		if IsTokenExpiredError(err) || IsTokenAbsentError(err) {
			return nil, err
		}
		return nil, ErrTokenInvalid
	}

	return &Principal{Session: session, Identity: identity, Token: raw}, nil
}

func (a *RouteAuthenticator) defaultAuthErrHandler(c router.Context, err error) error {
	var richErr *errors.Error

	switch {
	case errors.Is(err, jwtware.ErrJWTMissingOrMalformed), IsTokenAbsentError(err):
		richErr = ErrTokenAbsent
	case IsTokenExpiredError(err):
		richErr = ErrTokenExpired
	default:
		richErr = ErrTokenInvalid
	}

	a.Logger.Debug("session gate rejected request", "path", c.Path(), "reason", richErr.TextCode)

	return c.JSON(http.StatusForbidden, fiber.Map{
		"message": richErr.TextCode,
	})
}
