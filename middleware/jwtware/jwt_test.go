package jwtware_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-auth-gateway/middleware/jwtware"
)

var errRejected = errors.New("rejected")

type principal struct {
	ID string
}

type ctxKey struct{}

func staticResolver(valid string) jwtware.Resolver {
	return func(_ context.Context, token string) (any, error) {
		if token != valid {
			return nil, errRejected
		}
		return &principal{ID: "user-1"}, nil
	}
}

// newServer returns a go-router server and the fiber app it wraps.
func newServer(t *testing.T) (router.Server[*fiber.App], *fiber.App) {
	t.Helper()

	var app *fiber.App
	srv := router.NewFiberAdapter(func(*fiber.App) *fiber.App {
		app = fiber.New()
		return app
	})
	require.NotNil(t, app)
	return srv, app
}

func newApp(t *testing.T, cfg jwtware.Config) *fiber.App {
	t.Helper()

	srv, app := newServer(t)
	srv.Router().Get("/protected", func(ctx router.Context) error {
		p, _ := ctx.Locals("user").(*principal)
		if p == nil {
			return ctx.Status(http.StatusTeapot).SendString("")
		}
		return ctx.Status(http.StatusOK).SendString(p.ID)
	}, jwtware.New(cfg))
	return app
}

func doRequest(t *testing.T, app *fiber.App, req *http.Request) (int, string) {
	t.Helper()

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestJWTWare_BasicHeaderExtraction(t *testing.T) {
	app := newApp(t, jwtware.Config{Resolver: staticResolver("good-token")})

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{name: "valid bearer", header: "Bearer good-token", wantStatus: fiber.StatusOK, wantBody: "user-1"},
		{name: "scheme is case insensitive", header: "bearer good-token", wantStatus: fiber.StatusOK, wantBody: "user-1"},
		{name: "missing header", header: "", wantStatus: fiber.StatusBadRequest, wantBody: jwtware.ErrJWTMissingOrMalformed.Error()},
		{name: "wrong scheme", header: "Basic good-token", wantStatus: fiber.StatusBadRequest, wantBody: jwtware.ErrJWTMissingOrMalformed.Error()},
		{name: "scheme without token", header: "Bearer", wantStatus: fiber.StatusBadRequest, wantBody: jwtware.ErrJWTMissingOrMalformed.Error()},
		{name: "rejected token", header: "Bearer bad-token", wantStatus: fiber.StatusUnauthorized, wantBody: "Invalid or expired token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.header != "" {
				req.Header.Set(fiber.HeaderAuthorization, tt.header)
			}

			status, body := doRequest(t, app, req)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantBody, body)
		})
	}
}

func TestJWTWare_CustomErrorHandlerSeesResolverError(t *testing.T) {
	var seen error
	app := newApp(t, jwtware.Config{
		Resolver: staticResolver("good-token"),
		ErrorHandler: func(c router.Context, err error) error {
			seen = err
			return c.Status(http.StatusForbidden).SendString("")
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer nope")

	status, _ := doRequest(t, app, req)
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.ErrorIs(t, seen, errRejected)
}

func TestJWTWare_CustomTokenLookup(t *testing.T) {
	app := newApp(t, jwtware.Config{
		Resolver:    staticResolver("good-token"),
		TokenLookup: "header:Authorization,query:token,cookie:jwt",
	})

	t.Run("query", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/protected?token=good-token", nil)
		status, body := doRequest(t, app, req)
		assert.Equal(t, fiber.StatusOK, status)
		assert.Equal(t, "user-1", body)
	})

	t.Run("cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.AddCookie(&http.Cookie{Name: "jwt", Value: "good-token"})
		status, body := doRequest(t, app, req)
		assert.Equal(t, fiber.StatusOK, status)
		assert.Equal(t, "user-1", body)
	})

	t.Run("header wins", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/protected?token=bad", nil)
		req.Header.Set(fiber.HeaderAuthorization, "Bearer good-token")
		status, _ := doRequest(t, app, req)
		assert.Equal(t, fiber.StatusOK, status)
	})
}

func TestJWTWare_FilterFunction(t *testing.T) {
	app := newApp(t, jwtware.Config{
		Resolver: staticResolver("good-token"),
		Filter: func(c router.Context) bool {
			return c.Query("skip", "") == "1"
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/protected?skip=1", nil)
	status, _ := doRequest(t, app, req)
	assert.Equal(t, fiber.StatusTeapot, status)
}

func TestJWTWare_ValidationListenerShortCircuits(t *testing.T) {
	listenerErr := errors.New("listener says no")
	called := false

	app := newApp(t, jwtware.Config{
		Resolver: staticResolver("good-token"),
		ValidationListeners: []jwtware.ValidationListener{
			nil,
			func(c router.Context, p any) error {
				called = true
				return listenerErr
			},
		},
		ErrorHandler: func(c router.Context, err error) error {
			if errors.Is(err, listenerErr) {
				return c.Status(http.StatusForbidden).SendString("")
			}
			return c.Status(http.StatusInternalServerError).SendString("")
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer good-token")

	status, _ := doRequest(t, app, req)
	assert.True(t, called)
	assert.Equal(t, fiber.StatusForbidden, status)
}

func TestJWTWare_ContextEnricher(t *testing.T) {
	srv, app := newServer(t)
	srv.Router().Get("/protected", func(c router.Context) error {
		p, ok := c.Context().Value(ctxKey{}).(*principal)
		if !ok {
			return c.Status(http.StatusTeapot).SendString("")
		}
		return c.Status(http.StatusOK).SendString(p.ID)
	}, jwtware.New(jwtware.Config{
		Resolver: staticResolver("good-token"),
		ContextEnricher: func(ctx context.Context, p any) context.Context {
			return context.WithValue(ctx, ctxKey{}, p)
		},
	}))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer good-token")

	status, body := doRequest(t, app, req)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "user-1", body)
}

func TestJWTWare_RequiresResolver(t *testing.T) {
	assert.Panics(t, func() {
		jwtware.New(jwtware.Config{})
	})
}

func TestGetExtractors(t *testing.T) {
	assert.Len(t, jwtware.GetExtractors("header:Authorization"), 1)
	assert.Len(t, jwtware.GetExtractors("header:Authorization, query:token, cookie:jwt, param:id"), 4)
	assert.Len(t, jwtware.GetExtractors("unknown:x,header,query:"), 0)
}
