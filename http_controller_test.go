package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	auth "github.com/goliatone/go-auth-gateway"
	"github.com/goliatone/go-auth-gateway/middleware/ratelimit"
)

type gateway struct {
	t        *testing.T
	app      *fiber.App
	repo     auth.RepositoryManager
	cfg      *testConfig
	notifier *captureNotifier
}

func newGateway(t *testing.T, opts ...auth.AuthControllerOption) *gateway {
	t.Helper()

	repo := newTestRepo(t)
	cfg := newTestConfig()
	notifier := &captureNotifier{}

	auther := auth.NewAuthenticator(repo, cfg)
	opts = append([]auth.AuthControllerOption{auth.WithNotifier(notifier)}, opts...)
	controller := auth.NewAuthController(auther, repo, cfg, opts...)

	srv, app := newRouterApp(t)
	auth.RegisterAuthRoutes(srv.Router(), controller)

	return &gateway{t: t, app: app, repo: repo, cfg: cfg, notifier: notifier}
}

func (g *gateway) do(method, path string, body any, token string) (int, map[string]any) {
	g.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(g.t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.app.Test(req, -1)
	require.NoError(g.t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(g.t, err)
	if len(raw) > 0 {
		require.NoError(g.t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (g *gateway) login(username, password string) string {
	g.t.Helper()
	status, body := g.do(http.MethodPost, "/auth/login", fiber.Map{"username": username, "password": password}, "")
	require.Equal(g.t, http.StatusOK, status, body)
	token, _ := body["access_token"].(string)
	require.NotEmpty(g.t, token)
	return token
}

func TestHTTP_RegisterVerifyLoginMe(t *testing.T) {
	g := newGateway(t)

	status, body := g.do(http.MethodPost, "/auth/register", fiber.Map{
		"name":                  "Jane Doe",
		"username":              "jane",
		"email":                 "jane@example.com",
		"password":              "password123",
		"password_confirmation": "password123",
	}, "")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, auth.MessageUserCreated, body["message"])

	status, body = g.do(http.MethodPost, "/auth/register", fiber.Map{
		"name":                  "Jane Again",
		"username":              "jane",
		"email":                 "jane@example.com",
		"password":              "password123",
		"password_confirmation": "password123",
	}, "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, auth.TextCodeIdentityExists, body["message"])

	pin := g.notifier.last(t).Pin
	status, body = g.do(http.MethodPost, "/auth/verify", fiber.Map{"pin": json.Number(pin)}, "")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, auth.MessageUserVerified, body["message"])

	status, body = g.do(http.MethodPost, "/auth/verify", fiber.Map{"pin": pin}, "")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, auth.TextCodeInvalidPin, body["message"])

	status, body = g.do(http.MethodPost, "/auth/login", fiber.Map{"username": "jane", "password": "password123"}, "")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, auth.BearerTokenType, body["token_type"])
	assert.EqualValues(t, 3600, body["expires_in"])
	token := body["access_token"].(string)

	status, body = g.do(http.MethodGet, "/auth/me", nil, token)
	require.Equal(t, http.StatusOK, status, body)
	user := body["user"].(map[string]any)
	assert.Equal(t, "jane", user["username"])
	assert.Equal(t, true, user["verified"])
	assert.NotContains(t, user, "password_hash")
}

func TestHTTP_LoginFailures(t *testing.T) {
	g := newGateway(t)
	seedUser(t, g.repo, "jdoe", "jdoe@example.com", "password123")

	status, body := g.do(http.MethodPost, "/auth/login", fiber.Map{"username": "jdoe", "password": "wrong"}, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, auth.TextCodeInvalidCredentials, body["message"])

	status, body = g.do(http.MethodPost, "/auth/login", fiber.Map{"username": "jdoe"}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, auth.TextCodeValidationFailed, body["message"])
	assert.Contains(t, body["errors"], "password")
}

func TestHTTP_SessionGate(t *testing.T) {
	g := newGateway(t)
	seedUser(t, g.repo, "jdoe", "jdoe@example.com", "password123")

	status, body := g.do(http.MethodGet, "/auth/me", nil, "")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, auth.TextCodeTokenAbsent, body["message"])

	status, body = g.do(http.MethodGet, "/auth/me", nil, "garbage")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, auth.TextCodeTokenInvalid, body["message"])

	expired := auth.NewTokenService([]byte(testSigningKey), time.Minute, g.cfg.issuer, jwt.ClaimStrings(g.cfg.audience), nil,
		auth.WithSigningKeyID(g.cfg.signingKeyID),
		auth.WithTokenClock(func() time.Time { return time.Now().Add(-time.Hour) }),
	)
	user, err := g.repo.Users().GetByUsername(context.Background(), "jdoe")
	require.NoError(t, err)
	old, err := expired.Issue(auth.NewIdentityFromUser(user))
	require.NoError(t, err)

	status, body = g.do(http.MethodGet, "/auth/me", nil, old.Token)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, auth.TextCodeTokenExpired, body["message"])
}

func TestHTTP_LogoutAndRefresh(t *testing.T) {
	g := newGateway(t)
	seedUser(t, g.repo, "jdoe", "jdoe@example.com", "password123")

	token := g.login("jdoe", "password123")

	status, body := g.do(http.MethodGet, "/auth/refresh", nil, token)
	require.Equal(t, http.StatusOK, status, body)
	refreshed := body["access_token"].(string)
	assert.NotEqual(t, token, refreshed)

	status, body = g.do(http.MethodGet, "/auth/me", nil, token)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, auth.TextCodeTokenInvalid, body["message"])

	status, body = g.do(http.MethodGet, "/auth/logout", nil, refreshed)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, auth.MessageLoggedOut, body["message"])

	status, _ = g.do(http.MethodGet, "/auth/me", nil, refreshed)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestHTTP_PasswordChangeFlow(t *testing.T) {
	g := newGateway(t)
	seedUser(t, g.repo, "jdoe", "jdoe@example.com", "password123")

	status, body := g.do(http.MethodPost, "/auth/request-password-change", fiber.Map{"identifier": "nobody@example.com"}, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, auth.MessagePasswordChangePinSent, body["message"])
	assert.Equal(t, 0, g.notifier.count())

	status, body = g.do(http.MethodPost, "/auth/request-password-change", fiber.Map{"email": "jdoe@example.com"}, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, auth.MessagePasswordChangePinSent, body["message"])
	pin := g.notifier.last(t).Pin

	status, body = g.do(http.MethodPost, "/auth/password-change", fiber.Map{
		"pin":                   "10000000",
		"password":              "brand-new-pass",
		"password_confirmation": "brand-new-pass",
	}, "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, auth.TextCodePasswordChangeMismatch, body["message"])

	status, body = g.do(http.MethodPost, "/auth/password-change", fiber.Map{
		"pin":                   pin,
		"password":              "brand-new-pass",
		"password_confirmation": "brand-new-pass",
	}, "")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, auth.MessagePasswordChanged, body["message"])

	g.login("jdoe", "brand-new-pass")

	status, _ = g.do(http.MethodPost, "/auth/login", fiber.Map{"username": "jdoe", "password": "password123"}, "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestHTTP_ValidationShape(t *testing.T) {
	g := newGateway(t)

	status, body := g.do(http.MethodPost, "/auth/register", fiber.Map{
		"name":                  "",
		"email":                 "nope",
		"password":              "short",
		"password_confirmation": "different",
	}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, auth.TextCodeValidationFailed, body["message"])

	errs, ok := body["errors"].(map[string]any)
	require.True(t, ok, body)
	for _, field := range []string{"name", "email", "password", "password_confirmation"} {
		assert.Contains(t, errs, field)
	}
}

func TestHTTP_InvalidPinStatusConfigurable(t *testing.T) {
	g := newGateway(t, func(c *auth.AuthController) *auth.AuthController {
		c.InvalidPinStatus = http.StatusBadRequest
		return c
	})

	status, body := g.do(http.MethodPost, "/auth/verify", fiber.Map{"pin": "12345678"}, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, auth.TextCodeInvalidPin, body["message"])
}

func TestHTTP_LoginLimiter(t *testing.T) {
	calls := 0
	g := newGateway(t, auth.WithLoginLimiter(func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			calls++
			if calls > 1 {
				return c.JSON(http.StatusTooManyRequests, fiber.Map{"message": auth.TextCodeRateLimited})
			}
			return next(c)
		}
	}))
	seedUser(t, g.repo, "jdoe", "jdoe@example.com", "password123")

	g.login("jdoe", "password123")

	status, body := g.do(http.MethodPost, "/auth/login", fiber.Map{"username": "jdoe", "password": "password123"}, "")
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, auth.TextCodeRateLimited, body["message"])
}

func newPinLimiter(t *testing.T, burst int) *ratelimit.Limiter {
	t.Helper()
	l := ratelimit.New(ratelimit.Config{Rate: rate.Limit(0.001), Burst: burst})
	t.Cleanup(l.Stop)
	return l
}

func TestHTTP_PinGuessesAreThrottled(t *testing.T) {
	pins := newPinLimiter(t, 3)
	g := newGateway(t, auth.WithPinLimiter(pins.Handler()))
	seedUser(t, g.repo, "jdoe", "jdoe@example.com", "password123")

	guesses := []string{"10000000", "10000001", "10000002"}
	for _, pin := range guesses {
		status, body := g.do(http.MethodPost, "/auth/verify", fiber.Map{"pin": pin}, "")
		assert.Equal(t, http.StatusInternalServerError, status)
		assert.Equal(t, auth.TextCodeInvalidPin, body["message"])
	}

	status, body := g.do(http.MethodPost, "/auth/verify", fiber.Map{"pin": "10000003"}, "")
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, auth.TextCodeRateLimited, body["message"])

	status, body = g.do(http.MethodPost, "/auth/password-change", fiber.Map{
		"pin":                   "10000004",
		"password":              "new-password",
		"password_confirmation": "new-password",
	}, "")
	assert.Equal(t, http.StatusTooManyRequests, status, "pin routes share one budget")
	assert.Equal(t, auth.TextCodeRateLimited, body["message"])

	g.login("jdoe", "password123")
}

func TestHTTP_PasswordChangeGuessesAreThrottled(t *testing.T) {
	pins := newPinLimiter(t, 2)
	g := newGateway(t, auth.WithPinLimiter(pins.Handler()))
	seedUser(t, g.repo, "jdoe", "jdoe@example.com", "password123")

	status, _ := g.do(http.MethodPost, "/auth/request-password-change", fiber.Map{"identifier": "jdoe"}, "")
	require.Equal(t, http.StatusOK, status)
	pin := g.notifier.last(t).Pin

	wrong := "10000000"
	if wrong == pin {
		wrong = "10000001"
	}

	change := func(pin string) (int, map[string]any) {
		return g.do(http.MethodPost, "/auth/password-change", fiber.Map{
			"pin":                   pin,
			"password":              "new-password",
			"password_confirmation": "new-password",
		}, "")
	}

	for i := 0; i < 2; i++ {
		status, body := change(wrong)
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, auth.TextCodePasswordChangeMismatch, body["message"])
	}

	status, _ = change(pin)
	assert.Equal(t, http.StatusTooManyRequests, status, "even the right pin waits once the budget is spent")

	status, _ = g.do(http.MethodPost, "/auth/register", fiber.Map{
		"name":                  "Other",
		"email":                 "other@example.com",
		"password":              "password123",
		"password_confirmation": "password123",
	}, "")
	assert.Equal(t, http.StatusOK, status, "routes without a pin are not throttled")
}
