package auth_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	auth "github.com/goliatone/go-auth-gateway"
)

// newRouterApp returns a go-router server and the fiber app it wraps, so
// tests can drive routes through app.Test.
func newRouterApp(t *testing.T) (router.Server[*fiber.App], *fiber.App) {
	t.Helper()

	var app *fiber.App
	srv := router.NewFiberAdapter(func(*fiber.App) *fiber.App {
		app = fiber.New()
		return app
	})
	require.NotNil(t, app)
	return srv, app
}

const testSigningKey = "test-signing-key-0123456789abcdef"

type testConfig struct {
	signingKey       string
	signingKeyID     string
	verificationKeys map[string]string
	expiration       time.Duration
	issuer           string
	audience         []string
	pinDigits        int
	resetPinTTL      time.Duration
	directoryTimeout time.Duration
	invalidPinStatus int
}

func newTestConfig() *testConfig {
	return &testConfig{
		signingKey:       testSigningKey,
		signingKeyID:     "k1",
		expiration:       time.Hour,
		issuer:           "auth-gateway-test",
		audience:         []string{"tests"},
		pinDigits:        auth.DefaultPinDigits,
		resetPinTTL:      time.Hour,
		directoryTimeout: time.Second,
		invalidPinStatus: 500,
	}
}

func (c *testConfig) GetSigningKey() string                  { return c.signingKey }
func (c *testConfig) GetSigningKeyID() string                { return c.signingKeyID }
func (c *testConfig) GetVerificationKeys() map[string]string { return c.verificationKeys }
func (c *testConfig) GetTokenExpiration() time.Duration      { return c.expiration }
func (c *testConfig) GetIssuer() string                      { return c.issuer }
func (c *testConfig) GetAudience() []string                  { return c.audience }
func (c *testConfig) GetContextKey() string                  { return auth.DefaultContextKey }
func (c *testConfig) GetTokenLookup() string                 { return "header:Authorization" }
func (c *testConfig) GetAuthScheme() string                  { return "Bearer" }
func (c *testConfig) GetPinDigits() int                      { return c.pinDigits }
func (c *testConfig) GetResetPinTTL() time.Duration          { return c.resetPinTTL }
func (c *testConfig) GetDirectoryTimeout() time.Duration     { return c.directoryTimeout }
func (c *testConfig) GetInvalidPinStatus() int               { return c.invalidPinStatus }

// newTestDB opens a private in-memory database with the schema applied.
func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, auth.Migrate(context.Background(), db))
	return db
}

func newTestRepo(t *testing.T) auth.RepositoryManager {
	t.Helper()
	return auth.NewRepositoryManager(newTestDB(t))
}

// seedUser stores a local, verified and enabled account.
func seedUser(t *testing.T, repo auth.RepositoryManager, username, email, password string) *auth.User {
	t.Helper()

	hash, err := auth.HashPassword(password)
	require.NoError(t, err)

	user, err := repo.Users().Create(context.Background(), &auth.User{
		Name:         username,
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Verified:     true,
		Enabled:      true,
	})
	require.NoError(t, err)
	return user
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []auth.Notification
	err  error
}

func (n *captureNotifier) Send(_ context.Context, msg auth.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *captureNotifier) last(t *testing.T) auth.Notification {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent, "no notification sent")
	return n.sent[len(n.sent)-1]
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type recordingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []auth.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

type stubDirectory struct {
	mu    sync.Mutex
	users map[string]string
	err   error
	calls int
}

func (d *stubDirectory) Authenticate(_ context.Context, username, password string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return false, d.err
	}
	pw, ok := d.users[username]
	return ok && pw == password, nil
}
