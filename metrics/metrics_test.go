package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-auth-gateway"
)

func TestCollector_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	ctx := context.Background()
	require.NoError(t, c.Record(ctx, auth.ActivityEvent{EventType: auth.ActivityEventLoginSuccess}))
	require.NoError(t, c.Record(ctx, auth.ActivityEvent{EventType: auth.ActivityEventLoginSuccess}))
	require.NoError(t, c.Record(ctx, auth.ActivityEvent{EventType: auth.ActivityEventLoginFailure}))

	assert.Equal(t, float64(2), testutil.ToFloat64(c.events.WithLabelValues(string(auth.ActivityEventLoginSuccess))))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.events.WithLabelValues(string(auth.ActivityEventLoginFailure))))
}

func TestCollector_HTTPAndRateLimit(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus("/auth/login", 200)
	c.RecordHTTPStatus("/auth/login", 401)
	c.RecordHTTPStatus("/auth/login", 401)
	c.RecordRateLimited()

	assert.Equal(t, float64(2), testutil.ToFloat64(c.httpStatus.WithLabelValues("/auth/login", "401")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.rateLimited))
}

func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	require.NoError(t, c.Record(context.Background(), auth.ActivityEvent{EventType: auth.ActivityEventLogout}))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	resp := w.Result()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `auth_gateway_events_total{event="auth.logout"} 1`)
}

func TestCollector_StatusMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	app := fiber.New()
	app.Use(c.StatusMiddleware())
	app.Get("/ok", func(ctx *fiber.Ctx) error { return ctx.SendString("ok") })
	app.Get("/bad", func(ctx *fiber.Ctx) error { return fiber.ErrBadRequest })
	app.Get("/boom", func(ctx *fiber.Ctx) error { return errors.New("boom") })

	for path, want := range map[string]int{"/ok": 200, "/bad": 400, "/boom": 500, "/missing": 404} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)
		assert.Equal(t, want, resp.StatusCode, path)
	}

	assert.Equal(t, float64(1), testutil.ToFloat64(c.httpStatus.WithLabelValues("/ok", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.httpStatus.WithLabelValues("/bad", "400")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.httpStatus.WithLabelValues("/boom", "500")))
	assert.Equal(t, float64(1), countByStatus(t, reg, "404"), "unmatched routes are not counted as 200")
	assert.Equal(t, float64(1), countByStatus(t, reg, "200"))
}

func countByStatus(t *testing.T, reg *prometheus.Registry, code string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range families {
		if mf.GetName() != namespace+"_http_responses_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "status_code" && l.GetValue() == code {
					total += m.GetCounter().GetValue()
				}
			}
		}
	}
	return total
}
