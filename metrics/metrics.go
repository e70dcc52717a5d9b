// Package metrics exposes gateway activity as Prometheus series.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	auth "github.com/goliatone/go-auth-gateway"
)

const namespace = "auth_gateway"

var _ auth.ActivitySink = (*Collector)(nil)

// Collector counts activity events and HTTP responses. It doubles as an
// auth.ActivitySink so it can be chained with other sinks.
type Collector struct {
	events      *prometheus.CounterVec
	httpStatus  *prometheus.CounterVec
	rateLimited prometheus.Counter
}

// NewCollector registers the collector series on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Authentication activity events by type.",
		}, []string{"event"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_responses_total",
			Help:      "HTTP responses by route and status code.",
		}, []string{"route", "status_code"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the login and pin rate limiters.",
		}),
	}

	reg.MustRegister(c.events, c.httpStatus, c.rateLimited)

	return c
}

// Record implements auth.ActivitySink.
func (c *Collector) Record(_ context.Context, event auth.ActivityEvent) error {
	c.events.WithLabelValues(string(event.EventType)).Inc()
	return nil
}

// RecordHTTPStatus counts a response for route.
func (c *Collector) RecordHTTPStatus(route string, statusCode int) {
	c.httpStatus.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
}

// StatusMiddleware counts every response by matched route and the status
// the client receives. Errors still pending for the fiber error handler are
// counted with their eventual code.
func (c *Collector) StatusMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		c.RecordHTTPStatus(ctx.Route().Path, responseStatus(ctx, err))
		return err
	}
}

func responseStatus(ctx *fiber.Ctx, err error) int {
	if err == nil {
		return ctx.Response().StatusCode()
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return fiber.StatusInternalServerError
}

// RecordRateLimited counts a rejected request.
func (c *Collector) RecordRateLimited() {
	c.rateLimited.Inc()
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
