// Package ratelimit throttles requests per client key with token buckets.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/goliatone/go-router"
	"golang.org/x/time/rate"
)

// Config holds limiter settings. Rate is in requests per second.
type Config struct {
	Rate            rate.Limit
	Burst           int
	CleanupInterval time.Duration
	// KeyFunc picks the bucket for a request, client IP by default.
	KeyFunc func(ctx router.Context) string
	// OnLimit runs for every rejected request before the response is written.
	OnLimit func(ctx router.Context, key string)
	// Body is the JSON payload sent with 429 responses.
	Body any
}

// ClientIP keys requests by the remote address when the adapter exposes
// one, then by the first X-Forwarded-For hop.
func ClientIP(ctx router.Context) string {
	if c, ok := ctx.(interface{ IP() string }); ok {
		if ip := c.IP(); ip != "" {
			return ip
		}
	}
	fwd := ctx.Header(fiber.HeaderXForwardedFor)
	if i := strings.IndexByte(fwd, ','); i >= 0 {
		fwd = fwd[:i]
	}
	return strings.TrimSpace(fwd)
}

// DefaultConfig allows 10 attempts per minute per client.
func DefaultConfig() Config {
	return Config{
		Rate:            rate.Limit(10.0 / 60.0),
		Burst:           10,
		CleanupInterval: 5 * time.Minute,
	}
}

type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter keeps one bucket per key and sweeps idle ones in the background.
type Limiter struct {
	cfg Config

	mu      sync.Mutex
	entries map[string]*entry

	now    func() time.Time
	stopCh chan struct{}
	once   sync.Once
}

// New starts a Limiter. Call Stop to end the sweep goroutine.
func New(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.Rate <= 0 {
		cfg.Rate = def.Rate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.Body == nil {
		cfg.Body = fiber.Map{"message": "too_many_attempts"}
	}

	l := &Limiter{
		cfg:     cfg,
		entries: make(map[string]*entry),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}

	go l.cleanupLoop()

	return l
}

// Stop ends the sweep goroutine. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stopCh) })
}

// Handler returns the route middleware.
func (l *Limiter) Handler() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			// request strings point into a pooled buffer; keys outlive the request
			key := utils.CopyString(l.cfg.KeyFunc(ctx))
			if l.Allow(key) {
				return next(ctx)
			}

			if l.cfg.OnLimit != nil {
				l.cfg.OnLimit(ctx, key)
			}

			ctx.SetHeader(fiber.HeaderRetryAfter, strconv.Itoa(l.retryAfter()))
			return ctx.JSON(http.StatusTooManyRequests, l.cfg.Body)
		}
	}
}

// Allow consumes a token from key's bucket.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.cfg.Rate, l.cfg.Burst)}
		l.entries[key] = e
	}
	now := l.now()
	e.lastAccess = now
	l.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

// Len reports how many buckets are tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Limiter) retryAfter() int {
	secs := int(math.Ceil(1.0 / float64(l.cfg.Rate)))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stopCh:
			return
		}
	}
}

// sweep drops buckets idle for two cleanup intervals.
func (l *Limiter) sweep() {
	ttl := l.cfg.CleanupInterval * 2
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, e := range l.entries {
		if now.Sub(e.lastAccess) > ttl {
			delete(l.entries, key)
		}
	}
}
