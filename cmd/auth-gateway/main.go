package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	auth "github.com/goliatone/go-auth-gateway"
	"github.com/goliatone/go-auth-gateway/activitymap"
	"github.com/goliatone/go-auth-gateway/config"
	"github.com/goliatone/go-auth-gateway/ldap"
	"github.com/goliatone/go-auth-gateway/metrics"
	"github.com/goliatone/go-auth-gateway/middleware/ratelimit"
	"github.com/goliatone/go-auth-gateway/notification"
)

func main() {
	configPath := flag.String("config", os.Getenv("AUTH_CONFIG"), "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("auth gateway stopped", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slogger := newSlogger(cfg.Server.LogLevel)
	slog.SetDefault(slogger)
	logger := auth.NewSlogLogger(slogger)

	if cfg.Server.Debug {
		logger.Debug("configuration loaded", "config", print.MaybePrettyJSON(redacted(cfg)))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := auth.OpenDB(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := auth.Migrate(ctx, db); err != nil {
		return err
	}

	repo := auth.NewRepositoryManager(db)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)
	activity := auth.MultiActivitySink{collector, activitymap.NewSink(logger)}

	auther := auth.NewAuthenticator(repo, cfg).
		WithLogger(logger).
		WithActivitySink(activity)

	if cfg.LDAP.Enabled {
		directory, err := ldap.New(cfg.DirectoryConfig(), logger)
		if err != nil {
			return err
		}
		auther.WithDirectoryAuthenticator(directory)
		logger.Info("directory authentication enabled", "url", cfg.LDAP.URL)
	}

	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		return err
	}

	opts := []auth.AuthControllerOption{
		auth.WithControllerLogger(logger),
		auth.WithNotifier(notifier),
		auth.WithControllerActivitySink(activity),
		auth.WithRegistrationOptions(cfg.Account.PhoneRegion, cfg.Account.HashidIDs),
		auth.WithDebug(cfg.Server.Debug),
	}

	if cfg.RateLimit.Enabled {
		login := newLimiter(cfg, collector, logger, "login")
		defer login.Stop()
		pins := newLimiter(cfg, collector, logger, "pin")
		defer pins.Stop()

		opts = append(opts,
			auth.WithLoginLimiter(login.Handler()),
			auth.WithPinLimiter(pins.Handler()),
		)
	}

	controller := auth.NewAuthController(auther, repo, cfg, opts...)

	var app *fiber.App
	srv := router.NewFiberAdapter(func(_ *fiber.App) *fiber.App {
		app = fiber.New(fiber.Config{
			AppName:               "auth-gateway",
			DisableStartupMessage: true,
			ReadTimeout:           15 * time.Second,
			WriteTimeout:          15 * time.Second,
			IdleTimeout:           60 * time.Second,
		})

		app.Use(recover.New())
		app.Use(requestid.New())
		app.Use(fiberlogger.New(fiberlogger.Config{
			Format: "${time} ${locals:requestid} ${status} ${method} ${path} ${latency}\n",
		}))
		app.Use(collector.StatusMiddleware())
		app.Get(cfg.Server.MetricsPath, adaptor.HTTPHandler(metrics.Handler(registry)))
		return app
	})

	srv.Router().Get("/healthz", func(c router.Context) error {
		if err := db.PingContext(c.Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, fiber.Map{"status": "unavailable"})
		}
		return c.JSON(http.StatusOK, fiber.Map{"status": "ok"})
	}).SetName("healthz")

	auth.RegisterAuthRoutes(srv.Router(), controller)

	go purgeRevocations(ctx, repo.RevokedTokens(), cfg.Database.PurgeInterval, logger)

	errc := make(chan error, 1)
	go func() {
		logger.Info("auth gateway listening", "address", cfg.Server.Address)
		errc <- srv.Serve(cfg.Server.Address)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "http server failed")
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down auth gateway")
	if err := app.ShutdownWithTimeout(cfg.Server.ShutdownTimeout); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "http server shutdown failed")
	}

	return nil
}

func newLimiter(cfg *config.Config, collector *metrics.Collector, logger auth.Logger, scope string) *ratelimit.Limiter {
	return ratelimit.New(ratelimit.Config{
		Rate:  rate.Limit(float64(cfg.RateLimit.PerMinute) / 60.0),
		Burst: cfg.RateLimit.Burst,
		Body:  fiber.Map{"message": auth.TextCodeRateLimited},
		OnLimit: func(_ router.Context, key string) {
			collector.RecordRateLimited()
			logger.Warn("rate limit exceeded", "scope", scope, "client", key)
		},
	})
}

func newSlogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})).
		With("service", "auth-gateway")
}

func newNotifier(cfg *config.Config, logger auth.Logger) (auth.Notifier, error) {
	if !cfg.SMTP.Enabled {
		return notification.NewLogNotifier(logger), nil
	}

	renderer, err := notification.NewRenderer(cfg.GetResetPinTTL())
	if err != nil {
		return nil, err
	}

	return notification.NewSMTPNotifier(cfg.MailConfig(), renderer, logger)
}

// purgeRevocations drops revocation rows whose token has expired anyway.
func purgeRevocations(ctx context.Context, store auth.RevokedTokens, every time.Duration, logger auth.Logger) {
	if every <= 0 {
		return
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := store.PurgeExpired(ctx, now)
			if err != nil {
				logger.Warn("revocation purge failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("revocations purged", "count", n)
			}
		}
	}
}

func redacted(cfg *config.Config) config.Config {
	out := *cfg
	const mask = "********"
	if out.Token.SigningKey != "" {
		out.Token.SigningKey = mask
	}
	if len(out.Token.VerificationKeys) > 0 {
		keys := make(map[string]string, len(out.Token.VerificationKeys))
		for kid := range out.Token.VerificationKeys {
			keys[kid] = mask
		}
		out.Token.VerificationKeys = keys
	}
	if out.LDAP.BindPassword != "" {
		out.LDAP.BindPassword = mask
	}
	if out.SMTP.Password != "" {
		out.SMTP.Password = mask
	}
	return out
}
