package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

type envBinding struct {
	key string
	set func(c *Config, raw string) error
}

func str(dst func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, raw string) error {
		*dst(c) = raw
		return nil
	}
}

func boolean(dst func(c *Config) *bool) func(*Config, string) error {
	return func(c *Config, raw string) error {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		*dst(c) = v
		return nil
	}
}

func integer(dst func(c *Config) *int) func(*Config, string) error {
	return func(c *Config, raw string) error {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		*dst(c) = v
		return nil
	}
}

func duration(dst func(c *Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, raw string) error {
		v, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*dst(c) = v
		return nil
	}
}

var envBindings = []envBinding{
	{"SERVER_ADDRESS", str(func(c *Config) *string { return &c.Server.Address })},
	{"SERVER_DEBUG", boolean(func(c *Config) *bool { return &c.Server.Debug })},
	{"SERVER_LOG_LEVEL", str(func(c *Config) *string { return &c.Server.LogLevel })},
	{"SERVER_SHUTDOWN_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.Server.ShutdownTimeout })},

	{"TOKEN_SIGNING_KEY", str(func(c *Config) *string { return &c.Token.SigningKey })},
	{"TOKEN_SIGNING_KEY_ID", str(func(c *Config) *string { return &c.Token.SigningKeyID })},
	{"TOKEN_EXPIRATION", duration(func(c *Config) *time.Duration { return &c.Token.Expiration })},
	{"TOKEN_ISSUER", str(func(c *Config) *string { return &c.Token.Issuer })},
	{"TOKEN_AUDIENCE", func(c *Config, raw string) error {
		c.Token.Audience = splitList(raw)
		return nil
	}},

	{"HTTP_INVALID_PIN_STATUS", integer(func(c *Config) *int { return &c.HTTP.InvalidPinStatus })},

	{"ACCOUNT_PIN_DIGITS", integer(func(c *Config) *int { return &c.Account.PinDigits })},
	{"ACCOUNT_RESET_PIN_TTL", duration(func(c *Config) *time.Duration { return &c.Account.ResetPinTTL })},
	{"ACCOUNT_PHONE_REGION", str(func(c *Config) *string { return &c.Account.PhoneRegion })},

	{"DATABASE_DRIVER", str(func(c *Config) *string { return &c.Database.Driver })},
	{"DATABASE_DSN", str(func(c *Config) *string { return &c.Database.DSN })},

	{"LDAP_ENABLED", boolean(func(c *Config) *bool { return &c.LDAP.Enabled })},
	{"LDAP_URL", str(func(c *Config) *string { return &c.LDAP.URL })},
	{"LDAP_BIND_DN", str(func(c *Config) *string { return &c.LDAP.BindDN })},
	{"LDAP_BIND_PASSWORD", str(func(c *Config) *string { return &c.LDAP.BindPassword })},
	{"LDAP_BASE_DN", str(func(c *Config) *string { return &c.LDAP.BaseDN })},
	{"LDAP_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.LDAP.Timeout })},

	{"SMTP_ENABLED", boolean(func(c *Config) *bool { return &c.SMTP.Enabled })},
	{"SMTP_HOST", str(func(c *Config) *string { return &c.SMTP.Host })},
	{"SMTP_PORT", integer(func(c *Config) *int { return &c.SMTP.Port })},
	{"SMTP_USERNAME", str(func(c *Config) *string { return &c.SMTP.Username })},
	{"SMTP_PASSWORD", str(func(c *Config) *string { return &c.SMTP.Password })},
	{"SMTP_FROM", str(func(c *Config) *string { return &c.SMTP.From })},

	{"RATE_LIMIT_ENABLED", boolean(func(c *Config) *bool { return &c.RateLimit.Enabled })},
	{"RATE_LIMIT_PER_MINUTE", integer(func(c *Config) *int { return &c.RateLimit.PerMinute })},
}

// ApplyEnv overrides values from AUTH_* variables found through lookup.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	for _, b := range envBindings {
		key := EnvPrefix + b.key
		raw, ok := lookup(key)
		if !ok {
			continue
		}
		if err := b.set(c, strings.TrimSpace(raw)); err != nil {
			return errors.Wrap(err, errors.CategoryBadInput, "invalid environment override").
				WithMetadata(map[string]any{"variable": key})
		}
	}
	return nil
}
