// Package config loads gateway settings from YAML with AUTH_* environment
// overrides. *Config satisfies auth.Config.
package config

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"

	auth "github.com/goliatone/go-auth-gateway"
	"github.com/goliatone/go-auth-gateway/ldap"
	"github.com/goliatone/go-auth-gateway/notification"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AUTH_"

const minSigningKeyLength = 16

var _ auth.Config = (*Config)(nil)

type Config struct {
	Server    Server    `yaml:"server"`
	Token     Token     `yaml:"token"`
	HTTP      HTTP      `yaml:"http"`
	Account   Account   `yaml:"account"`
	Database  Database  `yaml:"database"`
	LDAP      LDAP      `yaml:"ldap"`
	SMTP      SMTP      `yaml:"smtp"`
	RateLimit RateLimit `yaml:"rate_limit"`
}

type Server struct {
	Address         string        `yaml:"address"`
	Debug           bool          `yaml:"debug"`
	LogLevel        string        `yaml:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MetricsPath     string        `yaml:"metrics_path"`
}

type Token struct {
	SigningKey       string            `yaml:"signing_key"`
	SigningKeyID     string            `yaml:"signing_key_id"`
	VerificationKeys map[string]string `yaml:"verification_keys"`
	Expiration       time.Duration     `yaml:"expiration"`
	Issuer           string            `yaml:"issuer"`
	Audience         []string          `yaml:"audience"`
}

type HTTP struct {
	ContextKey       string `yaml:"context_key"`
	TokenLookup      string `yaml:"token_lookup"`
	AuthScheme       string `yaml:"auth_scheme"`
	InvalidPinStatus int    `yaml:"invalid_pin_status"`
}

type Account struct {
	PinDigits   int           `yaml:"pin_digits"`
	ResetPinTTL time.Duration `yaml:"reset_pin_ttl"`
	PhoneRegion string        `yaml:"phone_region"`
	HashidIDs   bool          `yaml:"hashid_ids"`
}

type Database struct {
	Driver        string        `yaml:"driver"`
	DSN           string        `yaml:"dsn"`
	PurgeInterval time.Duration `yaml:"purge_interval"`
}

type LDAP struct {
	Enabled            bool          `yaml:"enabled"`
	URL                string        `yaml:"url"`
	BindDN             string        `yaml:"bind_dn"`
	BindPassword       string        `yaml:"bind_password"`
	BaseDN             string        `yaml:"base_dn"`
	Filter             string        `yaml:"filter"`
	UserDNTemplate     string        `yaml:"user_dn_template"`
	StartTLS           bool          `yaml:"start_tls"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	Timeout            time.Duration `yaml:"timeout"`
}

type SMTP struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type RateLimit struct {
	Enabled   bool `yaml:"enabled"`
	PerMinute int  `yaml:"per_minute"`
	Burst     int  `yaml:"burst"`
}

// Default returns development settings. SigningKey is left empty and must
// be provided.
func Default() *Config {
	return &Config{
		Server: Server{
			Address:         ":8080",
			LogLevel:        "info",
			ShutdownTimeout: 10 * time.Second,
			MetricsPath:     "/metrics",
		},
		Token: Token{
			SigningKeyID: auth.DefaultSigningKeyID,
			Expiration:   time.Hour,
			Issuer:       "auth-gateway",
		},
		HTTP: HTTP{
			ContextKey:       auth.DefaultContextKey,
			TokenLookup:      "header:Authorization",
			AuthScheme:       "Bearer",
			InvalidPinStatus: http.StatusInternalServerError,
		},
		Account: Account{
			PinDigits:   auth.DefaultPinDigits,
			ResetPinTTL: auth.DefaultResetPinTTL,
			PhoneRegion: auth.DefaultPhoneRegion,
		},
		Database: Database{
			Driver:        auth.DriverSQLite,
			DSN:           "file:auth.db?cache=shared",
			PurgeInterval: 15 * time.Minute,
		},
		LDAP: LDAP{
			Filter:  ldap.DefaultFilter,
			Timeout: ldap.DefaultTimeout,
		},
		SMTP: SMTP{
			Port: 587,
		},
		RateLimit: RateLimit{
			Enabled:   true,
			PerMinute: 10,
			Burst:     10,
		},
	}
}

// Load reads path (optional), applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to read config file").
				WithMetadata(map[string]any{"path": path})
		}
		if err := cfg.Unmarshal(data); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Unmarshal overlays YAML data on the current values.
func (c *Config) Unmarshal(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(err, errors.CategoryBadInput, "failed to parse config")
	}
	return nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.Server),
		validation.Field(&c.Token),
		validation.Field(&c.HTTP),
		validation.Field(&c.Account),
		validation.Field(&c.Database),
		validation.Field(&c.LDAP),
		validation.Field(&c.SMTP),
		validation.Field(&c.RateLimit),
	)
	if err != nil {
		return errors.Wrap(err, errors.CategoryValidation, "invalid configuration")
	}
	return nil
}

func (s Server) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Address, validation.Required),
		validation.Field(&s.LogLevel, validation.In("debug", "info", "warn", "error")),
		validation.Field(&s.MetricsPath, validation.Required),
	)
}

func (t Token) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.SigningKey, validation.Required, validation.Length(minSigningKeyLength, 0)),
		validation.Field(&t.SigningKeyID, validation.Required),
		validation.Field(&t.Expiration, validation.By(positiveDuration)),
		validation.Field(&t.Issuer, validation.Required),
	)
}

func (h HTTP) Validate() error {
	return validation.ValidateStruct(&h,
		validation.Field(&h.ContextKey, validation.Required),
		validation.Field(&h.InvalidPinStatus, validation.By(httpStatus)),
	)
}

func (a Account) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.PinDigits, validation.By(intBetween(4, 18))),
		validation.Field(&a.ResetPinTTL, validation.By(positiveDuration)),
		validation.Field(&a.PhoneRegion, validation.Required, validation.Length(2, 2)),
	)
}

func (d Database) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Driver, validation.Required, validation.In(auth.DriverSQLite, auth.DriverPostgres)),
		validation.Field(&d.DSN, validation.Required),
	)
}

func (l LDAP) Validate() error {
	if !l.Enabled {
		return nil
	}
	rules := []*validation.FieldRules{
		validation.Field(&l.URL, validation.Required),
		validation.Field(&l.Timeout, validation.By(positiveDuration)),
	}
	if l.UserDNTemplate == "" {
		rules = append(rules, validation.Field(&l.BaseDN, validation.Required))
	}
	return validation.ValidateStruct(&l, rules...)
}

func (s SMTP) Validate() error {
	if !s.Enabled {
		return nil
	}
	return validation.ValidateStruct(&s,
		validation.Field(&s.Host, validation.Required),
		validation.Field(&s.From, validation.Required, is.Email),
	)
}

func (r RateLimit) Validate() error {
	if !r.Enabled {
		return nil
	}
	return validation.ValidateStruct(&r,
		validation.Field(&r.PerMinute, validation.By(intBetween(1, 100000))),
		validation.Field(&r.Burst, validation.By(intBetween(1, 100000))),
	)
}

func positiveDuration(value any) error {
	d, _ := value.(time.Duration)
	if d <= 0 {
		return errors.New("must be a positive duration", errors.CategoryValidation)
	}
	return nil
}

func httpStatus(value any) error {
	code, _ := value.(int)
	if code < 400 || code > 599 {
		return errors.New("must be an error status code", errors.CategoryValidation)
	}
	return nil
}

func intBetween(lo, hi int) validation.RuleFunc {
	return func(value any) error {
		n, _ := value.(int)
		if n < lo || n > hi {
			return errors.New("must be between "+strconv.Itoa(lo)+" and "+strconv.Itoa(hi), errors.CategoryValidation)
		}
		return nil
	}
}

// DirectoryConfig maps the ldap section to ldap.Config.
func (c *Config) DirectoryConfig() ldap.Config {
	return ldap.Config{
		URL:                c.LDAP.URL,
		BindDN:             c.LDAP.BindDN,
		BindPassword:       c.LDAP.BindPassword,
		BaseDN:             c.LDAP.BaseDN,
		Filter:             c.LDAP.Filter,
		UserDNTemplate:     c.LDAP.UserDNTemplate,
		StartTLS:           c.LDAP.StartTLS,
		InsecureSkipVerify: c.LDAP.InsecureSkipVerify,
		Timeout:            c.LDAP.Timeout,
	}
}

// MailConfig maps the smtp section to notification.SMTPConfig.
func (c *Config) MailConfig() notification.SMTPConfig {
	return notification.SMTPConfig{
		Host:     c.SMTP.Host,
		Port:     c.SMTP.Port,
		Username: c.SMTP.Username,
		Password: c.SMTP.Password,
		From:     c.SMTP.From,
	}
}

func (c *Config) GetSigningKey() string                  { return c.Token.SigningKey }
func (c *Config) GetSigningKeyID() string                { return c.Token.SigningKeyID }
func (c *Config) GetVerificationKeys() map[string]string { return c.Token.VerificationKeys }
func (c *Config) GetTokenExpiration() time.Duration      { return c.Token.Expiration }
func (c *Config) GetIssuer() string                      { return c.Token.Issuer }
func (c *Config) GetAudience() []string                  { return c.Token.Audience }
func (c *Config) GetContextKey() string                  { return c.HTTP.ContextKey }
func (c *Config) GetTokenLookup() string                 { return c.HTTP.TokenLookup }
func (c *Config) GetAuthScheme() string                  { return c.HTTP.AuthScheme }
func (c *Config) GetInvalidPinStatus() int               { return c.HTTP.InvalidPinStatus }
func (c *Config) GetPinDigits() int                      { return c.Account.PinDigits }
func (c *Config) GetResetPinTTL() time.Duration          { return c.Account.ResetPinTTL }
func (c *Config) GetDirectoryTimeout() time.Duration     { return c.LDAP.Timeout }

// splitList splits a comma separated value, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
