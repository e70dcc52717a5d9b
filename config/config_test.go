package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-auth-gateway"
)

const testKey = "0123456789abcdef0123456789abcdef"

func env(vars map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestDefault_NeedsSigningKey(t *testing.T) {
	cfg := Default()
	require.Error(t, cfg.Validate())

	cfg.Token.SigningKey = testKey
	assert.NoError(t, cfg.Validate())
}

func TestUnmarshal_OverlaysDefaults(t *testing.T) {
	cfg := Default()
	err := cfg.Unmarshal([]byte(`
token:
  signing_key: ` + testKey + `
  expiration: 30m
  audience: [web, cli]
  verification_keys:
    old: previous-key-value-0001
account:
  reset_pin_ttl: 2h
database:
  driver: postgres
  dsn: postgres://localhost/auth?sslmode=disable
ldap:
  enabled: true
  url: ldap://dc.example.com:389
  base_dn: dc=example,dc=com
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 30*time.Minute, cfg.GetTokenExpiration())
	assert.Equal(t, []string{"web", "cli"}, cfg.GetAudience())
	assert.Equal(t, map[string]string{"old": "previous-key-value-0001"}, cfg.GetVerificationKeys())
	assert.Equal(t, 2*time.Hour, cfg.GetResetPinTTL())
	assert.Equal(t, auth.DriverPostgres, cfg.Database.Driver)

	assert.Equal(t, auth.DefaultSigningKeyID, cfg.GetSigningKeyID())
	assert.Equal(t, auth.DefaultPinDigits, cfg.GetPinDigits())
	assert.Equal(t, 500, cfg.GetInvalidPinStatus())

	dir := cfg.DirectoryConfig()
	assert.Equal(t, "ldap://dc.example.com:389", dir.URL)
	assert.Equal(t, "(samaccountname={username})", dir.Filter)
	assert.Equal(t, cfg.GetDirectoryTimeout(), dir.Timeout)
}

func TestUnmarshal_BadYAML(t *testing.T) {
	assert.Error(t, Default().Unmarshal([]byte("token: [")))
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"AUTH_TOKEN_SIGNING_KEY":       testKey,
		"AUTH_TOKEN_EXPIRATION":        "15m",
		"AUTH_TOKEN_AUDIENCE":          "web, ,cli",
		"AUTH_SMTP_ENABLED":            "true",
		"AUTH_SMTP_HOST":               "smtp.example.com",
		"AUTH_SMTP_PORT":               "2525",
		"AUTH_SMTP_FROM":               "no-reply@example.com",
		"AUTH_HTTP_INVALID_PIN_STATUS": "400",
		"UNRELATED":                    "ignored",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, testKey, cfg.GetSigningKey())
	assert.Equal(t, 15*time.Minute, cfg.GetTokenExpiration())
	assert.Equal(t, []string{"web", "cli"}, cfg.GetAudience())
	assert.Equal(t, 400, cfg.GetInvalidPinStatus())

	mail := cfg.MailConfig()
	assert.Equal(t, "smtp.example.com", mail.Host)
	assert.Equal(t, 2525, mail.Port)
}

func TestApplyEnv_InvalidValue(t *testing.T) {
	err := Default().ApplyEnv(env(map[string]string{"AUTH_SMTP_PORT": "many"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid environment override")
}

func TestValidate_Sections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"short signing key", func(c *Config) { c.Token.SigningKey = "short" }},
		{"zero expiration", func(c *Config) { c.Token.Expiration = 0 }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"success pin status", func(c *Config) { c.HTTP.InvalidPinStatus = 200 }},
		{"tiny pin", func(c *Config) { c.Account.PinDigits = 2 }},
		{"ldap without url", func(c *Config) { c.LDAP.Enabled = true }},
		{"smtp without host", func(c *Config) { c.SMTP.Enabled = true; c.SMTP.From = "a@example.com" }},
		{"rate limit without quota", func(c *Config) { c.RateLimit.PerMinute = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Token.SigningKey = testKey
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_LDAPUserTemplateSkipsBaseDN(t *testing.T) {
	cfg := Default()
	cfg.Token.SigningKey = testKey
	cfg.LDAP.Enabled = true
	cfg.LDAP.URL = "ldap://localhost"
	cfg.LDAP.UserDNTemplate = "uid={username},ou=people,dc=example,dc=com"
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  address: \":9090\"\n"), 0o600))

	t.Setenv("AUTH_TOKEN_SIGNING_KEY", testKey)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, testKey, cfg.GetSigningKey())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
