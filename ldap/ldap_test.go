package ldap

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("requires url", func(t *testing.T) {
		_, err := New(Config{}, nil)
		assert.ErrorIs(t, err, ErrNotConfigured)
	})

	t.Run("filter needs placeholder", func(t *testing.T) {
		_, err := New(Config{URL: "ldap://localhost:389", Filter: "(uid=admin)"}, nil)
		assert.Error(t, err)
	})

	t.Run("defaults", func(t *testing.T) {
		a, err := New(Config{URL: "ldap://localhost:389"}, nil)
		require.NoError(t, err)
		assert.Equal(t, DefaultFilter, a.cfg.Filter)
		assert.Equal(t, DefaultTimeout, a.cfg.Timeout)
	})

	t.Run("dn template needs no filter placeholder", func(t *testing.T) {
		_, err := New(Config{
			URL:            "ldap://localhost:389",
			Filter:         "(objectClass=person)",
			UserDNTemplate: "uid={username},ou=people,dc=example,dc=com",
		}, nil)
		assert.NoError(t, err)
	})
}

func TestBuildFilter(t *testing.T) {
	assert.Equal(t, "(samaccountname=jdoe)", BuildFilter(DefaultFilter, "jdoe"))
	assert.Equal(t, `(samaccountname=\2a\29\28uid=\2a)`, BuildFilter(DefaultFilter, "*)(uid=*"))
}

func TestAuthenticate_EmptyCredentialsNeverDial(t *testing.T) {
	// nothing listens on this address; a dial would surface an error
	a, err := New(Config{URL: "ldap://127.0.0.1:1", Timeout: 50 * time.Millisecond}, nil)
	require.NoError(t, err)

	ok, err := a.Authenticate(context.Background(), "jdoe", "")
	assert.False(t, ok)
	assert.NoError(t, err)

	ok, err = a.Authenticate(context.Background(), "  ", "secret")
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestAuthenticate_UnreachableDirectory(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	a, err := New(Config{URL: "ldap://" + addr, Timeout: 200 * time.Millisecond}, nil)
	require.NoError(t, err)

	start := time.Now()
	ok, err := a.Authenticate(context.Background(), "jdoe", "secret")
	assert.False(t, ok)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestTimeoutHonoursDeadline(t *testing.T) {
	a, err := New(Config{URL: "ldap://localhost:389", Timeout: time.Minute}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.LessOrEqual(t, a.timeout(ctx), time.Second)
	assert.Equal(t, time.Minute, a.timeout(context.Background()))
}
