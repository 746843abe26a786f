package pgcore

import (
	"errors"
	"time"
)

const (
	defaultMaxConns          = 10
	defaultAcquireTimeout    = 5 * time.Second
	defaultIdleTimeout       = 5 * time.Minute
	defaultMaxConnLifetime   = 30 * time.Minute
	defaultHealthCheckPeriod = 30 * time.Second
	minHealthCheckPeriod     = time.Millisecond
	defaultConnectTimeout    = 10 * time.Second
)

// Config controls the behavior of the connection pool.
type Config struct {
	// ConnectionString is a postgres:// URL (or key=value DSN). It is parsed
	// once by Connect.
	ConnectionString string

	// MaxConns bounds concurrently open connections. Defaults to 10.
	MaxConns int32

	// MinConns is kept open even when idle. Defaults to 0.
	MinConns int32

	// AcquireTimeout bounds how long Acquire waits for a free connection.
	// Defaults to 5s.
	AcquireTimeout time.Duration

	// IdleTimeout closes connections idle longer than this, down to
	// MinConns. Defaults to 5m.
	IdleTimeout time.Duration

	// MaxConnLifetime defaults to 30m.
	MaxConnLifetime time.Duration

	// HealthCheckPeriod is how often idle connections are checked and
	// reclaimed. Defaults to the smaller of 30s and IdleTimeout/2, but never
	// less than 1ms.
	HealthCheckPeriod time.Duration

	// ConnectTimeout defaults to 10s.
	ConnectTimeout time.Duration

	// SimpleProtocol selects the simple query protocol and disables
	// statement/description caches, for transaction-mode poolers such as
	// PgBouncer.
	SimpleProtocol bool

	// RequireTLS rejects connection strings that allow plaintext.
	RequireTLS bool
}

// withDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) withDefaults() Config {
	if c.MaxConns == 0 {
		c.MaxConns = defaultMaxConns
	}
	if c.AcquireTimeout == 0 {
		c.AcquireTimeout = defaultAcquireTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.MaxConnLifetime == 0 {
		c.MaxConnLifetime = defaultMaxConnLifetime
	}
	if c.HealthCheckPeriod == 0 {
		c.HealthCheckPeriod = max(minHealthCheckPeriod, min(defaultHealthCheckPeriod, c.IdleTimeout/2))
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	return c
}

func (c Config) validate() error {
	switch {
	case c.ConnectionString == "":
		return errors.New("ConnectionString is required")
	case c.MaxConns < 0 || c.MinConns < 0:
		return errors.New("MaxConns and MinConns must not be negative")
	case c.MinConns > c.MaxConns:
		return errors.New("MinConns must not exceed MaxConns")
	case c.AcquireTimeout < 0 || c.IdleTimeout < 0 || c.MaxConnLifetime < 0 ||
		c.HealthCheckPeriod < 0 || c.ConnectTimeout < 0:
		return errors.New("durations must not be negative")
	}
	return nil
}
