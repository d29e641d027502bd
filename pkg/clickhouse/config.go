package clickhouse

import (
	"time"

	"RegimeSim/pkg/config"
)

// Option configures Client.
type Option func(*Config)

// Config holds connection, pool and session settings.
type Config struct {
	Host     string
	Port     int
	UseHTTP  bool
	Database string
	User     string
	Password string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	DialTimeout     time.Duration
	ReadTimeout     time.Duration

	// Settings are sent as DSN query parameters.
	Settings map[string]any
}

func defaultConfig() Config {
	return Config{
		Port:            9000,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     10 * time.Second,
		Settings:        map[string]any{},
	}
}

// WithEndpoint sets host, port and protocol.
func WithEndpoint(host string, port int, useHTTP bool) Option {
	return func(c *Config) {
		c.Host = host
		c.Port = port
		c.UseHTTP = useHTTP
	}
}

// WithDatabase sets the database and its credentials.
func WithDatabase(database, user, password string) Option {
	return func(c *Config) {
		c.Database = database
		c.User = user
		c.Password = password
	}
}

// WithPool sizes the connection pool.
func WithPool(maxOpen, maxIdle int, lifetime time.Duration) Option {
	return func(c *Config) {
		c.MaxOpenConns = maxOpen
		c.MaxIdleConns = maxIdle
		if lifetime > 0 {
			c.ConnMaxLifetime = lifetime
		}
	}
}

// WithTimeouts sets dial and read timeouts.
func WithTimeouts(dial, read time.Duration) Option {
	return func(c *Config) {
		c.DialTimeout = dial
		c.ReadTimeout = read
	}
}

// WithSetting adds a session setting; a nil value removes it.
func WithSetting(key string, value any) Option {
	return func(c *Config) {
		if value == nil {
			delete(c.Settings, key)
			return
		}
		c.Settings[key] = value
	}
}

// FromAppConfig translates the clickhouse config section into options.
func FromAppConfig(cc config.ClickHouseConfig) []Option {
	opts := []Option{
		WithEndpoint(cc.Host, cc.Port, cc.UseHTTP),
		WithDatabase(cc.Database, cc.User, cc.Password),
		WithPool(10, 5, 0),
		WithTimeouts(cc.DialTimeout, cc.ReadTimeout),
	}
	if cc.MaxExecutionTime > 0 {
		opts = append(opts, WithSetting("max_execution_time", int(cc.MaxExecutionTime.Seconds())))
	}
	if cc.AsyncInsert {
		opts = append(opts, WithSetting("async_insert", 1))
		if cc.WaitForAsync {
			opts = append(opts, WithSetting("wait_for_async_insert", 1))
		}
	}
	return opts
}
