package cache

import (
	"time"

	"RegimeSim/pkg/config"
)

// RedisOption configures RedisCache.
type RedisOption func(*RedisConfig)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	PoolTimeout  time.Duration
	DialTimeout  time.Duration
	// Prefix namespaces every key; empty keeps keys as given.
	Prefix string
}

func defaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		PoolTimeout:  30 * time.Second,
		DialTimeout:  5 * time.Second,
		Prefix:       "regimesim",
	}
}

// WithRedisAddr sets the server address, password and database.
func WithRedisAddr(addr, password string, db int) RedisOption {
	return func(c *RedisConfig) {
		c.Addr = addr
		c.Password = password
		c.DB = db
	}
}

// WithRedisPool sets connection pool settings.
func WithRedisPool(poolSize, minIdleConns int, timeout time.Duration) RedisOption {
	return func(c *RedisConfig) {
		c.PoolSize = poolSize
		c.MinIdleConns = minIdleConns
		c.PoolTimeout = timeout
	}
}

func WithRedisPrefix(prefix string) RedisOption {
	return func(c *RedisConfig) { c.Prefix = prefix }
}

// FromAppConfig translates the redis config section into options.
func FromAppConfig(rc config.RedisConfig) []RedisOption {
	return []RedisOption{
		WithRedisAddr(rc.Addr, rc.Password, rc.DB),
		WithRedisPrefix(rc.Prefix),
	}
}

// MemoryOption configures MemoryCache.
type MemoryOption func(*MemoryConfig)

// MemoryConfig bounds the in-memory cache.
type MemoryConfig struct {
	MaxSize         int
	CleanupInterval time.Duration
	now             func() time.Time
}

func WithMemoryMaxSize(size int) MemoryOption {
	return func(c *MemoryConfig) { c.MaxSize = size }
}

func WithMemoryCleanup(interval time.Duration) MemoryOption {
	return func(c *MemoryConfig) { c.CleanupInterval = interval }
}

func withClock(now func() time.Time) MemoryOption {
	return func(c *MemoryConfig) { c.now = now }
}
