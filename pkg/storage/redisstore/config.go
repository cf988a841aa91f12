package redisstore

import "time"

// Config holds Redis connection and key settings.
type Config struct {
	// URL is the Redis connection URL (e.g., redis://localhost:6379/0)
	URL string

	PoolSize     int
	MinIdleConns int

	// PendingTTL bounds how long an unfinished registration holds its
	// username. Zero disables expiry.
	PendingTTL time.Duration
}

// DefaultConfig returns defaults for a local Redis.
func DefaultConfig() Config {
	return Config{
		URL:          "redis://localhost:6379/0",
		PoolSize:     10,
		MinIdleConns: 2,
		PendingTTL:   10 * time.Minute,
	}
}
