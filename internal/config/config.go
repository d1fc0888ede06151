// Package config parses the daemon's environment configuration.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full tuning surface of the distribution layer. Defaults
// match the documented production values; everything here is policy, not
// invariant.
type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"realtimed"`
	Port        string `env:"PORT"         envDefault:"8090"`

	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisAddr   string `env:"REDIS_ADDR"     envDefault:"localhost:6379"`
	RedisPass   string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB     int    `env:"REDIS_DB"       envDefault:"0"`

	PoolSizeAsync    int           `env:"POOL_SIZE_ASYNC"    envDefault:"50"`
	PoolSizeBlocking int           `env:"POOL_SIZE_BLOCKING" envDefault:"20"`
	SocketTimeout    time.Duration `env:"SOCKET_TIMEOUT"     envDefault:"5s"`

	QueueCapacity     int           `env:"QUEUE_CAPACITY"      envDefault:"500"`
	BatchSize         int           `env:"BATCH_SIZE"          envDefault:"50"`
	PublishRetries    int           `env:"PUBLISH_RETRIES"     envDefault:"3"`
	ReconnectAttempts int           `env:"RECONNECT_ATTEMPTS"  envDefault:"20"`
	DropAlertRatio    float64       `env:"DROP_ALERT_RATIO"    envDefault:"0.05"`
	StrictOrdering    bool          `env:"STRICT_ORDERING"     envDefault:"false"`
	BreakerFailures   int           `env:"BREAKER_FAILURES"    envDefault:"5"`
	BreakerRecovery   time.Duration `env:"BREAKER_RECOVERY"    envDefault:"30s"`

	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	OutboxMaxRetries   int           `env:"OUTBOX_MAX_RETRIES"   envDefault:"5"`

	StreamName   string `env:"STREAM_NAME"   envDefault:"events:critical"`
	StreamGroup  string `env:"STREAM_GROUP"  envDefault:"realtime"`
	StreamDLQ    string `env:"STREAM_DLQ"    envDefault:"events:dlq"`
	ConsumerName string `env:"CONSUMER_NAME" envDefault:""`

	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"60s"`
	RateLimit       int           `env:"RATE_LIMIT"        envDefault:"5"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
