package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN         string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL         string `env:"RABBITMQ_URL,required=true"`
	RedisURL            string `env:"REDIS_URL,required=true"`
	IndexingEndpointURL string `env:"INDEXING_ENDPOINT_URL,required=true"`

	DailyQuotaLimit       int `env:"DAILY_QUOTA_LIMIT,default=200"`
	FailureThreshold      int `env:"FAILURE_THRESHOLD,default=1"`
	RateLimitPerSec       int `env:"RATE_LIMIT_PER_SEC,default=10"`
	WorkerConcurrency     int `env:"WORKER_CONCURRENCY,default=16"`
	SchedulerConcurrency  int `env:"SCHEDULER_CONCURRENCY,default=4"`
	BacklogAlertThreshold int `env:"BACKLOG_ALERT_THRESHOLD,default=500"`
	FailureRatePercent    int `env:"FAILURE_RATE_PERCENT,default=30"`
	DBMaxOpenConns        int `env:"DB_MAX_OPEN_CONNS,default=25"`
	DBMaxIdleConns        int `env:"DB_MAX_IDLE_CONNS,default=5"`

	CooldownDuration    time.Duration `env:"COOLDOWN_DURATION,default=1h"`
	SubmitTimeout       time.Duration `env:"SUBMIT_TIMEOUT,default=30s"`
	LockTTL             time.Duration `env:"LOCK_TTL,default=30s"`
	SchedulerResync     time.Duration `env:"SCHEDULER_RESYNC_INTERVAL,default=1m"`
	HealthSweepInterval time.Duration `env:"HEALTH_SWEEP_INTERVAL,default=1m"`
	RetryScanInterval   time.Duration `env:"RETRY_SCAN_INTERVAL,default=30s"`
	AlertEvalInterval   time.Duration `env:"ALERT_EVAL_INTERVAL,default=5m"`
	FailureRateWindow   time.Duration `env:"FAILURE_RATE_WINDOW,default=2h"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DailyQuotaLimit < 1 {
		return fmt.Errorf("DAILY_QUOTA_LIMIT must be >= 1")
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("FAILURE_THRESHOLD must be >= 1")
	}
	if c.FailureRatePercent < 1 || c.FailureRatePercent > 100 {
		return fmt.Errorf("FAILURE_RATE_PERCENT must be between 1 and 100")
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"COOLDOWN_DURATION", c.CooldownDuration},
		{"SUBMIT_TIMEOUT", c.SubmitTimeout},
		{"LOCK_TTL", c.LockTTL},
		{"SCHEDULER_RESYNC_INTERVAL", c.SchedulerResync},
		{"HEALTH_SWEEP_INTERVAL", c.HealthSweepInterval},
		{"RETRY_SCAN_INTERVAL", c.RetryScanInterval},
		{"ALERT_EVAL_INTERVAL", c.AlertEvalInterval},
		{"FAILURE_RATE_WINDOW", c.FailureRateWindow},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}
	return nil
}
