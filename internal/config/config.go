package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN          string `env:"DATABASE_DSN,required=true"`
	RedisURL             string `env:"REDIS_URL,required=true"`
	RabbitMQURL          string `env:"RABBITMQ_URL"`
	CompletionWebhookURL string `env:"COMPLETION_WEBHOOK_URL"`
	APIPort              int    `env:"API_PORT,default=8080"`
	StreamPort           int    `env:"STREAM_PORT,default=8081"`
	LogLevel             string `env:"LOG_LEVEL,default=info"`
	DBMaxOpenConns       int    `env:"DB_MAX_OPEN_CONNS,default=25"`
	DBMaxIdleConns       int    `env:"DB_MAX_IDLE_CONNS,default=5"`
	SubmitRatePerSec     int    `env:"SUBMIT_RATE_PER_SEC,default=20"`
	BatchSize            int    `env:"GENERATION_BATCH_SIZE,default=1000"`
	BatchPauseMs         int    `env:"GENERATION_BATCH_PAUSE_MS,default=10"`
	TaskRetentionSec     int    `env:"TASK_RETENTION_SEC,default=600"`
	TaskRetentionMax     int    `env:"TASK_RETENTION_MAX,default=1024"`
	PendingTaskTTLSec    int    `env:"PENDING_TASK_TTL_SEC,default=900"`
	PreviewTTLSec        int    `env:"PREVIEW_TTL_SEC,default=900"`
	ResultTTLSec         int    `env:"RESULT_TTL_SEC,default=3600"`
	SweepIntervalSec     int    `env:"SWEEP_INTERVAL_SEC,default=30"`
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
	if c.BatchSize < 1 {
		return fmt.Errorf("GENERATION_BATCH_SIZE must be positive (got %d)", c.BatchSize)
	}
	if c.BatchPauseMs < 0 {
		return fmt.Errorf("GENERATION_BATCH_PAUSE_MS must not be negative (got %d)", c.BatchPauseMs)
	}
	if c.APIPort == c.StreamPort {
		return fmt.Errorf("API_PORT and STREAM_PORT must differ (both %d)", c.APIPort)
	}
	return nil
}

func (c *Config) BatchPause() time.Duration {
	return time.Duration(c.BatchPauseMs) * time.Millisecond
}

func (c *Config) TaskRetention() time.Duration {
	return time.Duration(c.TaskRetentionSec) * time.Second
}

func (c *Config) PendingTaskTTL() time.Duration {
	return time.Duration(c.PendingTaskTTLSec) * time.Second
}

func (c *Config) PreviewTTL() time.Duration {
	return time.Duration(c.PreviewTTLSec) * time.Second
}

func (c *Config) ResultTTL() time.Duration {
	return time.Duration(c.ResultTTLSec) * time.Second
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSec) * time.Second
}
