package main

import (
	"errors"
	"fmt"
	"github.com/united-manufacturing-hub/data-collector/cmd/data-collector/amqp"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"time"
)

type BrokerConfig struct {
	Host     string
	Port     int
	User     string
	Password string
}

func (b BrokerConfig) URL() string {
	return amqp.BrokerURL(b.Host, b.Port, b.User, b.Password)
}

type Config struct {
	LoggingLevel string

	DataMQ     BrokerConfig
	ServicesMQ BrokerConfig

	DataQueue            string
	CollectedDataQueue   string
	ValidationErrorQueue string

	RedisURL string
	DryRun   bool

	ConnectAttempts   int
	ConnectRetryDelay time.Duration

	HTTPPort        int
	MetricsPort     int
	HealthcheckPort int
}

// LoadConfig reads the environment. Every failing variable is reported, not only the first one.
func LoadConfig() (Config, error) {
	var cfg Config
	var errs []error
	str := func(key string, fallback string) string {
		v, err := env.GetAsString(key, false, fallback)
		errs = append(errs, err)
		return v
	}
	num := func(key string, fallback int) int {
		v, err := env.GetAsInt(key, false, fallback)
		errs = append(errs, err)
		return v
	}

	cfg.LoggingLevel = str("LOGGING_LEVEL", "PRODUCTION")
	cfg.DataMQ = BrokerConfig{
		Host:     str("DATA_MQ_HOST", "data-mq"),
		Port:     num("DATA_MQ_PORT", 5672),
		User:     str("DATA_MQ_USER", "user"),
		Password: str("DATA_MQ_PASS", "password"),
	}
	cfg.ServicesMQ = BrokerConfig{
		Host:     str("SERVICES_MQ_HOST", "services-mq"),
		Port:     num("SERVICES_MQ_PORT", 5672),
		User:     str("SERVICES_MQ_USER", "user"),
		Password: str("SERVICES_MQ_PASS", "password"),
	}
	cfg.DataQueue = str("DATA_QUEUE", "data_queue")
	cfg.CollectedDataQueue = str("COLLECTED_DATA_QUEUE", "collected_data")
	cfg.ValidationErrorQueue = str("VALIDATION_ERROR_QUEUE", "validation_errors")
	cfg.RedisURL = str("REDIS_URL", "redis://redis:6379")

	dryRun, err := env.GetAsBool("DRY_RUN", false, false)
	errs = append(errs, err)
	cfg.DryRun = dryRun

	cfg.ConnectAttempts = num("CONNECT_ATTEMPTS", 10)
	cfg.ConnectRetryDelay = time.Duration(num("CONNECT_RETRY_DELAY_SECONDS", 5)) * time.Second
	cfg.HTTPPort = num("HTTP_PORT", 8080)
	cfg.MetricsPort = num("METRICS_PORT", 2112)
	cfg.HealthcheckPort = num("HEALTHCHECK_PORT", 8086)

	if err = errors.Join(errs...); err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.ConnectAttempts < 1 {
		return fmt.Errorf("CONNECT_ATTEMPTS must be at least 1, got %d", c.ConnectAttempts)
	}
	if c.ConnectRetryDelay < 0 {
		return fmt.Errorf("CONNECT_RETRY_DELAY_SECONDS must not be negative")
	}
	queues := map[string]string{
		"DATA_QUEUE":             c.DataQueue,
		"COLLECTED_DATA_QUEUE":   c.CollectedDataQueue,
		"VALIDATION_ERROR_QUEUE": c.ValidationErrorQueue,
	}
	for key, queue := range queues {
		if queue == "" {
			return fmt.Errorf("%s must not be empty", key)
		}
	}
	if c.DataQueue == c.CollectedDataQueue || c.DataQueue == c.ValidationErrorQueue {
		return fmt.Errorf("DATA_QUEUE %s must differ from the outbound queues", c.DataQueue)
	}
	return nil
}
