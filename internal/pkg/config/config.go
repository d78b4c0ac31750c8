package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Trigger sources understood by the standalone consumer.
const (
	SourceKafka = "kafka"
	SourceRedis = "redis"
)

// Config holds all application configuration.
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// OpenObserve ingestion API
	APIEndpoint      string `env:"OPENOBSERVE_ENDPOINT" envDefault:"https://api.openobserve.ai/api/"`
	Organization     string `env:"OPENOBSERVE_ORG,required,notEmpty"`
	Username         string `env:"OPENOBSERVE_USERNAME,required,notEmpty"`
	Password         string `env:"OPENOBSERVE_PASSWORD,required,notEmpty"`
	LogStreamPrefix  string `env:"LOG_STREAM_PREFIX" envDefault:"az_logs"`
	MetricStreamName string `env:"METRIC_STREAM_NAME" envDefault:"az_metrics"`

	SendMaxAttempts    int           `env:"SEND_MAX_ATTEMPTS" envDefault:"5"`
	SendInitialBackoff time.Duration `env:"SEND_INITIAL_BACKOFF" envDefault:"1s"`
	SendTimeout        time.Duration `env:"SEND_TIMEOUT" envDefault:"30s"`
	SendRateLimit      float64       `env:"SEND_RATE_LIMIT" envDefault:"0"` // requests per second, 0 disables
	SendCompression    bool          `env:"SEND_COMPRESSION" envDefault:"false"`
	MaxConcurrentSends int           `env:"MAX_CONCURRENT_SENDS" envDefault:"0"`

	// Azure Functions custom handler
	FunctionsPort      string `env:"FUNCTIONS_CUSTOMHANDLER_PORT" envDefault:"8080"`
	FunctionName       string `env:"FUNCTION_NAME" envDefault:"EventHubTrigger"`
	TriggerBindingName string `env:"TRIGGER_BINDING_NAME" envDefault:"eventHubMessages"`
	MaxInvocationSize  int64  `env:"MAX_INVOCATION_SIZE_BYTES" envDefault:"104857600"` // 100MB
	MetricsAddr        string `env:"METRICS_ADDR" envDefault:":9091"`

	// Standalone consumer
	TriggerSource     string        `env:"TRIGGER_SOURCE" envDefault:"kafka"`
	ConsumerBatchSize int           `env:"CONSUMER_BATCH_SIZE" envDefault:"100"`
	ConsumerBatchWait time.Duration `env:"CONSUMER_BATCH_WAIT" envDefault:"1s"`

	KafkaBrokers  []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic    string   `env:"KAFKA_TOPIC"`
	KafkaGroupID  string   `env:"KAFKA_GROUP_ID" envDefault:"$Default"`
	KafkaUsername string   `env:"KAFKA_USERNAME" envDefault:"$ConnectionString"`
	KafkaPassword string   `env:"KAFKA_PASSWORD"`
	KafkaTLS      bool     `env:"KAFKA_TLS" envDefault:"true"`

	RedisURL    string `env:"REDIS_URL"`
	RedisStream string `env:"REDIS_STREAM" envDefault:"azmon_messages"`
	RedisGroup  string `env:"REDIS_GROUP" envDefault:"forwarders"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values env.Parse cannot express with tags.
func (c *Config) Validate() error {
	if c.SendMaxAttempts < 1 {
		return errors.New("SEND_MAX_ATTEMPTS must be at least 1")
	}
	if c.SendInitialBackoff < 0 {
		return errors.New("SEND_INITIAL_BACKOFF must not be negative")
	}
	if c.SendRateLimit < 0 {
		return errors.New("SEND_RATE_LIMIT must not be negative")
	}
	if c.ConsumerBatchSize < 1 {
		return errors.New("CONSUMER_BATCH_SIZE must be at least 1")
	}
	switch c.TriggerSource {
	case SourceKafka, SourceRedis:
	default:
		return fmt.Errorf("unknown TRIGGER_SOURCE %q", c.TriggerSource)
	}
	return nil
}

// ValidateSource checks the settings required by the selected consumer source.
func (c *Config) ValidateSource() error {
	switch c.TriggerSource {
	case SourceKafka:
		if len(c.KafkaBrokers) == 0 || c.KafkaTopic == "" {
			return errors.New("KAFKA_BROKERS and KAFKA_TOPIC are required for the kafka source")
		}
	case SourceRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required for the redis source")
		}
	}
	return nil
}
