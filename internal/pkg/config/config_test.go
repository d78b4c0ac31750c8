package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Setenv("OPENOBSERVE_ORG", "acme_123")
	t.Setenv("OPENOBSERVE_USERNAME", "ops@acme.io")
	t.Setenv("OPENOBSERVE_PASSWORD", "secret")
}

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		setRequired(t)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if cfg.APIEndpoint != "https://api.openobserve.ai/api/" {
			t.Errorf("unexpected endpoint: %s", cfg.APIEndpoint)
		}
		if cfg.LogStreamPrefix != "az_logs" || cfg.MetricStreamName != "az_metrics" {
			t.Errorf("unexpected stream names: %s, %s", cfg.LogStreamPrefix, cfg.MetricStreamName)
		}
		if cfg.SendMaxAttempts != 5 {
			t.Errorf("expected 5 attempts, got %d", cfg.SendMaxAttempts)
		}
		if cfg.SendInitialBackoff != time.Second {
			t.Errorf("expected 1s backoff, got %s", cfg.SendInitialBackoff)
		}
		if cfg.TriggerBindingName != "eventHubMessages" {
			t.Errorf("unexpected binding name: %s", cfg.TriggerBindingName)
		}
	})

	t.Run("Missing Credentials", func(t *testing.T) {
		t.Setenv("OPENOBSERVE_ORG", "acme_123")
		t.Setenv("OPENOBSERVE_USERNAME", "")
		t.Setenv("OPENOBSERVE_PASSWORD", "")

		if _, err := Load(); err == nil {
			t.Fatal("expected an error for missing credentials, got nil")
		}
	})

	t.Run("Kafka Brokers List", func(t *testing.T) {
		setRequired(t)
		t.Setenv("KAFKA_BROKERS", "ns1.servicebus.windows.net:9093,ns2.servicebus.windows.net:9093")
		t.Setenv("KAFKA_TOPIC", "insights-logs")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(cfg.KafkaBrokers) != 2 {
			t.Fatalf("expected 2 brokers, got %d", len(cfg.KafkaBrokers))
		}
		if err := cfg.ValidateSource(); err != nil {
			t.Errorf("expected kafka source to validate, got %v", err)
		}
	})

	t.Run("Invalid Attempts", func(t *testing.T) {
		setRequired(t)
		t.Setenv("SEND_MAX_ATTEMPTS", "0")

		if _, err := Load(); err == nil {
			t.Fatal("expected an error for zero attempts, got nil")
		}
	})

	t.Run("Unknown Source", func(t *testing.T) {
		setRequired(t)
		t.Setenv("TRIGGER_SOURCE", "sqs")

		if _, err := Load(); err == nil {
			t.Fatal("expected an error for unknown source, got nil")
		}
	})
}

func TestValidateSource(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"kafka without brokers", Config{TriggerSource: SourceKafka, KafkaTopic: "t"}, true},
		{"kafka without topic", Config{TriggerSource: SourceKafka, KafkaBrokers: []string{"b:9093"}}, true},
		{"redis without url", Config{TriggerSource: SourceRedis}, true},
		{"redis with url", Config{TriggerSource: SourceRedis, RedisURL: "redis://localhost:6379/0"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.ValidateSource()
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSource() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
