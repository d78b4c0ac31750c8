package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"

	"github.com/V4T54L/azmon-forwarder/internal/domain"
	"github.com/V4T54L/azmon-forwarder/internal/pkg/config"
)

const commitTimeout = 10 * time.Second

// Reader is the subset of *kafka.Reader the source needs.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewReader creates a consumer-group reader for an Event Hubs Kafka endpoint.
// Event Hubs expects SASL PLAIN with "$ConnectionString" as the user name.
func NewReader(cfg *config.Config) *kafka.Reader {
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	if cfg.KafkaPassword != "" {
		dialer.SASLMechanism = plain.Mechanism{
			Username: cfg.KafkaUsername,
			Password: cfg.KafkaPassword,
		}
	}
	if cfg.KafkaTLS {
		dialer.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  cfg.KafkaGroupID,
		Topic:    cfg.KafkaTopic,
		Dialer:   dialer,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// Source feeds Event Hub messages read over the Kafka protocol to a forwarder,
// committing offsets once a batch has settled.
type Source struct {
	reader    Reader
	forwarder domain.BatchForwarder
	logger    *slog.Logger
	batchSize int
	batchWait time.Duration
}

// NewSource creates a new Kafka source.
func NewSource(reader Reader, forwarder domain.BatchForwarder, logger *slog.Logger, batchSize int, batchWait time.Duration) *Source {
	return &Source{
		reader:    reader,
		forwarder: forwarder,
		logger:    logger.With("component", "kafka_source"),
		batchSize: batchSize,
		batchWait: batchWait,
	}
}

// Run consumes until ctx is cancelled. A batch that is already fetched is
// forwarded and committed before Run returns.
func (s *Source) Run(ctx context.Context) error {
	s.logger.Info("starting kafka source", "batch_size", s.batchSize, "batch_wait", s.batchWait.String())

	for {
		batch, err := s.fetchBatch(ctx)
		if len(batch) > 0 {
			s.process(ctx, batch)
		}
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("context cancelled, stopping kafka source")
				return nil
			}
			return err
		}
	}
}

// fetchBatch blocks for the first message, then collects more until the batch
// is full or the batch window elapses.
func (s *Source) fetchBatch(ctx context.Context) ([]kafka.Message, error) {
	first, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	batch := []kafka.Message{first}

	waitCtx, cancel := context.WithTimeout(ctx, s.batchWait)
	defer cancel()

	for len(batch) < s.batchSize {
		msg, err := s.reader.FetchMessage(waitCtx)
		if err != nil {
			if ctx.Err() != nil {
				return batch, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return batch, nil
			}
			return batch, err
		}
		batch = append(batch, msg)
	}
	return batch, nil
}

func (s *Source) process(ctx context.Context, batch []kafka.Message) {
	payloads := make([][]byte, len(batch))
	for i, msg := range batch {
		payloads[i] = msg.Value
	}

	// In-flight sends finish even when shutdown has begun.
	report := s.forwarder.Forward(context.WithoutCancel(ctx), payloads)

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	if err := s.reader.CommitMessages(commitCtx, batch...); err != nil {
		s.logger.Error("failed to commit offsets, batch will be redelivered", "count", len(batch), "error", err)
		return
	}

	last := batch[len(batch)-1]
	s.logger.Debug("committed batch",
		"count", len(batch),
		"partition", last.Partition,
		"offset", last.Offset,
		"sends", len(report.Results),
	)
}
