package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/azmon-forwarder/internal/domain"
)

// PayloadField is the stream entry field carrying one trigger message.
const PayloadField = "payload"

const retryDelay = time.Second

// Source consumes trigger messages from a Redis Stream through a consumer group.
type Source struct {
	client    *redis.Client
	logger    *slog.Logger
	forwarder domain.BatchForwarder
	stream    string
	group     string
	consumer  string
	batchSize int
	block     time.Duration
}

// NewSource creates a new Redis Streams source and makes sure the consumer group exists.
func NewSource(ctx context.Context, client *redis.Client, forwarder domain.BatchForwarder, logger *slog.Logger, stream, group, consumer string, batchSize int, block time.Duration) (*Source, error) {
	s := &Source{
		client:    client,
		logger:    logger.With("component", "redis_source"),
		forwarder: forwarder,
		stream:    stream,
		group:     group,
		consumer:  consumer,
		batchSize: batchSize,
		block:     block,
	}

	if err := s.setupConsumerGroup(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Source) setupConsumerGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !isBusyGroupError(err) {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Publish appends a trigger message to the stream.
func (s *Source) Publish(ctx context.Context, message []byte) error {
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{PayloadField: message},
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to XADD to redis stream: %w", err)
	}
	return nil
}

// Run processes batches until ctx is cancelled. Read errors are logged and
// retried after a short pause.
func (s *Source) Run(ctx context.Context) error {
	s.logger.Info("starting redis source", "stream", s.stream, "group", s.group, "consumer", s.consumer)

	for {
		if ctx.Err() != nil {
			s.logger.Info("context cancelled, stopping redis source")
			return nil
		}

		if _, err := s.ProcessBatch(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			if isNetworkError(err) {
				s.logger.Warn("redis unavailable, retrying", "error", err)
			} else {
				s.logger.Error("failed to process batch", "error", err)
			}
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
			}
		}
	}
}

// ProcessBatch reads one batch from the consumer group, forwards it and
// acknowledges every entry read, including entries without a payload.
func (s *Source) ProcessBatch(ctx context.Context) (int, error) {
	args := &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, ">"},
		Count:    int64(s.batchSize),
		Block:    s.block,
	}

	streams, err := s.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to XREADGROUP from redis: %w", err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return 0, nil
	}

	payloads, ids := extractPayloads(streams[0].Messages, s.logger)
	if len(payloads) > 0 {
		s.forwarder.Forward(context.WithoutCancel(ctx), payloads)
	}

	if err := s.client.XAck(context.WithoutCancel(ctx), s.stream, s.group, ids...).Err(); err != nil {
		return len(payloads), fmt.Errorf("failed to XACK messages in redis: %w", err)
	}
	return len(payloads), nil
}

// extractPayloads returns the payloads of msgs and the ids of every entry.
func extractPayloads(msgs []redis.XMessage, logger *slog.Logger) ([][]byte, []string) {
	payloads := make([][]byte, 0, len(msgs))
	ids := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		ids = append(ids, msg.ID)
		payload, ok := msg.Values[PayloadField].(string)
		if !ok {
			logger.Warn("invalid message format in stream, skipping", "message_id", msg.ID)
			continue
		}
		payloads = append(payloads, []byte(payload))
	}
	return payloads, ids
}

func isBusyGroupError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed) || errors.Is(err, context.DeadlineExceeded)
}
