package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/V4T54L/azmon-forwarder/internal/domain/mocks"
)

type fakeReader struct {
	queue chan kafka.Message

	mu        sync.Mutex
	committed []kafka.Message
	commitErr error
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case msg := <-r.queue:
		return msg, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commitErr != nil {
		return r.commitErr
	}
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) committedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

func TestSource_Run(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("Batches And Commits", func(t *testing.T) {
		reader := &fakeReader{queue: make(chan kafka.Message, 10)}
		for i := 0; i < 3; i++ {
			reader.queue <- kafka.Message{Offset: int64(i), Value: []byte(`{"records":[]}`)}
		}
		forwarder := &mocks.MockForwarder{}
		source := NewSource(reader, forwarder, logger, 2, 20*time.Millisecond)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error)
		go func() { done <- source.Run(ctx) }()

		deadline := time.Now().Add(2 * time.Second)
		for reader.committedCount() < 3 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()

		if err := <-done; err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if reader.committedCount() != 3 {
			t.Fatalf("expected 3 committed messages, got %d", reader.committedCount())
		}
		if len(forwarder.Batches) != 2 || len(forwarder.Batches[0]) != 2 || len(forwarder.Batches[1]) != 1 {
			t.Errorf("unexpected batches: %d", len(forwarder.Batches))
		}
	})

	t.Run("Commit Failure Keeps Consuming", func(t *testing.T) {
		reader := &fakeReader{queue: make(chan kafka.Message, 10), commitErr: errors.New("coordinator moved")}
		reader.queue <- kafka.Message{Value: []byte(`{"records":[]}`)}
		forwarder := &mocks.MockForwarder{}
		source := NewSource(reader, forwarder, logger, 10, 10*time.Millisecond)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error)
		go func() { done <- source.Run(ctx) }()

		deadline := time.Now().Add(2 * time.Second)
		for len(forwarder.Forwarded()) < 1 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()

		if err := <-done; err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(forwarder.Forwarded()) != 1 {
			t.Errorf("expected 1 forwarded message, got %d", len(forwarder.Forwarded()))
		}
	})
}
