package mocks

import (
	"context"
	"sync"

	"github.com/V4T54L/azmon-forwarder/internal/domain"
)

// MockSender is a mock implementation of domain.Sender for testing.
type MockSender struct {
	mu       sync.Mutex
	Calls    map[string][][]domain.Record
	Outcomes map[string]domain.Outcome
}

func (m *MockSender) Send(ctx context.Context, key string, records []domain.Record) domain.SendResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Calls == nil {
		m.Calls = make(map[string][][]domain.Record)
	}
	m.Calls[key] = append(m.Calls[key], records)

	if len(records) == 0 {
		return domain.SendResult{Key: key, Outcome: domain.OutcomeEmpty}
	}
	outcome := domain.OutcomeSent
	if o, ok := m.Outcomes[key]; ok {
		outcome = o
	}
	return domain.SendResult{Key: key, Records: len(records), Attempts: 1, Outcome: outcome}
}

// TotalCalls returns the number of Send invocations across all keys.
func (m *MockSender) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		n += len(c)
	}
	return n
}

// MockForwarder is a mock implementation of domain.BatchForwarder for testing.
type MockForwarder struct {
	mu      sync.Mutex
	Batches [][][]byte
	Report  domain.BatchReport
}

func (m *MockForwarder) Forward(ctx context.Context, messages [][]byte) domain.BatchReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Batches = append(m.Batches, messages)
	report := m.Report
	report.Messages = len(messages)
	return report
}

// Forwarded returns all messages received so far, flattened.
func (m *MockForwarder) Forwarded() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [][]byte
	for _, b := range m.Batches {
		out = append(out, b...)
	}
	return out
}
