package domain

import "context"

// Sender delivers a group of records to one ingestion stream.
// Send never fails to the caller; the outcome is reported in the result.
type Sender interface {
	Send(ctx context.Context, key string, records []Record) SendResult
}

// BatchForwarder routes and sends a batch of raw trigger messages.
type BatchForwarder interface {
	Forward(ctx context.Context, messages [][]byte) BatchReport
}
