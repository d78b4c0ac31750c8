package domain

import "time"

// Outcome is the terminal state of a single send call.
type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeRejected  Outcome = "rejected"  // 4xx, not retried
	OutcomeExhausted Outcome = "exhausted" // retryable failures used every attempt
	OutcomeCanceled  Outcome = "canceled"
	OutcomeEmpty     Outcome = "empty" // nothing to send, no request made
)

// SendResult describes how one send call settled.
type SendResult struct {
	Key         string
	Stream      string
	IngestionID string
	Records     int
	Attempts    int
	StatusCode  int
	Outcome     Outcome
	Duration    time.Duration
	Err         error
}

// BatchReport collects the settled results of one trigger invocation.
type BatchReport struct {
	Messages int
	Skipped  int
	Records  int
	Results  []SendResult
}

// Count returns the number of results with the given outcome.
func (b BatchReport) Count(o Outcome) int {
	n := 0
	for _, r := range b.Results {
		if r.Outcome == o {
			n++
		}
	}
	return n
}
