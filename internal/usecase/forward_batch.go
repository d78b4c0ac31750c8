package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/V4T54L/azmon-forwarder/internal/adapter/metrics"
	"github.com/V4T54L/azmon-forwarder/internal/domain"
)

// ErrMalformedMessage is returned when a trigger message is not a records envelope.
var ErrMalformedMessage = errors.New("malformed trigger message")

// ForwardBatchUseCase orchestrates parsing trigger messages, routing their
// records and sending every resulting group to the ingestion API.
type ForwardBatchUseCase struct {
	router             *Router
	sender             domain.Sender
	logger             *slog.Logger
	metrics            *metrics.ForwarderMetrics
	maxConcurrentSends int
}

// NewForwardBatchUseCase creates a new use case for forwarding trigger batches.
// maxConcurrentSends <= 0 means no limit.
func NewForwardBatchUseCase(router *Router, sender domain.Sender, logger *slog.Logger, m *metrics.ForwarderMetrics, maxConcurrentSends int) *ForwardBatchUseCase {
	return &ForwardBatchUseCase{
		router:             router,
		sender:             sender,
		logger:             logger,
		metrics:            m,
		maxConcurrentSends: maxConcurrentSends,
	}
}

type sendJob struct {
	key     string
	records []domain.Record
}

// Forward processes one trigger batch. Records are grouped per message and every
// group is sent concurrently. Forward returns once every send has settled; send
// failures are reported in the returned BatchReport, never as an error.
func (uc *ForwardBatchUseCase) Forward(ctx context.Context, messages [][]byte) domain.BatchReport {
	start := time.Now()
	report := domain.BatchReport{Messages: len(messages)}

	var jobs []sendJob
	for i, msg := range messages {
		records, err := uc.decodeMessage(msg)
		if err != nil {
			uc.logger.Warn("skipping malformed message", "index", i, "error", err)
			report.Skipped++
			uc.countMessage("malformed")
			continue
		}
		uc.countMessage("parsed")
		report.Records += len(records)

		groups := uc.router.Route(records)
		for _, key := range groups.Keys() {
			jobs = append(jobs, sendJob{key: key, records: groups[key]})
		}
	}

	results := make([]domain.SendResult, len(jobs))
	var g errgroup.Group
	if uc.maxConcurrentSends > 0 {
		g.SetLimit(uc.maxConcurrentSends)
	}
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			results[i] = uc.sender.Send(ctx, job.key, job.records)
			return nil
		})
	}
	_ = g.Wait()
	report.Results = results

	uc.logger.Info("all records processed",
		"messages", report.Messages,
		"skipped_messages", report.Skipped,
		"records", report.Records,
		"sends", len(results),
		"sent", report.Count(domain.OutcomeSent),
		"rejected", report.Count(domain.OutcomeRejected),
		"exhausted", report.Count(domain.OutcomeExhausted),
		"canceled", report.Count(domain.OutcomeCanceled),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return report
}

// decodeMessage parses a {"records":[...]} envelope. Records that are not JSON
// objects are dropped with a warning.
func (uc *ForwardBatchUseCase) decodeMessage(msg []byte) ([]domain.Record, error) {
	var envelope domain.Message
	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.UseNumber()
	if err := dec.Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if envelope.Records == nil {
		return nil, fmt.Errorf("%w: missing records array", ErrMalformedMessage)
	}

	records := make([]domain.Record, 0, len(envelope.Records))
	for i, raw := range envelope.Records {
		var rec domain.Record
		rdec := json.NewDecoder(bytes.NewReader(raw))
		rdec.UseNumber()
		if err := rdec.Decode(&rec); err != nil || rec == nil {
			uc.logger.Warn("skipping record that is not a JSON object", "index", i, "error", err)
			if uc.metrics != nil {
				uc.metrics.RecordsTotal.WithLabelValues("skipped").Inc()
			}
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (uc *ForwardBatchUseCase) countMessage(status string) {
	if uc.metrics != nil {
		uc.metrics.MessagesTotal.WithLabelValues(status).Inc()
	}
}
