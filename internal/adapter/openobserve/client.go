package openobserve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/time/rate"

	"github.com/V4T54L/azmon-forwarder/internal/adapter/metrics"
	"github.com/V4T54L/azmon-forwarder/internal/domain"
	"github.com/V4T54L/azmon-forwarder/internal/pkg/config"
)

// Options configures the ingestion client.
type Options struct {
	Endpoint         string
	Organization     string
	Username         string
	Password         string
	LogStreamPrefix  string
	MetricStreamName string

	MaxAttempts    int
	InitialBackoff time.Duration
	Timeout        time.Duration
	RateLimit      float64 // requests per second, 0 disables
	Compress       bool
}

// OptionsFromConfig builds client options from the application config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Endpoint:         cfg.APIEndpoint,
		Organization:     cfg.Organization,
		Username:         cfg.Username,
		Password:         cfg.Password,
		LogStreamPrefix:  cfg.LogStreamPrefix,
		MetricStreamName: cfg.MetricStreamName,
		MaxAttempts:      cfg.SendMaxAttempts,
		InitialBackoff:   cfg.SendInitialBackoff,
		Timeout:          cfg.SendTimeout,
		RateLimit:        cfg.SendRateLimit,
		Compress:         cfg.SendCompression,
	}
}

// StatusError is returned for a non-2xx response from the ingestion API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("openobserve returned status %d: %s", e.Code, e.Body)
}

// Client sends record groups to the OpenObserve JSON ingestion API.
// It implements domain.Sender.
type Client struct {
	opts       Options
	base       *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	metrics    *metrics.ForwarderMetrics

	wait  func(ctx context.Context, d time.Duration) error
	newID func() string
}

// NewClient creates a new ingestion client. m may be nil.
func NewClient(opts Options, logger *slog.Logger, m *metrics.ForwarderMetrics) (*Client, error) {
	base, err := url.Parse(opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid ingestion endpoint %q: %w", opts.Endpoint, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid ingestion endpoint %q: scheme and host are required", opts.Endpoint)
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), max(1, int(opts.RateLimit)))
	}

	return &Client{
		opts:       opts,
		base:       base,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
			// 3xx responses go through the retry policy like any other non-2xx.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		limiter:    limiter,
		logger:     logger.With("component", "openobserve_client"),
		metrics:    m,
		wait:       sleepContext,
		newID:      uuid.NewString,
	}, nil
}

// StreamFor maps a destination key to its OpenObserve stream name.
func (c *Client) StreamFor(key string) string {
	if key == domain.MetricsKey {
		return c.opts.MetricStreamName
	}
	if category, ok := domain.IsLogsKey(key); ok {
		return c.opts.LogStreamPrefix + "_" + category
	}
	return c.opts.LogStreamPrefix + "_" + key
}

// IngestURL returns <endpoint>/<org>/<stream>/_json?ingestion_id=<id>.
func (c *Client) IngestURL(stream, ingestionID string) string {
	u := c.base.JoinPath(c.opts.Organization, stream, "_json")
	q := url.Values{}
	q.Set("ingestion_id", ingestionID)
	u.RawQuery = q.Encode()
	return u.String()
}

// Send posts records to the stream for key, retrying transient failures with
// exponential backoff. One ingestion id is generated per call and reused for
// every attempt. Send never returns an error; the outcome is in the result.
func (c *Client) Send(ctx context.Context, key string, records []domain.Record) domain.SendResult {
	stream := c.StreamFor(key)
	result := domain.SendResult{Key: key, Stream: stream, Records: len(records)}
	if len(records) == 0 {
		result.Outcome = domain.OutcomeEmpty
		return result
	}

	start := time.Now()
	id := c.newID()
	result.IngestionID = id
	log := c.logger.With("stream", stream, "ingestion_id", id, "record_count", len(records))

	body, err := c.encode(withIngestionID(records, id))
	if err != nil {
		log.Error("failed to encode records", "error", err)
		result.Outcome = domain.OutcomeRejected
		result.Err = err
		return c.finish(result, start)
	}

	target := c.IngestURL(stream, id)
	log.Info("sending records", "url", target)

	delay := c.opts.InitialBackoff
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		result.Attempts = attempt

		if err := c.limiter.Wait(ctx); err != nil {
			result.Outcome = domain.OutcomeCanceled
			result.Err = err
			return c.finish(result, start)
		}

		attemptStart := time.Now()
		status, err := c.post(ctx, target, body)
		elapsed := time.Since(attemptStart)
		if c.metrics != nil {
			c.metrics.SendAttempts.Inc()
		}
		result.StatusCode = status

		if err == nil {
			log.Info("records sent successfully", "attempt", attempt, "status", status, "duration_ms", elapsed.Milliseconds())
			result.Outcome = domain.OutcomeSent
			result.Err = nil
			return c.finish(result, start)
		}

		result.Err = err
		log.Warn("send attempt failed", "attempt", attempt, "status", status, "duration_ms", elapsed.Milliseconds(), "error", err)

		if status >= 400 && status < 500 {
			log.Warn("not retrying because received 4xx error", "status", status)
			result.Outcome = domain.OutcomeRejected
			return c.finish(result, start)
		}
		if ctx.Err() != nil {
			result.Outcome = domain.OutcomeCanceled
			return c.finish(result, start)
		}
		if attempt == c.opts.MaxAttempts {
			log.Error("max retries reached, giving up", "attempts", attempt)
			break
		}

		log.Info("retrying after delay", "delay_ms", delay.Milliseconds())
		if err := c.wait(ctx, delay); err != nil {
			result.Outcome = domain.OutcomeCanceled
			result.Err = err
			return c.finish(result, start)
		}
		delay *= 2
	}

	result.Outcome = domain.OutcomeExhausted
	return c.finish(result, start)
}

func (c *Client) post(ctx context.Context, target string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.Compress {
		req.Header.Set("Content-Encoding", "gzip")
	}
	req.SetBasicAuth(c.opts.Username, c.opts.Password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, &StatusError{Code: resp.StatusCode, Body: string(responseBody)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (c *Client) encode(records []domain.Record) ([]byte, error) {
	payload, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal records: %w", err)
	}
	if !c.opts.Compress {
		return payload, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return nil, fmt.Errorf("failed to compress records: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress records: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *Client) finish(result domain.SendResult, start time.Time) domain.SendResult {
	result.Duration = time.Since(start)
	if c.metrics != nil {
		c.metrics.SendsTotal.WithLabelValues(string(result.Outcome)).Inc()
		c.metrics.SendDuration.WithLabelValues(string(result.Outcome)).Observe(result.Duration.Seconds())
	}
	return result
}

// withIngestionID returns copies of records stamped with id.
func withIngestionID(records []domain.Record, id string) []domain.Record {
	out := make([]domain.Record, len(records))
	for i, rec := range records {
		stamped := rec.Clone()
		stamped[domain.FieldIngestionID] = id
		out[i] = stamped
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
