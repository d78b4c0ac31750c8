package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/V4T54L/azmon-forwarder/internal/domain"
)

// ErrInvalidEnvelope is returned when the invocation body cannot be used.
var ErrInvalidEnvelope = errors.New("invalid invocation envelope")

// InvocationRequest is the payload the Azure Functions host posts to a custom handler.
type InvocationRequest struct {
	Data     map[string]json.RawMessage `json:"Data"`
	Metadata map[string]json.RawMessage `json:"Metadata"`
}

// InvocationResponse is the payload a custom handler returns to the host.
type InvocationResponse struct {
	Outputs     map[string]any `json:"Outputs"`
	Logs        []string       `json:"Logs"`
	ReturnValue any            `json:"ReturnValue"`
}

// InvocationHandler handles Event Hub trigger invocations from the Functions host.
type InvocationHandler struct {
	forwarder   domain.BatchForwarder
	logger      *slog.Logger
	bindingName string
	maxBodySize int64
}

// NewInvocationHandler creates a new InvocationHandler.
func NewInvocationHandler(forwarder domain.BatchForwarder, logger *slog.Logger, bindingName string, maxBodySize int64) *InvocationHandler {
	return &InvocationHandler{
		forwarder:   forwarder,
		logger:      logger,
		bindingName: bindingName,
		maxBodySize: maxBodySize,
	}
}

// ServeHTTP forwards the triggering messages and reports completion once every
// send has settled. Send failures never fail the invocation.
func (h *InvocationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	messages, err := h.decodeMessages(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			http.Error(w, "Payload Too Large", http.StatusRequestEntityTooLarge)
			return
		}
		h.logger.Error("failed to decode invocation", "error", err)
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	}

	report := h.forwarder.Forward(r.Context(), messages)

	resp := InvocationResponse{
		Outputs: map[string]any{},
		Logs: []string{fmt.Sprintf(
			"all records processed: messages=%d skipped=%d records=%d sent=%d rejected=%d exhausted=%d canceled=%d",
			report.Messages, report.Skipped, report.Records,
			report.Count(domain.OutcomeSent), report.Count(domain.OutcomeRejected),
			report.Count(domain.OutcomeExhausted), report.Count(domain.OutcomeCanceled),
		)},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to write invocation response", "error", err)
	}
}

// decodeMessages extracts the trigger binding as a list of raw messages. Each
// element may be a JSON string (dataType "string") or an already decoded value.
func (h *InvocationHandler) decodeMessages(body io.Reader) ([][]byte, error) {
	var req InvocationRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}

	raw, ok := req.Data[h.bindingName]
	if !ok {
		return nil, fmt.Errorf("%w: binding %q not found", ErrInvalidEnvelope, h.bindingName)
	}

	raw = bytes.TrimSpace(raw)
	// The host may deliver the whole batch as one string holding a JSON array.
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
		}
		if unquoted := bytes.TrimSpace([]byte(s)); len(unquoted) > 0 && unquoted[0] == '[' {
			raw = unquoted
		}
	}

	var elements []json.RawMessage
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &elements); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
		}
	} else {
		elements = []json.RawMessage{raw}
	}

	messages := make([][]byte, 0, len(elements))
	for _, el := range elements {
		el = bytes.TrimSpace(el)
		if len(el) > 0 && el[0] == '"' {
			var s string
			if err := json.Unmarshal(el, &s); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
			}
			messages = append(messages, []byte(s))
			continue
		}
		messages = append(messages, el)
	}
	return messages, nil
}
