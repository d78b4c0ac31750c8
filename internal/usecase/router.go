package usecase

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/V4T54L/azmon-forwarder/internal/adapter/metrics"
	"github.com/V4T54L/azmon-forwarder/internal/domain"
)

// Router classifies Azure Monitor records into log and metric destinations.
// It never mutates its input; every call returns a fresh record.
type Router struct {
	logger  *slog.Logger
	metrics *metrics.ForwarderMetrics
}

// NewRouter creates a new Router. m may be nil.
func NewRouter(logger *slog.Logger, m *metrics.ForwarderMetrics) *Router {
	return &Router{
		logger:  logger.With("component", "router"),
		metrics: m,
	}
}

// Classify returns the destination key for rec together with its normalized copy.
// Rules are evaluated in order and the first match wins:
//  1. properties.log is truthy: parse it as JSON when possible, route by category.
//  2. metricName is truthy: route to the metrics stream.
//  3. properties is truthy: parse it as JSON when possible, route by category.
//  4. anything else goes to the default log stream.
func (rt *Router) Classify(rec domain.Record) (string, domain.Record) {
	out := renameTimestamp(rec)
	props := out[domain.FieldProperties]

	if pm, ok := props.(map[string]any); ok && truthy(pm[domain.FieldLog]) {
		pm = cloneMap(pm)
		pm[domain.FieldLog] = parseJSONString(pm[domain.FieldLog])
		out[domain.FieldProperties] = pm
		return domain.LogsKey(category(out)), out
	}

	if truthy(out[domain.FieldMetricName]) {
		return domain.MetricsKey, out
	}

	if truthy(props) {
		out[domain.FieldProperties] = parseJSONString(props)
		rt.logger.Debug("log record with properties found", "category", category(out))
		return domain.LogsKey(category(out)), out
	}

	if rt.logger.Enabled(context.Background(), slog.LevelDebug) {
		raw, _ := json.Marshal(out)
		rt.logger.Debug("different type of record found", "record", string(raw))
	}
	return domain.DefaultLogsKey, out
}

// Route classifies records and groups them by destination key, keeping arrival order.
func (rt *Router) Route(records []domain.Record) domain.Groups {
	groups := make(domain.Groups)
	for _, rec := range records {
		key, normalized := rt.Classify(rec)
		groups[key] = append(groups[key], normalized)

		if rt.metrics != nil {
			kind := "logs"
			if key == domain.MetricsKey {
				kind = "metrics"
			}
			rt.metrics.RecordsTotal.WithLabelValues(kind).Inc()
		}
	}
	return groups
}

// renameTimestamp copies rec and moves time to _timestamp when time is present.
func renameTimestamp(rec domain.Record) domain.Record {
	out := rec.Clone()
	if v, ok := out[domain.FieldTime]; ok {
		out[domain.FieldTimestamp] = v
		delete(out, domain.FieldTime)
	}
	return out
}

func category(rec domain.Record) string {
	c, _ := rec[domain.FieldCategory].(string)
	return c
}

// parseJSONString decodes v when it is a string holding exactly one JSON value.
// Any other input, or a decode failure, returns v unchanged.
func parseJSONString(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}

	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var parsed any
	if err := dec.Decode(&parsed); err != nil {
		return v
	}
	if _, err := dec.Token(); err != io.EOF {
		return v
	}
	return parsed
}

// truthy follows JSON truthiness: null, false, 0 and "" are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := strconv.ParseFloat(string(t), 64)
		return err != nil || (f != 0 && !math.IsNaN(f))
	case float64:
		return t != 0 && !math.IsNaN(t)
	case int:
		return t != 0
	case int64:
		return t != 0
	default:
		return true
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
