package usecase

import (
	"encoding/json"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/V4T54L/azmon-forwarder/internal/adapter/metrics"
	"github.com/V4T54L/azmon-forwarder/internal/domain"
)

func newTestRouter() *Router {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewRouter(logger, nil)
}

func TestRouter_Classify(t *testing.T) {
	router := newTestRouter()

	tests := []struct {
		name        string
		input       domain.Record
		expectedKey string
		expected    domain.Record
	}{
		{
			name:        "Metric record precedes properties rule",
			input:       domain.Record{"time": "T1", "category": "app", "metricName": "cpu"},
			expectedKey: domain.MetricsKey,
			expected:    domain.Record{"_timestamp": "T1", "category": "app", "metricName": "cpu"},
		},
		{
			name:        "AKS log without category",
			input:       domain.Record{"time": "T2", "properties": map[string]any{"log": `{"a":1}`}},
			expectedKey: "logs_default",
			expected: domain.Record{
				"_timestamp": "T2",
				"properties": map[string]any{"log": map[string]any{"a": json.Number("1")}},
			},
		},
		{
			name:        "AKS log with category",
			input:       domain.Record{"time": "T3", "category": "kube-audit", "properties": map[string]any{"log": `{"verb":"get"}`, "pod": "api-0"}},
			expectedKey: "logs_kube-audit",
			expected: domain.Record{
				"_timestamp": "T3",
				"category":   "kube-audit",
				"properties": map[string]any{"log": map[string]any{"verb": "get"}, "pod": "api-0"},
			},
		},
		{
			name:        "AKS log that is not JSON stays a string",
			input:       domain.Record{"time": "T4", "category": "kube-apiserver", "properties": map[string]any{"log": "I0101 starting server"}},
			expectedKey: "logs_kube-apiserver",
			expected: domain.Record{
				"_timestamp": "T4",
				"category":   "kube-apiserver",
				"properties": map[string]any{"log": "I0101 starting server"},
			},
		},
		{
			name:        "Log field wins over metricName",
			input:       domain.Record{"category": "app", "metricName": "cpu", "properties": map[string]any{"log": "plain"}},
			expectedKey: "logs_app",
			expected:    domain.Record{"category": "app", "metricName": "cpu", "properties": map[string]any{"log": "plain"}},
		},
		{
			name:        "Empty log field falls through to metric rule",
			input:       domain.Record{"metricName": "mem", "properties": map[string]any{"log": ""}},
			expectedKey: domain.MetricsKey,
			expected:    domain.Record{"metricName": "mem", "properties": map[string]any{"log": ""}},
		},
		{
			name:        "Stringified properties are parsed",
			input:       domain.Record{"time": "T5", "category": "AppTraces", "properties": `{"severity":2,"message":"ok"}`},
			expectedKey: "logs_AppTraces",
			expected: domain.Record{
				"_timestamp": "T5",
				"category":   "AppTraces",
				"properties": map[string]any{"severity": json.Number("2"), "message": "ok"},
			},
		},
		{
			name:        "Unparseable properties stay a string",
			input:       domain.Record{"category": "AppTraces", "properties": `{"severity":`},
			expectedKey: "logs_AppTraces",
			expected:    domain.Record{"category": "AppTraces", "properties": `{"severity":`},
		},
		{
			name:        "Trailing garbage is not valid JSON",
			input:       domain.Record{"category": "AppTraces", "properties": `{"a":1} tail`},
			expectedKey: "logs_AppTraces",
			expected:    domain.Record{"category": "AppTraces", "properties": `{"a":1} tail`},
		},
		{
			name:        "Properties map without log is kept as is",
			input:       domain.Record{"category": "Administrative", "properties": map[string]any{"statusCode": "OK"}},
			expectedKey: "logs_Administrative",
			expected:    domain.Record{"category": "Administrative", "properties": map[string]any{"statusCode": "OK"}},
		},
		{
			name:        "Unclassified record ignores category",
			input:       domain.Record{"time": "T6", "category": "Audit", "operationName": "write"},
			expectedKey: "logs_default",
			expected:    domain.Record{"_timestamp": "T6", "category": "Audit", "operationName": "write"},
		},
		{
			name:        "Non-string category falls back to default",
			input:       domain.Record{"category": json.Number("7"), "properties": "text"},
			expectedKey: "logs_default",
			expected:    domain.Record{"category": json.Number("7"), "properties": "text"},
		},
		{
			name:        "Missing time leaves existing timestamp",
			input:       domain.Record{"_timestamp": "T7", "metricName": "cpu"},
			expectedKey: domain.MetricsKey,
			expected:    domain.Record{"_timestamp": "T7", "metricName": "cpu"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, got := router.Classify(tt.input)

			if key != tt.expectedKey {
				t.Errorf("Classify() key = %q, want %q", key, tt.expectedKey)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Classify() record = %#v, want %#v", got, tt.expected)
			}
			if _, ok := got["time"]; ok {
				t.Error("expected time key to be removed")
			}
		})
	}
}

func TestRouter_ClassifyDoesNotMutateInput(t *testing.T) {
	router := newTestRouter()
	props := map[string]any{"log": `{"a":1}`}
	input := domain.Record{"time": "T1", "category": "app", "properties": props}

	_, got := router.Classify(input)

	if input["time"] != "T1" {
		t.Error("expected input time to be untouched")
	}
	if _, ok := input["_timestamp"]; ok {
		t.Error("expected input to have no _timestamp")
	}
	if props["log"] != `{"a":1}` {
		t.Errorf("expected input properties.log to stay a string, got %#v", props["log"])
	}
	if _, ok := got["properties"].(map[string]any)["log"].(map[string]any); !ok {
		t.Error("expected output properties.log to be parsed")
	}
}

func TestRouter_ClassifyIsIdempotent(t *testing.T) {
	router := newTestRouter()
	input := domain.Record{"time": "T1", "category": "app", "properties": map[string]any{"log": `{"a":1}`}}

	firstKey, first := router.Classify(input)
	secondKey, second := router.Classify(first)

	if firstKey != secondKey {
		t.Errorf("expected same key, got %q and %q", firstKey, secondKey)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("expected reclassification to be a no-op: %#v vs %#v", first, second)
	}
	if second["_timestamp"] != "T1" {
		t.Errorf("expected _timestamp to survive, got %v", second["_timestamp"])
	}
}

func TestRouter_Route(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.NewForwarderMetrics(prometheus.NewRegistry())
	router := NewRouter(logger, m)

	records := []domain.Record{
		{"time": "1", "category": "app", "properties": map[string]any{"log": "a"}},
		{"time": "2", "metricName": "cpu"},
		{"time": "3", "category": "app", "properties": map[string]any{"log": "b"}},
		{"time": "4"},
		{"time": "5", "metricName": "mem"},
	}

	groups := router.Route(records)

	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}
	if len(groups["logs_app"]) != 2 || groups["logs_app"][0]["_timestamp"] != "1" || groups["logs_app"][1]["_timestamp"] != "3" {
		t.Errorf("unexpected logs_app group: %#v", groups["logs_app"])
	}
	if len(groups[domain.MetricsKey]) != 2 {
		t.Errorf("expected 2 metric records, got %d", len(groups[domain.MetricsKey]))
	}
	if len(groups[domain.DefaultLogsKey]) != 1 {
		t.Errorf("expected 1 default record, got %d", len(groups[domain.DefaultLogsKey]))
	}

	total := 0
	for _, g := range groups {
		total += len(g)
	}
	if total != len(records) {
		t.Errorf("expected every record to be routed, got %d of %d", total, len(records))
	}
	if got := testutil.ToFloat64(m.RecordsTotal.WithLabelValues("metrics")); got != 2 {
		t.Errorf("expected 2 metric records counted, got %v", got)
	}
	if got := testutil.ToFloat64(m.RecordsTotal.WithLabelValues("logs")); got != 3 {
		t.Errorf("expected 3 log records counted, got %v", got)
	}
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		value any
		want  bool
	}{
		{nil, false},
		{false, false},
		{true, true},
		{"", false},
		{"x", true},
		{json.Number("0"), false},
		{json.Number("0.0"), false},
		{json.Number("3"), true},
		{float64(0), false},
		{map[string]any{}, true},
		{[]any{}, true},
	}

	for _, tt := range tests {
		if got := truthy(tt.value); got != tt.want {
			t.Errorf("truthy(%#v) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
