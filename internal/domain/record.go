package domain

import (
	"encoding/json"
	"sort"
	"strings"
)

// Well-known record fields.
const (
	FieldTime        = "time"
	FieldTimestamp   = "_timestamp"
	FieldCategory    = "category"
	FieldProperties  = "properties"
	FieldLog         = "log"
	FieldMetricName  = "metricName"
	FieldIngestionID = "ingestion_id"
)

// Destination keys produced by the router.
const (
	LogsKeyPrefix   = "logs_"
	DefaultCategory = "default"
	DefaultLogsKey  = LogsKeyPrefix + DefaultCategory
	MetricsKey      = "metrics"
)

// Record is one decoded telemetry event from an Azure Monitor export.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Message is the envelope Azure Monitor diagnostic settings write to Event Hubs.
type Message struct {
	Records []json.RawMessage `json:"records"`
}

// Groups maps a destination key to its records in arrival order.
type Groups map[string][]Record

// Keys returns the destination keys in sorted order.
func (g Groups) Keys() []string {
	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LogsKey returns the destination key for a log category.
func LogsKey(category string) string {
	if category == "" {
		return DefaultLogsKey
	}
	return LogsKeyPrefix + category
}

// IsLogsKey reports whether key names a log destination and returns its category.
func IsLogsKey(key string) (string, bool) {
	if !strings.HasPrefix(key, LogsKeyPrefix) {
		return "", false
	}
	return strings.TrimPrefix(key, LogsKeyPrefix), true
}
