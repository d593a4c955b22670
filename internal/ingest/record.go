// Package ingest implements the streaming ingestion pipeline: the queue
// consumer, record validation, the channel pool with its flush policy, and
// the orchestrator's retry and session-refresh state machine.
package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Queue provenance fields attached to every record at consume time.
const (
	FieldKafkaTopic     = "_kafka_topic"
	FieldKafkaPartition = "_kafka_partition"
	FieldKafkaOffset    = "_kafka_offset"
	FieldKafkaTimestamp = "_kafka_timestamp"
)

// Canonical field names used by validation and row formatting. Upstream
// producers send a mix of legacy lowercase and vendor PascalCase names;
// canonicalization collapses both onto these.
const (
	fieldVehicleRef     = "vehicleref"
	fieldLineRef        = "lineref"
	fieldRecordedAtTime = "recordedattime"
	fieldLatitude       = "vehiclelocationlatitude"
	fieldLongitude      = "vehiclelocationlongitude"
	fieldUUID           = "uuid"
	fieldTS             = "ts"
	fieldDate           = "date"
)

// Record is one normalized vehicle-position record: a field map whose keys
// have been canonicalized to lowercase exactly once, immediately after
// decode, so every downstream component works with a single naming
// convention.
type Record map[string]any

// Canonicalize lowercases every key of a decoded JSON object. When a producer
// sends both spellings of a field, a non-empty value wins over an empty one
// so canonicalization never discards data.
func Canonicalize(raw map[string]any) Record {
	record := make(Record, len(raw))

	for key, value := range raw {
		canonical := strings.ToLower(key)

		if existing, ok := record[canonical]; ok && isEmptyValue(value) && !isEmptyValue(existing) {
			continue
		}

		record[canonical] = value
	}

	return record
}

// String returns the record field as a string, with absent and nil fields
// reported as empty.
func (r Record) String(key string) string {
	value, ok := r[key]
	if !ok || value == nil {
		return ""
	}

	if s, ok := value.(string); ok {
		return s
	}

	return stringify(value)
}

// Has reports whether the field is present with a non-empty value.
func (r Record) Has(key string) bool {
	return r.String(key) != ""
}

// EnsureDefaults fills the fields every record must carry before it enters
// the pipeline: a record-level UUID, the ingestion timestamp ts, the service
// date, and a recorded-at time defaulting to now when the producer omitted
// it.
func (r Record) EnsureDefaults(now time.Time) {
	if !r.Has(fieldUUID) {
		r[fieldUUID] = uuid.NewString()
	}

	if !r.Has(fieldTS) {
		r[fieldTS] = now.UTC().Format(time.RFC3339Nano)
	}

	if !r.Has(fieldDate) {
		r[fieldDate] = now.Format("2006-01-02")
	}

	if !r.Has(fieldRecordedAtTime) {
		r[fieldRecordedAtTime] = now.UTC().Format(time.RFC3339Nano)
	}
}

// NormalizeTimestamps rewrites the secondary timestamp fields into RFC 3339
// form where they parse; unparseable values are left untouched rather than
// dropped.
func (r Record) NormalizeTimestamps() {
	for _, field := range []string{
		"expecteddeparturetime",
		"expectedarrivaltime",
		fieldRecordedAtTime,
		"aimedarrivaltime",
	} {
		value := r.String(field)
		if value == "" {
			continue
		}

		if parsed, err := parseTimestamp(value); err == nil {
			r[field] = parsed.Format(time.RFC3339Nano)
		}
	}
}

// parseTimestamp parses an ISO-8601 timestamp. A trailing literal "Z" is the
// UTC designator; a timestamp without any zone is accepted as-is.
func parseTimestamp(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}

	return time.Parse("2006-01-02T15:04:05", value)
}

func isEmptyValue(value any) bool {
	if value == nil {
		return true
	}

	s, ok := value.(string)

	return ok && s == ""
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		// JSON numbers decode as float64; render integral values without a
		// fractional part.
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}

		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}
