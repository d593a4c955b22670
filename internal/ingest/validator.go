package ingest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/siripipe-io/siripipe/internal/config"
)

// NYC service-area bounds. Positions outside this box are bad GPS fixes,
// not vehicles.
const (
	minLatitude  = 40.4
	maxLatitude  = 41.0
	minLongitude = -74.5
	maxLongitude = -73.5
)

// requiredFields must be present and non-empty on every record.
var requiredFields = []string{fieldVehicleRef, fieldLineRef, fieldRecordedAtTime}

// Validator checks canonicalized records against the ingestion rules.
// A disabled validator accepts everything, for replaying quarantined data.
type Validator struct {
	Enabled bool
}

// NewValidator builds a validator configured from the environment.
func NewValidator() Validator {
	return Validator{
		Enabled: config.GetEnvBool("SIRIPIPE_VALIDATION_ENABLED", true),
	}
}

// Validate checks a canonicalized record: required identity fields present,
// recorded-at time parseable, and the coordinate pair, when both halves are
// reported, numeric and inside the service area. It returns whether the
// record is acceptable and the list of violations found, one entry per
// failed rule.
func (v Validator) Validate(record Record) (bool, []string) {
	if !v.Enabled {
		return true, nil
	}

	var violations []string

	for _, field := range requiredFields {
		if !record.Has(field) {
			violations = append(violations, fmt.Sprintf("missing required field %q", field))
		}
	}

	if value := record.String(fieldRecordedAtTime); value != "" {
		if _, err := parseTimestamp(value); err != nil {
			violations = append(violations, fmt.Sprintf("field %q is not a valid timestamp: %q", fieldRecordedAtTime, value))
		}
	}

	violations = appendCoordinateViolations(violations, record)

	return len(violations) == 0, violations
}

// appendCoordinateViolations validates the position as a pair. The check only
// runs when both latitude and longitude carry a value; a record reporting one
// coordinate or none is a vehicle without a GPS fix, not an invalid one. A
// pair that does not parse yields a single format violation; a parsed value
// outside its bound yields one range violation per axis.
func appendCoordinateViolations(violations []string, record Record) []string {
	latRaw := strings.TrimSpace(record.String(fieldLatitude))
	lonRaw := strings.TrimSpace(record.String(fieldLongitude))

	if latRaw == "" || lonRaw == "" {
		return violations
	}

	lat, latErr := strconv.ParseFloat(latRaw, 64)
	lon, lonErr := strconv.ParseFloat(lonRaw, 64)

	if latErr != nil || lonErr != nil {
		return append(violations, "invalid coordinate format")
	}

	// The bounds comparisons are written so that NaN falls outside.
	if !(lat >= minLatitude && lat <= maxLatitude) {
		violations = append(violations, fmt.Sprintf("latitude %v outside range [%v, %v]", lat, minLatitude, maxLatitude))
	}

	if !(lon >= minLongitude && lon <= maxLongitude) {
		violations = append(violations, fmt.Sprintf("longitude %v outside range [%v, %v]", lon, minLongitude, maxLongitude))
	}

	return violations
}
