package warehouse

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Metadata values stamped onto every inserted row.
const (
	SourceSystem     = "MTA_REALTIME"
	ProcessingStatus = "PROCESSED"
)

// Columns is the destination table's column list, in physical order. The
// order is part of the wire contract between this pipeline and the table and
// must not be reordered without a coordinated migration. Domain fields come
// first, followed by the generated ingestion metadata columns.
var Columns = []string{
	"STOPPOINTREF",
	"VEHICLEREF",
	"PROGRESSRATE",
	"EXPECTEDDEPARTURETIME",
	"STOPPOINT",
	"VISITNUMBER",
	"DATAFRAMEREF",
	"STOPPOINTNAME",
	"SITUATIONSIMPLEREF5",
	"SITUATIONSIMPLEREF3",
	"BEARING",
	"SITUATIONSIMPLEREF4",
	"SITUATIONSIMPLEREF1",
	"ORIGINAIMEDDEPARTURETIME",
	"SITUATIONSIMPLEREF2",
	"JOURNEYPATTERNREF",
	"RECORDEDATTIME",
	"OPERATORREF",
	"DESTINATIONNAME",
	"EXPECTEDARRIVALTIME",
	"BLOCKREF",
	"LINEREF",
	"VEHICLELOCATIONLONGITUDE",
	"DIRECTIONREF",
	"ARRIVALPROXIMITYTEXT",
	"DISTANCEFROMSTOP",
	"ESTIMATEDPASSENGERCAPACITY",
	"AIMEDARRIVALTIME",
	"PUBLISHEDLINENAME",
	"DATEDVEHICLEJOURNEYREF",
	"DATE",
	"MONITORED",
	"PROGRESSSTATUS",
	"DESTINATIONREF",
	"ESTIMATEDPASSENGERCOUNT",
	"VEHICLELOCATIONLATITUDE",
	"ORIGINREF",
	"NUMBEROFSTOPSAWAY",
	"TS",
	"UUID",
	"INGESTION_TIME",
	"SOURCE_SYSTEM",
	"PROCESSING_STATUS",
}

// SanitizeCoordinate converts a coordinate-like value to either a valid
// signed decimal string or nil for SQL NULL. Empty strings, the literal
// tokens "none"/"null"/"nan" (case-insensitive) and non-numeric text all map
// to nil so that downstream numeric consumption never fails on malformed
// input. A valid value is returned unchanged.
func SanitizeCoordinate(value any) any {
	if value == nil {
		return nil
	}

	s := strings.TrimSpace(fmt.Sprint(value))
	if s == "" {
		return nil
	}

	switch strings.ToLower(s) {
	case "none", "null", "nan":
		return nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}

	// ParseFloat accepts "NaN"/"Inf" spellings beyond the token list above.
	if f != f || f > 1e308 || f < -1e308 {
		return nil
	}

	return s
}

// BuildRow formats one canonicalized record into the fixed column layout.
// Fields are looked up by their canonical lowercase names; missing fields
// become empty strings, coordinate-like columns are sanitized to NULL-able
// values, and the three trailing metadata columns are generated.
func BuildRow(record map[string]any, ingestionTime time.Time) []any {
	return []any{
		fieldString(record, "stoppointref"),
		fieldString(record, "vehicleref"),
		fieldString(record, "progressrate"),
		fieldString(record, "expecteddeparturetime"),
		fieldString(record, "stoppoint"),
		fieldString(record, "visitnumber"),
		fieldString(record, "dataframeref"),
		fieldString(record, "stoppointname"),
		fieldString(record, "situationsimpleref5"),
		fieldString(record, "situationsimpleref3"),
		fieldString(record, "bearing"),
		fieldString(record, "situationsimpleref4"),
		fieldString(record, "situationsimpleref1"),
		fieldString(record, "originaimeddeparturetime"),
		fieldString(record, "situationsimpleref2"),
		fieldString(record, "journeypatternref"),
		fieldString(record, "recordedattime"),
		fieldString(record, "operatorref"),
		fieldString(record, "destinationname"),
		fieldString(record, "expectedarrivaltime"),
		fieldString(record, "blockref"),
		fieldString(record, "lineref"),
		SanitizeCoordinate(record["vehiclelocationlongitude"]),
		fieldString(record, "directionref"),
		fieldString(record, "arrivalproximitytext"),
		SanitizeCoordinate(record["distancefromstop"]),
		fieldString(record, "estimatedpassengercapacity"),
		fieldString(record, "aimedarrivaltime"),
		fieldString(record, "publishedlinename"),
		fieldString(record, "datedvehiclejourneyref"),
		fieldString(record, "date"),
		fieldString(record, "monitored"),
		fieldString(record, "progressstatus"),
		fieldString(record, "destinationref"),
		fieldString(record, "estimatedpassengercount"),
		SanitizeCoordinate(record["vehiclelocationlatitude"]),
		fieldString(record, "originref"),
		fieldString(record, "numberofstopsaway"),
		fieldString(record, "ts"),
		fieldString(record, "uuid"),
		ingestionTime.UTC(),
		SourceSystem,
		ProcessingStatus,
	}
}

// fieldString coerces a record field to its string column representation.
// Absent and nil fields both become the empty string.
func fieldString(record map[string]any, key string) string {
	value, ok := record[key]
	if !ok || value == nil {
		return ""
	}

	if s, ok := value.(string); ok {
		return s
	}

	return fmt.Sprint(value)
}
