package ingest

import (
	"strings"
	"time"

	"github.com/afroash/weather-station/internal/models"
)

// DefaultOffset is added to station timestamps. The station clock reports UTC
// and readings are kept in GMT+7 local time.
const DefaultOffset = 7 * time.Hour

// TimestampAdjuster shifts station timestamps by a fixed offset.
type TimestampAdjuster struct {
	Offset time.Duration
}

// NewTimestampAdjuster creates an adjuster with the given offset
func NewTimestampAdjuster(offset time.Duration) TimestampAdjuster {
	return TimestampAdjuster{Offset: offset}
}

// Adjust parses a "YYYY-MM-DD HH:MM:SS" timestamp, adds the offset and
// formats it back. Absent or unparseable input yields "" and ok=false.
// Day, month and year roll over as needed.
func (a TimestampAdjuster) Adjust(raw string) (string, bool) {
	t, ok := parseStationTime(raw)
	if !ok {
		return "", false
	}
	return t.Add(a.Offset).Format(models.DateTimeLayout), true
}

// Canonicalize re-serializes an already local timestamp without shifting it.
func Canonicalize(raw string) (string, bool) {
	t, ok := parseStationTime(raw)
	if !ok {
		return "", false
	}
	return t.Format(models.DateTimeLayout), true
}

func parseStationTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(models.DateTimeLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
