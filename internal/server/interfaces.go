package server

import (
	"context"
	"time"

	"github.com/afroash/weather-station/internal/models"
)

// ReadingWriter persists accepted readings
// storage.Writer implements this interface
type ReadingWriter interface {
	// Write stores the reading and sets its ID and CreatedAt
	Write(ctx context.Context, reading *models.Reading) error
}

// ReadingReader answers read-back queries
// storage.SQLiteStore implements this interface
type ReadingReader interface {
	// GetLatestReading returns the most recent reading, or nil if there is none
	GetLatestReading(ctx context.Context) (*models.Reading, error)

	// GetRecentReadings returns up to limit readings, newest first
	GetRecentReadings(ctx context.Context, limit int) ([]*models.Reading, error)

	// GetReadingsInRange returns readings accepted between start and end
	GetReadingsInRange(ctx context.Context, start, end time.Time, limit int) ([]*models.Reading, error)
}

// ActivityRecorder is told about every accepted reading
// watchdog.Watchdog implements this interface
type ActivityRecorder interface {
	RecordActivity()
}

// Publisher fans accepted readings out to live subscribers
// LiveHub implements this interface
type Publisher interface {
	Publish(reading *models.Reading)
}

// StatsFunc reports one section of /api/stats
type StatsFunc func(ctx context.Context) (any, error)
