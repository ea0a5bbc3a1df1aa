package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/weather-station/internal/models"
)

// ReadingInserter is the authoritative sink
type ReadingInserter interface {
	InsertReading(ctx context.Context, reading *models.Reading) error
}

// LineAppender is the best-effort secondary sink
type LineAppender interface {
	Append(reading *models.Reading) error
}

// Writer performs the two-sink write for each accepted reading.
//
// The structured store is written first and decides the outcome. The mirror
// append happens afterwards and its failure is only logged, so a crash or a
// full disk can leave the store ahead of the mirror but never the reverse.
type Writer struct {
	store  ReadingInserter
	mirror LineAppender
	logger zerolog.Logger

	// Stats
	mu            sync.RWMutex
	totalWritten  int64
	totalErrors   int64
	mirrorErrors  int64
	lastWriteTime time.Time
}

// WriterStats contains statistics about the writer
type WriterStats struct {
	TotalWritten  int64     `json:"total_written"`
	TotalErrors   int64     `json:"total_errors"`
	MirrorErrors  int64     `json:"mirror_errors"`
	LastWriteTime time.Time `json:"last_write_time,omitempty"`
}

// NewWriter creates a writer. mirror may be nil to disable the flat log.
func NewWriter(store ReadingInserter, mirror LineAppender, logger zerolog.Logger) *Writer {
	return &Writer{
		store:  store,
		mirror: mirror,
		logger: logger.With().Str("component", "writer").Logger(),
	}
}

// Write stores the reading. It returns an error only when the structured
// store rejects the insert; on success reading.ID and reading.CreatedAt are set.
func (w *Writer) Write(ctx context.Context, reading *models.Reading) error {
	if err := w.store.InsertReading(ctx, reading); err != nil {
		w.mu.Lock()
		w.totalErrors++
		w.mu.Unlock()

		w.logger.Error().Err(err).Msg("Failed to store reading")
		return err
	}

	w.mu.Lock()
	w.totalWritten++
	w.lastWriteTime = time.Now()
	w.mu.Unlock()

	w.appendMirror(reading)

	w.logger.Debug().
		Int64("id", reading.ID).
		Str("datetime", reading.DateTime).
		Msg("Reading stored")

	return nil
}

func (w *Writer) appendMirror(reading *models.Reading) {
	if w.mirror == nil {
		return
	}

	if err := w.mirror.Append(reading); err != nil {
		w.mu.Lock()
		w.mirrorErrors++
		w.mu.Unlock()

		w.logger.Warn().
			Err(err).
			Int64("id", reading.ID).
			Msg("Mirror append failed, reading kept in store only")
	}
}

// Stats returns current writer statistics
func (w *Writer) Stats() WriterStats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return WriterStats{
		TotalWritten:  w.totalWritten,
		TotalErrors:   w.totalErrors,
		MirrorErrors:  w.mirrorErrors,
		LastWriteTime: w.lastWriteTime,
	}
}
