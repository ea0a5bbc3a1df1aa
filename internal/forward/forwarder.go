package forward

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/weather-station/internal/models"
)

// ErrSkip is returned by a Sink for a reading it will never accept. The
// forwarder logs it and moves past the reading instead of retrying.
var ErrSkip = errors.New("reading skipped")

// Source is where forwarded readings come from
// storage.SQLiteStore implements this interface
type Source interface {
	GetReadingsAfterID(ctx context.Context, afterID int64, limit int) ([]*models.Reading, error)
	GetCursor(ctx context.Context, sink string) (int64, error)
	SaveCursor(ctx context.Context, sink string, lastID int64) error
}

// Sink delivers one reading upstream. A nil error acknowledges it.
type Sink interface {
	Name() string
	Send(ctx context.Context, reading *models.Reading) error
}

// Config holds configuration for a forwarder
type Config struct {
	Interval   time.Duration // Pause between rounds once caught up (default: 3s)
	BatchSize  int           // Readings fetched per round (default: 50)
	MaxBackoff time.Duration // Upper bound of the retry delay (default: 5m)
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval:   3 * time.Second,
		BatchSize:  50,
		MaxBackoff: 5 * time.Minute,
	}
}

// Stats contains statistics about a forwarder
type Stats struct {
	Sink      string    `json:"sink"`
	Cursor    int64     `json:"cursor"`
	Sent      int64     `json:"sent"`
	Skipped   int64     `json:"skipped"`
	Failures  int64     `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
	LastSent  time.Time `json:"last_sent,omitempty"`
	Backoff   string    `json:"backoff,omitempty"`
}

// Forwarder relays stored readings to a sink in id order. The position of
// the last acknowledged reading is persisted per sink, so a restart resumes
// where it left off and nothing is removed from the store or the mirror.
type Forwarder struct {
	source Source
	sink   Sink
	config Config
	logger zerolog.Logger

	mu         sync.RWMutex
	cursor     int64
	loaded     bool
	sent       int64
	skipped    int64
	failures   int64
	lastError  string
	lastSent   time.Time
	curBackoff time.Duration
}

// NewForwarder creates a forwarder for one sink
func NewForwarder(source Source, sink Sink, config Config, logger zerolog.Logger) *Forwarder {
	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.MaxBackoff < config.Interval {
		config.MaxBackoff = config.Interval
	}

	return &Forwarder{
		source: source,
		sink:   sink,
		config: config,
		logger: logger.With().Str("component", "forward").Str("sink", sink.Name()).Logger(),
	}
}

// Run forwards until ctx is cancelled. After a failed round it waits with
// exponential backoff, doubling from Interval up to MaxBackoff.
func (f *Forwarder) Run(ctx context.Context) error {
	f.logger.Info().
		Dur("interval", f.config.Interval).
		Int("batch_size", f.config.BatchSize).
		Dur("max_backoff", f.config.MaxBackoff).
		Msg("Forwarder started")

	delay := f.config.Interval
	for {
		n, err := f.Flush(ctx)
		if ctx.Err() != nil {
			f.logger.Info().Msg("Forwarder stopped")
			return ctx.Err()
		}

		var wait time.Duration
		switch {
		case err != nil:
			wait = delay
			f.logger.Warn().Err(err).Dur("delay", wait).Msg("Forward round failed, backing off")
			delay *= 2
			if delay > f.config.MaxBackoff {
				delay = f.config.MaxBackoff
			}
		case n == f.config.BatchSize:
			// More may be waiting, go again straight away.
			delay = f.config.Interval
			wait = 0
		default:
			delay = f.config.Interval
			wait = f.config.Interval
		}
		f.setBackoff(wait, err != nil)

		if wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				f.logger.Info().Msg("Forwarder stopped")
				return ctx.Err()
			}
		}
	}
}

// Flush sends one batch past the cursor. It returns how many readings were
// consumed (acknowledged or skipped) and the first delivery error.
func (f *Forwarder) Flush(ctx context.Context) (int, error) {
	cursor, err := f.loadCursor(ctx)
	if err != nil {
		return 0, f.recordFailure(err)
	}

	readings, err := f.source.GetReadingsAfterID(ctx, cursor, f.config.BatchSize)
	if err != nil {
		return 0, f.recordFailure(err)
	}

	consumed := 0
	for _, reading := range readings {
		err := f.sink.Send(ctx, reading)
		switch {
		case errors.Is(err, ErrSkip):
			f.logger.Warn().Err(err).Int64("id", reading.ID).Msg("Reading not forwardable, skipping")
			f.mu.Lock()
			f.skipped++
			f.mu.Unlock()
		case err != nil:
			return consumed, f.recordFailure(err)
		default:
			f.mu.Lock()
			f.sent++
			f.lastSent = time.Now()
			f.mu.Unlock()
		}

		if err := f.advance(ctx, reading.ID); err != nil {
			return consumed, f.recordFailure(err)
		}
		consumed++
	}

	if consumed > 0 {
		f.logger.Debug().Int("count", consumed).Int64("cursor", f.Stats().Cursor).Msg("Forwarded batch")
	}
	return consumed, nil
}

func (f *Forwarder) loadCursor(ctx context.Context) (int64, error) {
	f.mu.RLock()
	if f.loaded {
		cursor := f.cursor
		f.mu.RUnlock()
		return cursor, nil
	}
	f.mu.RUnlock()

	cursor, err := f.source.GetCursor(ctx, f.sink.Name())
	if err != nil {
		return 0, err
	}

	f.mu.Lock()
	f.cursor = cursor
	f.loaded = true
	f.mu.Unlock()

	return cursor, nil
}

func (f *Forwarder) advance(ctx context.Context, id int64) error {
	if err := f.source.SaveCursor(ctx, f.sink.Name(), id); err != nil {
		return err
	}

	f.mu.Lock()
	f.cursor = id
	f.mu.Unlock()
	return nil
}

func (f *Forwarder) recordFailure(err error) error {
	f.mu.Lock()
	f.failures++
	f.lastError = err.Error()
	f.mu.Unlock()
	return err
}

func (f *Forwarder) setBackoff(d time.Duration, failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if failing {
		f.curBackoff = d
	} else {
		f.curBackoff = 0
	}
}

// Stats returns current forwarder statistics
func (f *Forwarder) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	stats := Stats{
		Sink:      f.sink.Name(),
		Cursor:    f.cursor,
		Sent:      f.sent,
		Skipped:   f.skipped,
		Failures:  f.failures,
		LastError: f.lastError,
		LastSent:  f.lastSent,
	}
	if f.curBackoff > 0 {
		stats.Backoff = f.curBackoff.String()
	}
	return stats
}
