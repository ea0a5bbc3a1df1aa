package storage

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/weather-station/internal/models"
)

// Mirror appends one comma-separated line per accepted reading to a flat file.
// The file is opened, written and closed on every call so nothing is held in
// a buffer between readings.
type Mirror struct {
	path   string
	sync   bool
	logger zerolog.Logger

	mu           sync.Mutex
	totalLines   int64
	totalErrors  int64
	lastError    string
	lastAppendAt time.Time
}

// MirrorStats contains statistics about the mirror log
type MirrorStats struct {
	Path         string    `json:"path"`
	TotalLines   int64     `json:"total_lines"`
	TotalErrors  int64     `json:"total_errors"`
	LastError    string    `json:"last_error,omitempty"`
	LastAppendAt time.Time `json:"last_append_at,omitempty"`
}

// NewMirror creates a mirror writing to path. A directory that cannot be
// created is logged; the first Append will report the failure again.
func NewMirror(path string, fsync bool, logger zerolog.Logger) *Mirror {
	m := &Mirror{
		path:   path,
		sync:   fsync,
		logger: logger.With().Str("component", "mirror").Logger(),
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			m.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to create mirror directory")
		}
	}

	return m
}

// Append writes the reading's 21 measurement fields as one line.
func (m *Mirror) Append(reading *models.Reading) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(reading.CSVRecord()); err != nil {
		return m.fail(fmt.Errorf("failed to encode mirror line: %w", err))
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return m.fail(fmt.Errorf("failed to encode mirror line: %w", err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.appendLocked(buf.Bytes()); err != nil {
		m.totalErrors++
		m.lastError = err.Error()
		return err
	}

	m.totalLines++
	m.lastAppendAt = time.Now()
	return nil
}

func (m *Mirror) appendLocked(line []byte) error {
	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create mirror directory: %w", err)
		}
	}

	f, err := os.OpenFile(m.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open mirror file: %w", err)
	}

	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("failed to append mirror line: %w", err)
	}

	if m.sync {
		if err := f.Sync(); err != nil {
			f.Close()
			return fmt.Errorf("failed to sync mirror file: %w", err)
		}
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close mirror file: %w", err)
	}
	return nil
}

func (m *Mirror) fail(err error) error {
	m.mu.Lock()
	m.totalErrors++
	m.lastError = err.Error()
	m.mu.Unlock()
	return err
}

// Path returns the mirror file location
func (m *Mirror) Path() string {
	return m.path
}

// Stats returns current mirror statistics
func (m *Mirror) Stats() MirrorStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return MirrorStats{
		Path:         m.path,
		TotalLines:   m.totalLines,
		TotalErrors:  m.totalErrors,
		LastError:    m.lastError,
		LastAppendAt: m.lastAppendAt,
	}
}
