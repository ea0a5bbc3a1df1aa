package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/afroash/weather-station/internal/models"
)

// createdAtLayout is the millisecond layout SQLite's strftime('%f') produces.
const createdAtLayout = "2006-01-02 15:04:05.000"

// ErrStoreWrite marks a failed insert into the structured store.
var ErrStoreWrite = errors.New("store write failed")

// Store defines the interface for weather reading storage
type Store interface {
	Close() error
	Migrate() error
	InsertReading(ctx context.Context, reading *models.Reading) error
	GetLatestReading(ctx context.Context) (*models.Reading, error)
	GetRecentReadings(ctx context.Context, limit int) ([]*models.Reading, error)
	GetReadingsInRange(ctx context.Context, start, end time.Time, limit int) ([]*models.Reading, error)
	GetReadingsAfterID(ctx context.Context, afterID int64, limit int) ([]*models.Reading, error)
	GetCursor(ctx context.Context, sink string) (int64, error)
	SaveCursor(ctx context.Context, sink string, lastID int64) error
	GetStorageStats(ctx context.Context) (*StorageStats, error)
}

// Compile-time interface check
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is the authoritative record of accepted readings
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger

	insertQuery string
	selectCols  string
}

// StoreConfig holds connection settings for the SQLite store
type StoreConfig struct {
	Path         string
	MaxOpenConns int
	BusyTimeout  time.Duration
}

// StorageStats contains information about the database
type StorageStats struct {
	TotalReadings  int64     `json:"total_readings"`
	LatestID       int64     `json:"latest_id"`
	OldestReading  time.Time `json:"oldest_reading,omitempty"`
	NewestReading  time.Time `json:"newest_reading,omitempty"`
	DatabaseSizeMB float64   `json:"database_size_mb"`
}

// NewSQLiteStore opens (creating if needed) the database at cfg.Path
func NewSQLiteStore(cfg StoreConfig, logger zerolog.Logger) (*SQLiteStore, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL lets readers run alongside the single writer, so the pool is not
	// pinned to one connection. Writers serialize on the database lock and
	// wait up to the busy timeout for it.
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 4
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{
		db:          db,
		logger:      logger.With().Str("component", "sqlite").Logger(),
		insertQuery: buildInsertQuery(),
		selectCols:  "id, " + strings.Join(models.Columns, ", ") + ", created_at",
	}

	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	store.logger.Info().
		Str("path", cfg.Path).
		Int("max_open_conns", maxOpen).
		Msg("SQLite store initialized")

	return store, nil
}

func buildDSN(cfg StoreConfig) (string, error) {
	path := cfg.Path
	if path == "" {
		return "", errors.New("database path is empty")
	}

	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", fmt.Errorf("failed to create database directory %s: %w", dir, err)
			}
		}
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	params := []string{
		fmt.Sprintf("_busy_timeout=%d", busy.Milliseconds()),
		"_journal_mode=WAL",
		"_synchronous=NORMAL",
	}

	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}

	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}

// buildInsertQuery assigns id and created_at inside the insert itself so both
// are decided under SQLite's write lock. created_at never goes backwards even
// if the wall clock does.
func buildInsertQuery() string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(models.Columns)), ", ")
	return fmt.Sprintf(`
		INSERT INTO weather_data (%s, created_at)
		VALUES (%s, (
			SELECT max(strftime('%%Y-%%m-%%d %%H:%%M:%%f', 'now'), COALESCE(MAX(created_at), ''))
			FROM weather_data
		))
		RETURNING id, created_at
	`, strings.Join(models.Columns, ", "), placeholders)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate creates the database schema if it doesn't exist
func (s *SQLiteStore) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS weather_data (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		datetime TEXT NOT NULL DEFAULT '',
		windspeed_kmh REAL NOT NULL DEFAULT 0,
		wind_direction INTEGER NOT NULL DEFAULT 0,
		rain_rate_in REAL NOT NULL DEFAULT 0,
		temp_in_c REAL NOT NULL DEFAULT 0,
		temp_out_c REAL NOT NULL DEFAULT 0,
		humidity_in INTEGER NOT NULL DEFAULT 0,
		humidity_out INTEGER NOT NULL DEFAULT 0,
		uv_index REAL NOT NULL DEFAULT 0,
		wind_gust_kmh REAL NOT NULL DEFAULT 0,
		barometric_pressure_rel_in REAL NOT NULL DEFAULT 0,
		barometric_pressure_abs_in REAL NOT NULL DEFAULT 0,
		solar_radiation_wm2 REAL NOT NULL DEFAULT 0,
		daily_rain_in REAL NOT NULL DEFAULT 0,
		rain_today_in REAL NOT NULL DEFAULT 0,
		total_rain_in REAL NOT NULL DEFAULT 0,
		weekly_rain_in REAL NOT NULL DEFAULT 0,
		monthly_rain_in REAL NOT NULL DEFAULT 0,
		yearly_rain_in REAL NOT NULL DEFAULT 0,
		max_daily_gust REAL NOT NULL DEFAULT 0,
		wh65_batt REAL NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_weather_created ON weather_data(created_at DESC, id DESC);

	CREATE TABLE IF NOT EXISTS forward_cursors (
		sink TEXT PRIMARY KEY,
		last_id INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now'))
	);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.logger.Debug().Msg("Database schema migrated")
	return nil
}

// InsertReading stores a reading and fills in its ID and CreatedAt
func (s *SQLiteStore) InsertReading(ctx context.Context, reading *models.Reading) error {
	var createdAt string
	err := s.db.QueryRowContext(ctx, s.insertQuery, reading.Values()...).Scan(&reading.ID, &createdAt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}

	reading.CreatedAt, err = parseTimestamp(createdAt)
	if err != nil {
		return fmt.Errorf("failed to parse created_at: %w", err)
	}

	return nil
}

// GetLatestReading returns the most recently accepted reading, or nil when the
// store is empty
func (s *SQLiteStore) GetLatestReading(ctx context.Context) (*models.Reading, error) {
	query := `SELECT ` + s.selectCols + `
		FROM weather_data
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	reading, err := scanReading(s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest reading: %w", err)
	}

	return reading, nil
}

// GetRecentReadings returns up to limit readings, newest first
func (s *SQLiteStore) GetRecentReadings(ctx context.Context, limit int) ([]*models.Reading, error) {
	query := `SELECT ` + s.selectCols + `
		FROM weather_data
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	return scanReadings(rows)
}

// GetReadingsInRange returns readings accepted between start and end
// (inclusive), newest first
func (s *SQLiteStore) GetReadingsInRange(ctx context.Context, start, end time.Time, limit int) ([]*models.Reading, error) {
	query := `SELECT ` + s.selectCols + `
		FROM weather_data
		WHERE created_at BETWEEN ? AND ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query,
		start.UTC().Format(createdAtLayout),
		end.UTC().Format(createdAtLayout),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	return scanReadings(rows)
}

// GetReadingsAfterID returns up to limit readings with id > afterID in
// ascending id order
func (s *SQLiteStore) GetReadingsAfterID(ctx context.Context, afterID int64, limit int) ([]*models.Reading, error) {
	query := `SELECT ` + s.selectCols + `
		FROM weather_data
		WHERE id > ?
		ORDER BY id ASC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	return scanReadings(rows)
}

// GetCursor returns the last id acknowledged by a forward sink (0 if none)
func (s *SQLiteStore) GetCursor(ctx context.Context, sink string) (int64, error) {
	var lastID int64
	err := s.db.QueryRowContext(ctx,
		"SELECT last_id FROM forward_cursors WHERE sink = ?", sink,
	).Scan(&lastID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get cursor for %s: %w", sink, err)
	}
	return lastID, nil
}

// SaveCursor records the last id acknowledged by a forward sink
func (s *SQLiteStore) SaveCursor(ctx context.Context, sink string, lastID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO forward_cursors (sink, last_id, updated_at)
		VALUES (?, ?, strftime('%Y-%m-%d %H:%M:%f', 'now'))
		ON CONFLICT(sink) DO UPDATE SET
			last_id = excluded.last_id,
			updated_at = excluded.updated_at
	`, sink, lastID)
	if err != nil {
		return fmt.Errorf("failed to save cursor for %s: %w", sink, err)
	}
	return nil
}

// GetStorageStats returns statistics about the database
func (s *SQLiteStore) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{}

	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*), COALESCE(MAX(id), 0) FROM weather_data").
		Scan(&stats.TotalReadings, &stats.LatestID)
	if err != nil {
		return nil, fmt.Errorf("failed to count readings: %w", err)
	}

	if stats.TotalReadings > 0 {
		var oldestStr, newestStr string
		err = s.db.QueryRowContext(ctx, "SELECT MIN(created_at), MAX(created_at) FROM weather_data").
			Scan(&oldestStr, &newestStr)
		if err != nil {
			return nil, fmt.Errorf("failed to get timestamp range: %w", err)
		}

		stats.OldestReading, _ = parseTimestamp(oldestStr)
		stats.NewestReading, _ = parseTimestamp(newestStr)
	}

	var pageCount, pageSize int64
	s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
	stats.DatabaseSizeMB = float64(pageCount*pageSize) / (1024 * 1024)

	return stats, nil
}

// scanReading is a helper to scan a row into a Reading struct
func scanReading(row interface{ Scan(...any) error }) (*models.Reading, error) {
	var r models.Reading
	var createdAt string

	targets := make([]any, 0, len(models.Columns)+2)
	targets = append(targets, &r.ID)
	targets = append(targets, r.ScanTargets()...)
	targets = append(targets, &createdAt)

	if err := row.Scan(targets...); err != nil {
		return nil, err
	}

	var err error
	r.CreatedAt, err = parseTimestamp(createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	return &r, nil
}

// scanReadings scans multiple rows into a slice of readings
func scanReadings(rows *sql.Rows) ([]*models.Reading, error) {
	readings := []*models.Reading{}

	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return readings, nil
}

// parseTimestamp tries multiple formats to parse a SQLite timestamp
func parseTimestamp(ts string) (time.Time, error) {
	formats := []string{
		createdAtLayout,
		"2006-01-02 15:04:05",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", ts)
}
