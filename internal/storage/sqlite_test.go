package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/weather-station/internal/models"
)

// testLogger creates a logger for tests
func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Logger().Level(zerolog.DebugLevel)
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) (*SQLiteStore, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "weather-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	cfg := StoreConfig{Path: filepath.Join(tmpDir, "test.db")}
	store, err := NewSQLiteStore(cfg, testLogger())
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create store: %v", err)
	}

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}

	return store, cleanup
}

// createTestReading creates a reading with the given outdoor temperature
func createTestReading(tempOut float64) *models.Reading {
	return &models.Reading{
		DateTime:      "2024-01-01 19:00:00",
		WindSpeedKmh:  13.67939,
		WindDirection: 180,
		TempInC:       22.3,
		TempOutC:      tempOut,
		HumidityIn:    40,
		HumidityOut:   65,
		PressureRelIn: 29.92,
		PressureAbsIn: 29.89,
		YearlyRainIn:  30.25,
	}
}

// TestNewSQLiteStore tests store creation
func TestNewSQLiteStore(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	if store == nil {
		t.Fatal("Expected non-nil store")
	}

	if store.db == nil {
		t.Fatal("Expected non-nil database connection")
	}
}

// TestNewSQLiteStore_CreatesDirectory tests that a missing parent directory is created
func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "weather.db")

	store, err := NewSQLiteStore(StoreConfig{Path: dbPath}, testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

// TestNewSQLiteStore_EmptyPath tests creation with no path
func TestNewSQLiteStore_EmptyPath(t *testing.T) {
	_, err := NewSQLiteStore(StoreConfig{}, testLogger())
	if err == nil {
		t.Fatal("Expected error for empty path")
	}
}

// TestBuildDSN tests connection string construction
func TestBuildDSN(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		cfg  StoreConfig
		want string
	}{
		{
			name: "plain path with default timeout",
			cfg:  StoreConfig{Path: filepath.Join(dir, "a.db")},
			want: "file:" + filepath.Join(dir, "a.db") + "?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL",
		},
		{
			name: "custom timeout",
			cfg:  StoreConfig{Path: filepath.Join(dir, "b.db"), BusyTimeout: 250 * time.Millisecond},
			want: "file:" + filepath.Join(dir, "b.db") + "?_busy_timeout=250&_journal_mode=WAL&_synchronous=NORMAL",
		},
		{
			name: "file uri with params",
			cfg:  StoreConfig{Path: "file:test.db?cache=shared"},
			want: "file:test.db?cache=shared&_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildDSN(tt.cfg)
			if err != nil {
				t.Fatalf("buildDSN failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("buildDSN = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestMigrate_Idempotent tests that migration can be called multiple times
func TestMigrate_Idempotent(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	if err := store.Migrate(); err != nil {
		t.Fatalf("Second migration failed: %v", err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("Third migration failed: %v", err)
	}
}

// TestInsertReading tests single reading insertion
func TestInsertReading(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	before := time.Now().UTC().Add(-time.Second)
	reading := createTestReading(24.0)

	if err := store.InsertReading(ctx, reading); err != nil {
		t.Fatalf("InsertReading failed: %v", err)
	}

	if reading.ID != 1 {
		t.Errorf("ID = %d, want 1", reading.ID)
	}
	if reading.CreatedAt.Before(before) || reading.CreatedAt.After(time.Now().UTC().Add(time.Second)) {
		t.Errorf("CreatedAt = %v, want around now", reading.CreatedAt)
	}

	latest, err := store.GetLatestReading(ctx)
	if err != nil {
		t.Fatalf("GetLatestReading failed: %v", err)
	}
	if latest == nil {
		t.Fatal("Expected a reading")
	}

	want := reading.CSVRecord()
	got := latest.CSVRecord()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("%s = %q, want %q", models.Columns[i], got[i], want[i])
		}
	}
	if !latest.CreatedAt.Equal(reading.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", latest.CreatedAt, reading.CreatedAt)
	}
}

// TestInsertReading_EmptyDateTime tests that a reading without a station timestamp is kept
func TestInsertReading_EmptyDateTime(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	reading := createTestReading(20)
	reading.DateTime = ""
	if err := store.InsertReading(ctx, reading); err != nil {
		t.Fatalf("InsertReading failed: %v", err)
	}

	latest, err := store.GetLatestReading(ctx)
	if err != nil {
		t.Fatalf("GetLatestReading failed: %v", err)
	}
	if latest.DateTime != "" {
		t.Errorf("DateTime = %q, want empty", latest.DateTime)
	}
}

// TestInsertReading_Closed tests that a closed store reports a write failure
func TestInsertReading_Closed(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	store.Close()

	err := store.InsertReading(context.Background(), createTestReading(20))
	if err == nil {
		t.Fatal("Expected error after close")
	}
}

// TestGetLatestReading tests latest() across inserts
func TestGetLatestReading(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	latest, err := store.GetLatestReading(ctx)
	if err != nil {
		t.Fatalf("GetLatestReading failed: %v", err)
	}
	if latest != nil {
		t.Fatalf("Expected nil for empty store, got %v", latest)
	}

	first := createTestReading(10)
	if err := store.InsertReading(ctx, first); err != nil {
		t.Fatalf("InsertReading failed: %v", err)
	}
	latest, _ = store.GetLatestReading(ctx)
	if latest == nil || latest.ID != first.ID {
		t.Fatalf("latest = %v, want first reading", latest)
	}

	second := createTestReading(11)
	if err := store.InsertReading(ctx, second); err != nil {
		t.Fatalf("InsertReading failed: %v", err)
	}
	latest, _ = store.GetLatestReading(ctx)
	if latest == nil || latest.ID != second.ID || latest.TempOutC != 11 {
		t.Fatalf("latest = %v, want second reading", latest)
	}
}

// TestGetLatestReading_IgnoresSensorTime tests that ordering follows acceptance, not station time
func TestGetLatestReading_IgnoresSensorTime(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	newer := createTestReading(1)
	newer.DateTime = "2030-01-01 00:00:00"
	older := createTestReading(2)
	older.DateTime = "2001-01-01 00:00:00"

	store.InsertReading(ctx, newer)
	store.InsertReading(ctx, older)

	latest, err := store.GetLatestReading(ctx)
	if err != nil {
		t.Fatalf("GetLatestReading failed: %v", err)
	}
	if latest.ID != older.ID {
		t.Errorf("latest ID = %d, want %d (last accepted)", latest.ID, older.ID)
	}
}

// TestGetRecentReadings tests recent(n)
func TestGetRecentReadings(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	empty, err := store.GetRecentReadings(ctx, 5)
	if err != nil {
		t.Fatalf("GetRecentReadings failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Expected 0 readings, got %d", len(empty))
	}

	for i := 0; i < 3; i++ {
		if err := store.InsertReading(ctx, createTestReading(float64(i))); err != nil {
			t.Fatalf("InsertReading failed: %v", err)
		}
	}

	readings, err := store.GetRecentReadings(ctx, 5)
	if err != nil {
		t.Fatalf("GetRecentReadings failed: %v", err)
	}
	if len(readings) != 3 {
		t.Fatalf("Expected 3 readings, got %d", len(readings))
	}

	// Newest first
	for i, want := range []float64{2, 1, 0} {
		if readings[i].TempOutC != want {
			t.Errorf("readings[%d].TempOutC = %v, want %v", i, readings[i].TempOutC, want)
		}
	}

	limited, _ := store.GetRecentReadings(ctx, 2)
	if len(limited) != 2 || limited[0].TempOutC != 2 {
		t.Errorf("limit 2 returned %v", limited)
	}
}

// TestGetReadingsInRange tests queries on acceptance time
func TestGetReadingsInRange(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	start := time.Now().UTC().Add(-time.Minute)
	for i := 0; i < 5; i++ {
		store.InsertReading(ctx, createTestReading(float64(i)))
	}
	end := time.Now().UTC().Add(time.Minute)

	readings, err := store.GetReadingsInRange(ctx, start, end, 100)
	if err != nil {
		t.Fatalf("GetReadingsInRange failed: %v", err)
	}
	if len(readings) != 5 {
		t.Errorf("Expected 5 readings, got %d", len(readings))
	}

	limited, _ := store.GetReadingsInRange(ctx, start, end, 2)
	if len(limited) != 2 {
		t.Errorf("Expected 2 readings with limit, got %d", len(limited))
	}

	past, _ := store.GetReadingsInRange(ctx, start.Add(-time.Hour), start.Add(-30*time.Minute), 100)
	if len(past) != 0 {
		t.Errorf("Expected 0 readings in past window, got %d", len(past))
	}
}

// TestGetReadingsAfterID tests forwarder paging
func TestGetReadingsAfterID(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		store.InsertReading(ctx, createTestReading(float64(i)))
	}

	readings, err := store.GetReadingsAfterID(ctx, 2, 10)
	if err != nil {
		t.Fatalf("GetReadingsAfterID failed: %v", err)
	}
	if len(readings) != 3 {
		t.Fatalf("Expected 3 readings, got %d", len(readings))
	}
	for i, want := range []int64{3, 4, 5} {
		if readings[i].ID != want {
			t.Errorf("readings[%d].ID = %d, want %d", i, readings[i].ID, want)
		}
	}

	page, _ := store.GetReadingsAfterID(ctx, 0, 2)
	if len(page) != 2 || page[0].ID != 1 {
		t.Errorf("first page = %v", page)
	}
}

// TestCursor tests forward cursor persistence
func TestCursor(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	id, err := store.GetCursor(ctx, "http")
	if err != nil {
		t.Fatalf("GetCursor failed: %v", err)
	}
	if id != 0 {
		t.Errorf("initial cursor = %d, want 0", id)
	}

	if err := store.SaveCursor(ctx, "http", 42); err != nil {
		t.Fatalf("SaveCursor failed: %v", err)
	}
	if err := store.SaveCursor(ctx, "http", 43); err != nil {
		t.Fatalf("SaveCursor update failed: %v", err)
	}
	if err := store.SaveCursor(ctx, "mqtt", 7); err != nil {
		t.Fatalf("SaveCursor failed: %v", err)
	}

	if id, _ := store.GetCursor(ctx, "http"); id != 43 {
		t.Errorf("http cursor = %d, want 43", id)
	}
	if id, _ := store.GetCursor(ctx, "mqtt"); id != 7 {
		t.Errorf("mqtt cursor = %d, want 7", id)
	}
}

// TestGetStorageStats tests statistics retrieval
func TestGetStorageStats(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	stats, err := store.GetStorageStats(ctx)
	if err != nil {
		t.Fatalf("GetStorageStats failed: %v", err)
	}
	if stats.TotalReadings != 0 {
		t.Errorf("TotalReadings = %d, want 0", stats.TotalReadings)
	}

	for i := 0; i < 4; i++ {
		store.InsertReading(ctx, createTestReading(float64(i)))
	}

	stats, err = store.GetStorageStats(ctx)
	if err != nil {
		t.Fatalf("GetStorageStats failed: %v", err)
	}
	if stats.TotalReadings != 4 {
		t.Errorf("TotalReadings = %d, want 4", stats.TotalReadings)
	}
	if stats.LatestID != 4 {
		t.Errorf("LatestID = %d, want 4", stats.LatestID)
	}
	if stats.OldestReading.IsZero() || stats.NewestReading.Before(stats.OldestReading) {
		t.Errorf("bad range: %v .. %v", stats.OldestReading, stats.NewestReading)
	}
	if stats.DatabaseSizeMB <= 0 {
		t.Error("DatabaseSizeMB should be positive")
	}
}

// TestConcurrentInserts tests identifier assignment under concurrent writers
func TestConcurrentInserts(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	// Run with: go test -race ./internal/storage/...
	const goroutines, perGoroutine = 10, 50

	var mu sync.Mutex
	var inserted []*models.Reading
	var wg sync.WaitGroup

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(goroutineID int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				reading := createTestReading(float64(goroutineID*100 + i))
				if err := store.InsertReading(ctx, reading); err != nil {
					t.Errorf("InsertReading failed: %v", err)
					return
				}
				mu.Lock()
				inserted = append(inserted, reading)
				mu.Unlock()
			}
		}(g)
	}
	wg.Wait()

	if len(inserted) != goroutines*perGoroutine {
		t.Fatalf("inserted %d, want %d", len(inserted), goroutines*perGoroutine)
	}

	seen := make(map[int64]bool, len(inserted))
	for _, r := range inserted {
		if seen[r.ID] {
			t.Fatalf("duplicate id %d", r.ID)
		}
		seen[r.ID] = true
	}

	// A larger id is never accepted at an earlier time.
	sort.Slice(inserted, func(i, j int) bool { return inserted[i].ID < inserted[j].ID })
	for i := 1; i < len(inserted); i++ {
		if inserted[i].CreatedAt.Before(inserted[i-1].CreatedAt) {
			t.Fatalf("id %d created at %v, before id %d at %v",
				inserted[i].ID, inserted[i].CreatedAt, inserted[i-1].ID, inserted[i-1].CreatedAt)
		}
	}

	stats, err := store.GetStorageStats(ctx)
	if err != nil {
		t.Fatalf("GetStorageStats failed: %v", err)
	}
	if stats.TotalReadings != goroutines*perGoroutine {
		t.Errorf("TotalReadings = %d, want %d", stats.TotalReadings, goroutines*perGoroutine)
	}
}

// TestConcurrentReadsAndWrites tests concurrent access patterns
func TestConcurrentReadsAndWrites(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		store.InsertReading(ctx, createTestReading(float64(i)))
	}

	var wg sync.WaitGroup

	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func(writerID int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				if err := store.InsertReading(ctx, createTestReading(float64(1000+writerID*50+i))); err != nil {
					t.Errorf("InsertReading failed: %v", err)
				}
			}
		}(w)
	}

	for r := 0; r < 5; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				if _, err := store.GetLatestReading(ctx); err != nil {
					t.Errorf("GetLatestReading failed: %v", err)
				}
				if _, err := store.GetRecentReadings(ctx, 10); err != nil {
					t.Errorf("GetRecentReadings failed: %v", err)
				}
			}
		}()
	}

	wg.Wait()

	stats, _ := store.GetStorageStats(ctx)
	if stats.TotalReadings != 120 {
		t.Errorf("TotalReadings = %d, want 120", stats.TotalReadings)
	}
}
