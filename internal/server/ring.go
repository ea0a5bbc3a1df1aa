package server

import (
	"sync"
	"time"

	"github.com/afroash/weather-station/internal/models"
)

// RecentBuffer is an in-memory ring of the last accepted readings. It backs
// the snapshot a live client receives when it connects.
type RecentBuffer struct {
	capacity int
	data     []*models.Reading
	mutex    sync.RWMutex
	total    int64
}

// RecentBufferStats contains statistics about the buffer
type RecentBufferStats struct {
	Capacity      int       `json:"capacity"`
	Buffered      int       `json:"buffered"`
	TotalReadings int64     `json:"total_readings"`
	OldestReading time.Time `json:"oldest_reading,omitempty"`
	NewestReading time.Time `json:"newest_reading,omitempty"`
}

// NewRecentBuffer creates a buffer holding at most capacity readings
func NewRecentBuffer(capacity int) *RecentBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RecentBuffer{
		capacity: capacity,
		data:     make([]*models.Reading, 0, capacity),
	}
}

// Add appends a copy of the reading, evicting the oldest when full
func (b *RecentBuffer) Add(reading *models.Reading) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if len(b.data) >= b.capacity {
		b.data = b.data[1:] // Remove oldest
	}
	b.data = append(b.data, reading.Copy())
	b.total++
}

// Seed loads readings given newest first, as the store returns them
func (b *RecentBuffer) Seed(newestFirst []*models.Reading) {
	for i := len(newestFirst) - 1; i >= 0; i-- {
		b.Add(newestFirst[i])
	}
}

// Latest returns up to n readings, newest first
func (b *RecentBuffer) Latest(n int) []*models.Reading {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	start := len(b.data) - n
	if start < 0 {
		start = 0
	}

	// Return copies, newest first
	result := make([]*models.Reading, len(b.data)-start)
	for i, j := len(b.data)-1, 0; i >= start; i, j = i-1, j+1 {
		result[j] = b.data[i].Copy()
	}
	return result
}

// Stats returns statistics about the buffer
func (b *RecentBuffer) Stats() RecentBufferStats {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	stats := RecentBufferStats{
		Capacity:      b.capacity,
		Buffered:      len(b.data),
		TotalReadings: b.total,
	}
	if len(b.data) > 0 {
		stats.OldestReading = b.data[0].CreatedAt
		stats.NewestReading = b.data[len(b.data)-1].CreatedAt
	}
	return stats
}
