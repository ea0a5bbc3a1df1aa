package watchdog

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Logger().Level(zerolog.DebugLevel)
}

// fakeClock is a manually advanced time source
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestWatchdog(timeout time.Duration) (*Watchdog, *fakeClock) {
	clock := newFakeClock()
	w := newWatchdog(Config{Timeout: timeout, CheckPeriod: time.Hour}, testLogger(), clock.Now)
	return w, clock
}

// TestWatchdog_Check tests that a timeout fires only after the idle window
func TestWatchdog_Check(t *testing.T) {
	w, clock := newTestWatchdog(60 * time.Second)

	clock.Advance(59 * time.Second)
	if w.Check() {
		t.Fatal("Check fired before the timeout")
	}

	clock.Advance(1 * time.Second)
	if !w.Check() {
		t.Fatal("Check should fire at the timeout")
	}

	stats := w.Stats()
	if stats.TotalTimeouts != 1 {
		t.Errorf("TotalTimeouts = %d, want 1", stats.TotalTimeouts)
	}
	if stats.LastTimeout.IsZero() {
		t.Error("LastTimeout should not be zero")
	}
}

// TestWatchdog_RestartsWindowAfterFiring tests that a timeout is not repeated every tick
func TestWatchdog_RestartsWindowAfterFiring(t *testing.T) {
	w, clock := newTestWatchdog(60 * time.Second)

	clock.Advance(61 * time.Second)
	if !w.Check() {
		t.Fatal("expected first timeout")
	}

	clock.Advance(30 * time.Second)
	if w.Check() {
		t.Fatal("timeout should not repeat inside the new window")
	}

	clock.Advance(30 * time.Second)
	if !w.Check() {
		t.Fatal("expected second timeout")
	}

	if got := w.Stats().TotalTimeouts; got != 2 {
		t.Errorf("TotalTimeouts = %d, want 2", got)
	}
}

// TestWatchdog_RecordActivity tests that activity resets the idle window
func TestWatchdog_RecordActivity(t *testing.T) {
	w, clock := newTestWatchdog(60 * time.Second)

	for i := 0; i < 5; i++ {
		clock.Advance(50 * time.Second)
		w.RecordActivity()
		if w.Check() {
			t.Fatalf("Check fired despite activity on iteration %d", i)
		}
	}

	stats := w.Stats()
	if stats.TotalActivity != 5 {
		t.Errorf("TotalActivity = %d, want 5", stats.TotalActivity)
	}
	if stats.TotalTimeouts != 0 {
		t.Errorf("TotalTimeouts = %d, want 0", stats.TotalTimeouts)
	}
	if !stats.LastActivity.Equal(clock.Now()) {
		t.Errorf("LastActivity = %v, want %v", stats.LastActivity, clock.Now())
	}
	if stats.IdleSeconds != 0 {
		t.Errorf("IdleSeconds = %v, want 0", stats.IdleSeconds)
	}
}

// TestNew_InvalidConfig tests that bad durations fall back to defaults
func TestNew_InvalidConfig(t *testing.T) {
	w := New(Config{}, testLogger())
	defer w.Stop()

	if w.timeout != DefaultConfig().Timeout {
		t.Errorf("timeout = %v, want default", w.timeout)
	}
	if w.checkPeriod != DefaultConfig().CheckPeriod {
		t.Errorf("checkPeriod = %v, want default", w.checkPeriod)
	}
}

// TestWatchdog_PeriodicCheck tests that the background loop fires timeouts
func TestWatchdog_PeriodicCheck(t *testing.T) {
	w := New(Config{Timeout: 20 * time.Millisecond, CheckPeriod: 5 * time.Millisecond}, testLogger())
	defer w.Stop()

	deadline := time.After(2 * time.Second)
	for w.Stats().TotalTimeouts == 0 {
		select {
		case <-deadline:
			t.Fatal("no timeout fired")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// TestWatchdog_Stop tests graceful shutdown
func TestWatchdog_Stop(t *testing.T) {
	w := New(Config{Timeout: time.Second, CheckPeriod: 10 * time.Millisecond}, testLogger())

	time.Sleep(30 * time.Millisecond)

	done := make(chan bool)
	go func() {
		w.Stop()
		w.Stop()
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("Stop() timed out")
	}
}
