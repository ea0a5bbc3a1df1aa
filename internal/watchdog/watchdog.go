package watchdog

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Watchdog notices when the station stops reporting. Every accepted reading
// records activity; when no activity arrives for Timeout the watchdog logs a
// warning, counts a timeout and starts a new idle window.
type Watchdog struct {
	timeout     time.Duration
	checkPeriod time.Duration
	logger      zerolog.Logger
	now         func() time.Time
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	// Stats
	mu            sync.RWMutex
	idleSince     time.Time
	lastActivity  time.Time
	lastTimeout   time.Time
	totalActivity int64
	totalTimeouts int64
}

// Config holds configuration for the watchdog
type Config struct {
	Timeout     time.Duration // Idle time before a timeout fires (default: 60s)
	CheckPeriod time.Duration // How often the idle time is checked (default: 1s)
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Timeout:     60 * time.Second,
		CheckPeriod: 1 * time.Second,
	}
}

// Stats contains statistics about the watchdog
type Stats struct {
	TimeoutSeconds float64   `json:"timeout_seconds"`
	IdleSeconds    float64   `json:"idle_seconds"`
	LastActivity   time.Time `json:"last_activity,omitempty"`
	LastTimeout    time.Time `json:"last_timeout,omitempty"`
	TotalActivity  int64     `json:"total_activity"`
	TotalTimeouts  int64     `json:"total_timeouts"`
}

// New creates and starts a watchdog
func New(config Config, logger zerolog.Logger) *Watchdog {
	defaults := DefaultConfig()
	logger = logger.With().Str("component", "watchdog").Logger()

	if config.Timeout <= 0 {
		logger.Warn().
			Dur("provided_timeout", config.Timeout).
			Dur("default_timeout", defaults.Timeout).
			Msg("Invalid Timeout provided (zero or negative), using default")
		config.Timeout = defaults.Timeout
	}

	// Validate CheckPeriod to prevent time.NewTicker panic
	if config.CheckPeriod <= 0 {
		logger.Warn().
			Dur("provided_period", config.CheckPeriod).
			Dur("default_period", defaults.CheckPeriod).
			Msg("Invalid CheckPeriod provided (zero or negative), using default")
		config.CheckPeriod = defaults.CheckPeriod
	}

	w := newWatchdog(config, logger, time.Now)

	w.wg.Add(1)
	go w.checkLoop()

	logger.Info().
		Dur("timeout", config.Timeout).
		Dur("check_period", config.CheckPeriod).
		Msg("Watchdog started")

	return w
}

func newWatchdog(config Config, logger zerolog.Logger, now func() time.Time) *Watchdog {
	return &Watchdog{
		timeout:     config.Timeout,
		checkPeriod: config.CheckPeriod,
		logger:      logger,
		now:         now,
		stopChan:    make(chan struct{}),
		idleSince:   now(),
	}
}

func (w *Watchdog) checkLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.checkPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Check()
		case <-w.stopChan:
			w.logger.Info().Msg("Watchdog stopped")
			return
		}
	}
}

// RecordActivity restarts the idle window
func (w *Watchdog) RecordActivity() {
	now := w.now()

	w.mu.Lock()
	w.idleSince = now
	w.lastActivity = now
	w.totalActivity++
	w.mu.Unlock()
}

// Check fires a timeout if the idle window has expired. It reports whether a
// timeout fired.
func (w *Watchdog) Check() bool {
	now := w.now()

	w.mu.Lock()
	idle := now.Sub(w.idleSince)
	if idle < w.timeout {
		w.mu.Unlock()
		return false
	}

	w.totalTimeouts++
	w.lastTimeout = now
	w.idleSince = now
	lastActivity := w.lastActivity
	total := w.totalTimeouts
	w.mu.Unlock()

	event := w.logger.Warn().
		Dur("idle", idle).
		Int64("total_timeouts", total)
	if !lastActivity.IsZero() {
		event = event.Time("last_activity", lastActivity)
	}
	event.Msg("No readings received within watchdog timeout")

	return true
}

// Stop gracefully stops the watchdog
func (w *Watchdog) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.wg.Wait()
	})
}

// Stats returns current watchdog statistics
func (w *Watchdog) Stats() Stats {
	now := w.now()

	w.mu.RLock()
	defer w.mu.RUnlock()

	return Stats{
		TimeoutSeconds: w.timeout.Seconds(),
		IdleSeconds:    now.Sub(w.idleSince).Seconds(),
		LastActivity:   w.lastActivity,
		LastTimeout:    w.lastTimeout,
		TotalActivity:  w.totalActivity,
		TotalTimeouts:  w.totalTimeouts,
	}
}
