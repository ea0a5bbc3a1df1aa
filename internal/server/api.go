package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/afroash/weather-station/internal/ingest"
	"github.com/afroash/weather-station/internal/models"
)

const (
	defaultRecentLimit  = 10
	defaultHistoryLimit = 100
	maxQueryLimit       = 1000
	defaultHistorySpan  = 24 * time.Hour

	// Station payloads are a few hundred bytes.
	maxBodyBytes = 64 << 10

	// A received reading is stored even if the station hangs up first.
	writeTimeout = 10 * time.Second
)

// Plain text bodies of the legacy form endpoint
const (
	formSavedText     = "Data saved to database."
	formFailedText    = "Failed to save data."
	formMalformedText = "Malformed request."
)

// Options holds the collaborators of the API handler
type Options struct {
	Pipeline *ingest.Pipeline
	Writer   ReadingWriter
	Reader   ReadingReader
	Activity ActivityRecorder     // optional
	Live     Publisher            // optional
	Stats    map[string]StatsFunc // sections of /api/stats
	Version  string
}

// APIHandler serves the ingest and query endpoints
type APIHandler struct {
	pipeline *ingest.Pipeline
	writer   ReadingWriter
	reader   ReadingReader
	activity ActivityRecorder
	live     Publisher
	stats    map[string]StatsFunc
	version  string
	logger   zerolog.Logger
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(opts Options, logger zerolog.Logger) *APIHandler {
	stats := make(map[string]StatsFunc, len(opts.Stats))
	for name, fn := range opts.Stats {
		stats[name] = fn
	}

	return &APIHandler{
		pipeline: opts.Pipeline,
		writer:   opts.Writer,
		reader:   opts.Reader,
		activity: opts.Activity,
		live:     opts.Live,
		stats:    stats,
		version:  opts.Version,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// HandleFormPost accepts a legacy form-encoded station upload
func (api *APIHandler) HandleFormPost(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("Rejected malformed form body")
		writeText(w, http.StatusBadRequest, formMalformedText)
		return
	}

	reading := api.pipeline.FromForm(r.PostForm)
	if err := api.accept(r.Context(), reading); err != nil {
		writeText(w, http.StatusInternalServerError, formFailedText)
		return
	}

	writeText(w, http.StatusOK, formSavedText)
}

// HandleJSONPost accepts a canonical JSON reading
func (api *APIHandler) HandleJSONPost(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	raw, err := ingest.DecodeJSON(r.Body)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("Rejected malformed JSON body")
		writeJSON(w, r, http.StatusBadRequest, StatusResponse{Status: "error", Message: err.Error()})
		return
	}

	reading := api.pipeline.FromJSON(raw)
	if err := api.accept(r.Context(), reading); err != nil {
		writeJSON(w, r, http.StatusInternalServerError, StatusResponse{Status: "error", Message: "Failed to save data"})
		return
	}

	writeJSON(w, r, http.StatusOK, StatusResponse{Status: "success", Message: "Data saved"})
}

// accept stores the reading and, once it is stored, notifies the watchdog
// and the live feed. The write outlives a cancelled request context.
func (api *APIHandler) accept(ctx context.Context, reading *models.Reading) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := api.writer.Write(ctx, reading); err != nil {
		return err
	}

	if api.activity != nil {
		api.activity.RecordActivity()
	}
	if api.live != nil {
		api.live.Publish(reading)
	}

	api.logger.Info().
		Int64("id", reading.ID).
		Str("datetime", reading.DateTime).
		Float64("temp_out_c", reading.TempOutC).
		Float64("windspeed_kmh", reading.WindSpeedKmh).
		Msg("Reading accepted")

	return nil
}

// HandleLatest returns the most recently accepted reading
func (api *APIHandler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	reading, err := api.reader.GetLatestReading(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Failed to read latest reading")
		writeQueryError(w, r, http.StatusInternalServerError, err)
		return
	}
	if reading == nil {
		writeJSON(w, r, http.StatusNotFound, map[string]string{"message": "No data available"})
		return
	}

	writeJSON(w, r, http.StatusOK, reading)
}

// HandleRecent returns the most recent readings, newest first
func (api *APIHandler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"), defaultRecentLimit)

	readings, err := api.reader.GetRecentReadings(r.Context(), limit)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Failed to read recent readings")
		writeQueryError(w, r, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, r, http.StatusOK, readings)
}

// HandleHistory returns readings accepted within a time range, newest first.
// Without bounds it covers the last 24 hours.
func (api *APIHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	end := time.Now().UTC()
	if s := q.Get("to"); s != "" {
		t, err := parseQueryTime(s)
		if err != nil {
			writeQueryError(w, r, http.StatusBadRequest, fmt.Errorf("invalid to: %w", err))
			return
		}
		end = t
	}

	start := end.Add(-defaultHistorySpan)
	if s := q.Get("from"); s != "" {
		t, err := parseQueryTime(s)
		if err != nil {
			writeQueryError(w, r, http.StatusBadRequest, fmt.Errorf("invalid from: %w", err))
			return
		}
		start = t
	}

	if start.After(end) {
		writeQueryError(w, r, http.StatusBadRequest, errors.New("from is after to"))
		return
	}

	limit := parseLimit(q.Get("limit"), defaultHistoryLimit)

	readings, err := api.reader.GetReadingsInRange(r.Context(), start, end, limit)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Failed to read history")
		writeQueryError(w, r, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, r, http.StatusOK, readings)
}

// HandleStats returns one section per registered component
func (api *APIHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(api.stats))
	for name := range api.stats {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make(map[string]any, len(names))
	for _, name := range names {
		section, err := api.stats[name](r.Context())
		if err != nil {
			hlog.FromRequest(r).Warn().Err(err).Str("section", name).Msg("Failed to collect stats")
			result[name] = map[string]string{"error": err.Error()}
			continue
		}
		result[name] = section
	}

	writeJSON(w, r, http.StatusOK, result)
}

// HandleHealth reports liveness and version
func (api *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok", "version": api.version})
}

// parseLimit returns def for a missing or invalid value and caps at maxQueryLimit
func parseLimit(s string, def int) int {
	limit := def
	if s != "" {
		if parsed, err := strconv.Atoi(s); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	return limit
}

// parseQueryTime accepts RFC3339 or "YYYY-MM-DD HH:MM:SS" (taken as UTC)
func parseQueryTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(models.DateTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC3339 or %q", models.DateTimeLayout)
	}
	return t, nil
}
