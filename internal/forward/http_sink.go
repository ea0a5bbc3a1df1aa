package forward

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/afroash/weather-station/internal/models"
)

// UpstreamReading is the JSON document the upstream collector expects
type UpstreamReading struct {
	StationID      int     `json:"idws"`
	Date           string  `json:"date"`
	WindSpeedKmh   float64 `json:"windspeedkmh"`
	WindDirection  int     `json:"winddir"`
	RainRate       float64 `json:"rain_rate"`
	TempIn         float64 `json:"temp_in"`
	TempOut        float64 `json:"temp_out"`
	HumidityIn     int     `json:"hum_in"`
	HumidityOut    int     `json:"hum_out"`
	UV             float64 `json:"uv"`
	WindGust       float64 `json:"wind_gust"`
	PressureRel    float64 `json:"air_press_rel"`
	PressureAbs    float64 `json:"air_press_abs"`
	SolarRadiation float64 `json:"solar_radiation"`
}

// NewUpstreamReading maps a stored reading to the upstream document
func NewUpstreamReading(stationID int, r *models.Reading) UpstreamReading {
	return UpstreamReading{
		StationID:      stationID,
		Date:           r.DateTime,
		WindSpeedKmh:   r.WindSpeedKmh,
		WindDirection:  r.WindDirection,
		RainRate:       r.RainRateIn,
		TempIn:         r.TempInC,
		TempOut:        r.TempOutC,
		HumidityIn:     r.HumidityIn,
		HumidityOut:    r.HumidityOut,
		UV:             r.UVIndex,
		WindGust:       r.WindGustKmh,
		PressureRel:    r.PressureRelIn,
		PressureAbs:    r.PressureAbsIn,
		SolarRadiation: r.SolarRadiation,
	}
}

// HTTPSink posts readings to the upstream collector URL. Only a 200
// response acknowledges a reading.
type HTTPSink struct {
	url       string
	stationID int
	client    *http.Client
}

// NewHTTPSink creates a sink posting to url
func NewHTTPSink(url string, stationID int, timeout time.Duration) *HTTPSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSink{
		url:       url,
		stationID: stationID,
		client:    &http.Client{Timeout: timeout},
	}
}

// Name identifies the sink's cursor
func (s *HTTPSink) Name() string {
	return "http"
}

// Send posts one reading. A reading without a valid station timestamp is
// rejected with ErrSkip, since the collector keys readings on it.
func (s *HTTPSink) Send(ctx context.Context, reading *models.Reading) error {
	if !reading.HasDateTime() {
		return fmt.Errorf("%w: reading %d has no date", ErrSkip, reading.ID)
	}
	if _, err := time.Parse(models.DateTimeLayout, reading.DateTime); err != nil {
		return fmt.Errorf("%w: invalid date %q, expected YYYY-MM-DD HH:MM:SS", ErrSkip, reading.DateTime)
	}

	body, err := json.Marshal(NewUpstreamReading(s.stationID, reading))
	if err != nil {
		return fmt.Errorf("failed to encode upstream reading: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post reading: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upstream returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	return nil
}
