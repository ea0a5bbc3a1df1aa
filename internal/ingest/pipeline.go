package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/afroash/weather-station/internal/models"
)

// ErrMalformedRequest means the body could not be decoded at all. Nothing is
// stored for such a request.
var ErrMalformedRequest = errors.New("malformed request")

// Legacy station field names (Ecowitt/Wunderground style, imperial units).
const (
	FormDateUTC = "dateutc"
)

// FormFields lists the numeric legacy fields in canonical column order.
var FormFields = []FieldSpec{
	{"windspeedmph", KindFloat},
	{"winddir", KindInt},
	{"rainratein", KindFloat},
	{"tempinf", KindFloat},
	{"tempf", KindFloat},
	{"humidityin", KindInt},
	{"humidity", KindInt},
	{"uv", KindFloat},
	{"windgustmph", KindFloat},
	{"baromrelin", KindFloat},
	{"baromabsin", KindFloat},
	{"solarradiation", KindFloat},
	{"dailyrainin", KindFloat},
	{"raintodayin", KindFloat},
	{"totalrainin", KindFloat},
	{"weeklyrainin", KindFloat},
	{"monthlyrainin", KindFloat},
	{"yearlyrainin", KindFloat},
	{"maxdailygust", KindFloat},
	{"wh65batt", KindFloat},
}

// JSONFields lists the numeric canonical fields (every column but datetime).
var JSONFields = []FieldSpec{
	{"windspeed_kmh", KindFloat},
	{"wind_direction", KindInt},
	{"rain_rate_in", KindFloat},
	{"temp_in_c", KindFloat},
	{"temp_out_c", KindFloat},
	{"humidity_in", KindInt},
	{"humidity_out", KindInt},
	{"uv_index", KindFloat},
	{"wind_gust_kmh", KindFloat},
	{"barometric_pressure_rel_in", KindFloat},
	{"barometric_pressure_abs_in", KindFloat},
	{"solar_radiation_wm2", KindFloat},
	{"daily_rain_in", KindFloat},
	{"rain_today_in", KindFloat},
	{"total_rain_in", KindFloat},
	{"weekly_rain_in", KindFloat},
	{"monthly_rain_in", KindFloat},
	{"yearly_rain_in", KindFloat},
	{"max_daily_gust", KindFloat},
	{"wh65_batt", KindFloat},
}

// Pipeline turns decoded request payloads into canonical readings.
type Pipeline struct {
	adjuster TimestampAdjuster
	logger   zerolog.Logger
}

// NewPipeline creates a pipeline applying the given timestamp adjustment to
// legacy form readings.
func NewPipeline(adjuster TimestampAdjuster, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		adjuster: adjuster,
		logger:   logger.With().Str("component", "ingest").Logger(),
	}
}

// FromForm builds a reading from legacy form values: imperial units are
// converted and the station timestamp is shifted by the configured offset.
func (p *Pipeline) FromForm(form url.Values) *models.Reading {
	raw := make(RawFields, len(form))
	for key := range form {
		raw[key] = form.Get(key)
	}

	c, issues := Validate(raw, FormFields)
	p.logIssues("form", issues)

	r := &models.Reading{
		WindSpeedKmh:    KmhFromMph(c.Float("windspeedmph")),
		WindDirection:   c.Int("winddir"),
		RainRateIn:      c.Float("rainratein"),
		TempInC:         CelsiusFromFahrenheit(c.Float("tempinf")),
		TempOutC:        CelsiusFromFahrenheit(c.Float("tempf")),
		HumidityIn:      c.Int("humidityin"),
		HumidityOut:     c.Int("humidity"),
		UVIndex:         c.Float("uv"),
		WindGustKmh:     KmhFromMph(c.Float("windgustmph")),
		PressureRelIn:   c.Float("baromrelin"),
		PressureAbsIn:   c.Float("baromabsin"),
		SolarRadiation:  c.Float("solarradiation"),
		DailyRainIn:     c.Float("dailyrainin"),
		RainTodayIn:     c.Float("raintodayin"),
		TotalRainIn:     c.Float("totalrainin"),
		WeeklyRainIn:    c.Float("weeklyrainin"),
		MonthlyRainIn:   c.Float("monthlyrainin"),
		YearlyRainIn:    c.Float("yearlyrainin"),
		MaxDailyGustKmh: KmhFromMph(c.Float("maxdailygust")),
		BatteryVoltage:  c.Float("wh65batt"),
	}

	dateUTC := form.Get(FormDateUTC)
	adjusted, ok := p.adjuster.Adjust(dateUTC)
	if !ok {
		p.logger.Warn().Str("dateutc", dateUTC).Msg("Station timestamp missing or unparseable, storing without it")
	}
	r.DateTime = adjusted

	p.logRange(r)
	return r
}

// FromJSON builds a reading from a canonical JSON payload. Values are already
// metric and the datetime is already local, so it is only re-serialized.
func (p *Pipeline) FromJSON(payload RawFields) *models.Reading {
	c, issues := Validate(payload, JSONFields)
	p.logIssues("json", issues)

	r := &models.Reading{
		WindSpeedKmh:    c.Float("windspeed_kmh"),
		WindDirection:   c.Int("wind_direction"),
		RainRateIn:      c.Float("rain_rate_in"),
		TempInC:         c.Float("temp_in_c"),
		TempOutC:        c.Float("temp_out_c"),
		HumidityIn:      c.Int("humidity_in"),
		HumidityOut:     c.Int("humidity_out"),
		UVIndex:         c.Float("uv_index"),
		WindGustKmh:     c.Float("wind_gust_kmh"),
		PressureRelIn:   c.Float("barometric_pressure_rel_in"),
		PressureAbsIn:   c.Float("barometric_pressure_abs_in"),
		SolarRadiation:  c.Float("solar_radiation_wm2"),
		DailyRainIn:     c.Float("daily_rain_in"),
		RainTodayIn:     c.Float("rain_today_in"),
		TotalRainIn:     c.Float("total_rain_in"),
		WeeklyRainIn:    c.Float("weekly_rain_in"),
		MonthlyRainIn:   c.Float("monthly_rain_in"),
		YearlyRainIn:    c.Float("yearly_rain_in"),
		MaxDailyGustKmh: c.Float("max_daily_gust"),
		BatteryVoltage:  c.Float("wh65_batt"),
	}

	rawDateTime, _ := payload["datetime"].(string)
	canonical, ok := Canonicalize(rawDateTime)
	if !ok {
		p.logger.Warn().Interface("datetime", payload["datetime"]).Msg("Reading datetime missing or unparseable, storing without it")
	}
	r.DateTime = canonical

	p.logRange(r)
	return r
}

// DecodeJSON decodes a canonical JSON body. Anything other than a single JSON
// object is ErrMalformedRequest.
func DecodeJSON(body io.Reader) (RawFields, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read body: %v", ErrMalformedRequest, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedRequest)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrMalformedRequest)
	}
	return RawFields(payload), nil
}

func (p *Pipeline) logIssues(shape string, issues []Issue) {
	if len(issues) == 0 {
		return
	}

	var missing, garbled []string
	for _, issue := range issues {
		if issue.Missing {
			missing = append(missing, issue.Field)
		} else {
			garbled = append(garbled, issue.String())
		}
	}

	if len(garbled) > 0 {
		p.logger.Warn().
			Str("shape", shape).
			Strs("unparseable", garbled).
			Strs("missing", missing).
			Msg("Fields coerced to zero")
		return
	}
	p.logger.Debug().
		Str("shape", shape).
		Strs("missing", missing).
		Msg("Missing fields defaulted to zero")
}

func (p *Pipeline) logRange(r *models.Reading) {
	if fields := r.OutOfRange(); len(fields) > 0 {
		p.logger.Warn().Strs("fields", fields).Msg("Reading has implausible values")
	}
}
