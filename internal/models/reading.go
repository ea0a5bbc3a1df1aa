package models

import (
	"fmt"
	"strconv"
	"time"
)

// DateTimeLayout is the station timestamp format used on the wire, in the
// database and in the mirror log.
const DateTimeLayout = "2006-01-02 15:04:05"

// Columns lists the canonical measurement columns in storage order.
// The mirror log and the INSERT statement both follow this order.
var Columns = []string{
	"datetime",
	"windspeed_kmh",
	"wind_direction",
	"rain_rate_in",
	"temp_in_c",
	"temp_out_c",
	"humidity_in",
	"humidity_out",
	"uv_index",
	"wind_gust_kmh",
	"barometric_pressure_rel_in",
	"barometric_pressure_abs_in",
	"solar_radiation_wm2",
	"daily_rain_in",
	"rain_today_in",
	"total_rain_in",
	"weekly_rain_in",
	"monthly_rain_in",
	"yearly_rain_in",
	"max_daily_gust",
	"wh65_batt",
}

// Reading is one normalized sample from the weather station.
// Temperatures are Celsius and wind speeds km/h; pressure and rain stay in inches.
type Reading struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	DateTime        string  `json:"datetime"`
	WindSpeedKmh    float64 `json:"windspeed_kmh"`
	WindDirection   int     `json:"wind_direction"`
	RainRateIn      float64 `json:"rain_rate_in"`
	TempInC         float64 `json:"temp_in_c"`
	TempOutC        float64 `json:"temp_out_c"`
	HumidityIn      int     `json:"humidity_in"`
	HumidityOut     int     `json:"humidity_out"`
	UVIndex         float64 `json:"uv_index"`
	WindGustKmh     float64 `json:"wind_gust_kmh"`
	PressureRelIn   float64 `json:"barometric_pressure_rel_in"`
	PressureAbsIn   float64 `json:"barometric_pressure_abs_in"`
	SolarRadiation  float64 `json:"solar_radiation_wm2"`
	DailyRainIn     float64 `json:"daily_rain_in"`
	RainTodayIn     float64 `json:"rain_today_in"`
	TotalRainIn     float64 `json:"total_rain_in"`
	WeeklyRainIn    float64 `json:"weekly_rain_in"`
	MonthlyRainIn   float64 `json:"monthly_rain_in"`
	YearlyRainIn    float64 `json:"yearly_rain_in"`
	MaxDailyGustKmh float64 `json:"max_daily_gust"`
	BatteryVoltage  float64 `json:"wh65_batt"`
}

// Values returns the measurement fields in Columns order.
func (r *Reading) Values() []any {
	return []any{
		r.DateTime,
		r.WindSpeedKmh,
		r.WindDirection,
		r.RainRateIn,
		r.TempInC,
		r.TempOutC,
		r.HumidityIn,
		r.HumidityOut,
		r.UVIndex,
		r.WindGustKmh,
		r.PressureRelIn,
		r.PressureAbsIn,
		r.SolarRadiation,
		r.DailyRainIn,
		r.RainTodayIn,
		r.TotalRainIn,
		r.WeeklyRainIn,
		r.MonthlyRainIn,
		r.YearlyRainIn,
		r.MaxDailyGustKmh,
		r.BatteryVoltage,
	}
}

// ScanTargets returns pointers to the measurement fields in Columns order.
func (r *Reading) ScanTargets() []any {
	return []any{
		&r.DateTime,
		&r.WindSpeedKmh,
		&r.WindDirection,
		&r.RainRateIn,
		&r.TempInC,
		&r.TempOutC,
		&r.HumidityIn,
		&r.HumidityOut,
		&r.UVIndex,
		&r.WindGustKmh,
		&r.PressureRelIn,
		&r.PressureAbsIn,
		&r.SolarRadiation,
		&r.DailyRainIn,
		&r.RainTodayIn,
		&r.TotalRainIn,
		&r.WeeklyRainIn,
		&r.MonthlyRainIn,
		&r.YearlyRainIn,
		&r.MaxDailyGustKmh,
		&r.BatteryVoltage,
	}
}

// CSVRecord formats the measurement fields for one mirror log line.
// Identifier and creation time are not part of the record.
func (r *Reading) CSVRecord() []string {
	values := r.Values()
	record := make([]string, len(values))
	for i, v := range values {
		switch x := v.(type) {
		case string:
			record[i] = x
		case int:
			record[i] = strconv.Itoa(x)
		case float64:
			record[i] = strconv.FormatFloat(x, 'f', -1, 64)
		}
	}
	return record
}

// OutOfRange returns the names of fields holding physically implausible values.
// Readings are stored regardless; callers only log the result.
func (r *Reading) OutOfRange() []string {
	var fields []string
	if r.WindDirection < 0 || r.WindDirection > 360 {
		fields = append(fields, "wind_direction")
	}
	if r.HumidityIn < 0 || r.HumidityIn > 100 {
		fields = append(fields, "humidity_in")
	}
	if r.HumidityOut < 0 || r.HumidityOut > 100 {
		fields = append(fields, "humidity_out")
	}
	if r.WindSpeedKmh < 0 {
		fields = append(fields, "windspeed_kmh")
	}
	if r.WindGustKmh < 0 {
		fields = append(fields, "wind_gust_kmh")
	}
	if r.UVIndex < 0 {
		fields = append(fields, "uv_index")
	}
	if r.SolarRadiation < 0 {
		fields = append(fields, "solar_radiation_wm2")
	}
	return fields
}

// HasDateTime reports whether the station timestamp survived normalization.
func (r *Reading) HasDateTime() bool {
	return r.DateTime != ""
}

// String returns a short human readable summary
func (r *Reading) String() string {
	return fmt.Sprintf("ID: %d, DateTime: %q, TempOut: %.1f°C, TempIn: %.1f°C, Wind: %.1f km/h @ %d°, Humidity: %d%%",
		r.ID,
		r.DateTime,
		r.TempOutC,
		r.TempInC,
		r.WindSpeedKmh,
		r.WindDirection,
		r.HumidityOut)
}

// Copy returns a copy of the Reading
func (r *Reading) Copy() *Reading {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
