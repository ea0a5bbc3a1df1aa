package ingest

// mphToKmh is the conversion factor the station firmware has always used.
const mphToKmh = 1.60934

// CelsiusFromFahrenheit converts a temperature reported in °F.
func CelsiusFromFahrenheit(f float64) float64 {
	return (5.0 / 9.0) * (f - 32.0)
}

// KmhFromMph converts a wind speed reported in miles per hour.
func KmhFromMph(mph float64) float64 {
	return mph * mphToKmh
}
