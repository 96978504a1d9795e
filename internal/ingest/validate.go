package ingest

import (
	"math"

	"github.com/lox/weatherwidget/internal/forecast"
	"github.com/lox/weatherwidget/internal/models"
)

const (
	FlagTempOutOfRange     = "temp_out_of_range"
	FlagTempMissing        = "temp_missing"
	FlagUnknownWeatherCode = "unknown_weather_code"
	FlagDailyMinAboveMax   = "daily_min_above_max"
)

const (
	minPlausibleTemp = -90.0
	maxPlausibleTemp = 60.0
)

// ValidateBundle returns quality flags for values that parse but look wrong.
// Flags are advisory; a flagged bundle is still published.
func ValidateBundle(b *models.Bundle) []string {
	seen := make(map[string]bool)
	var flags []string
	add := func(flag string) {
		if !seen[flag] {
			seen[flag] = true
			flags = append(flags, flag)
		}
	}

	checkTemp := func(v float64) {
		if math.IsNaN(v) {
			add(FlagTempMissing)
			return
		}
		if v < minPlausibleTemp || v > maxPlausibleTemp {
			add(FlagTempOutOfRange)
		}
	}

	checkTemp(b.Current.Temperature)
	if !forecast.KnownCode(b.Current.WeatherCode) {
		add(FlagUnknownWeatherCode)
	}

	for i := range b.Hourly.Time {
		checkTemp(b.Hourly.Temperature[i])
		if !forecast.KnownCode(b.Hourly.WeatherCode[i]) {
			add(FlagUnknownWeatherCode)
		}
	}

	for i := range b.Daily.Time {
		lo, hi := b.Daily.TempMin[i], b.Daily.TempMax[i]
		checkTemp(lo)
		checkTemp(hi)
		if lo > hi {
			add(FlagDailyMinAboveMax)
		}
		if !forecast.KnownCode(b.Daily.WeatherCode[i]) {
			add(FlagUnknownWeatherCode)
		}
	}

	return flags
}
