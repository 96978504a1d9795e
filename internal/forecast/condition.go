package forecast

import "fmt"

// WeatherCondition is a coarse weather category used to pick an icon.
type WeatherCondition string

const (
	ConditionClearDay     WeatherCondition = "clear_day"
	ConditionClearNight   WeatherCondition = "clear_night"
	ConditionPartlyCloudy WeatherCondition = "partly_cloudy"
	ConditionCloudy       WeatherCondition = "cloudy"
	ConditionFog          WeatherCondition = "fog"
	ConditionDrizzle      WeatherCondition = "drizzle"
	ConditionRain         WeatherCondition = "rain"
	ConditionSnow         WeatherCondition = "snow"
	ConditionStorm        WeatherCondition = "storm"
	ConditionUnknown      WeatherCondition = "unknown"
)

// codeDescriptions is the Open-Meteo WMO weather interpretation table.
var codeDescriptions = map[int]string{
	0:  "Clear sky",
	1:  "Mainly clear",
	2:  "Partly cloudy",
	3:  "Overcast",
	45: "Fog",
	48: "Depositing rime fog",
	51: "Light drizzle",
	53: "Moderate drizzle",
	55: "Dense drizzle",
	56: "Light freezing drizzle",
	57: "Dense freezing drizzle",
	61: "Slight rain",
	63: "Moderate rain",
	65: "Heavy rain",
	66: "Light freezing rain",
	67: "Heavy freezing rain",
	71: "Slight snow fall",
	73: "Moderate snow fall",
	75: "Heavy snow fall",
	77: "Snow grains",
	80: "Slight rain showers",
	81: "Moderate rain showers",
	82: "Violent rain showers",
	85: "Slight snow showers",
	86: "Heavy snow showers",
	95: "Thunderstorm",
	96: "Thunderstorm with slight hail",
	99: "Thunderstorm with heavy hail",
}

// Describe returns the human-readable condition for a WMO weather code.
func Describe(code int) string {
	if desc, ok := codeDescriptions[code]; ok {
		return desc
	}
	return fmt.Sprintf("unknown code %d", code)
}

// KnownCode reports whether code is in the WMO table.
func KnownCode(code int) bool {
	_, ok := codeDescriptions[code]
	return ok
}

// ConditionForCode maps a WMO code to an icon category. Clear skies split on
// isDay; everything else is the same day and night.
func ConditionForCode(code int, isDay bool) WeatherCondition {
	switch {
	case code == 0 || code == 1:
		if isDay {
			return ConditionClearDay
		}
		return ConditionClearNight
	case code == 2:
		return ConditionPartlyCloudy
	case code == 3:
		return ConditionCloudy
	case code == 45 || code == 48:
		return ConditionFog
	case code >= 51 && code <= 57:
		return ConditionDrizzle
	case (code >= 61 && code <= 67) || (code >= 80 && code <= 82):
		return ConditionRain
	case (code >= 71 && code <= 77) || code == 85 || code == 86:
		return ConditionSnow
	case code >= 95 && code <= 99:
		return ConditionStorm
	default:
		return ConditionUnknown
	}
}
