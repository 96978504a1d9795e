package forecast

import "testing"

func TestDescribe(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{0, "Clear sky"},
		{3, "Overcast"},
		{48, "Depositing rime fog"},
		{57, "Dense freezing drizzle"},
		{65, "Heavy rain"},
		{77, "Snow grains"},
		{82, "Violent rain showers"},
		{86, "Heavy snow showers"},
		{99, "Thunderstorm with heavy hail"},
		{4, "unknown code 4"},
		{-1, "unknown code -1"},
	}

	for _, tt := range tests {
		if got := Describe(tt.code); got != tt.want {
			t.Errorf("Describe(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestWMOTableCoverage(t *testing.T) {
	codes := []int{0, 1, 2, 3, 45, 48, 51, 53, 55, 56, 57, 61, 63, 65, 66, 67,
		71, 73, 75, 77, 80, 81, 82, 85, 86, 95, 96, 99}
	for _, code := range codes {
		if !KnownCode(code) {
			t.Errorf("code %d missing from table", code)
		}
		if ConditionForCode(code, true) == ConditionUnknown {
			t.Errorf("code %d has no condition category", code)
		}
	}
	if len(codeDescriptions) != len(codes) {
		t.Errorf("table has %d codes, want %d", len(codeDescriptions), len(codes))
	}
}

func TestConditionForCode(t *testing.T) {
	tests := []struct {
		name  string
		code  int
		isDay bool
		want  WeatherCondition
	}{
		{"clear day", 0, true, ConditionClearDay},
		{"clear night", 1, false, ConditionClearNight},
		{"partly cloudy ignores night", 2, false, ConditionPartlyCloudy},
		{"overcast", 3, true, ConditionCloudy},
		{"rime fog", 48, true, ConditionFog},
		{"freezing drizzle", 56, true, ConditionDrizzle},
		{"rain", 63, true, ConditionRain},
		{"showers", 81, false, ConditionRain},
		{"snow grains", 77, true, ConditionSnow},
		{"snow showers", 85, true, ConditionSnow},
		{"hail storm", 96, true, ConditionStorm},
		{"unmapped", 30, true, ConditionUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConditionForCode(tt.code, tt.isDay); got != tt.want {
				t.Errorf("ConditionForCode(%d, %v) = %v, want %v", tt.code, tt.isDay, got, tt.want)
			}
		})
	}
}
