package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hours(start time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.Add(time.Duration(i) * time.Hour)
	}
	return out
}

func validBundle() *Bundle {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	return &Bundle{
		Current: Current{Time: start, Temperature: 12.5, WeatherCode: 2, IsDay: true},
		Hourly: Hourly{
			Time:        hours(start, 3),
			Temperature: []float64{10, 11, 12},
			WeatherCode: []int{0, 1, 2},
			IsDay:       []bool{false, true, true},
		},
		Daily: Daily{
			Time:        []time.Time{start, start.AddDate(0, 0, 1)},
			TempMin:     []float64{4, 5},
			TempMax:     []float64{14, 15},
			WeatherCode: []int{3, 61},
		},
	}
}

func TestBundleValidate(t *testing.T) {
	require.NoError(t, validBundle().Validate())

	tests := []struct {
		name   string
		mutate func(b *Bundle)
	}{
		{"hourly temperature short", func(b *Bundle) { b.Hourly.Temperature = b.Hourly.Temperature[:2] }},
		{"hourly is_day long", func(b *Bundle) { b.Hourly.IsDay = append(b.Hourly.IsDay, true) }},
		{"daily weathercode short", func(b *Bundle) { b.Daily.WeatherCode = nil }},
		{"hourly duplicate timestamp", func(b *Bundle) { b.Hourly.Time[2] = b.Hourly.Time[1] }},
		{"daily descending", func(b *Bundle) {
			b.Daily.Time[0], b.Daily.Time[1] = b.Daily.Time[1], b.Daily.Time[0]
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := validBundle()
			tt.mutate(b)
			err := b.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidBundle)
		})
	}
}

func TestEmptyBundleIsValid(t *testing.T) {
	assert.NoError(t, (&Bundle{}).Validate())
}

func TestFetchStateString(t *testing.T) {
	assert.Equal(t, "using_cache", StateUsingCache.String())
	assert.Equal(t, "no_data", StateNoData.String())
	assert.Equal(t, "state(42)", FetchState(42).String())
}

func TestCoordinatesString(t *testing.T) {
	assert.Equal(t, "41.0082,28.9784", Coordinates{Latitude: 41.0082, Longitude: 28.9784}.String())
}

func TestParseCoordinates(t *testing.T) {
	c, err := ParseCoordinates(DefaultLocation.String())
	require.NoError(t, err)
	assert.Equal(t, DefaultLocation, c)

	c, err = ParseCoordinates(" -36.794, 146.977 ")
	require.NoError(t, err)
	assert.Equal(t, Coordinates{Latitude: -36.794, Longitude: 146.977}, c)

	for _, bad := range []string{"", "41.0", "north,east", "91,0", "0,181"} {
		_, err := ParseCoordinates(bad)
		assert.Error(t, err, bad)
	}
}
