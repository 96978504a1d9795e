package console

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/weatherwidget/internal/models"
	"github.com/lox/weatherwidget/internal/presenter"
	"github.com/lox/weatherwidget/internal/theme"
)

func testBundle() *models.Bundle {
	loc := time.FixedZone("+03", 3*3600)
	start := time.Date(2025, 7, 14, 0, 0, 0, 0, loc)
	b := &models.Bundle{
		Current:              models.Current{Time: start.Add(10 * time.Hour), Temperature: 27.4, WeatherCode: 1, IsDay: true},
		TimezoneAbbreviation: "+03",
		UTCOffsetSeconds:     3 * 3600,
		FetchedAt:            time.Date(2025, 7, 14, 7, 15, 0, 0, time.UTC),
	}
	for i := 0; i < 24; i++ {
		b.Hourly.Time = append(b.Hourly.Time, start.Add(time.Duration(i)*time.Hour))
		b.Hourly.Temperature = append(b.Hourly.Temperature, 20+float64(i)/2)
		b.Hourly.WeatherCode = append(b.Hourly.WeatherCode, 3)
		b.Hourly.IsDay = append(b.Hourly.IsDay, true)
	}
	b.Daily.Time = []time.Time{start, start.AddDate(0, 0, 1)}
	b.Daily.TempMin = []float64{18, 19}
	b.Daily.TempMax = []float64{30, 31}
	b.Daily.WeatherCode = []int{61, 95}
	return b
}

func setup(t *testing.T) (*presenter.Adapter, *Renderer, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	adapter := presenter.New(zerolog.Nop())
	r := New(&buf, false, adapter)
	r.now = func() time.Time { return time.Date(2025, 7, 14, 10, 30, 0, 0, time.FixedZone("+03", 3*3600)) }
	adapter.Subscribe(r)
	return adapter, r, &buf
}

func TestRender_Success(t *testing.T) {
	adapter, _, buf := setup(t)
	adapter.SetLocation(models.Coordinates{Latitude: 41.0082, Longitude: 28.9784})

	score := models.Score{Value: 80, Available: true, Explanation: "predicted 25.8°, observed 27.4°, error 1.6°"}
	adapter.OnUpdate(testBundle(), score, models.StateSuccess)

	out := buf.String()
	assert.Contains(t, out, "41.0082,28.9784  success")
	assert.Contains(t, out, "27.4°  Mainly clear")
	assert.Contains(t, out, "consistency 80%  predicted 25.8°, observed 27.4°, error 1.6°")
	assert.Contains(t, out, "next: 11:00 25.5° Overcast | 14:00 27.0° Overcast | 17:00 28.5° Overcast | 20:00 30.0° Overcast")
	assert.Contains(t, out, "days: Mon 18.0°/30.0° Slight rain | Tue 19.0°/31.0° Thunderstorm")
	assert.NotContains(t, out, "offline")
	assert.NotContains(t, out, "\x1b[")
}

func TestRender_StaleAndUnavailable(t *testing.T) {
	adapter, _, buf := setup(t)
	adapter.OnUpdate(testBundle(), models.UnavailableScore(models.ReasonNoPredictor, "no predictor loaded"), models.StateUsingCache)

	out := buf.String()
	assert.Contains(t, out, "using_cache")
	assert.Contains(t, out, "offline, showing data from Jul 14 10:15")
	assert.Contains(t, out, "consistency n/a")
}

func TestRender_NoData(t *testing.T) {
	adapter, _, buf := setup(t)
	adapter.OnUpdate(nil, models.UnavailableScore(models.ReasonNoObservation, "no weather data"), models.StateNoData)
	assert.Contains(t, buf.String(), "no weather data available")

	buf.Reset()
	adapter.OnUpdate(nil, models.Score{}, models.StateFetching)
	assert.Contains(t, buf.String(), "fetching weather...")
}

func TestRender_MissingTemperature(t *testing.T) {
	adapter, _, buf := setup(t)
	b := testBundle()
	b.Current.Temperature = math.NaN()
	adapter.OnUpdate(b, models.Score{}, models.StateSuccess)
	assert.Contains(t, buf.String(), "--°  Mainly clear")
}

func TestRender_ColorFollowsTheme(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, true, nil)

	r.Render(models.Snapshot{Bundle: testBundle(), State: models.StateSuccess})
	// Dark accent #4fc3f7.
	assert.Contains(t, buf.String(), "\x1b[38;2;79;195;247m")

	light, err := theme.Lookup("light")
	require.NoError(t, err)
	r.ApplyTheme(light)
	buf.Reset()
	r.Render(models.Snapshot{Bundle: testBundle(), State: models.StateSuccess})
	// Light accent #1565c0.
	assert.Contains(t, buf.String(), "\x1b[38;2;21;101;192m")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(buf.String()), "\x1b[0m"))
}

func TestParseHex(t *testing.T) {
	r, g, b, ok := parseHex("#ff7043")
	require.True(t, ok)
	assert.Equal(t, []uint8{255, 112, 67}, []uint8{r, g, b})

	_, _, _, ok = parseHex("red")
	assert.False(t, ok)
	_, _, _, ok = parseHex("#zzzzzz")
	assert.False(t, ok)
}
