package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/lox/weatherwidget/internal/metrics"
	"github.com/lox/weatherwidget/internal/models"
)

const (
	// BundleKey is the settings slot holding the last good bundle.
	BundleKey = "weather.last_bundle"

	bundleFormat = "bundle/v1"
	localLayout  = "2006-01-02T15:04:05"
)

// BundleCache persists the most recent successfully fetched bundle in a
// single settings slot. Only the latest bundle is kept.
type BundleCache struct {
	store *Store
	key   string
	log   zerolog.Logger
}

func NewBundleCache(s *Store, logger zerolog.Logger) *BundleCache {
	return &BundleCache{
		store: s,
		key:   BundleKey,
		log:   logger.With().Str("component", "bundle_cache").Logger(),
	}
}

// Save writes b to the cache slot. Failures are logged and swallowed so that
// a lost cache write never interrupts the live update path.
func (c *BundleCache) Save(ctx context.Context, b *models.Bundle) {
	if b == nil {
		return
	}
	data, err := json.Marshal(encodeBundle(b))
	if err != nil {
		metrics.CacheOpsTotal.WithLabelValues("save", "error").Inc()
		c.log.Warn().Err(err).Msg("encode bundle")
		return
	}
	if err := c.store.SetSetting(ctx, c.key, string(data)); err != nil {
		metrics.CacheOpsTotal.WithLabelValues("save", "error").Inc()
		c.log.Warn().Err(err).Msg("save bundle")
		return
	}
	metrics.CacheOpsTotal.WithLabelValues("save", "ok").Inc()
	c.log.Debug().Int("bytes", len(data)).Msg("bundle cached")
}

// Load returns the cached bundle. Absent, unreadable, corrupt, and
// unknown-format slots all report ok=false.
func (c *BundleCache) Load(ctx context.Context) (*models.Bundle, bool) {
	raw, found, err := c.store.GetSetting(ctx, c.key)
	if err != nil {
		metrics.CacheOpsTotal.WithLabelValues("load", "error").Inc()
		c.log.Warn().Err(err).Msg("load bundle")
		return nil, false
	}
	if !found {
		metrics.CacheOpsTotal.WithLabelValues("load", "miss").Inc()
		return nil, false
	}

	b, err := decodeBundle([]byte(raw))
	if err != nil {
		metrics.CacheOpsTotal.WithLabelValues("load", "corrupt").Inc()
		c.log.Warn().Err(err).Msg("discarding cached bundle")
		return nil, false
	}
	metrics.CacheOpsTotal.WithLabelValues("load", "hit").Inc()
	return b, true
}

// Clear removes the cached bundle.
func (c *BundleCache) Clear(ctx context.Context) error {
	return c.store.DeleteSetting(ctx, c.key)
}

// bundleRecord is the persisted form of a bundle. Local timestamps are kept as
// wall-clock strings and rebuilt in the bundle's fixed zone on load.
type bundleRecord struct {
	Format               string        `json:"format"`
	Timezone             string        `json:"timezone"`
	TimezoneAbbreviation string        `json:"timezone_abbreviation"`
	UTCOffsetSeconds     int           `json:"utc_offset_seconds"`
	FetchedAt            time.Time     `json:"fetched_at"`
	Latitude             float64       `json:"latitude"`
	Longitude            float64       `json:"longitude"`
	Current              currentRecord `json:"current"`
	Hourly               hourlyRecord  `json:"hourly"`
	Daily                dailyRecord   `json:"daily"`
}

// Temperatures are pointers because JSON cannot carry NaN; nil stands for a
// missing reading.
type currentRecord struct {
	Time        string   `json:"time"`
	Temperature *float64 `json:"temperature"`
	WeatherCode int      `json:"weathercode"`
	IsDay       bool     `json:"is_day"`
}

type hourlyRecord struct {
	Time        []string   `json:"time"`
	Temperature []*float64 `json:"temperature"`
	WeatherCode []int      `json:"weathercode"`
	IsDay       []bool     `json:"is_day"`
}

type dailyRecord struct {
	Time        []string   `json:"time"`
	TempMin     []*float64 `json:"temp_min"`
	TempMax     []*float64 `json:"temp_max"`
	WeatherCode []int      `json:"weathercode"`
}

func encodeBundle(b *models.Bundle) bundleRecord {
	rec := bundleRecord{
		Format:               bundleFormat,
		Timezone:             b.Timezone,
		TimezoneAbbreviation: b.TimezoneAbbreviation,
		UTCOffsetSeconds:     b.UTCOffsetSeconds,
		FetchedAt:            b.FetchedAt.UTC(),
		Latitude:             b.Coordinates.Latitude,
		Longitude:            b.Coordinates.Longitude,
		Current: currentRecord{
			Time:        formatLocal(b.Current.Time),
			Temperature: nullable(b.Current.Temperature),
			WeatherCode: b.Current.WeatherCode,
			IsDay:       b.Current.IsDay,
		},
		Hourly: hourlyRecord{
			Time:        formatLocalSeries(b.Hourly.Time),
			Temperature: nullableSeries(b.Hourly.Temperature),
			WeatherCode: b.Hourly.WeatherCode,
			IsDay:       b.Hourly.IsDay,
		},
		Daily: dailyRecord{
			Time:        formatLocalSeries(b.Daily.Time),
			TempMin:     nullableSeries(b.Daily.TempMin),
			TempMax:     nullableSeries(b.Daily.TempMax),
			WeatherCode: b.Daily.WeatherCode,
		},
	}
	return rec
}

func decodeBundle(data []byte) (*models.Bundle, error) {
	var rec bundleRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if rec.Format != bundleFormat {
		return nil, fmt.Errorf("unsupported cache format %q", rec.Format)
	}

	b := &models.Bundle{
		Timezone:             rec.Timezone,
		TimezoneAbbreviation: rec.TimezoneAbbreviation,
		UTCOffsetSeconds:     rec.UTCOffsetSeconds,
		FetchedAt:            rec.FetchedAt,
		Coordinates:          models.Coordinates{Latitude: rec.Latitude, Longitude: rec.Longitude},
	}
	loc := b.Location()

	currentTime, err := parseLocal(rec.Current.Time, loc)
	if err != nil {
		return nil, fmt.Errorf("current time: %w", err)
	}
	hourlyTimes, err := parseLocalSeries(rec.Hourly.Time, loc)
	if err != nil {
		return nil, fmt.Errorf("hourly time: %w", err)
	}
	dailyTimes, err := parseLocalSeries(rec.Daily.Time, loc)
	if err != nil {
		return nil, fmt.Errorf("daily time: %w", err)
	}

	b.Current = models.Current{
		Time:        currentTime,
		Temperature: fromNullable(rec.Current.Temperature),
		WeatherCode: rec.Current.WeatherCode,
		IsDay:       rec.Current.IsDay,
	}
	b.Hourly = models.Hourly{
		Time:        hourlyTimes,
		Temperature: fromNullableSeries(rec.Hourly.Temperature),
		WeatherCode: rec.Hourly.WeatherCode,
		IsDay:       rec.Hourly.IsDay,
	}
	b.Daily = models.Daily{
		Time:        dailyTimes,
		TempMin:     fromNullableSeries(rec.Daily.TempMin),
		TempMax:     fromNullableSeries(rec.Daily.TempMax),
		WeatherCode: rec.Daily.WeatherCode,
	}

	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

func fromNullable(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

func nullableSeries(values []float64) []*float64 {
	if values == nil {
		return nil
	}
	out := make([]*float64, len(values))
	for i, v := range values {
		out[i] = nullable(v)
	}
	return out
}

func fromNullableSeries(values []*float64) []float64 {
	if values == nil {
		return nil
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = fromNullable(v)
	}
	return out
}

func formatLocal(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(localLayout)
}

func formatLocalSeries(times []time.Time) []string {
	if times == nil {
		return nil
	}
	out := make([]string, len(times))
	for i, t := range times {
		out[i] = formatLocal(t)
	}
	return out
}

func parseLocal(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(localLayout, s, loc)
}

func parseLocalSeries(values []string, loc *time.Location) ([]time.Time, error) {
	if values == nil {
		return nil, nil
	}
	out := make([]time.Time, len(values))
	for i, v := range values {
		t, err := parseLocal(v, loc)
		if err != nil {
			return nil, fmt.Errorf("[%d]=%q: %w", i, v, err)
		}
		out[i] = t
	}
	return out, nil
}
