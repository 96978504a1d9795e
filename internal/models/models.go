package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidBundle is wrapped by every Bundle.Validate failure.
var ErrInvalidBundle = errors.New("invalid bundle")

type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// DefaultLocation is used when no location has been configured (Istanbul).
var DefaultLocation = Coordinates{Latitude: 41.0082, Longitude: 28.9784}

func (c Coordinates) String() string {
	return fmt.Sprintf("%.4f,%.4f", c.Latitude, c.Longitude)
}

func (c Coordinates) Validate() error {
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", c.Longitude)
	}
	return nil
}

// ParseCoordinates parses the "lat,lon" form produced by String.
func ParseCoordinates(s string) (Coordinates, error) {
	latStr, lonStr, ok := strings.Cut(s, ",")
	if !ok {
		return Coordinates{}, fmt.Errorf("coordinates %q: want lat,lon", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return Coordinates{}, fmt.Errorf("latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return Coordinates{}, fmt.Errorf("longitude: %w", err)
	}
	c := Coordinates{Latitude: lat, Longitude: lon}
	if err := c.Validate(); err != nil {
		return Coordinates{}, err
	}
	return c, nil
}

type Current struct {
	Time        time.Time
	Temperature float64
	WeatherCode int
	IsDay       bool
}

// Hourly holds parallel series indexed by Time.
type Hourly struct {
	Time        []time.Time
	Temperature []float64
	WeatherCode []int
	IsDay       []bool
}

// Daily holds parallel series indexed by Time (local midnight of each day).
type Daily struct {
	Time        []time.Time
	TempMin     []float64
	TempMax     []float64
	WeatherCode []int
}

// Bundle is one current/hourly/daily snapshot for a location. Once built it
// is never mutated; a newer fetch replaces it wholesale.
type Bundle struct {
	Current              Current
	Hourly               Hourly
	Daily                Daily
	Timezone             string
	TimezoneAbbreviation string
	UTCOffsetSeconds     int
	FetchedAt            time.Time

	// Coordinates are the requested location, not the grid cell the API
	// snapped to. Zero for bundles cached before they were recorded.
	Coordinates Coordinates
}

// Location returns the fixed zone the bundle's local timestamps are expressed in.
func (b *Bundle) Location() *time.Location {
	return time.FixedZone(b.TimezoneAbbreviation, b.UTCOffsetSeconds)
}

func (b *Bundle) Validate() error {
	h := b.Hourly
	if len(h.Temperature) != len(h.Time) || len(h.WeatherCode) != len(h.Time) || len(h.IsDay) != len(h.Time) {
		return fmt.Errorf("%w: hourly series lengths differ (time=%d temperature=%d weathercode=%d is_day=%d)",
			ErrInvalidBundle, len(h.Time), len(h.Temperature), len(h.WeatherCode), len(h.IsDay))
	}
	if err := strictlyAscending("hourly", h.Time); err != nil {
		return err
	}

	d := b.Daily
	if len(d.TempMin) != len(d.Time) || len(d.TempMax) != len(d.Time) || len(d.WeatherCode) != len(d.Time) {
		return fmt.Errorf("%w: daily series lengths differ (time=%d temp_min=%d temp_max=%d weathercode=%d)",
			ErrInvalidBundle, len(d.Time), len(d.TempMin), len(d.TempMax), len(d.WeatherCode))
	}
	return strictlyAscending("daily", d.Time)
}

func strictlyAscending(section string, times []time.Time) error {
	for i := 1; i < len(times); i++ {
		if !times[i].After(times[i-1]) {
			return fmt.Errorf("%w: %s time[%d]=%s not after time[%d]=%s", ErrInvalidBundle,
				section, i, times[i].Format(time.RFC3339), i-1, times[i-1].Format(time.RFC3339))
		}
	}
	return nil
}

// FetchState tags what a published snapshot represents.
type FetchState int

const (
	StateIdle FetchState = iota
	StateFetching
	StateSuccess
	StateFailed
	StateUsingCache
	StateNoData
)

func (s FetchState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	case StateUsingCache:
		return "using_cache"
	case StateNoData:
		return "no_data"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type ScoreReason string

const (
	ReasonOK             ScoreReason = "ok"
	ReasonNoPredictor    ScoreReason = "no_predictor"
	ReasonNoObservation  ScoreReason = "no_observation"
	ReasonNoPrediction   ScoreReason = "no_prediction"
	ReasonPredictorError ScoreReason = "predictor_error"
)

// Score is the consistency between the live observation and the model
// prediction. Value is only meaningful when Available is true.
type Score struct {
	Value       int
	Available   bool
	Reason      ScoreReason
	Observed    float64
	Predicted   float64
	AbsError    float64
	Explanation string
}

// UnavailableScore builds the sentinel returned when no score can be computed.
func UnavailableScore(reason ScoreReason, explanation string) Score {
	return Score{Reason: reason, Explanation: explanation}
}

// Snapshot is what the display layer sees: the current bundle (nil when there
// is no data) plus a state tag.
type Snapshot struct {
	Bundle    *Bundle
	Score     Score
	State     FetchState
	Stale     bool
	Location  Coordinates
	UpdatedAt time.Time
}
