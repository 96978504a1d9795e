package consistency

import (
	"context"
	"math"
	"time"
)

// Predictor produces temperature predictions for a set of instants. It is a
// black box to the scorer; implementations may be slow or fail.
type Predictor interface {
	Predict(ctx context.Context, times []time.Time) (Predictions, error)
}

// Series is one named prediction target, parallel to the requested times.
type Series struct {
	Name   string
	Values []float64
}

// Predictions holds one or more targets. The first is the primary one.
type Predictions []Series

// Primary returns the first series' values, or nil when there are none.
func (p Predictions) Primary() []float64 {
	if len(p) == 0 {
		return nil
	}
	return p[0].Values
}

// FeatureNames lists every calendar feature Features computes.
var FeatureNames = []string{
	"month", "day", "hour", "day_of_week", "day_of_year", "quarter",
	"is_weekend", "season", "month_sin", "month_cos", "hour_sin", "hour_cos",
}

// Features derives calendar features from t's wall clock. day_of_week counts
// from Monday=0; season is 1 for DJF, 2 for MAM, 3 for JJA, 4 for SON.
func Features(t time.Time) map[string]float64 {
	month := int(t.Month())
	hour := t.Hour()
	dow := (int(t.Weekday()) + 6) % 7

	isWeekend := 0.0
	if dow >= 5 {
		isWeekend = 1
	}

	var season float64
	switch month {
	case 12, 1, 2:
		season = 1
	case 3, 4, 5:
		season = 2
	case 6, 7, 8:
		season = 3
	default:
		season = 4
	}

	return map[string]float64{
		"month":       float64(month),
		"day":         float64(t.Day()),
		"hour":        float64(hour),
		"day_of_week": float64(dow),
		"day_of_year": float64(t.YearDay()),
		"quarter":     float64((month-1)/3 + 1),
		"is_weekend":  isWeekend,
		"season":      season,
		"month_sin":   math.Sin(2 * math.Pi * float64(month) / 12),
		"month_cos":   math.Cos(2 * math.Pi * float64(month) / 12),
		"hour_sin":    math.Sin(2 * math.Pi * float64(hour) / 24),
		"hour_cos":    math.Cos(2 * math.Pi * float64(hour) / 24),
	}
}
