package consistency

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/lox/weatherwidget/internal/metrics"
	"github.com/lox/weatherwidget/internal/models"
)

// Tolerance is the absolute error, in degrees, at which the score reaches 0.
const Tolerance = 8.0

// Compare scores how closely a prediction matches an observation:
// round(max(0, 100 - |observed-predicted|/Tolerance*100)).
func Compare(observed, predicted float64) models.Score {
	e := math.Abs(observed - predicted)
	value := math.Round(math.Max(0, 100-e/Tolerance*100))
	return models.Score{
		Value:       int(value),
		Available:   true,
		Reason:      models.ReasonOK,
		Observed:    observed,
		Predicted:   predicted,
		AbsError:    e,
		Explanation: fmt.Sprintf("predicted %.1f°, observed %.1f°, error %.1f°", predicted, observed, e),
	}
}

// Scorer compares a bundle's current temperature with the predictor's output
// for the same hour. It never fails; problems yield an unavailable score.
type Scorer struct {
	predictor Predictor
	log       zerolog.Logger
}

// NewScorer builds a scorer. A nil predictor is allowed and makes every score
// unavailable.
func NewScorer(p Predictor, logger zerolog.Logger) *Scorer {
	return &Scorer{
		predictor: p,
		log:       logger.With().Str("component", "scorer").Logger(),
	}
}

func (s *Scorer) Score(ctx context.Context, b *models.Bundle, at time.Time) models.Score {
	score := s.score(ctx, b, at)
	metrics.ScoresTotal.WithLabelValues(string(score.Reason)).Inc()
	return score
}

func (s *Scorer) score(ctx context.Context, b *models.Bundle, at time.Time) models.Score {
	if s.predictor == nil {
		return models.UnavailableScore(models.ReasonNoPredictor, "no predictor loaded")
	}
	if b == nil || math.IsNaN(b.Current.Temperature) {
		return models.UnavailableScore(models.ReasonNoObservation, "no current temperature")
	}

	local := at.In(b.Location())
	target := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, local.Location())
	preds, err := s.predict(ctx, target)
	if err != nil {
		s.log.Warn().Err(err).Time("at", target).Msg("prediction failed")
		return models.UnavailableScore(models.ReasonPredictorError, "prediction failed")
	}

	values := preds.Primary()
	if len(values) == 0 || math.IsNaN(values[0]) || math.IsInf(values[0], 0) {
		return models.UnavailableScore(models.ReasonNoPrediction, "no prediction for this hour")
	}
	return Compare(b.Current.Temperature, values[0])
}

// predict converts predictor panics into errors.
func (s *Scorer) predict(ctx context.Context, at time.Time) (preds Predictions, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("predictor panic: %v", r)
		}
	}()
	return s.predictor.Predict(ctx, []time.Time{at})
}
