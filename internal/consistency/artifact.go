package consistency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"
)

const LinearFormat = "linear/v1"

var (
	// ErrUnsupportedFormat is returned for artifacts whose format tag is not
	// recognised. There is no fallback loader.
	ErrUnsupportedFormat = errors.New("unsupported model format")
	ErrInvalidArtifact   = errors.New("invalid model artifact")
)

type artifact struct {
	Format  string         `json:"format"`
	Targets []linearTarget `json:"targets"`
}

type linearTarget struct {
	Name         string             `json:"name"`
	Intercept    float64            `json:"intercept"`
	Coefficients map[string]float64 `json:"coefficients"`
}

// LinearModel predicts each target as intercept + sum(weight * feature).
type LinearModel struct {
	targets []linearTarget
}

// LoadArtifact reads a model artifact from path.
func LoadArtifact(path string) (*LinearModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model artifact: %w", err)
	}
	model, err := ParseArtifact(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return model, nil
}

func ParseArtifact(data []byte) (*LinearModel, error) {
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	if a.Format != LinearFormat {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, a.Format)
	}
	if len(a.Targets) == 0 {
		return nil, fmt.Errorf("%w: no targets", ErrInvalidArtifact)
	}
	for i, t := range a.Targets {
		if t.Name == "" {
			return nil, fmt.Errorf("%w: target %d has no name", ErrInvalidArtifact, i)
		}
		for feature := range t.Coefficients {
			if !slices.Contains(FeatureNames, feature) {
				return nil, fmt.Errorf("%w: target %s uses unknown feature %q", ErrInvalidArtifact, t.Name, feature)
			}
		}
	}
	return &LinearModel{targets: a.Targets}, nil
}

// Targets returns the target names in artifact order.
func (m *LinearModel) Targets() []string {
	names := make([]string, len(m.targets))
	for i, t := range m.targets {
		names[i] = t.Name
	}
	return names
}

func (m *LinearModel) Predict(ctx context.Context, times []time.Time) (Predictions, error) {
	out := make(Predictions, len(m.targets))
	for i, t := range m.targets {
		out[i] = Series{Name: t.Name, Values: make([]float64, len(times))}
	}
	for j, at := range times {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		features := Features(at)
		for i, t := range m.targets {
			v := t.Intercept
			for name, w := range t.Coefficients {
				v += w * features[name]
			}
			out[i].Values[j] = v
		}
	}
	return out, nil
}
