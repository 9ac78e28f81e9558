package evaluation

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PersonaBaseline overrides expectations for one persona. Weights are
// merged over the global weights; a nil map inherits them unchanged.
type PersonaBaseline struct {
	Expected map[string]float64 `json:"expected" yaml:"expected"`
	Weights  map[string]float64 `json:"weights,omitempty" yaml:"weights,omitempty"`
}

// Baseline is the expected engagement profile a run is scored against.
type Baseline struct {
	Expected   map[string]float64         `json:"expected" yaml:"expected"`
	Weights    map[string]float64         `json:"weights,omitempty" yaml:"weights,omitempty"`
	PerPersona map[string]PersonaBaseline `json:"perPersona,omitempty" yaml:"per_persona,omitempty"`
}

// DefaultWeights splits the score evenly between like and comment
// counts; rates participate only when weighted explicitly.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		"likeCount":    0.5,
		"commentCount": 0.5,
		"likeRate":     0,
		"commentRate":  0,
	}
}

// LoadBaseline reads and validates an expected baseline YAML file.
func LoadBaseline(path string) (*Baseline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading expected baseline: %w", err)
	}

	var b Baseline
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parsing expected baseline %s: %w", path, err)
	}

	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("invalid expected baseline %s: %w", path, err)
	}
	return &b, nil
}

// Validate checks metric names and fills in default weights.
func (b *Baseline) Validate() error {
	if len(b.Expected) == 0 && len(b.PerPersona) == 0 {
		return fmt.Errorf("baseline defines no expected metrics")
	}

	if err := checkMetricNames(b.Expected); err != nil {
		return err
	}
	if err := checkMetricNames(b.Weights); err != nil {
		return err
	}
	for personaID, pb := range b.PerPersona {
		if err := checkMetricNames(pb.Expected); err != nil {
			return fmt.Errorf("persona %s: %w", personaID, err)
		}
		if err := checkMetricNames(pb.Weights); err != nil {
			return fmt.Errorf("persona %s: %w", personaID, err)
		}
	}

	if b.Weights == nil {
		b.Weights = DefaultWeights()
	}
	return nil
}

func checkMetricNames(metrics map[string]float64) error {
	for name, value := range metrics {
		if _, known := actualValue(MetricTotals{}, name); !known {
			return fmt.Errorf("unknown metric %q", name)
		}
		if value < 0 {
			return fmt.Errorf("metric %q is negative", name)
		}
	}
	return nil
}

// personaWeights resolves the weight map for one persona. An override
// is merged over a copy of the global weights, so metrics the override
// does not mention keep their global weight.
func (b *Baseline) personaWeights(personaID string) map[string]float64 {
	pb, ok := b.PerPersona[personaID]
	if !ok || pb.Weights == nil {
		return b.Weights
	}

	merged := make(map[string]float64, len(b.Weights)+len(pb.Weights))
	for name, weight := range b.Weights {
		merged[name] = weight
	}
	for name, weight := range pb.Weights {
		merged[name] = weight
	}
	return merged
}
