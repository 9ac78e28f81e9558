package evaluation

import (
	"encoding/json"
	"math"
	"sort"
)

// SimilarityCount scores a count metric by relative error with a
// denominator floor of 1, so expected == 0 does not divide by zero.
func SimilarityCount(expected, actual float64) float64 {
	denom := math.Max(expected, 1)
	return math.Max(0, 1-math.Abs(actual-expected)/denom)
}

// SimilarityRate scores a rate metric by absolute error. Both values
// are already bounded to [0,1].
func SimilarityRate(expected, actual float64) float64 {
	return math.Max(0, 1-math.Abs(actual-expected))
}

// NormalizeWeights rescales the weights of exactly the present metrics
// to sum to 1. Metrics absent from weights default to 0. If the present
// weights sum to 0 or less, the result is nil: no metric is scorable.
func NormalizeWeights(weights map[string]float64, present []string) map[string]float64 {
	total := 0.0
	for _, name := range present {
		total += weights[name]
	}
	if total <= 0 {
		return nil
	}

	out := make(map[string]float64, len(present))
	for _, name := range present {
		out[name] = weights[name] / total
	}
	return out
}

// MetricScore is the per-metric breakdown of a similarity block.
type MetricScore struct {
	Expected   float64 `json:"expected"`
	Actual     float64 `json:"actual"`
	Similarity float64 `json:"similarity"`
	Weight     float64 `json:"weight"`
}

// Block holds the scored metrics and the weighted overall similarity.
// Overall is nil when no weighted metric is active; it serializes as a
// JSON null, never as zero.
type Block struct {
	Metrics map[string]MetricScore
	Overall *float64
}

// MarshalJSON renders the block with an explicit overallSimilarity key.
func (b Block) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Metrics           map[string]MetricScore `json:"metrics"`
		OverallSimilarity *float64               `json:"overallSimilarity"`
	}{Metrics: b.Metrics, OverallSimilarity: b.Overall})
}

// UnmarshalJSON restores a block written by MarshalJSON.
func (b *Block) UnmarshalJSON(data []byte) error {
	var raw struct {
		Metrics           map[string]MetricScore `json:"metrics"`
		OverallSimilarity *float64               `json:"overallSimilarity"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	b.Metrics = raw.Metrics
	b.Overall = raw.OverallSimilarity
	return nil
}

// ComputeBlock scores the expected metrics against the actual totals.
// Only metrics named in expected participate; their weights are
// renormalized over exactly that set. Metric iteration order does not
// affect the result, but present is sorted anyway so breakdowns list
// deterministically in tests and logs.
func ComputeBlock(expected map[string]float64, weights map[string]float64, totals MetricTotals) Block {
	present := make([]string, 0, len(expected))
	for name := range expected {
		present = append(present, name)
	}
	sort.Strings(present)

	normalized := NormalizeWeights(weights, present)

	metrics := make(map[string]MetricScore, len(present))
	var overall *float64

	for _, name := range present {
		exp := expected[name]
		act, _ := actualValue(totals, name)

		var sim float64
		if isRateMetric(name) {
			sim = SimilarityRate(exp, act)
		} else {
			sim = SimilarityCount(exp, act)
		}

		score := MetricScore{Expected: exp, Actual: act, Similarity: sim}
		if normalized != nil {
			score.Weight = normalized[name]
			if overall == nil {
				overall = new(float64)
			}
			*overall += score.Weight * sim
		}
		metrics[name] = score
	}

	return Block{Metrics: metrics, Overall: overall}
}
