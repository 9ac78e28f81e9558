package evaluation

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSimilarityCount(t *testing.T) {
	tests := []struct {
		name     string
		expected float64
		actual   float64
		want     float64
	}{
		{name: "exact match", expected: 10, actual: 10, want: 1.0},
		{name: "under by twenty percent", expected: 10, actual: 8, want: 0.8},
		{name: "over by twenty percent", expected: 10, actual: 12, want: 0.8},
		{name: "both zero", expected: 0, actual: 0, want: 1.0},
		{name: "zero expected nonzero actual", expected: 0, actual: 5, want: 0.0},
		{name: "wildly off clamps to zero", expected: 2, actual: 100, want: 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SimilarityCount(tt.expected, tt.actual); !almostEqual(got, tt.want) {
				t.Errorf("SimilarityCount(%v, %v) = %v, want %v", tt.expected, tt.actual, got, tt.want)
			}
		})
	}
}

func TestSimilarityRate(t *testing.T) {
	tests := []struct {
		name     string
		expected float64
		actual   float64
		want     float64
	}{
		{name: "exact match", expected: 0.5, actual: 0.5, want: 1.0},
		{name: "absolute error", expected: 0.8, actual: 0.6, want: 0.8},
		{name: "full miss", expected: 1.0, actual: 0.0, want: 0.0},
		{name: "zero both", expected: 0, actual: 0, want: 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SimilarityRate(tt.expected, tt.actual); !almostEqual(got, tt.want) {
				t.Errorf("SimilarityRate(%v, %v) = %v, want %v", tt.expected, tt.actual, got, tt.want)
			}
		})
	}
}

func TestNormalizeWeights(t *testing.T) {
	weights := map[string]float64{
		"likeCount":    0.5,
		"commentCount": 0.5,
		"likeRate":     0,
		"commentRate":  0,
	}

	// Only two of four metrics present: their weights rescale to sum 1.
	normalized := NormalizeWeights(weights, []string{"likeCount", "commentCount"})
	if !almostEqual(normalized["likeCount"], 0.5) || !almostEqual(normalized["commentCount"], 0.5) {
		t.Errorf("normalized = %v", normalized)
	}

	// Unequal weights rescale proportionally.
	normalized = NormalizeWeights(map[string]float64{"likeCount": 1, "commentCount": 3}, []string{"likeCount", "commentCount"})
	if !almostEqual(normalized["likeCount"], 0.25) || !almostEqual(normalized["commentCount"], 0.75) {
		t.Errorf("normalized = %v", normalized)
	}

	// All present weights zero: nothing is scorable.
	if got := NormalizeWeights(weights, []string{"likeRate", "commentRate"}); got != nil {
		t.Errorf("NormalizeWeights with zero weights = %v, want nil", got)
	}

	// No present metrics at all.
	if got := NormalizeWeights(weights, nil); got != nil {
		t.Errorf("NormalizeWeights with no metrics = %v, want nil", got)
	}
}

func TestComputeBlockReferenceScenario(t *testing.T) {
	expected := map[string]float64{"likeCount": 10, "commentCount": 5}
	weights := map[string]float64{"likeCount": 0.5, "commentCount": 0.5}
	totals := MetricTotals{TotalActs: 20, LikeCount: 8, CommentCount: 5}

	block := ComputeBlock(expected, weights, totals)

	if got := block.Metrics["likeCount"].Similarity; !almostEqual(got, 0.8) {
		t.Errorf("likeCount similarity = %v, want 0.8", got)
	}
	if got := block.Metrics["commentCount"].Similarity; !almostEqual(got, 1.0) {
		t.Errorf("commentCount similarity = %v, want 1.0", got)
	}
	if block.Overall == nil {
		t.Fatal("Overall = nil, want 0.9")
	}
	if !almostEqual(*block.Overall, 0.9) {
		t.Errorf("Overall = %v, want 0.9", *block.Overall)
	}
}

func TestComputeBlockExcludesAbsentMetrics(t *testing.T) {
	expected := map[string]float64{"likeCount": 4, "likeRate": 0.5}
	weights := DefaultWeights()
	totals := MetricTotals{TotalActs: 8, LikeCount: 4, CommentCount: 8, LikeRate: 0.5, CommentRate: 1.0}

	block := ComputeBlock(expected, weights, totals)

	if _, ok := block.Metrics["commentCount"]; ok {
		t.Error("commentCount should not be scored when absent from expected")
	}
	// likeRate carries weight 0, so only likeCount contributes.
	if !almostEqual(block.Metrics["likeCount"].Weight, 1.0) {
		t.Errorf("likeCount weight = %v, want 1.0 after renormalization", block.Metrics["likeCount"].Weight)
	}
	if block.Overall == nil || !almostEqual(*block.Overall, 1.0) {
		t.Errorf("Overall = %v, want 1.0", block.Overall)
	}
}

func TestComputeBlockNullOverall(t *testing.T) {
	// The only expected metric carries zero weight everywhere.
	expected := map[string]float64{"likeRate": 0.5}
	weights := map[string]float64{"likeRate": 0}

	block := ComputeBlock(expected, weights, MetricTotals{})
	if block.Overall != nil {
		t.Errorf("Overall = %v, want nil", *block.Overall)
	}
	// The metric itself is still scored, just unweighted.
	if _, ok := block.Metrics["likeRate"]; !ok {
		t.Error("likeRate should still appear in the breakdown")
	}

	data, err := json.Marshal(block)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"overallSimilarity":null`) {
		t.Errorf("marshaled block = %s, want explicit null overallSimilarity", data)
	}
}

func TestComputeBlockRoundTripIsOne(t *testing.T) {
	totals := MetricTotals{TotalActs: 10, LikeCount: 7, CommentCount: 3, LikeRate: 0.7, CommentRate: 0.3}
	expected := map[string]float64{
		"likeCount":    7,
		"commentCount": 3,
		"likeRate":     0.7,
		"commentRate":  0.3,
	}
	weights := map[string]float64{
		"likeCount":    0.25,
		"commentCount": 0.25,
		"likeRate":     0.25,
		"commentRate":  0.25,
	}

	block := ComputeBlock(expected, weights, totals)
	if block.Overall == nil || !almostEqual(*block.Overall, 1.0) {
		t.Errorf("Overall = %v, want 1.0 when actual equals expected", block.Overall)
	}
}
