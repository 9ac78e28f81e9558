// Package evaluation compares observed engagement against an expected
// baseline and produces a reproducible similarity score.
package evaluation

import (
	"strings"

	"github.com/sns-vibe/agentsim/internal/models"
)

// MetricTotals aggregates engagement counts extracted from a ledger.
// EngagementCount is likeCount + commentCount, so one act that both
// likes and comments contributes 2, and follows contribute nothing.
// Rates are count / totalActs, defined as 0 when totalActs == 0.
type MetricTotals struct {
	TotalActs       int     `json:"totalActs"`
	LikeCount       int     `json:"likeCount"`
	CommentCount    int     `json:"commentCount"`
	FollowCount     int     `json:"followCount"`
	EngagementCount int     `json:"engagementCount"`
	LikeRate        float64 `json:"likeRate"`
	CommentRate     float64 `json:"commentRate"`

	// MarketingEngagement counts engaged acts on posts tagged #ad or
	// #sponsored.
	MarketingEngagement int `json:"marketingEngagement"`
}

// Analytics summarizes run-level engagement for the evaluation record.
// EngagementRate is engagementCount / totalActs, 0 when there were no
// successful acts.
type Analytics struct {
	EngagementCount     int     `json:"engagementCount"`
	EngagementRate      float64 `json:"engagementRate"`
	MarketingEngagement int     `json:"marketingEngagement"`
}

// Actuals holds run-level totals plus per-persona sub-totals.
type Actuals struct {
	Totals     MetricTotals            `json:"totals"`
	Analytics  Analytics               `json:"analytics"`
	PerPersona map[string]MetricTotals `json:"perPersona"`
}

// ComputeActual scans ledger records for successful act actions and
// accumulates engagement totals. Only records with action.type == "act"
// and action.status == "ok" contribute.
func ComputeActual(records []models.ActionRecord) Actuals {
	totals := MetricTotals{}
	perPersona := make(map[string]MetricTotals)

	for _, r := range records {
		if r.Action.Type != "act" || r.Action.Status != models.StatusOK {
			continue
		}

		liked, commented, followed := actOutcome(r.Action)
		marketing := (liked || commented || followed) && hasMarketingTag(r.Action)

		accumulate(&totals, liked, commented, followed, marketing)

		personaID := r.Agent.PersonaID
		sub := perPersona[personaID]
		accumulate(&sub, liked, commented, followed, marketing)
		perPersona[personaID] = sub
	}

	finalize(&totals)
	for id, sub := range perPersona {
		finalize(&sub)
		perPersona[id] = sub
	}

	analytics := Analytics{
		EngagementCount:     totals.EngagementCount,
		MarketingEngagement: totals.MarketingEngagement,
	}
	if totals.TotalActs > 0 {
		analytics.EngagementRate = float64(totals.EngagementCount) / float64(totals.TotalActs)
	}

	return Actuals{Totals: totals, Analytics: analytics, PerPersona: perPersona}
}

func accumulate(t *MetricTotals, liked, commented, followed, marketing bool) {
	t.TotalActs++
	if liked {
		t.LikeCount++
	}
	if commented {
		t.CommentCount++
	}
	if followed {
		t.FollowCount++
	}
	if marketing {
		t.MarketingEngagement++
	}
}

func finalize(t *MetricTotals) {
	t.EngagementCount = t.LikeCount + t.CommentCount
	if t.TotalActs == 0 {
		return
	}
	t.LikeRate = float64(t.LikeCount) / float64(t.TotalActs)
	t.CommentRate = float64(t.CommentCount) / float64(t.TotalActs)
}

// actOutcome classifies an act record from its output's result block.
func actOutcome(action models.ActionDetail) (liked, commented, followed bool) {
	result, ok := action.Output["result"].(map[string]any)
	if !ok {
		return false, false, false
	}
	return result["liked"] == true, result["commented"] == true, result["followed"] == true
}

// hasMarketingTag reports whether the acted-on post carried an #ad or
// #sponsored hashtag. Tags are carried in the act output, with the
// input as fallback for older ledgers.
func hasMarketingTag(action models.ActionDetail) bool {
	tags, ok := action.Output["tags"].([]any)
	if !ok {
		tags, ok = action.Input["tags"].([]any)
	}
	if !ok {
		return false
	}
	for _, t := range tags {
		s, ok := t.(string)
		if !ok {
			continue
		}
		switch strings.ToLower(s) {
		case "#ad", "#sponsored":
			return true
		}
	}
	return false
}

// actualValue maps a baseline metric name to its observed value. The
// second return reports whether the name is a known metric.
func actualValue(t MetricTotals, name string) (float64, bool) {
	switch name {
	case "likeCount":
		return float64(t.LikeCount), true
	case "commentCount":
		return float64(t.CommentCount), true
	case "followCount":
		return float64(t.FollowCount), true
	case "engagementCount":
		return float64(t.EngagementCount), true
	case "marketingEngagement":
		return float64(t.MarketingEngagement), true
	case "likeRate":
		return t.LikeRate, true
	case "commentRate":
		return t.CommentRate, true
	default:
		return 0, false
	}
}

// isRateMetric reports whether a metric is bounded to [0,1] and scored
// with absolute rather than relative error.
func isRateMetric(name string) bool {
	return strings.HasSuffix(name, "Rate")
}
