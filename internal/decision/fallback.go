package decision

import (
	"github.com/sns-vibe/agentsim/internal/models"
)

// Machine-readable reason tags attached to downgraded decisions.
const (
	ReasonDryRun         = "dry_run"
	ReasonMissingAPIKey  = "missing_api_key"
	ReasonUnparseable    = "unparseable_response"
	ReasonRateLimited    = "rate_limited"
	ReasonHeroNotStarted = "hero_not_started"
)

// Fallback returns the deterministic bias-specific intent used whenever a
// delegated decision cannot be obtained. The reason tag ends up in the
// decision's reasoning field so ledgers show why the downgrade happened.
func Fallback(bias, reason string) *models.Decision {
	switch bias {
	case models.BiasPositive:
		return &models.Decision{
			Like:      true,
			Comment:   "Looks great. Love the vibe.",
			Sentiment: models.SentimentPositive,
			Reasoning: reason,
		}
	case models.BiasNegative:
		return &models.Decision{
			Comment:   "Not my style, but good luck.",
			Sentiment: models.SentimentNegative,
			Reasoning: reason,
		}
	default:
		return &models.Decision{
			Sentiment: models.SentimentNeutral,
			Reasoning: reason,
		}
	}
}

// Normalize coerces a raw provider payload into a valid Decision.
// A nil payload downgrades entirely to the bias-specific fallback.
// Invalid sentiments are inferred from like/comment presence; a missing
// reasoning defaults to the supplied reason tag. A done intent is
// carried either as a "done" flag or as an "action" of "done".
func Normalize(raw map[string]any, bias, reason string) *models.Decision {
	if raw == nil {
		return Fallback(bias, reason)
	}

	d := &models.Decision{
		Like:      asBool(raw["like"]),
		Comment:   asString(raw["comment"]),
		Follow:    asBool(raw["follow"]),
		Sentiment: asString(raw["sentiment"]),
		Reasoning: asString(raw["reasoning"]),
		Done:      asBool(raw["done"]) || asString(raw["action"]) == "done",
	}

	switch d.Sentiment {
	case models.SentimentPositive, models.SentimentNeutral, models.SentimentNegative:
	default:
		if d.Like || d.Comment != "" {
			d.Sentiment = models.SentimentPositive
		} else {
			d.Sentiment = models.SentimentNeutral
		}
	}

	if d.Reasoning == "" {
		d.Reasoning = reason
	}

	return d
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true" || t == "yes" || t == "1"
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return false
	}
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
