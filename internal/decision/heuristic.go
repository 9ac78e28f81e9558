package decision

import (
	"fmt"
	"strings"

	"github.com/sns-vibe/agentsim/internal/models"
)

// Affinity thresholds gating like/comment/follow intents. Negative-bias
// personas require materially higher affinity before engaging.
const (
	likeThreshold            = 0.2
	likeThresholdNegative    = 0.6
	commentThresholdPositive = 0.45
	commentThresholdOther    = 0.6
	followThresholdPositive  = 0.7
	followThresholdOther     = 0.85
	sentimentPositiveCutoff  = 0.6
)

// Heuristic is the rule-based decision strategy. It is a pure function of
// its inputs: no randomness, no I/O, so identical requests always yield
// identical intents.
type Heuristic struct{}

// NewHeuristic creates the rule-based strategy.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// Affinity scores the overlap between a persona's interests and the post.
// Returns the raw score and the normalized affinity in [0,1].
//
// Scoring: one point per interest token in the post text, two per interest
// token among the hashtags, two for an influencer author, and half a point
// per goal token in the post text.
func Affinity(persona models.Persona, post models.Post, goal string) (score, affinity float64) {
	interestTokens := tokenSet(strings.Join(persona.Interests, " "))
	postTokens := tokenSet(post.Text)
	tagTokens := make(map[string]bool, len(post.Tags))
	for _, tag := range post.Tags {
		tagTokens[strings.ToLower(strings.TrimPrefix(tag, "#"))] = true
	}

	for token := range interestTokens {
		if postTokens[token] {
			score++
		}
		if tagTokens[token] {
			score += 2
		}
	}

	if post.IsInfluencer() {
		score += 2
	}

	goalTokens := tokenSet(goal)
	for _, g := range persona.Goals {
		for token := range tokenSet(g) {
			goalTokens[token] = true
		}
	}
	for token := range goalTokens {
		if postTokens[token] {
			score += 0.5
		}
	}

	denom := float64(len(persona.Interests))
	if denom < 1 {
		denom = 1
	}
	affinity = score / denom
	if affinity > 1 {
		affinity = 1
	}
	return score, affinity
}

// Decide maps (persona, context, goal) to a canonical intent using
// bias-dependent thresholds over the affinity score.
func (h *Heuristic) Decide(req Request) *models.Decision {
	persona := req.Persona
	post := req.Context.Post
	score, affinity := Affinity(persona, post, req.Goal)

	negative := persona.ReactionBias == models.BiasNegative
	positive := persona.ReactionBias == models.BiasPositive

	likeCutoff := likeThreshold
	if negative {
		likeCutoff = likeThresholdNegative
	}
	commentCutoff := commentThresholdOther
	if positive {
		commentCutoff = commentThresholdPositive
	}
	followCutoff := followThresholdOther
	if positive {
		followCutoff = followThresholdPositive
	}

	d := &models.Decision{}
	d.Like = affinity >= likeCutoff
	if affinity >= commentCutoff && !post.CommentsDisabled {
		d.Comment = buildComment(persona, post)
	}
	d.Follow = post.IsInfluencer() && affinity >= followCutoff

	switch {
	case affinity >= sentimentPositiveCutoff:
		d.Sentiment = models.SentimentPositive
	case negative && affinity < likeThreshold:
		d.Sentiment = models.SentimentNegative
	default:
		d.Sentiment = models.SentimentNeutral
	}

	d.Reasoning = fmt.Sprintf("rule_based affinity=%.2f score=%.2f influencer=%t bias=%s",
		affinity, score, post.IsInfluencer(), persona.ReactionBias)

	return d
}

// buildComment produces a short tone-matched comment keyed on the first
// interest keyword found in the post.
func buildComment(persona models.Persona, post models.Post) string {
	keyword := matchedKeyword(persona, post)

	switch strings.ToLower(persona.Tone) {
	case "bold", "confident":
		return fmt.Sprintf("Love the %s angle. Strong post.", keyword)
	case "playful":
		return fmt.Sprintf("Fun take on %s. Nice work.", keyword)
	case "luxury":
		return fmt.Sprintf("Elegant take on %s. Beautiful.", keyword)
	default:
		return fmt.Sprintf("Nice perspective on %s. Thanks for sharing.", keyword)
	}
}

// matchedKeyword returns the first persona interest present in the post's
// text or tags, falling back to the first interest, then to "this".
func matchedKeyword(persona models.Persona, post models.Post) string {
	postTokens := tokenSet(post.Text)
	for _, tag := range post.Tags {
		postTokens[strings.ToLower(strings.TrimPrefix(tag, "#"))] = true
	}

	for _, interest := range persona.Interests {
		for _, token := range Tokenize(interest) {
			if postTokens[token] {
				return token
			}
		}
	}

	if len(persona.Interests) > 0 {
		return strings.ToLower(persona.Interests[0])
	}
	return "this"
}

// Tokenize lowercases s and splits it into alphanumeric word tokens.
func Tokenize(s string) []string {
	var tokens []string
	var current strings.Builder

	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			current.WriteRune(r)
			continue
		}
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, token := range Tokenize(s) {
		set[token] = true
	}
	return set
}
