package decision

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sns-vibe/agentsim/internal/logging"
	"github.com/sns-vibe/agentsim/internal/models"
	"github.com/sns-vibe/agentsim/internal/ratelimit"
)

// Policy is the single decision boundary agents call. It owns the
// heuristic strategy, the optional delegated provider, and the
// normalization that fails closed into deterministic fallbacks.
// Provider failures never propagate past this type.
type Policy struct {
	heuristic   *Heuristic
	provider    Provider
	limiters    ratelimit.ProviderLimiters
	rateWait    time.Duration
	dryRun      bool
	forceReason string
	logger      *slog.Logger
	trace       *logging.TraceLogger
}

// PolicyOptions configures a Policy.
type PolicyOptions struct {
	// Provider is the delegated backend, or nil for heuristic-only.
	Provider Provider

	// DryRun forces the deterministic fallback for every decision.
	DryRun bool

	// ForceFallbackReason, when non-empty, short-circuits every decision
	// into the bias-specific fallback tagged with this reason. Used for
	// crowd agents whose hero precondition was not met.
	ForceFallbackReason string

	// Limiters throttle delegated calls. Nil disables throttling.
	Limiters ratelimit.ProviderLimiters

	// RateWait bounds how long a throttled delegated call blocks waiting
	// for a token. Zero falls back to rate_limited immediately.
	RateWait time.Duration

	// Logger receives operational output. Nil discards it.
	Logger *slog.Logger

	// Trace receives per-decision JSONL events. Nil-safe.
	Trace *logging.TraceLogger
}

// NewPolicy creates a decision policy.
func NewPolicy(opts PolicyOptions) *Policy {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Policy{
		heuristic:   NewHeuristic(),
		provider:    opts.Provider,
		limiters:    opts.Limiters,
		rateWait:    opts.RateWait,
		dryRun:      opts.DryRun,
		forceReason: opts.ForceFallbackReason,
		logger:      logger,
		trace:       opts.Trace,
	}
}

// Decide produces a canonical intent for the request. The second return
// value reports whether a delegated provider actually produced the
// intent, which feeds the run's confidence level.
//
// Order of degradation: dry-run fallback, heuristic when no provider is
// configured, fallback when credentials are missing or the call is rate
// limited, and reason-tagged fallbacks for provider errors or
// unparseable payloads.
func (p *Policy) Decide(ctx context.Context, req Request) (*models.Decision, bool) {
	bias := req.Persona.ReactionBias

	if p.dryRun {
		return p.traced(req, Fallback(bias, ReasonDryRun), false)
	}

	if p.forceReason != "" {
		return p.traced(req, Fallback(bias, p.forceReason), false)
	}

	if p.provider == nil {
		return p.traced(req, p.heuristic.Decide(req), false)
	}

	name := p.provider.Name()

	if !p.provider.Available() {
		p.logger.Debug("decision provider unavailable", "provider", name)
		return p.traced(req, Fallback(bias, ReasonMissingAPIKey), false)
	}

	if err := ratelimit.WaitLimit(p.limiters, name, p.rateWait); err != nil {
		p.logger.Debug("decision provider throttled", "provider", name)
		return p.traced(req, Fallback(bias, ReasonRateLimited), false)
	}

	raw, err := p.provider.Decide(ctx, req)
	if err != nil {
		reason := name + "_error"
		if errors.Is(err, ErrUnparseable) {
			reason = ReasonUnparseable
		}
		p.logger.Warn("delegated decision failed", "provider", name, "reason", reason, "error", err)
		return p.traced(req, Fallback(bias, reason), false)
	}

	p.trace.Log(map[string]any{
		"event":    "provider_payload",
		"provider": name,
		"payload":  raw,
	})

	return p.traced(req, Normalize(raw, bias, name+"_error"), true)
}

// traced records the final decision before returning it.
func (p *Policy) traced(req Request, d *models.Decision, delegated bool) (*models.Decision, bool) {
	p.trace.Log(map[string]any{
		"event":     "decision",
		"personaId": req.Persona.ID,
		"postId":    req.Context.Post.ID,
		"like":      d.Like,
		"comment":   d.Comment,
		"follow":    d.Follow,
		"sentiment": d.Sentiment,
		"reasoning": d.Reasoning,
		"delegated": delegated,
	})
	return d, delegated
}
