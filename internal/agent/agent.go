// Package agent implements the per-agent life-cycle: login, then a
// strictly sequential observe/decide/act/log loop with an inter-step
// delay, terminating on the first matching condition at a step
// boundary.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/sns-vibe/agentsim/internal/actuator"
	"github.com/sns-vibe/agentsim/internal/decision"
	"github.com/sns-vibe/agentsim/internal/ledger"
	"github.com/sns-vibe/agentsim/internal/models"
)

// MaxConsecutiveFailures terminates the loop once this many failures
// happen in a row without an intervening success.
const MaxConsecutiveFailures = 3

// Termination reasons, first match wins at each step boundary.
const (
	EndMaxSteps            = "max_steps"
	EndMaxTime             = "max_time"
	EndConsecutiveFailures = "consecutive_failures"
	EndAgentDone           = "agent_done"
	EndLoginFailed         = "login_failed"
	EndCanceled            = "canceled"
)

// StatusLoginFailed marks agents that never entered the step loop.
const StatusLoginFailed = "login_failed"

// Config bounds one agent's loop.
type Config struct {
	Goal     string
	MaxSteps int
	MaxTime  time.Duration
	DelayMin time.Duration
	DelayMax time.Duration
}

// Result summarizes one completed agent life-cycle.
type Result struct {
	Agent     models.AgentDescriptor
	Persona   models.Persona
	Status    string
	EndReason string
	Steps     int
	Failures  int

	// Delegated reports whether any decision came from a provider.
	Delegated bool

	// Decisions holds the intents that were successfully acted on, in
	// step order.
	Decisions []models.Decision

	// ActionPaths lists the per-action files written to the ledger.
	ActionPaths []string
}

// Unit drives one agent. It exclusively owns its state and its ledger
// writer; nothing here is shared with sibling agents.
type Unit struct {
	desc    models.AgentDescriptor
	persona models.Persona
	policy  *decision.Policy
	act     actuator.Actuator
	writer  *ledger.Writer
	cfg     Config
	logger  *slog.Logger

	// Injectable for tests.
	randFloat func() float64
	sleep     func(time.Duration)
	now       func() time.Time
}

// UnitOptions configures a Unit.
type UnitOptions struct {
	Agent    models.AgentDescriptor
	Persona  models.Persona
	Policy   *decision.Policy
	Actuator actuator.Actuator
	Writer   *ledger.Writer
	Config   Config
	Logger   *slog.Logger
}

// NewUnit creates an agent unit.
func NewUnit(opts UnitOptions) *Unit {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Unit{
		desc:      opts.Agent,
		persona:   opts.Persona,
		policy:    opts.Policy,
		act:       opts.Actuator,
		writer:    opts.Writer,
		cfg:       opts.Config,
		logger:    logger.With("agent", opts.Agent.ID),
		randFloat: rand.Float64,
		sleep:     time.Sleep,
		now:       time.Now,
	}
}

// stepOutcome carries one step's result back to the loop.
type stepOutcome struct {
	ok           bool
	delegated    bool
	done         bool
	decision     *models.Decision
	timelineSize int
}

// Run executes the full life-cycle and returns its summary. Run never
// returns an error: every failure mode is folded into the Result.
func (u *Unit) Run(ctx context.Context) (result Result) {
	result = Result{
		Agent:   u.desc,
		Persona: u.persona,
		Status:  models.StatusOK,
	}
	defer func() {
		result.ActionPaths = u.writer.Paths()
	}()

	loginOut, err := u.act.Login(ctx, u.desc)
	u.record("login", loginOut, nil, err)
	if err != nil {
		u.logger.Warn("login failed", "error", err)
		result.Status = StatusLoginFailed
		result.EndReason = EndLoginFailed
		return result
	}

	start := u.now()
	failures := 0
	timelineSize := 0
	delegated := false
	done := false

	for {
		switch {
		case result.Steps >= u.cfg.MaxSteps:
			result.EndReason = EndMaxSteps
		case u.cfg.MaxTime > 0 && u.now().Sub(start) >= u.cfg.MaxTime:
			result.EndReason = EndMaxTime
		case failures >= MaxConsecutiveFailures:
			result.EndReason = EndConsecutiveFailures
			result.Status = models.StatusFailed
		case done:
			result.EndReason = EndAgentDone
		case timelineSize > 0 && result.Steps >= timelineSize:
			result.EndReason = EndAgentDone
		case ctx.Err() != nil:
			result.EndReason = EndCanceled
		}
		if result.EndReason != "" {
			break
		}

		if result.Steps > 0 {
			u.sleep(u.stepDelay())
		}

		outcome := u.step(ctx, result.Steps+1)
		result.Steps++

		if outcome.ok {
			failures = 0
			if !outcome.done {
				result.Decisions = append(result.Decisions, *outcome.decision)
			}
		} else {
			failures++
			result.Failures++
		}
		if outcome.delegated {
			delegated = true
		}
		if outcome.done {
			done = true
		}
		if outcome.timelineSize > 0 {
			timelineSize = outcome.timelineSize
		}
	}

	result.Delegated = delegated
	u.logger.Debug("agent terminated",
		"reason", result.EndReason, "steps", result.Steps, "failures", result.Failures)
	return result
}

// step runs one observe/decide/act sequence. Panics are contained here:
// they are logged as an error-status record and count as one failure.
func (u *Unit) step(ctx context.Context, n int) (outcome stepOutcome) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("step panic: %v", r)
			u.logger.Error("step panicked", "step", n, "error", err)
			u.recordStatus("step", models.StatusError, nil, map[string]any{"step": n}, err)
			outcome = stepOutcome{}
		}
	}()

	snapshot, observeOut, err := u.act.Observe(ctx, u.desc)
	u.record("observe", observeOut, map[string]any{"step": n}, err)
	if err != nil {
		return stepOutcome{}
	}

	d, wasDelegated := u.policy.Decide(ctx, decision.Request{
		Persona: u.persona,
		Context: snapshot,
		Goal:    u.cfg.Goal,
	})
	u.record("decide",
		map[string]any{
			"like":      d.Like,
			"comment":   d.Comment,
			"follow":    d.Follow,
			"sentiment": d.Sentiment,
			"reasoning": d.Reasoning,
			"delegated": wasDelegated,
			"done":      d.Done,
		},
		map[string]any{"postId": snapshot.Post.ID, "personaId": u.persona.ID},
		nil)

	// A done intent ends the life-cycle at the next step boundary; the
	// intent itself is never acted on.
	if d.Done {
		return stepOutcome{
			ok:           true,
			delegated:    wasDelegated,
			done:         true,
			decision:     d,
			timelineSize: snapshot.TimelineSize,
		}
	}

	actInput := map[string]any{
		"postId":  snapshot.Post.ID,
		"like":    d.Like,
		"comment": d.Comment,
		"follow":  d.Follow,
		"tags":    snapshot.Post.Tags,
	}
	actOut, err := u.act.Act(ctx, u.desc, snapshot.Post, *d)
	u.record("act", actOut, actInput, err)
	if err != nil {
		return stepOutcome{delegated: wasDelegated, timelineSize: snapshot.TimelineSize}
	}

	return stepOutcome{
		ok:           true,
		delegated:    wasDelegated,
		decision:     d,
		timelineSize: snapshot.TimelineSize,
	}
}

// record writes one ledger entry. A write failure is a warning, never a
// loop-aborting error.
func (u *Unit) record(actionType string, output, input map[string]any, actionErr error) {
	status := models.StatusOK
	if actionErr != nil {
		status = models.StatusFailed
	}
	u.recordStatus(actionType, status, output, input, actionErr)
}

// recordStatus is record with an explicit status, used where the
// default ok/failed mapping does not apply (panics record as "error").
func (u *Unit) recordStatus(actionType, status string, output, input map[string]any, actionErr error) {
	if _, _, err := u.writer.Write(actionType, status, input, output, nil, actionErr); err != nil {
		u.logger.Warn("ledger write failed", "type", actionType, "error", err)
	}
}

// stepDelay draws the inter-step delay: uniform over [min, max] scaled
// by the persona's engagement level. High engagement shortens the wait,
// low engagement stretches it.
func (u *Unit) stepDelay() time.Duration {
	span := u.cfg.DelayMax - u.cfg.DelayMin
	if span < 0 {
		span = 0
	}
	base := u.cfg.DelayMin + time.Duration(u.randFloat()*float64(span))

	switch u.persona.Engagement {
	case "high":
		return time.Duration(float64(base) * 0.7)
	case "low":
		return time.Duration(float64(base) * 1.3)
	default:
		return base
	}
}
