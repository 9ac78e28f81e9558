// Package orchestrator fans out the hero and crowd agent state machines
// under a concurrency bound, checkpoints run progress, and aggregates
// per-agent outcomes into one run summary.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/sns-vibe/agentsim/internal/actuator"
	"github.com/sns-vibe/agentsim/internal/agent"
	"github.com/sns-vibe/agentsim/internal/config"
	"github.com/sns-vibe/agentsim/internal/decision"
	"github.com/sns-vibe/agentsim/internal/ledger"
	"github.com/sns-vibe/agentsim/internal/logging"
	"github.com/sns-vibe/agentsim/internal/models"
	"github.com/sns-vibe/agentsim/internal/persona"
	"github.com/sns-vibe/agentsim/internal/ratelimit"
	"github.com/sns-vibe/agentsim/internal/registry"
)

// Run-level end reasons.
const (
	EndCompleted = "completed"
	EndCrowdOnly = "crowd_only"
	EndNoAgents  = "no_agents"
	EndException = "exception"
)

// StatusCrashed marks an agent whose goroutine escaped with a panic.
const StatusCrashed = "crashed"

// Checkpoint progress values for the run snapshot.
const (
	progressStart      = 5
	progressAfterHero  = 50
	progressAfterCrowd = 90
	progressDone       = 100
)

// Orchestrator owns one run's life-cycle. Construct with New.
type Orchestrator struct {
	cfg      *config.Config
	catalog  *persona.Catalog
	act      actuator.Actuator
	provider decision.Provider
	limiters ratelimit.ProviderLimiters
	registry *registry.Registry
	outDir   string
	logger   *slog.Logger
	trace    *logging.TraceLogger
}

// Options configures an Orchestrator.
type Options struct {
	Config   *config.Config
	Personas *persona.Catalog
	Actuator actuator.Actuator

	// Provider is the delegated decision backend, nil for heuristic-only.
	Provider decision.Provider

	// Limiters throttle delegated calls. Nil disables throttling.
	Limiters ratelimit.ProviderLimiters

	// Registry indexes the finished run. Nil skips registration; a
	// registry failure is logged, never fatal.
	Registry *registry.Registry

	// OutDir is the root output directory for ledgers and snapshots.
	OutDir string

	Logger *slog.Logger
	Trace  *logging.TraceLogger
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{
		cfg:      opts.Config,
		catalog:  opts.Personas,
		act:      opts.Actuator,
		provider: opts.Provider,
		limiters: opts.Limiters,
		registry: opts.Registry,
		outDir:   opts.OutDir,
		logger:   logger,
		trace:    opts.Trace,
	}
}

// Run executes the full simulation and returns its summary. Run never
// panics past its boundary: any escaped defect is converted into a
// failed snapshot carrying whatever partial result had accumulated,
// with zeroed metrics, and a status="failed" summary.
func (o *Orchestrator) Run(ctx context.Context) (summary models.RunSummary) {
	simID := uuid.NewString()
	runID := uuid.NewString()
	goal := normalizeGoal(o.cfg.Simulation.Goal)

	snap := newSnapshotWriter(o.outDir, runID, models.RunSnapshot{
		SimulationID: simID,
		Status:       models.RunStatusRunning,
		CreatedAt:    models.Now(),
		Config: models.SnapshotConfig{
			Goal:          goal,
			Budget:        o.cfg.Simulation.Budget,
			Duration:      o.cfg.Simulation.Duration,
			TargetPersona: o.cfg.Simulation.TargetPersona,
			Parameters: map[string]any{
				"crowdCount":     o.cfg.Simulation.CrowdCount,
				"heroEnabled":    o.cfg.Simulation.HeroEnabled,
				"maxConcurrency": o.cfg.Simulation.MaxConcurrency,
				"dryRun":         o.cfg.Simulation.DryRun,
			},
		},
	})

	summary = models.RunSummary{
		SimulationID: simID,
		RunID:        runID,
		Status:       models.RunStatusCompleted,
		SnapshotPath: snap.path,
		ActionFiles:  []string{},
	}

	var results []agent.Result

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("orchestrator failed", "panic", fmt.Sprint(r))
			summary.Status = models.RunStatusFailed
			summary.EndReason = EndException
			summary.Metrics = models.RunMetrics{}
			partial, actionFiles := aggregate(results)
			summary.ActionFiles = actionFiles
			snap.fail(partial, o.logger)
		}
		o.register(summary, goal)
	}()

	heroEnabled := o.cfg.Simulation.HeroEnabled
	crowdCount := o.cfg.Simulation.CrowdCount

	if !heroEnabled && crowdCount == 0 {
		o.logger.Info("no agents configured", "simulationId", simID)
		summary.EndReason = EndNoAgents
		snap.complete(&models.RunResult{
			ConfidenceLevel: "low",
			AgentLogs:       []models.AgentLogEntry{},
			PersonaTraces:   []models.PersonaTrace{},
		}, o.logger)
		return summary
	}

	snap.checkpoint(progressStart, o.logger)
	o.logger.Info("run started",
		"simulationId", simID, "runId", runID, "goal", goal,
		"heroEnabled", heroEnabled, "crowdCount", crowdCount)

	heroOK := true
	if heroEnabled {
		heroResult := o.runUnit(ctx, runID, simID, models.AgentDescriptor{
			ID:   "hero-1",
			Type: models.RoleHero,
		}, o.catalog.Resolve(o.cfg.Simulation.TargetPersona), goal, "")
		heroOK = heroResult.Status == models.StatusOK
		results = append(results, heroResult)
	}
	snap.checkpoint(progressAfterHero, o.logger)

	// Crowd decisions degrade to tagged fallbacks when the hero was
	// requested but never reached its step loop.
	crowdFallback := ""
	if heroEnabled && !heroOK {
		crowdFallback = decision.ReasonHeroNotStarted
	}

	results = append(results, o.runCrowd(ctx, runID, simID, crowdCount, goal, crowdFallback)...)
	snap.checkpoint(progressAfterCrowd, o.logger)

	result, actionFiles := aggregate(results)
	summary.ActionFiles = actionFiles
	summary.Metrics = result.Metrics
	summary.EndReason = EndCompleted
	if !heroEnabled {
		summary.EndReason = EndCrowdOnly
	}

	snap.complete(result, o.logger)
	o.logger.Info("run completed",
		"runId", runID, "endReason", summary.EndReason,
		"reach", result.Metrics.Reach, "engagement", result.Metrics.Engagement)
	return summary
}

// runCrowd fans crowd agents out under the concurrency bound. Each unit
// runs its whole life-cycle before releasing its semaphore slot.
func (o *Orchestrator) runCrowd(ctx context.Context, runID, simID string, count int, goal, fallbackReason string) []agent.Result {
	if count <= 0 {
		return nil
	}

	sem := make(chan struct{}, o.cfg.Simulation.MaxConcurrency)
	results := make([]agent.Result, count)

	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			desc := models.AgentDescriptor{
				ID:   fmt.Sprintf("crowd-%d", n+1),
				Type: models.RoleCrowd,
			}
			results[n] = o.runUnit(ctx, runID, simID, desc, o.catalog.Cycle(), goal, fallbackReason)
		}(i)
	}
	wg.Wait()

	return results
}

// runUnit runs one agent life-cycle with crash isolation: a panic
// escaping the unit is converted into a crashed result for that agent
// only, never cancelling siblings.
func (o *Orchestrator) runUnit(ctx context.Context, runID, simID string, desc models.AgentDescriptor, p models.Persona, goal, fallbackReason string) (result agent.Result) {
	desc.PersonaID = p.ID
	desc.PersonaName = p.Name
	result = agent.Result{Agent: desc, Persona: p, Status: StatusCrashed, EndReason: EndException}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("agent crashed", "agent", desc.ID, "panic", fmt.Sprint(r))
		}
	}()

	writer, err := ledger.NewWriter(o.outDir, runID, simID, desc)
	if err != nil {
		o.logger.Error("agent ledger unavailable", "agent", desc.ID, "error", err)
		result.Status = models.StatusFailed
		result.EndReason = "ledger_unavailable"
		return result
	}
	defer writer.Close()

	policy := decision.NewPolicy(decision.PolicyOptions{
		Provider:            o.provider,
		DryRun:              o.cfg.Simulation.DryRun,
		ForceFallbackReason: fallbackReason,
		Limiters:            o.limiters,
		RateWait:            o.cfg.Decision.RateWait,
		Logger:              o.logger,
		Trace:               o.trace,
	})

	unit := agent.NewUnit(agent.UnitOptions{
		Agent:    desc,
		Persona:  p,
		Policy:   policy,
		Actuator: o.act,
		Writer:   writer,
		Config: agent.Config{
			Goal:     goal,
			MaxSteps: o.cfg.Simulation.MaxSteps,
			MaxTime:  o.cfg.Simulation.MaxTime,
			DelayMin: o.cfg.Simulation.DelayMin,
			DelayMax: o.cfg.Simulation.DelayMax,
		},
		Logger: o.logger,
	})

	return unit.Run(ctx)
}

// aggregate folds per-agent results into the run result document.
func aggregate(results []agent.Result) (*models.RunResult, []string) {
	likes, comments := 0, 0
	delegated := false
	actionFiles := []string{}
	logs := make([]models.AgentLogEntry, 0, len(results))
	traces := make([]models.PersonaTrace, 0, len(results))

	for _, r := range results {
		actionFiles = append(actionFiles, r.ActionPaths...)
		if r.Delegated {
			delegated = true
		}

		logs = append(logs, models.AgentLogEntry{
			AgentID: r.Agent.ID,
			Role:    r.Agent.Type,
			Status:  r.Status,
			Detail: map[string]any{
				"endReason": r.EndReason,
				"steps":     r.Steps,
				"failures":  r.Failures,
			},
		})

		trace := models.PersonaTrace{
			PersonaID: r.Persona.ID,
			AgentID:   r.Agent.ID,
			Sentiment: models.SentimentNeutral,
		}
		for _, d := range r.Decisions {
			if d.Like {
				likes++
				trace.Liked = true
			}
			if d.Comment != "" {
				comments++
				trace.Commented = true
				if trace.Comment == "" {
					trace.Comment = d.Comment
				}
			}
			trace.Sentiment = d.Sentiment
		}
		traces = append(traces, trace)
	}

	engagement := likes + comments
	confidence := "low"
	if delegated {
		confidence = "medium"
	}

	return &models.RunResult{
		Metrics: models.RunMetrics{
			Reach:              len(results),
			Engagement:         engagement,
			ConversionEstimate: round2(float64(engagement) * 0.05),
			ROAS:               round2(float64(engagement) * 0.02),
		},
		ConfidenceLevel: confidence,
		AgentLogs:       logs,
		PersonaTraces:   traces,
	}, actionFiles
}

// register records the finished run in the registry. Advisory only.
func (o *Orchestrator) register(summary models.RunSummary, goal string) {
	if o.registry == nil {
		return
	}
	err := o.registry.RecordRun(context.Background(), registry.RunRow{
		RunID:        summary.RunID,
		SimulationID: summary.SimulationID,
		Status:       summary.Status,
		EndReason:    summary.EndReason,
		Goal:         goal,
		SnapshotPath: summary.SnapshotPath,
		ActionFiles:  len(summary.ActionFiles),
		Reach:        summary.Metrics.Reach,
		Engagement:   summary.Metrics.Engagement,
	})
	if err != nil {
		o.logger.Warn("run registry update failed", "runId", summary.RunID, "error", err)
	}
}

// normalizeGoal pads goals too short to describe a campaign.
func normalizeGoal(goal string) string {
	if len(goal) < 10 {
		return goal + " campaign simulation"
	}
	return goal
}

// round2 rounds the derived estimates to two decimal places.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
