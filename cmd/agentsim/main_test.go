package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sns-vibe/agentsim/internal/actuator"
	"github.com/sns-vibe/agentsim/internal/config"
	"github.com/sns-vibe/agentsim/internal/orchestrator"
	"github.com/sns-vibe/agentsim/internal/persona"
	"github.com/sns-vibe/agentsim/internal/registry"
)

func TestApplyRunFlags(t *testing.T) {
	cmd := newRunCmd()
	flags := map[string]string{
		"goal":        "summer launch awareness",
		"persona":     "beauty-analyst",
		"crowd":       "5",
		"hero":        "false",
		"dry-run":     "true",
		"max-steps":   "12",
		"max-time":    "90s",
		"concurrency": "2",
		"provider":    "openai",
	}
	for name, value := range flags {
		if err := cmd.Flags().Set(name, value); err != nil {
			t.Fatalf("setting --%s: %v", name, err)
		}
	}

	cfg := config.Default()
	applyRunFlags(cmd, cfg)

	if cfg.Simulation.Goal != "summer launch awareness" {
		t.Errorf("Goal = %q", cfg.Simulation.Goal)
	}
	if cfg.Simulation.TargetPersona != "beauty-analyst" {
		t.Errorf("TargetPersona = %q", cfg.Simulation.TargetPersona)
	}
	if cfg.Simulation.CrowdCount != 5 {
		t.Errorf("CrowdCount = %d", cfg.Simulation.CrowdCount)
	}
	if cfg.Simulation.HeroEnabled {
		t.Error("HeroEnabled should be overridden to false")
	}
	if !cfg.Simulation.DryRun {
		t.Error("DryRun should be overridden to true")
	}
	if cfg.Simulation.MaxSteps != 12 {
		t.Errorf("MaxSteps = %d", cfg.Simulation.MaxSteps)
	}
	if cfg.Simulation.MaxTime != 90*time.Second {
		t.Errorf("MaxTime = %v", cfg.Simulation.MaxTime)
	}
	if cfg.Simulation.MaxConcurrency != 2 {
		t.Errorf("MaxConcurrency = %d", cfg.Simulation.MaxConcurrency)
	}
	if cfg.Decision.Provider != "openai" {
		t.Errorf("Provider = %q", cfg.Decision.Provider)
	}
}

func TestApplyRunFlagsLeavesUnsetFieldsAlone(t *testing.T) {
	cmd := newRunCmd()
	cfg := config.Default()
	applyRunFlags(cmd, cfg)

	want := config.Default()
	if cfg.Simulation.CrowdCount != want.Simulation.CrowdCount {
		t.Errorf("CrowdCount = %d, want default %d", cfg.Simulation.CrowdCount, want.Simulation.CrowdCount)
	}
	if cfg.Simulation.HeroEnabled != want.Simulation.HeroEnabled {
		t.Error("HeroEnabled changed without the flag being set")
	}
}

func TestBuildLimiters(t *testing.T) {
	cfg := config.Default()
	cfg.Decision.Provider = "openai"
	cfg.Decision.RatePerSecond = 2
	cfg.Decision.RateBurst = 0

	limiters := buildLimiters(cfg)
	limiter, ok := limiters["openai"]
	if !ok {
		t.Fatal("no limiter for configured provider")
	}
	// A zero burst is coerced to 1 so the first call always passes.
	if !limiter.Allow("openai") {
		t.Error("first call should be within burst")
	}

	cfg.Decision.RatePerSecond = 0
	if limiters := buildLimiters(cfg); len(limiters) != 0 {
		t.Errorf("limiters = %d entries without a configured rate, want 0", len(limiters))
	}
}

func TestBuildActuatorDefaultsToSim(t *testing.T) {
	cfg := config.Default()
	cfg.Actuator.Mode = ""

	act, cleanup, err := buildActuator(context.Background(), cfg)
	defer cleanup()
	if err != nil {
		t.Fatalf("buildActuator() error = %v", err)
	}
	if _, ok := act.(*actuator.SimActuator); !ok {
		t.Errorf("actuator type = %T, want *actuator.SimActuator", act)
	}
}

func TestResolveRunDir(t *testing.T) {
	outDir := t.TempDir()
	reg, err := registry.Open(outDir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for i, id := range []string{"run-a", "run-b"} {
		err := reg.RecordRun(ctx, registry.RunRow{
			RunID:        id,
			SimulationID: "sim-1",
			Status:       "completed",
			CreatedAt:    time.Date(2026, 8, 1, 10, i, 0, 0, time.UTC).Format(time.RFC3339),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	reg.Close()

	dir, err := resolveRunDir(ctx, outDir, "latest")
	if err != nil {
		t.Fatalf("resolveRunDir(latest) error = %v", err)
	}
	if want := filepath.Join(outDir, "run-b"); dir != want {
		t.Errorf("latest run dir = %q, want %q", dir, want)
	}

	dir, err = resolveRunDir(ctx, outDir, "run-a")
	if err != nil {
		t.Fatalf("resolveRunDir(run-a) error = %v", err)
	}
	if want := filepath.Join(outDir, "run-a"); dir != want {
		t.Errorf("run dir = %q, want %q", dir, want)
	}

	if _, err := resolveRunDir(ctx, outDir, "no-such-run"); err == nil {
		t.Error("resolveRunDir should fail for an unknown run id")
	}
}

func TestValidateRun(t *testing.T) {
	outDir := t.TempDir()
	reg, err := registry.Open(outDir)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	cfg := config.Default()
	cfg.Simulation.Goal = "spring launch awareness"
	cfg.Simulation.DryRun = true
	cfg.Simulation.HeroEnabled = false
	cfg.Simulation.CrowdCount = 2
	cfg.Simulation.DelayMin = 0
	cfg.Simulation.DelayMax = 0

	o := orchestrator.New(orchestrator.Options{
		Config:   cfg,
		Personas: persona.NewCatalog(nil),
		Actuator: actuator.NewSimActuator(nil),
		Registry: reg,
		OutDir:   outDir,
	})
	summary := o.Run(context.Background())

	ctx := context.Background()
	if err := validateRun(ctx, outDir, "latest"); err != nil {
		t.Errorf("validateRun(latest) = %v, want nil", err)
	}
	if err := validateRun(ctx, outDir, summary.RunID); err != nil {
		t.Errorf("validateRun(%s) = %v, want nil", summary.RunID, err)
	}

	// A truncated snapshot must fail validation.
	snapPath := filepath.Join(outDir, summary.RunID, orchestrator.SnapshotName)
	if err := os.WriteFile(snapPath, []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := validateRun(ctx, outDir, summary.RunID); err == nil {
		t.Error("validateRun should fail on a corrupt snapshot")
	}
}

func TestValidateRunFailedSnapshot(t *testing.T) {
	outDir := t.TempDir()
	runDir := filepath.Join(outDir, "run-failed")
	if err := os.MkdirAll(runDir, 0755); err != nil {
		t.Fatal(err)
	}
	snapPath := filepath.Join(runDir, orchestrator.SnapshotName)
	ctx := context.Background()

	// A failed run keeps its partial result with metrics zeroed.
	withResult := `{"simulationId":"sim-1","status":"failed","progress":100,` +
		`"result":{"metrics":{"reach":0,"engagement":0,"conversionEstimate":0,"roas":0},` +
		`"confidenceLevel":"low","agentLogs":[],"personaTraces":[]}}`
	if err := os.WriteFile(snapPath, []byte(withResult), 0644); err != nil {
		t.Fatal(err)
	}
	if err := validateRun(ctx, outDir, "run-failed"); err != nil {
		t.Errorf("validateRun() = %v, want nil for failed snapshot with partial result", err)
	}

	withoutResult := `{"simulationId":"sim-1","status":"failed","progress":100}`
	if err := os.WriteFile(snapPath, []byte(withoutResult), 0644); err != nil {
		t.Fatal(err)
	}
	if err := validateRun(ctx, outDir, "run-failed"); err == nil {
		t.Error("validateRun should reject a failed snapshot without its partial result")
	}

	nonZero := `{"simulationId":"sim-1","status":"failed","progress":100,` +
		`"result":{"metrics":{"reach":3,"engagement":9,"conversionEstimate":0,"roas":0},` +
		`"confidenceLevel":"low","agentLogs":[],"personaTraces":[]}}`
	if err := os.WriteFile(snapPath, []byte(nonZero), 0644); err != nil {
		t.Fatal(err)
	}
	if err := validateRun(ctx, outDir, "run-failed"); err == nil {
		t.Error("validateRun should reject a failed snapshot with non-zero metrics")
	}
}
