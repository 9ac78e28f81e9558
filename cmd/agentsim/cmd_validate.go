package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sns-vibe/agentsim/internal/evaluation"
	"github.com/sns-vibe/agentsim/internal/ledger"
	"github.com/sns-vibe/agentsim/internal/models"
	"github.com/sns-vibe/agentsim/internal/orchestrator"
	"github.com/sns-vibe/agentsim/internal/persona"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration, catalogs, and recorded runs",
		Long: `Validate checks the configuration, the persona catalog it references,
and optionally an expected baseline. With --run it additionally re-reads
a recorded run's snapshot and ledgers and verifies their structural
invariants: sequence contiguity, schema versions, and status/progress
consistency.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			personaPath, _ := cmd.Flags().GetString("personas")
			if personaPath == "" {
				personaPath = cfg.Simulation.PersonaFile
			}
			personas, err := persona.Load(personaPath)
			if err != nil {
				return err
			}

			if expectedPath, _ := cmd.Flags().GetString("expected"); expectedPath != "" {
				if _, err := evaluation.LoadBaseline(expectedPath); err != nil {
					return err
				}
				fmt.Println("expected baseline: ok")
			}

			if runRef, _ := cmd.Flags().GetString("run"); runRef != "" {
				outDir, _ := cmd.Flags().GetString("out")
				if err := validateRun(cmd.Context(), outDir, runRef); err != nil {
					return err
				}
				fmt.Println("run: ok")
			}

			fmt.Printf("configuration: ok (provider=%q actuator=%s)\n",
				cfg.Decision.Provider, cfg.Actuator.Mode)
			fmt.Printf("personas: ok (%d loaded)\n", len(personas))
			return nil
		},
	}

	cmd.Flags().String("personas", "", "YAML persona catalog to validate")
	cmd.Flags().String("expected", "", "Expected baseline file to validate")
	cmd.Flags().String("run", "", "Run id (or \"latest\") whose snapshot and ledgers to verify")

	return cmd
}

// validateRun re-reads a run's snapshot and ledgers and checks the
// structural invariants a downstream consumer relies on.
func validateRun(ctx context.Context, outDir, runRef string) error {
	runDir, err := resolveRunDir(ctx, outDir, runRef)
	if err != nil {
		return err
	}

	snap, err := readSnapshot(filepath.Join(runDir, orchestrator.SnapshotName))
	if err != nil {
		return err
	}

	switch snap.Status {
	case models.RunStatusCompleted:
		if snap.Progress != 100 {
			return fmt.Errorf("completed snapshot has progress %d, want 100", snap.Progress)
		}
		if snap.Result == nil {
			return fmt.Errorf("completed snapshot is missing its result")
		}
	case models.RunStatusFailed:
		// Failed runs keep their partial result with metrics zeroed.
		if snap.Result == nil {
			return fmt.Errorf("failed snapshot is missing its partial result")
		}
		if snap.Result.Metrics != (models.RunMetrics{}) {
			return fmt.Errorf("failed snapshot carries non-zero metrics")
		}
	case models.RunStatusRunning:
		// A run that is still in flight only promises monotonic progress.
	default:
		return fmt.Errorf("unknown snapshot status %q", snap.Status)
	}

	records, loadErrs, err := ledger.ReadRun(runDir)
	if err != nil {
		// A no_agents run legitimately writes a snapshot and no ledgers.
		if snap.Result != nil && len(snap.Result.AgentLogs) == 0 {
			return nil
		}
		return err
	}
	for _, le := range loadErrs {
		fmt.Fprintf(os.Stderr, "warning: malformed ledger line: %v\n", le)
	}

	for _, r := range records {
		if r.SchemaVersion != models.SchemaVersion {
			return fmt.Errorf("agent %s record %d: schema version %q, want %q",
				r.Agent.ID, r.Sequence, r.SchemaVersion, models.SchemaVersion)
		}
	}

	return ledger.VerifySequences(records)
}

func readSnapshot(path string) (*models.RunSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	var snap models.RunSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot %s: %w", path, err)
	}
	return &snap, nil
}
