package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sns-vibe/agentsim/internal/evaluation"
	"github.com/sns-vibe/agentsim/internal/registry"
)

func newEvaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score a run's ledgers against an expected baseline",
		Long: `Evaluate reads the action ledgers of a finished run, extracts the
observed engagement metrics, and scores them against the expected
baseline. The result document is written next to the run's ledgers and
indexed in the run registry.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			expectedPath, _ := cmd.Flags().GetString("expected")
			runRef, _ := cmd.Flags().GetString("run")
			runDir, _ := cmd.Flags().GetString("run-dir")
			evalID, _ := cmd.Flags().GetString("id")
			outputPath, _ := cmd.Flags().GetString("output")
			outDir, _ := cmd.Flags().GetString("out")

			baseline, err := evaluation.LoadBaseline(expectedPath)
			if err != nil {
				return err
			}

			if runDir == "" {
				runDir, err = resolveRunDir(cmd.Context(), outDir, runRef)
				if err != nil {
					return err
				}
			}

			record, path, err := evaluation.Evaluate(evaluation.Options{
				RunDir:       runDir,
				Baseline:     baseline,
				EvaluationID: evalID,
				OutputPath:   outputPath,
			})
			if err != nil {
				return err
			}

			recordInRegistry(cmd.Context(), outDir, record, path)

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				json.NewEncoder(os.Stdout).Encode(record)
			} else {
				printEvaluation(record, path)
			}
			return nil
		},
	}

	cmd.Flags().String("expected", "", "YAML file with the expected engagement baseline (required)")
	cmd.Flags().String("run", "latest", "Run id to evaluate, or \"latest\"")
	cmd.Flags().String("run-dir", "", "Evaluate this ledger directory directly, bypassing the registry")
	cmd.Flags().String("id", "", "Evaluation id, generated when empty")
	cmd.Flags().String("output", "", "Write the result document to this path instead of the run directory")
	cmd.MarkFlagRequired("expected")

	return cmd
}

// resolveRunDir maps a run reference to its ledger directory. "latest"
// and explicit ids go through the registry; when the registry is
// missing, an explicit id falls back to <out>/<id>.
func resolveRunDir(ctx context.Context, outDir, runRef string) (string, error) {
	reg, err := registry.Open(outDir)
	if err != nil {
		if runRef == "" || runRef == "latest" {
			return "", fmt.Errorf("opening run registry: %w", err)
		}
		return filepath.Join(outDir, runRef), nil
	}
	defer reg.Close()

	runID := runRef
	if runID == "" || runID == "latest" {
		runID, err = reg.LatestRunID(ctx)
		if err != nil {
			return "", err
		}
	} else if _, err := reg.GetRun(ctx, runID); err != nil {
		// Registration is advisory, so a run can exist on disk without
		// a registry row.
		if _, statErr := os.Stat(filepath.Join(outDir, runID)); statErr != nil {
			return "", err
		}
	}

	return filepath.Join(outDir, runID), nil
}

/// recordInRegistry indexes the evaluation. Advisory: a registry failure
// never discards a result that is already on disk.
func recordInRegistry(ctx context.Context, outDir string, record *evaluation.Record, path string) {
	reg, err := registry.Open(outDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: run registry unavailable: %v\n", err)
		return
	}
	defer reg.Close()

	err = reg.RecordEvaluation(ctx, registry.EvaluationRow{
		EvaluationID: record.EvaluationID,
		RunID:        record.RunID,
		SimulationID: record.SimulationID,
		ResultPath:   path,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: recording evaluation: %v\n", err)
	}
}

func printEvaluation(record *evaluation.Record, path string) {
	fmt.Printf("Evaluation %s\n", record.EvaluationID)
	fmt.Printf("  run:    %s\n", record.RunID)
	fmt.Printf("  result: %s\n", path)
	if record.Metrics.Overall != nil {
		fmt.Printf("  overall similarity: %.4f\n", *record.Metrics.Overall)
	} else {
		fmt.Println("  overall similarity: n/a (no weighted metrics present)")
	}
	for name, score := range record.Metrics.Metrics {
		fmt.Printf("  %-20s expected=%.2f actual=%.2f similarity=%.4f weight=%.2f\n",
			name, score.Expected, score.Actual, score.Similarity, score.Weight)
	}
}
