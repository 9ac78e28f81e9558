package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sns-vibe/agentsim/internal/actuator"
	"github.com/sns-vibe/agentsim/internal/config"
	"github.com/sns-vibe/agentsim/internal/decision"
	"github.com/sns-vibe/agentsim/internal/logging"
	"github.com/sns-vibe/agentsim/internal/models"
	"github.com/sns-vibe/agentsim/internal/orchestrator"
	"github.com/sns-vibe/agentsim/internal/persona"
	"github.com/sns-vibe/agentsim/internal/ratelimit"
	"github.com/sns-vibe/agentsim/internal/registry"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation",
		Long: `Run orchestrates the hero agent and the crowd roster against the
configured actuator and writes ledgers, a run snapshot, and a registry
entry under the output directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			applyRunFlags(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			level, _ := cmd.Flags().GetString("log-level")
			if cfg.Logging.Level != "" && !cmd.Flags().Changed("log-level") {
				level = cfg.Logging.Level
			}
			logger := logging.NewLogger(level, os.Stderr)

			outDir, _ := cmd.Flags().GetString("out")

			personas, err := persona.Load(cfg.Simulation.PersonaFile)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			act, cleanup, err := buildActuator(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			provider := decision.NewProvider(decision.ProviderConfig{
				Provider:         cfg.Decision.Provider,
				APIKey:           cfg.Decision.APIKey,
				BaseURL:          cfg.Decision.BaseURL,
				Model:            cfg.Decision.Model,
				Timeout:          cfg.Decision.Timeout,
				LocalModelPath:   cfg.Decision.LocalModelPath,
				LocalGPULayers:   cfg.Decision.LocalGPULayers,
				LocalContextSize: cfg.Decision.LocalContextSize,
			})
			if provider != nil {
				if closer, ok := provider.(decision.Closer); ok {
					defer closer.Close()
				}
			}

			reg, err := registry.Open(outDir)
			if err != nil {
				logger.Warn("run registry unavailable", "error", err)
				reg = nil
			} else {
				defer reg.Close()
			}

			trace := logging.NewTraceLogger(outDir, level)
			defer trace.Close()

			o := orchestrator.New(orchestrator.Options{
				Config:   cfg,
				Personas: persona.NewCatalog(personas),
				Actuator: act,
				Provider: provider,
				Limiters: buildLimiters(cfg),
				Registry: reg,
				OutDir:   outDir,
				Logger:   logger,
				Trace:    trace,
			})

			summary := o.Run(ctx)

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				json.NewEncoder(os.Stdout).Encode(summary)
			} else {
				printSummary(summary)
			}

			if summary.Status == models.RunStatusFailed {
				return fmt.Errorf("run %s failed (%s)", summary.RunID, summary.EndReason)
			}
			return nil
		},
	}

	cmd.Flags().String("goal", "", "Campaign goal driving agent decisions")
	cmd.Flags().Float64("budget", 0, "Nominal campaign budget")
	cmd.Flags().String("duration", "", "Nominal campaign duration, e.g. 7d")
	cmd.Flags().String("persona", "", "Hero persona id")
	cmd.Flags().Int("crowd", -1, "Number of crowd agents")
	cmd.Flags().Bool("hero", true, "Run the hero agent")
	cmd.Flags().Bool("dry-run", false, "Force deterministic fallback decisions")
	cmd.Flags().Int("max-steps", 0, "Maximum steps per agent")
	cmd.Flags().Duration("max-time", 0, "Wall-clock budget per agent")
	cmd.Flags().Int("concurrency", 0, "Maximum concurrently active agents")
	cmd.Flags().String("personas", "", "YAML persona catalog overriding the built-in personas")
	cmd.Flags().String("provider", "", "Delegated decision provider: openai or local")

	return cmd
}

// loadConfig resolves the config file flag into a validated Config.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyRunFlags overrides config fields with explicitly set run flags.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("goal"); cmd.Flags().Changed("goal") {
		cfg.Simulation.Goal = v
	}
	if v, _ := cmd.Flags().GetFloat64("budget"); cmd.Flags().Changed("budget") {
		cfg.Simulation.Budget = v
	}
	if v, _ := cmd.Flags().GetString("duration"); cmd.Flags().Changed("duration") {
		cfg.Simulation.Duration = v
	}
	if v, _ := cmd.Flags().GetString("persona"); cmd.Flags().Changed("persona") {
		cfg.Simulation.TargetPersona = v
	}
	if v, _ := cmd.Flags().GetInt("crowd"); cmd.Flags().Changed("crowd") {
		cfg.Simulation.CrowdCount = v
	}
	if v, _ := cmd.Flags().GetBool("hero"); cmd.Flags().Changed("hero") {
		cfg.Simulation.HeroEnabled = v
	}
	if v, _ := cmd.Flags().GetBool("dry-run"); cmd.Flags().Changed("dry-run") {
		cfg.Simulation.DryRun = v
	}
	if v, _ := cmd.Flags().GetInt("max-steps"); cmd.Flags().Changed("max-steps") {
		cfg.Simulation.MaxSteps = v
	}
	if v, _ := cmd.Flags().GetDuration("max-time"); cmd.Flags().Changed("max-time") {
		cfg.Simulation.MaxTime = v
	}
	if v, _ := cmd.Flags().GetInt("concurrency"); cmd.Flags().Changed("concurrency") {
		cfg.Simulation.MaxConcurrency = v
	}
	if v, _ := cmd.Flags().GetString("personas"); cmd.Flags().Changed("personas") {
		cfg.Simulation.PersonaFile = v
	}
	if v, _ := cmd.Flags().GetString("provider"); cmd.Flags().Changed("provider") {
		cfg.Decision.Provider = v
	}
}

// buildActuator constructs the configured actuator. The returned cleanup
// is always safe to call.
func buildActuator(ctx context.Context, cfg *config.Config) (actuator.Actuator, func(), error) {
	switch cfg.Actuator.Mode {
	case "mcp":
		mcpAct, err := actuator.NewMCPActuator(ctx, cfg.Actuator.Command, cfg.Actuator.Args)
		if err != nil {
			return nil, func() {}, fmt.Errorf("starting mcp actuator: %w", err)
		}
		return mcpAct, func() { mcpAct.Close() }, nil
	default:
		sim := actuator.NewSimActuator(actuator.DefaultTimeline(cfg.Simulation.Goal))
		return sim, func() {}, nil
	}
}

// buildLimiters builds the per-provider rate limiters from config.
func buildLimiters(cfg *config.Config) ratelimit.ProviderLimiters {
	limiters := ratelimit.NewProviderLimiters()
	if cfg.Decision.Provider != "" && cfg.Decision.RatePerSecond > 0 {
		burst := cfg.Decision.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiters[cfg.Decision.Provider] = ratelimit.NewLimiter(cfg.Decision.RatePerSecond, burst)
	}
	return limiters
}

func printSummary(summary models.RunSummary) {
	fmt.Printf("Run %s (%s)\n", summary.RunID, summary.Status)
	fmt.Printf("  simulation: %s\n", summary.SimulationID)
	fmt.Printf("  end reason: %s\n", summary.EndReason)
	fmt.Printf("  snapshot:   %s\n", summary.SnapshotPath)
	fmt.Printf("  actions:    %d files\n", len(summary.ActionFiles))
	fmt.Printf("  reach=%d engagement=%d conversionEstimate=%.2f roas=%.2f\n",
		summary.Metrics.Reach, summary.Metrics.Engagement,
		summary.Metrics.ConversionEstimate, summary.Metrics.ROAS)
}
