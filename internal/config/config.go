// Package config provides unified configuration loading for agentsim.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all agentsim configuration settings.
type Config struct {
	// Simulation contains run-level orchestration settings.
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`

	// Decision contains settings for the decision policy and providers.
	Decision DecisionConfig `json:"decision" yaml:"decision"`

	// Actuator selects and configures the world the agents act against.
	Actuator ActuatorConfig `json:"actuator" yaml:"actuator"`

	// Logging contains settings for operational and trace logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// SimulationConfig configures one run. Immutable for the life of a run.
type SimulationConfig struct {
	// Goal is the campaign goal driving decisions. Goals shorter than 10
	// characters are normalized by the orchestrator.
	Goal string `json:"goal" yaml:"goal"`

	// Budget is the nominal campaign budget (informational).
	Budget float64 `json:"budget" yaml:"budget"`

	// Duration is the nominal campaign duration, e.g. "7d" (informational).
	Duration string `json:"duration" yaml:"duration"`

	// TargetPersona selects the hero persona by id. Empty picks the first
	// catalog persona.
	TargetPersona string `json:"target_persona,omitempty" yaml:"target_persona,omitempty"`

	// CrowdCount is the number of crowd agents to run.
	CrowdCount int `json:"crowd_count" yaml:"crowd_count"`

	// HeroEnabled runs the single instrumented hero agent.
	HeroEnabled bool `json:"hero_enabled" yaml:"hero_enabled"`

	// MaxConcurrency bounds simultaneously active agent units.
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency"`

	// DryRun forces the deterministic fallback intent for every decision.
	DryRun bool `json:"dry_run" yaml:"dry_run"`

	// MaxSteps bounds the step loop of each agent.
	MaxSteps int `json:"max_steps" yaml:"max_steps"`

	// MaxTime bounds each agent's wall-clock lifetime. Zero disables.
	MaxTime time.Duration `json:"max_time,omitempty" yaml:"max_time,omitempty"`

	// DelayMin and DelayMax bound the uniform inter-step delay before
	// engagement scaling.
	DelayMin time.Duration `json:"delay_min" yaml:"delay_min"`
	DelayMax time.Duration `json:"delay_max" yaml:"delay_max"`

	// PersonaFile is an optional YAML persona catalog overriding the
	// built-in personas.
	PersonaFile string `json:"persona_file,omitempty" yaml:"persona_file,omitempty"`
}

// DecisionConfig configures the decision policy.
type DecisionConfig struct {
	// Provider identifies the delegated backend: "openai", "local", or ""
	// for the heuristic strategy only.
	Provider string `json:"provider" yaml:"provider"`

	// APIKey is the API key for the provider. Supports ${VAR} syntax.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// BaseURL is the API endpoint URL for OpenAI-compatible endpoints.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// Model is the model identifier for delegated decisions.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// Timeout is the maximum duration to wait for a provider response.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// RatePerSecond and RateBurst throttle delegated provider calls.
	RatePerSecond float64 `json:"rate_per_second,omitempty" yaml:"rate_per_second,omitempty"`
	RateBurst     int     `json:"rate_burst,omitempty" yaml:"rate_burst,omitempty"`

	// RateWait bounds how long a throttled call blocks waiting for a
	// token before downgrading to the fallback intent. Zero disables
	// waiting.
	RateWait time.Duration `json:"rate_wait,omitempty" yaml:"rate_wait,omitempty"`

	// LocalModelPath is the path to a GGUF model file for the local
	// provider. Requires building with -tags llamacpp.
	LocalModelPath string `json:"local_model_path,omitempty" yaml:"local_model_path,omitempty"`

	// LocalGPULayers is the number of model layers to offload to GPU.
	LocalGPULayers int `json:"local_gpu_layers,omitempty" yaml:"local_gpu_layers,omitempty"`

	// LocalContextSize is the context window size in tokens for local models.
	LocalContextSize int `json:"local_context_size,omitempty" yaml:"local_context_size,omitempty"`
}

// RedactedAPIKey returns the API key with most characters masked.
// Shows first 4 and last 4 characters, e.g., "sk-a...xyz9".
// Returns "" for empty keys and "(set)" for keys shorter than 12 chars.
func (c DecisionConfig) RedactedAPIKey() string {
	if c.APIKey == "" {
		return ""
	}
	if len(c.APIKey) < 12 {
		return "(set)"
	}
	return c.APIKey[:4] + "..." + c.APIKey[len(c.APIKey)-4:]
}

// String implements fmt.Stringer to prevent accidental API key logging.
func (c DecisionConfig) String() string {
	return fmt.Sprintf("DecisionConfig{Provider:%s, APIKey:%s, Model:%s}",
		c.Provider, c.RedactedAPIKey(), c.Model)
}

// ActuatorConfig configures the actuator implementation.
type ActuatorConfig struct {
	// Mode is "sim" (in-process simulated timeline) or "mcp" (external
	// MCP tool server).
	Mode string `json:"mode" yaml:"mode"`

	// Command and Args launch the MCP tool server when Mode is "mcp".
	Command string   `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
}

// LoggingConfig configures agentsim's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables trace logging to <run>/trace.jsonl.
	// "trace" additionally includes full decision payloads.
	Level string `json:"level" yaml:"level"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Simulation: SimulationConfig{
			Goal:           "",
			Budget:         0,
			Duration:       "7d",
			CrowdCount:     3,
			HeroEnabled:    true,
			MaxConcurrency: 3,
			MaxSteps:       35,
			DelayMin:       200 * time.Millisecond,
			DelayMax:       900 * time.Millisecond,
		},
		Decision: DecisionConfig{
			Provider:      "",
			Timeout:       30 * time.Second,
			RatePerSecond: 2,
			RateBurst:     4,
		},
		Actuator: ActuatorConfig{
			Mode: "sim",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the default locations and environment.
// Order: defaults -> path (if non-empty) -> environment variables.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		config = fileConfig
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Expand environment variables in API key
	config.Decision.APIKey = expandEnvVars(config.Decision.APIKey)

	return config, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Simulation.CrowdCount < 0 {
		return fmt.Errorf("crowd_count must be non-negative, got %d", c.Simulation.CrowdCount)
	}

	if c.Simulation.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be at least 1, got %d", c.Simulation.MaxConcurrency)
	}

	if c.Simulation.MaxSteps < 1 {
		return fmt.Errorf("max_steps must be at least 1, got %d", c.Simulation.MaxSteps)
	}

	if c.Simulation.DelayMin < 0 || c.Simulation.DelayMax < c.Simulation.DelayMin {
		return fmt.Errorf("invalid delay range [%v, %v]", c.Simulation.DelayMin, c.Simulation.DelayMax)
	}

	if c.Decision.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative, got %v", c.Decision.Timeout)
	}

	if c.Decision.RateWait < 0 {
		return fmt.Errorf("rate_wait must be non-negative, got %v", c.Decision.RateWait)
	}

	validProviders := map[string]bool{"": true, "openai": true, "local": true}
	if !validProviders[c.Decision.Provider] {
		return fmt.Errorf("invalid provider: %s (valid: openai, local, or empty)", c.Decision.Provider)
	}

	validModes := map[string]bool{"": true, "sim": true, "mcp": true}
	if !validModes[c.Actuator.Mode] {
		return fmt.Errorf("invalid actuator mode: %s (valid: sim, mcp, or empty for default)", c.Actuator.Mode)
	}
	if c.Actuator.Mode == "mcp" && c.Actuator.Command == "" {
		return fmt.Errorf("actuator mode mcp requires a command")
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("AGENTSIM_PROVIDER"); v != "" {
		config.Decision.Provider = v
	}

	if v := os.Getenv("OPENAI_API_KEY"); v != "" && config.Decision.Provider == "openai" {
		config.Decision.APIKey = v
	}

	if v := os.Getenv("AGENTSIM_BASE_URL"); v != "" {
		config.Decision.BaseURL = v
	}

	if v := os.Getenv("AGENTSIM_MODEL"); v != "" {
		config.Decision.Model = v
	}

	if v := os.Getenv("AGENTSIM_DRY_RUN"); v != "" {
		config.Simulation.DryRun = v == "true" || v == "1"
	}

	if v := os.Getenv("AGENTSIM_CROWD_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Simulation.CrowdCount = n
		}
	}

	if v := os.Getenv("AGENTSIM_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Simulation.MaxConcurrency = n
		}
	}

	if v := os.Getenv("AGENTSIM_MAX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Simulation.MaxSteps = n
		}
	}

	// Local model config from environment
	if v := os.Getenv("AGENTSIM_LOCAL_MODEL_PATH"); v != "" {
		config.Decision.LocalModelPath = v
	}
	if v := os.Getenv("AGENTSIM_LOCAL_GPU_LAYERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Decision.LocalGPULayers = n
		}
	}
	if v := os.Getenv("AGENTSIM_LOCAL_CONTEXT_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Decision.LocalContextSize = n
		}
	}

	if v := os.Getenv("AGENTSIM_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
