// Package decision implements the decision policy: a deterministic
// heuristic strategy, delegated providers (OpenAI-compatible API or a
// local GGUF model), and the single normalization boundary that fails
// closed into a bias-specific fallback intent.
package decision

import (
	"context"
	"errors"
	"time"

	"github.com/sns-vibe/agentsim/internal/models"
)

// Request carries everything a decision is a function of.
type Request struct {
	Persona models.Persona
	Context models.ContextSnapshot
	Goal    string
}

// Provider is a delegated decision backend. It returns the raw intent
// payload as produced by the backend; validation and coercion happen in
// exactly one place (Normalize), never inside a provider.
type Provider interface {
	// Decide produces a raw intent payload for the request. May fail.
	Decide(ctx context.Context, req Request) (map[string]any, error)

	// Available returns true if the provider is configured and ready.
	// For API-based providers, this checks that credentials are present.
	Available() bool

	// Name identifies the provider for reason tags and rate limiting.
	Name() string
}

// Closer is an optional interface for providers holding resources that
// require cleanup. Consumers should type-assert and call Close when done.
type Closer interface {
	Close() error
}

// ErrUnparseable marks a provider response that contained no usable
// intent payload. The policy downgrades it with its own reason tag.
var ErrUnparseable = errors.New("unparseable provider response")

// ProviderConfig configures a delegated decision provider.
type ProviderConfig struct {
	// Provider identifies the backend: "openai", "local", or "" for none.
	Provider string `json:"provider" yaml:"provider"`

	// APIKey is the API key for the provider (unused for local).
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// BaseURL is the API endpoint URL for OpenAI-compatible endpoints.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// Model is the model identifier to use for requests.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// Timeout is the maximum duration to wait for a response.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// LocalModelPath is the GGUF model path for the local provider.
	LocalModelPath string `json:"local_model_path,omitempty" yaml:"local_model_path,omitempty"`

	// LocalGPULayers is the number of layers to offload to GPU.
	LocalGPULayers int `json:"local_gpu_layers,omitempty" yaml:"local_gpu_layers,omitempty"`

	// LocalContextSize is the context window size in tokens.
	LocalContextSize int `json:"local_context_size,omitempty" yaml:"local_context_size,omitempty"`
}

// DefaultProviderConfig returns a ProviderConfig with sensible defaults.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Provider: "",
		Timeout:  30 * time.Second,
	}
}

// NewProvider constructs the configured delegated provider, or nil when
// no delegation is configured. Unknown provider names yield nil; the
// policy then runs the heuristic strategy alone.
func NewProvider(cfg ProviderConfig) Provider {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(cfg)
	case "local":
		return NewLocalProvider(LocalConfig{
			ModelPath:   cfg.LocalModelPath,
			GPULayers:   cfg.LocalGPULayers,
			ContextSize: cfg.LocalContextSize,
		})
	default:
		return nil
	}
}
