//go:build !llamacpp

package decision

import (
	"context"
	"fmt"
)

// LocalProvider is a stub implementation used when the llamacpp build tag
// is not set. It returns Available()=false so the policy falls back to
// other strategies.
type LocalProvider struct {
	modelPath string
}

// LocalConfig configures the local decision provider.
type LocalConfig struct {
	// LibPath is the directory containing yzma shared libraries (.so/.dylib).
	LibPath string

	// ModelPath is the path to the GGUF model file used for embeddings.
	ModelPath string

	// GPULayers is the number of layers to offload to GPU (0 = CPU only).
	GPULayers int

	// ContextSize is the context window size in tokens.
	ContextSize int
}

// NewLocalProvider creates a new LocalProvider. In the stub build (without
// the llamacpp tag), this provider is always unavailable.
func NewLocalProvider(cfg LocalConfig) *LocalProvider {
	return &LocalProvider{modelPath: cfg.ModelPath}
}

// Name identifies the provider for reason tags and rate limiting.
func (p *LocalProvider) Name() string {
	return "local"
}

// Available returns false because the local model is not compiled in
// without the llamacpp build tag.
func (p *LocalProvider) Available() bool {
	return false
}

// Decide returns an error because the local provider is not available in
// stub builds.
func (p *LocalProvider) Decide(_ context.Context, _ Request) (map[string]any, error) {
	return nil, fmt.Errorf("local model not available: build with -tags llamacpp")
}

// Close is a no-op for the stub provider.
func (p *LocalProvider) Close() error {
	return nil
}
