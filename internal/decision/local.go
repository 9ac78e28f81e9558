//go:build llamacpp

package decision

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/hybridgroup/yzma/pkg/llama"
)

// Package-level library initialization. llama.Load() and llama.Init() are
// process-global operations that must only happen once.
var (
	libOnce    sync.Once
	libLoadErr error
)

func loadLib(libPath string) error {
	libOnce.Do(func() {
		if err := llama.Load(libPath); err != nil {
			libLoadErr = fmt.Errorf("loading yzma shared library from %q: %w", libPath, err)
			return
		}
		llama.LogSet(llama.LogSilent())
		llama.Init()
	})
	return libLoadErr
}

// LocalProvider implements Provider using a local GGUF model via
// hybridgroup/yzma (purego). It scores persona/post affinity with
// embedding cosine similarity and maps it through the same thresholds as
// the heuristic strategy, so no API dependency is needed. Thread-safe:
// all model access is serialized via mutex. Contexts are created per
// embed call and freed immediately.
type LocalProvider struct {
	libPath     string
	modelPath   string
	gpuLayers   int
	contextSize int

	mu      sync.Mutex
	model   llama.Model
	vocab   llama.Vocab
	nEmbd   int32
	loaded  bool
	loadErr error
	once    sync.Once
}

// LocalConfig configures the local decision provider.
type LocalConfig struct {
	// LibPath is the directory containing yzma shared libraries (.so/.dylib).
	// Falls back to YZMA_LIB env var at runtime.
	LibPath string

	// ModelPath is the path to the GGUF model file used for embeddings.
	ModelPath string

	// GPULayers is the number of layers to offload to GPU (0 = CPU only).
	GPULayers int

	// ContextSize is the context window size in tokens.
	ContextSize int
}

// NewLocalProvider creates a new LocalProvider. The model is not loaded
// until first use.
func NewLocalProvider(cfg LocalConfig) *LocalProvider {
	ctxSize := cfg.ContextSize
	if ctxSize <= 0 {
		ctxSize = 512
	}
	libPath := cfg.LibPath
	if libPath == "" {
		libPath = os.Getenv("YZMA_LIB")
	}
	return &LocalProvider{
		libPath:     libPath,
		modelPath:   cfg.ModelPath,
		gpuLayers:   cfg.GPULayers,
		contextSize: ctxSize,
	}
}

// Name identifies the provider for reason tags and rate limiting.
func (p *LocalProvider) Name() string {
	return "local"
}

// resolveLibPath returns the effective library path, falling back to YZMA_LIB.
func (p *LocalProvider) resolveLibPath() string {
	if p.libPath != "" {
		return p.libPath
	}
	return os.Getenv("YZMA_LIB")
}

// loadModel lazy-loads the embedding model on first use.
func (p *LocalProvider) loadModel() error {
	p.once.Do(func() {
		if p.modelPath == "" {
			p.loadErr = fmt.Errorf("no model path configured")
			return
		}

		libPath := p.resolveLibPath()
		if libPath == "" {
			p.loadErr = fmt.Errorf("no library path configured (set LibPath or YZMA_LIB)")
			return
		}

		if err := loadLib(libPath); err != nil {
			p.loadErr = err
			return
		}

		modelParams := llama.ModelDefaultParams()
		gpuLayers := p.gpuLayers
		if gpuLayers > math.MaxInt32 {
			gpuLayers = math.MaxInt32
		}
		modelParams.NGpuLayers = int32(gpuLayers)

		model, err := llama.ModelLoadFromFile(p.modelPath, modelParams)
		if err != nil {
			p.loadErr = fmt.Errorf("loading model %s: %w", p.modelPath, err)
			return
		}
		if model == 0 {
			p.loadErr = fmt.Errorf("loading model %s: returned null handle", p.modelPath)
			return
		}

		p.model = model
		p.vocab = llama.ModelGetVocab(model)
		p.nEmbd = int32(llama.ModelNEmbd(model))
		p.loaded = true
	})
	return p.loadErr
}

// Available returns true if both the library directory and model file
// exist on disk. This is a cheap check that does not load the model.
func (p *LocalProvider) Available() bool {
	libPath := p.resolveLibPath()
	if libPath == "" || p.modelPath == "" {
		return false
	}
	if info, err := os.Stat(libPath); err != nil || !info.IsDir() {
		return false
	}
	_, err := os.Stat(p.modelPath)
	return err == nil
}

// Decide embeds the persona profile and the post, converts their cosine
// similarity into an affinity, and gates like/comment/follow through the
// same thresholds as the heuristic strategy.
func (p *LocalProvider) Decide(ctx context.Context, req Request) (map[string]any, error) {
	persona := req.Persona
	post := req.Context.Post

	profile := fmt.Sprintf("%s. Interests: %s. Goal: %s",
		persona.Name, strings.Join(persona.Interests, ", "), req.Goal)
	content := post.Text
	if len(post.Tags) > 0 {
		content += " " + strings.Join(post.Tags, " ")
	}

	similarity, err := p.compareEmbeddings(ctx, profile, content)
	if err != nil {
		return nil, fmt.Errorf("embedding comparison: %w", err)
	}

	affinity := math.Max(0, similarity)
	negative := persona.ReactionBias == "negative"
	positive := persona.ReactionBias == "positive"

	likeCutoff := likeThreshold
	if negative {
		likeCutoff = likeThresholdNegative
	}
	commentCutoff := commentThresholdOther
	if positive {
		commentCutoff = commentThresholdPositive
	}
	followCutoff := followThresholdOther
	if positive {
		followCutoff = followThresholdPositive
	}

	payload := map[string]any{
		"like":      affinity >= likeCutoff,
		"comment":   "",
		"follow":    post.IsInfluencer() && affinity >= followCutoff,
		"reasoning": fmt.Sprintf("local_embedding affinity=%.2f bias=%s", affinity, persona.ReactionBias),
	}
	if affinity >= commentCutoff && !post.CommentsDisabled {
		payload["comment"] = buildComment(persona, post)
	}
	switch {
	case affinity >= sentimentPositiveCutoff:
		payload["sentiment"] = "positive"
	case negative && affinity < likeThreshold:
		payload["sentiment"] = "negative"
	default:
		payload["sentiment"] = "neutral"
	}

	return payload, nil
}

// embed returns an L2-normalized embedding for the given text.
// Creates a fresh llama context per call and frees it immediately.
func (p *LocalProvider) embed(ctx context.Context, text string) ([]float32, error) {
	if err := p.loadModel(); err != nil {
		return nil, fmt.Errorf("local embed: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	tokens := llama.Tokenize(p.vocab, text, true, true)

	ctxParams := llama.ContextDefaultParams()
	nTokens := len(tokens) + 64
	if nTokens < p.contextSize {
		nTokens = p.contextSize
	}
	if nTokens > math.MaxUint32 {
		nTokens = math.MaxUint32
	}
	ctxParams.NCtx = uint32(nTokens)

	lctx, err := llama.InitFromModel(p.model, ctxParams)
	if err != nil {
		return nil, fmt.Errorf("creating embedding context: %w", err)
	}
	defer func() { _ = llama.Free(lctx) }()

	llama.SetEmbeddings(lctx, true)

	batch := llama.BatchGetOne(tokens)
	if _, err := llama.Decode(lctx, batch); err != nil {
		return nil, fmt.Errorf("decoding tokens: %w", err)
	}

	rawVec, err := llama.GetEmbeddingsSeq(lctx, 0, p.nEmbd)
	if err != nil {
		return nil, fmt.Errorf("getting embeddings: %w", err)
	}

	// Copy + L2 normalize (rawVec points to memory owned by lctx)
	vec := make([]float32, len(rawVec))
	copy(vec, rawVec)
	normalizeVec(vec)

	return vec, nil
}

// compareEmbeddings embeds both texts and returns their cosine similarity.
func (p *LocalProvider) compareEmbeddings(ctx context.Context, a, b string) (float64, error) {
	embA, err := p.embed(ctx, a)
	if err != nil {
		return 0, fmt.Errorf("embedding text a: %w", err)
	}
	embB, err := p.embed(ctx, b)
	if err != nil {
		return 0, fmt.Errorf("embedding text b: %w", err)
	}
	return cosineSimilarity(embA, embB), nil
}

// Close releases the model resources. Safe to call multiple times.
// Does NOT call llama.Close(), which is process-global.
func (p *LocalProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loaded {
		_ = llama.ModelFree(p.model)
		p.model = 0
		p.vocab = 0
		p.nEmbd = 0
		p.loaded = false
		p.once = sync.Once{} // allow reloading after close
	}
	return nil
}

func normalizeVec(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
