// Package persona manages the catalog of simulated user profiles.
package persona

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/sns-vibe/agentsim/internal/models"
)

// Defaults returns the built-in persona catalog used when no persona
// file is configured.
func Defaults() []models.Persona {
	return []models.Persona{
		{
			ID:              "vegan-mom",
			Name:            "Vegan Mom",
			Interests:       []string{"vegan", "recipes", "family", "wellness"},
			Tone:            "playful",
			ReactionBias:    models.BiasPositive,
			Engagement:      "high",
			LikeTendency:    0.8,
			CommentTendency: 0.6,
			FollowTendency:  0.3,
			Goals:           []string{"find family friendly products"},
		},
		{
			ID:              "beauty-analyst",
			Name:            "Beauty Analyst",
			Interests:       []string{"beauty", "skincare", "ingredients"},
			Tone:            "confident",
			ReactionBias:    models.BiasNeutral,
			Engagement:      "medium",
			LikeTendency:    0.5,
			CommentTendency: 0.5,
			FollowTendency:  0.2,
			Goals:           []string{"evaluate product claims"},
		},
		{
			ID:              "cynical-memer",
			Name:            "Cynical Memer",
			Interests:       []string{"memes", "irony", "internet culture"},
			Tone:            "bold",
			ReactionBias:    models.BiasNegative,
			Engagement:      "low",
			LikeTendency:    0.2,
			CommentTendency: 0.4,
			FollowTendency:  0.05,
			Goals:           []string{"mock overproduced ads"},
		},
	}
}

// catalogFile is the on-disk persona catalog shape.
type catalogFile struct {
	Personas []models.Persona `yaml:"personas"`
}

// Load reads a persona catalog from a YAML file. An empty path returns
// the built-in defaults.
func Load(path string) ([]models.Persona, error) {
	if path == "" {
		return Defaults(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading persona file: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing persona file %s: %w", path, err)
	}
	if len(file.Personas) == 0 {
		return nil, fmt.Errorf("persona file %s defines no personas", path)
	}

	seen := make(map[string]bool, len(file.Personas))
	for i, p := range file.Personas {
		if p.ID == "" {
			return nil, fmt.Errorf("persona %d in %s has no id", i, path)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("duplicate persona id %q in %s", p.ID, path)
		}
		seen[p.ID] = true
	}

	return file.Personas, nil
}

// Catalog is an immutable persona set with a concurrency-safe cursor
// for round-robin assignment.
type Catalog struct {
	personas []models.Persona
	byID     map[string]models.Persona

	mu   sync.Mutex
	next int
}

// NewCatalog wraps personas for lookup and assignment. Empty input
// falls back to the defaults.
func NewCatalog(personas []models.Persona) *Catalog {
	if len(personas) == 0 {
		personas = Defaults()
	}
	byID := make(map[string]models.Persona, len(personas))
	for _, p := range personas {
		byID[p.ID] = p
	}
	return &Catalog{personas: personas, byID: byID}
}

// All returns the catalog in declaration order.
func (c *Catalog) All() []models.Persona {
	out := make([]models.Persona, len(c.personas))
	copy(out, c.personas)
	return out
}

// ByID looks up a persona. The second return reports whether it exists.
func (c *Catalog) ByID(id string) (models.Persona, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// Resolve returns the persona for id, or the first catalog entry when
// id is empty or unknown. Hero agents use this so a mistyped target
// persona still yields a runnable simulation.
func (c *Catalog) Resolve(id string) models.Persona {
	if p, ok := c.byID[id]; ok {
		return p
	}
	return c.personas[0]
}

// Cycle returns the next persona round-robin. Crowd agents call this
// to spread across the catalog.
func (c *Catalog) Cycle() models.Persona {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.personas[c.next%len(c.personas)]
	c.next++
	return p
}
