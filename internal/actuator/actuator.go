// Package actuator abstracts the social network surface agents act
// against. The sim backend drives a deterministic in-memory timeline;
// the mcp backend drives a real client over an MCP tool server.
package actuator

import (
	"context"

	"github.com/sns-vibe/agentsim/internal/models"
)

// Actuator performs platform operations on behalf of one agent. Output
// maps are recorded verbatim in the agent's action ledger.
type Actuator interface {
	// Login establishes the agent's session.
	Login(ctx context.Context, agent models.AgentDescriptor) (map[string]any, error)

	// Observe returns the next post in the agent's timeline along with
	// the ledger output for the observe action.
	Observe(ctx context.Context, agent models.AgentDescriptor) (models.ContextSnapshot, map[string]any, error)

	// Act applies the decision to the observed post.
	Act(ctx context.Context, agent models.AgentDescriptor, post models.Post, decision models.Decision) (map[string]any, error)
}

// Closer is implemented by actuators holding external resources.
type Closer interface {
	Close() error
}

// ActResult is the canonical shape of the "result" key in an act
// action's output map.
func ActResult(post models.Post, decision models.Decision) map[string]any {
	return map[string]any{
		"postId": post.ID,
		"result": map[string]any{
			"liked":     decision.Like,
			"commented": decision.Comment != "",
			"followed":  decision.Follow,
		},
		"comment":   decision.Comment,
		"sentiment": decision.Sentiment,
		"tags":      post.Tags,
	}
}
