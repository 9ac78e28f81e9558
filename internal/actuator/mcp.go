package actuator

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sns-vibe/agentsim/internal/models"
)

// Tool names the actuator server is expected to expose.
const (
	mcpToolLogin   = "login"
	mcpToolObserve = "observe_timeline"
	mcpToolAct     = "perform_action"
)

// MCPActuator drives a real platform surface through an MCP tool server
// launched as a subprocess. One session is shared by all agents; the
// server multiplexes on the agentId argument.
type MCPActuator struct {
	session *sdk.ClientSession
}

// NewMCPActuator launches command with args and connects over stdio.
func NewMCPActuator(ctx context.Context, command string, args []string) (*MCPActuator, error) {
	client := sdk.NewClient(&sdk.Implementation{
		Name:    "agentsim",
		Version: "1.0.0",
	}, nil)

	transport := &sdk.CommandTransport{Command: exec.Command(command, args...)}
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to actuator server %q: %w", command, err)
	}

	return &MCPActuator{session: session}, nil
}

// Login establishes the agent's session on the remote surface.
func (m *MCPActuator) Login(ctx context.Context, agent models.AgentDescriptor) (map[string]any, error) {
	return m.call(ctx, mcpToolLogin, map[string]any{
		"agentId":   agent.ID,
		"personaId": agent.PersonaID,
	})
}

// Observe asks the server for the agent's next timeline post.
func (m *MCPActuator) Observe(ctx context.Context, agent models.AgentDescriptor) (models.ContextSnapshot, map[string]any, error) {
	output, err := m.call(ctx, mcpToolObserve, map[string]any{
		"agentId": agent.ID,
	})
	if err != nil {
		return models.ContextSnapshot{}, nil, err
	}

	var snapshot models.ContextSnapshot
	encoded, err := json.Marshal(output)
	if err != nil {
		return models.ContextSnapshot{}, nil, fmt.Errorf("re-encoding observe output: %w", err)
	}
	if err := json.Unmarshal(encoded, &snapshot); err != nil {
		return models.ContextSnapshot{}, nil, fmt.Errorf("decoding timeline snapshot: %w", err)
	}
	return snapshot, output, nil
}

// Act applies the decision to the observed post.
func (m *MCPActuator) Act(ctx context.Context, agent models.AgentDescriptor, post models.Post, d models.Decision) (map[string]any, error) {
	return m.call(ctx, mcpToolAct, map[string]any{
		"agentId":   agent.ID,
		"postId":    post.ID,
		"like":      d.Like,
		"comment":   d.Comment,
		"follow":    d.Follow,
		"sentiment": d.Sentiment,
	})
}

// call invokes a tool and decodes its first text content as JSON.
func (m *MCPActuator) call(ctx context.Context, tool string, args map[string]any) (map[string]any, error) {
	result, err := m.session.CallTool(ctx, &sdk.CallToolParams{
		Name:      tool,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("calling tool %s: %w", tool, err)
	}

	text := ""
	for _, content := range result.Content {
		if tc, ok := content.(*sdk.TextContent); ok {
			text = tc.Text
			break
		}
	}

	if result.IsError {
		return nil, fmt.Errorf("tool %s failed: %s", tool, text)
	}
	if text == "" {
		return map[string]any{}, nil
	}

	var output map[string]any
	if err := json.Unmarshal([]byte(text), &output); err != nil {
		return nil, fmt.Errorf("decoding %s output: %w", tool, err)
	}
	return output, nil
}

// Close terminates the server session.
func (m *MCPActuator) Close() error {
	if m.session == nil {
		return nil
	}
	return m.session.Close()
}
