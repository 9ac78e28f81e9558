package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	openAIDefaultEndpoint = "https://api.openai.com/v1"
	openAIDefaultModel    = "gpt-4o-mini"
)

// OpenAIProvider implements Provider using an OpenAI-compatible chat
// completions API.
type OpenAIProvider struct {
	apiKey  string
	baseURL string
	model   string
	timeout time.Duration
	client  *http.Client
}

// NewOpenAIProvider creates a new OpenAIProvider with the given configuration.
// If config.APIKey is empty, it falls back to the OPENAI_API_KEY environment
// variable. If config.Model is empty, it defaults to gpt-4o-mini.
func NewOpenAIProvider(config ProviderConfig) *OpenAIProvider {
	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	baseURL := strings.TrimSuffix(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = openAIDefaultEndpoint
	}

	model := config.Model
	if model == "" {
		model = openAIDefaultModel
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &OpenAIProvider{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// openAIChatRequest represents a request to the chat completions API.
type openAIChatRequest struct {
	Model    string              `json:"model"`
	Messages []openAIChatMessage `json:"messages"`
}

// openAIChatMessage represents a message in the chat format.
type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// openAIChatResponse represents a response from the chat completions API.
type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Name identifies the provider for reason tags and rate limiting.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Available returns true if an API key is present.
func (p *OpenAIProvider) Available() bool {
	return p.apiKey != ""
}

// Decide asks the model for an engagement intent and returns the raw
// payload parsed from its response.
func (p *OpenAIProvider) Decide(ctx context.Context, req Request) (map[string]any, error) {
	prompt := decidePrompt(req)

	response, err := p.callAPI(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("calling chat completions API: %w", err)
	}

	payload, err := parseIntentPayload(response)
	if err != nil {
		return nil, err
	}

	return payload, nil
}

// decidePrompt renders the request as a strict-JSON instruction.
func decidePrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You simulate a social network user deciding how to react to a post.\n\n")
	fmt.Fprintf(&b, "Persona: %s\n", req.Persona.Name)
	fmt.Fprintf(&b, "Interests: %s\n", strings.Join(req.Persona.Interests, ", "))
	fmt.Fprintf(&b, "Tone: %s\n", req.Persona.Tone)
	fmt.Fprintf(&b, "Reaction bias: %s\n", req.Persona.ReactionBias)
	fmt.Fprintf(&b, "Campaign goal: %s\n\n", req.Goal)
	fmt.Fprintf(&b, "Post by @%s: %s\n", req.Context.Post.Username, req.Context.Post.Text)
	if len(req.Context.Post.Tags) > 0 {
		fmt.Fprintf(&b, "Hashtags: %s\n", strings.Join(req.Context.Post.Tags, " "))
	}
	if req.Context.Post.CommentsDisabled {
		b.WriteString("Comments are disabled on this post; the comment field must be empty.\n")
	}
	b.WriteString("\nRespond with a single JSON object and nothing else:\n")
	b.WriteString(`{"like": bool, "comment": string, "follow": bool, "sentiment": "positive"|"neutral"|"negative", "reasoning": string}`)
	return b.String()
}

// parseIntentPayload extracts the first JSON object from a model response.
// Models often wrap JSON in prose or code fences; everything outside the
// outermost braces is discarded.
func parseIntentPayload(response string) (map[string]any, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrUnparseable)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(response[start:end+1]), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}

	return payload, nil
}

// callAPI makes a request to the chat completions API.
func (p *OpenAIProvider) callAPI(ctx context.Context, prompt string) (string, error) {
	reqBody := openAIChatRequest{
		Model: p.model,
		Messages: []openAIChatMessage{
			{Role: "user", Content: prompt},
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var chatResp openAIChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("parsing API response: %w", err)
	}

	if chatResp.Error != nil {
		return "", fmt.Errorf("API error: %s", chatResp.Error.Message)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in API response")
	}

	return chatResp.Choices[0].Message.Content, nil
}
