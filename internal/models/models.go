// Package models defines the core data types shared across the simulation
// engine: personas, posts, decisions, action records, and run documents.
package models

import (
	"strings"
	"time"
)

// SchemaVersion is stamped on every action record and evaluation record.
const SchemaVersion = "1.0"

// Action statuses recorded in the ledger.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
	StatusError  = "error"
)

// Run statuses written to the run snapshot.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Agent roles.
const (
	RoleHero  = "hero"
	RoleCrowd = "crowd"
)

// Reaction biases.
const (
	BiasPositive = "positive"
	BiasNeutral  = "neutral"
	BiasNegative = "negative"
)

// Sentiments emitted by the decision policy.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// Persona describes a simulated user archetype. Personas are immutable once
// loaded and are shared read-only by many agents.
type Persona struct {
	// ID is the stable persona identifier, e.g. "vegan-mom".
	ID string `json:"id" yaml:"id"`

	// Name is the display name.
	Name string `json:"name" yaml:"name"`

	// Interests are topic keywords the persona engages with.
	Interests []string `json:"interests" yaml:"interests"`

	// Tone flavors generated comments, e.g. "playful" or "luxury".
	Tone string `json:"tone,omitempty" yaml:"tone,omitempty"`

	// ReactionBias is one of "positive", "neutral", or "negative".
	ReactionBias string `json:"reactionBias" yaml:"reaction_bias"`

	// Engagement is the activity level: "high", "medium", or "low".
	// It scales the inter-step delay.
	Engagement string `json:"engagement,omitempty" yaml:"engagement,omitempty"`

	// LikeTendency, CommentTendency and FollowTendency are informational
	// tendencies in [0,1] carried through to traces.
	LikeTendency    float64 `json:"likeTendency,omitempty" yaml:"like_tendency,omitempty"`
	CommentTendency float64 `json:"commentTendency,omitempty" yaml:"comment_tendency,omitempty"`
	FollowTendency  float64 `json:"followTendency,omitempty" yaml:"follow_tendency,omitempty"`

	// Goals are persona-specific objectives blended into affinity scoring.
	Goals []string `json:"goals,omitempty" yaml:"goals,omitempty"`
}

// Post is a single piece of timeline content observed by an agent.
type Post struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Text     string   `json:"text"`
	Tags     []string `json:"tags,omitempty"`

	// CommentsDisabled suppresses comment intents on this post.
	CommentsDisabled bool `json:"commentsDisabled,omitempty"`
}

// IsInfluencer reports whether the post author is an influencer account.
// Influencer handles carry an "influencer" prefix.
func (p Post) IsInfluencer() bool {
	return strings.HasPrefix(strings.ToLower(p.Username), "influencer")
}

// ContextSnapshot is what an agent observes in one step.
type ContextSnapshot struct {
	Post         Post `json:"post"`
	TimelineSize int  `json:"timelineSize,omitempty"`
}

// Decision is the canonical intent produced by the decision policy.
type Decision struct {
	Like      bool   `json:"like"`
	Comment   string `json:"comment"`
	Follow    bool   `json:"follow"`
	Sentiment string `json:"sentiment"`
	Reasoning string `json:"reasoning"`

	// Done signals the agent has nothing further to do; the step loop
	// terminates at the next boundary without acting on this intent.
	Done bool `json:"done,omitempty"`
}

// Engaged reports whether the decision produces any visible engagement.
func (d Decision) Engaged() bool {
	return d.Like || d.Comment != "" || d.Follow
}

// AgentDescriptor identifies the agent that produced an action record.
type AgentDescriptor struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	PersonaID   string `json:"personaId"`
	PersonaName string `json:"personaName"`
}

// ActionDetail is the action block of a ledger record.
type ActionDetail struct {
	Type   string         `json:"type"`
	Status string         `json:"status"`
	Input  map[string]any `json:"input"`
	Output map[string]any `json:"output"`
	Error  string         `json:"error,omitempty"`
}

// Artifact points to a file produced alongside an action (screenshots,
// extracted HTML, and similar collaborator outputs).
type Artifact struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

// ActionRecord is one immutable ledger entry. Sequence numbers are
// per-agent, monotonic, and start at 1.
type ActionRecord struct {
	SchemaVersion string          `json:"schemaVersion"`
	RunID         string          `json:"runId"`
	SimulationID  string          `json:"simulationId"`
	Sequence      int             `json:"sequence"`
	Timestamp     string          `json:"timestamp"`
	Agent         AgentDescriptor `json:"agent"`
	Action        ActionDetail    `json:"action"`
	Artifacts     []Artifact      `json:"artifacts"`
}

// Timestamp format for ledger records and run documents.
const TimestampLayout = time.RFC3339Nano

// Now returns the current UTC time formatted for persisted documents.
func Now() string {
	return time.Now().UTC().Format(TimestampLayout)
}
