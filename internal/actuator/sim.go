package actuator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sns-vibe/agentsim/internal/decision"
	"github.com/sns-vibe/agentsim/internal/models"
)

// SimActuator serves a fixed in-memory timeline. Each agent walks the
// timeline round-robin with its own cursor, so concurrent agents see
// the same posts in the same order without coordinating. All methods
// are safe for concurrent use.
type SimActuator struct {
	mu       sync.Mutex
	timeline []models.Post
	cursors  map[string]int
	sessions map[string]bool
	likes    map[string]int
	comments map[string][]string
	follows  map[string]int
}

// NewSimActuator creates a sim actuator over the given timeline. An
// empty timeline falls back to the default catalog for the goal "".
func NewSimActuator(timeline []models.Post) *SimActuator {
	if len(timeline) == 0 {
		timeline = DefaultTimeline("")
	}
	return &SimActuator{
		timeline: timeline,
		cursors:  make(map[string]int),
		sessions: make(map[string]bool),
		likes:    make(map[string]int),
		comments: make(map[string][]string),
		follows:  make(map[string]int),
	}
}

// DefaultTimeline builds the built-in post catalog. Goal tokens become
// hashtags on the influencer posts so campaign-relevant content scores
// higher for matching personas.
func DefaultTimeline(goal string) []models.Post {
	goalTags := make([]string, 0, 4)
	for _, token := range decision.Tokenize(goal) {
		goalTags = append(goalTags, "#"+token)
		if len(goalTags) == 4 {
			break
		}
	}

	return []models.Post{
		{
			ID:       "post-001",
			Username: "influencer_kay",
			Text:     "Obsessed with this season's launch. Full review on my channel.",
			Tags:     append([]string{"#sponsored"}, goalTags...),
		},
		{
			ID:       "post-002",
			Username: "daily_foodie",
			Text:     "Tried a fully vegan week with the family. The kids loved the recipes.",
			Tags:     []string{"#vegan", "#recipes", "#family"},
		},
		{
			ID:       "post-003",
			Username: "glow_check",
			Text:     "Ingredient breakdown of the new serum line. The actives are legit.",
			Tags:     []string{"#beauty", "#skincare", "#ingredients"},
		},
		{
			ID:       "post-004",
			Username: "influencer_maya",
			Text:     "Partnering on something special this month. Stay tuned.",
			Tags:     append([]string{"#ad"}, goalTags...),
		},
		{
			ID:       "post-005",
			Username: "meme_archive",
			Text:     "Brands discovering irony for the first time. A thread.",
			Tags:     []string{"#memes", "#irony"},
		},
		{
			ID:               "post-006",
			Username:         "quiet_luxury",
			Text:             "Minimal looks, maximal quality. No shortcuts.",
			Tags:             []string{"#luxury", "#style"},
			CommentsDisabled: true,
		},
	}
}

// Login establishes the agent's session.
func (s *SimActuator) Login(_ context.Context, agent models.AgentDescriptor) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[agent.ID] = true
	return map[string]any{
		"session":  "sim-" + agent.ID,
		"username": strings.ReplaceAll(agent.PersonaID, "-", "_"),
	}, nil
}

// Observe returns the next post for this agent and advances its cursor.
func (s *SimActuator) Observe(_ context.Context, agent models.AgentDescriptor) (models.ContextSnapshot, map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.sessions[agent.ID] {
		return models.ContextSnapshot{}, nil, fmt.Errorf("agent %s has no session", agent.ID)
	}

	cursor := s.cursors[agent.ID]
	post := s.timeline[cursor%len(s.timeline)]
	s.cursors[agent.ID] = cursor + 1

	snapshot := models.ContextSnapshot{
		Post:         post,
		TimelineSize: len(s.timeline),
	}
	output := map[string]any{
		"postId":       post.ID,
		"username":     post.Username,
		"timelineSize": len(s.timeline),
	}
	return snapshot, output, nil
}

// Act applies the decision to the timeline's engagement counters.
func (s *SimActuator) Act(_ context.Context, agent models.AgentDescriptor, post models.Post, d models.Decision) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.sessions[agent.ID] {
		return nil, fmt.Errorf("agent %s has no session", agent.ID)
	}
	if d.Comment != "" && post.CommentsDisabled {
		return nil, fmt.Errorf("comments disabled on post %s", post.ID)
	}

	if d.Like {
		s.likes[post.ID]++
	}
	if d.Comment != "" {
		s.comments[post.ID] = append(s.comments[post.ID], d.Comment)
	}
	if d.Follow {
		s.follows[post.Username]++
	}

	return ActResult(post, d), nil
}

// Engagement reports the accumulated like and comment counts for a post.
func (s *SimActuator) Engagement(postID string) (likes, comments int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.likes[postID], len(s.comments[postID])
}
