// Package types holds request-scoped types shared by retrieval, methodology
// and the orchestrator, breaking the import cycle between them.
package types

// UserContext is the learner profile supplied with each request. The core
// never persists it.
type UserContext struct {
	UserID               string   `json:"user_id"`
	CurrentTopic         string   `json:"current_topic,omitempty"`
	DifficultyLevel      string   `json:"difficulty_level,omitempty"`
	LearningProgress     string   `json:"learning_progress,omitempty"`
	PreviousInteractions []string `json:"previous_interactions,omitempty"`
	Subject              string   `json:"subject,omitempty"`
	Tags                 []string `json:"tags,omitempty"`
}

// Difficulty levels used by content metadata and the analyzer.
const (
	DifficultyBeginner     = "beginner"
	DifficultyIntermediate = "intermediate"
	DifficultyAdvanced     = "advanced"
)

// Role of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one message in a session. Turns are append-only and
// Order increases by one per turn.
type ConversationTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Order   int    `json:"order"`
}
