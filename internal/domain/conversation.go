package domain

import (
	"fmt"
	"time"
)

// Role identifies who authored a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Metadata keys written on assistant turns.
const (
	MetaAgents    = "agents"
	MetaAIUsed    = "ai_used"
	MetaSessionID = "session_id"
)

// ConversationTurn is a single persisted message. Turns are immutable once
// written.
type ConversationTurn struct {
	TurnID    string         `json:"turn_id"`
	UserID    string         `json:"user_id"`
	Role      Role           `json:"role"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Session is the derived view of a user's recent conversation. It is never
// persisted on its own.
type Session struct {
	SessionID string
	UserID    string
	Turns     []ConversationTurn
	Profile   *UserProfile
}

// DefaultSessionWindow is the retention window used to derive session ids.
const DefaultSessionWindow = 24 * time.Hour

// SessionID derives a stable session identifier from the user and the
// retention window that contains at.
func SessionID(userID string, at time.Time, window time.Duration) string {
	if window <= 0 {
		window = DefaultSessionWindow
	}
	return fmt.Sprintf("%s-%d", userID, at.UTC().Truncate(window).Unix())
}
