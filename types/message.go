package types

import "time"

// Role identifies a conversation participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn passed to the LLM provider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewMessage creates a message with the given role and content.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content}
}

// HistoryEntry is one stored chat exchange: the user's message and the
// agent's response, in arrival order.
type HistoryEntry struct {
	SessionID     string    `json:"session_id"`
	Timestamp     time.Time `json:"timestamp"`
	UserMessage   string    `json:"user_message"`
	AgentResponse string    `json:"agent_response"`
}

// Turns expands a history entry into its user and assistant messages.
func (h HistoryEntry) Turns() []Message {
	return []Message{
		{Role: RoleUser, Content: h.UserMessage},
		{Role: RoleAssistant, Content: h.AgentResponse},
	}
}
