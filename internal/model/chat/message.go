package chat

import "time"

// Message roles. The canonical conversation history is the session's
// messages ordered by CreatedAt.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Metadata carries per-message flags, written once at creation time.
// Known keys: "streamed", "enhanced", "error", "regenerated", "replyTo".
type Metadata map[string]any

// Message persists a single turn half. Immutable once created.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Metadata  Metadata  `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Flag reports whether a metadata key is set to true.
func (m Message) Flag(key string) bool {
	if m.Metadata == nil {
		return false
	}
	v, ok := m.Metadata[key].(bool)
	return ok && v
}
