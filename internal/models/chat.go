package models

// ChatThread is a conversation over the captured history.
type ChatThread struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// ChatMessage is one turn in a thread. Assistant messages carry the trace
// IDs that grounded the reply.
type ChatMessage struct {
	ID             int64   `json:"id"`
	ThreadID       string  `json:"threadId"`
	Role           string  `json:"role"`
	Content        string  `json:"content"`
	SourceTraceIDs []int64 `json:"sourceTraceIds,omitempty"`
	CreatedAt      int64   `json:"createdAt"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)
