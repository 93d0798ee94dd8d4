package domain

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single persisted chat message. The assistant message of a turn
// is only ever stored with its complete content.
type Message struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// WebhookRequest is the envelope posted to the automation webhook.
type WebhookRequest struct {
	ChatInput string `json:"chatInput"`
	SessionID string `json:"sessionId"`
}
