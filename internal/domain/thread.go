package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxTitleLength = 50
	titleEllipsis  = "..."
	defaultTitle   = "New Chat"
)

// Thread is the metadata kept in the thread index.
type Thread struct {
	ThreadID  string    `json:"threadId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	IsRunning bool      `json:"isRunning"`
}

// ThreadTitle derives a display title from the first user message.
func ThreadTitle(firstMessage string) string {
	cleaned := strings.TrimSpace(firstMessage)
	if cleaned == "" {
		return defaultTitle
	}
	if utf8.RuneCountInString(cleaned) <= maxTitleLength {
		return cleaned
	}
	return string([]rune(cleaned)[:maxTitleLength]) + titleEllipsis
}
