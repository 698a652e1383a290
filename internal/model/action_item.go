package model

import (
	"fmt"
	"time"
)

// Priority ranks an action item.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority converts a persisted value back into a Priority.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return Priority(s), nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

// ActionItem is a task extracted from a message. ConversationID is a
// reference only; the item outlives nothing and owns nothing.
type ActionItem struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Task           string     `json:"task"`
	Assignee       *string    `json:"assignee,omitempty"`
	MessageID      string     `json:"message_id"`
	ExtractedAt    time.Time  `json:"extracted_at"`
	IsComplete     bool       `json:"is_complete"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Deadline       *time.Time `json:"deadline,omitempty"`
	Priority       Priority   `json:"priority"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	SyncEnvelope
}
