package model

import "time"

// AIConversation tracks one assistant thread. It is a local cache only and
// carries no sync envelope.
type AIConversation struct {
	ID           string    `json:"id"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AIMessage is one turn of an assistant thread, ordered by SequenceNumber.
type AIMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SequenceNumber int       `json:"sequence_number"`
	Text           string    `json:"text"`
	IsFromAI       bool      `json:"is_from_ai"`
	Timestamp      time.Time `json:"timestamp"`
}
