package model

import (
	"slices"
	"time"
)

// Message is a chat message. LocalID is the client-generated identity and
// never changes; ID starts equal to LocalID and is replaced by the
// server-assigned id once RemoteSync acknowledges the message.
type Message struct {
	ID             string        `json:"id"`
	LocalID        string        `json:"local_id"`
	ConversationID string        `json:"conversation_id"`
	SenderID       string        `json:"sender_id"`
	SenderName     string        `json:"sender_name"`
	Text           string        `json:"text"`
	Timestamp      time.Time     `json:"timestamp"`
	Status         MessageStatus `json:"status"`
	ReadBy         []string      `json:"read_by,omitempty"`
	DeliveredTo    []string      `json:"delivered_to,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	SyncEnvelope
}

// AddReader appends userID to ReadBy. The set only grows.
func (m *Message) AddReader(userID string) bool {
	if slices.Contains(m.ReadBy, userID) {
		return false
	}
	m.ReadBy = append(m.ReadBy, userID)
	return true
}

// AddRecipient appends userID to DeliveredTo. The set only grows.
func (m *Message) AddRecipient(userID string) bool {
	if slices.Contains(m.DeliveredTo, userID) {
		return false
	}
	m.DeliveredTo = append(m.DeliveredTo, userID)
	return true
}

// Advance moves the status to next when the transition table allows it.
func (m *Message) Advance(next MessageStatus) bool {
	if !CanTransition(m.Status, next) {
		return false
	}
	m.Status = next
	return true
}

// IsReadBy reports whether userID has read the message.
func (m *Message) IsReadBy(userID string) bool {
	return slices.Contains(m.ReadBy, userID)
}

// Preview builds the conversation-list snapshot of this message.
func (m *Message) Preview() LastMessage {
	return LastMessage{
		Text:       m.Text,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Timestamp:  m.Timestamp,
	}
}
