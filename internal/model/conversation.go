package model

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ConversationType distinguishes one-to-one from group conversations.
type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

// ParseConversationType converts a persisted value back into a ConversationType.
func ParseConversationType(s string) (ConversationType, error) {
	switch ConversationType(s) {
	case ConversationDirect, ConversationGroup:
		return ConversationType(s), nil
	}
	return "", fmt.Errorf("unknown conversation type %q", s)
}

// ParticipantInfo is a denormalized snapshot of a participant's profile.
type ParticipantInfo struct {
	DisplayName     string  `json:"display_name"`
	ProfileImageURL *string `json:"profile_image_url,omitempty"`
}

// LastMessage is the denormalized preview shown in conversation lists.
type LastMessage struct {
	Text       string    `json:"text"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Timestamp  time.Time `json:"timestamp"`
}

// Conversation owns its messages; deleting it deletes them.
type Conversation struct {
	ID             string                     `json:"id"`
	Type           ConversationType           `json:"type"`
	ParticipantIDs []string                   `json:"participant_ids"`
	Participants   map[string]ParticipantInfo `json:"participants,omitempty"`
	GroupName      string                     `json:"group_name,omitempty"`
	GroupImageURL  *string                    `json:"group_image_url,omitempty"`
	CreatedBy      string                     `json:"created_by,omitempty"`
	LastMessage    *LastMessage               `json:"last_message,omitempty"`
	CreatedAt      time.Time                  `json:"created_at"`
	UpdatedAt      time.Time                  `json:"updated_at"`
	SyncEnvelope
}

// directKeySep never appears in remote-assigned user ids.
const directKeySep = "\x1f"

// DirectKey canonicalizes an unordered pair of user ids. Two direct
// conversations with the same key are the same conversation.
func DirectKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + directKeySep + b
}

// Key returns the canonical participant key for direct conversations and the
// empty string for groups, which are never deduplicated.
func (c *Conversation) Key() string {
	if c.Type != ConversationDirect || len(c.ParticipantIDs) != 2 {
		return ""
	}
	return DirectKey(c.ParticipantIDs[0], c.ParticipantIDs[1])
}

// HasParticipant reports whether userID belongs to the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	return slices.Contains(c.ParticipantIDs, userID)
}

// AddParticipant adds userID to both the id list and the info map.
// It returns false if the user was already a participant.
func (c *Conversation) AddParticipant(userID string, info ParticipantInfo) bool {
	if c.HasParticipant(userID) {
		return false
	}
	c.ParticipantIDs = append(c.ParticipantIDs, userID)
	if c.Participants == nil {
		c.Participants = make(map[string]ParticipantInfo)
	}
	c.Participants[userID] = info
	return true
}

// RemoveParticipant removes userID from both the id list and the info map.
// It returns false if the user was not a participant.
func (c *Conversation) RemoveParticipant(userID string) bool {
	i := slices.Index(c.ParticipantIDs, userID)
	if i < 0 {
		return false
	}
	c.ParticipantIDs = slices.Delete(c.ParticipantIDs, i, i+1)
	delete(c.Participants, userID)
	return true
}

// Title returns the group name, or the other participant's display name for
// direct conversations seen by viewerID.
func (c *Conversation) Title(viewerID string) string {
	if c.Type == ConversationGroup {
		return c.GroupName
	}
	var names []string
	for _, id := range c.ParticipantIDs {
		if id == viewerID {
			continue
		}
		if p, ok := c.Participants[id]; ok && p.DisplayName != "" {
			names = append(names, p.DisplayName)
		} else {
			names = append(names, id)
		}
	}
	return strings.Join(names, ", ")
}

// UniqueIDs returns ids with duplicates and empty strings removed, keeping
// the first occurrence order.
func UniqueIDs(ids ...string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}
