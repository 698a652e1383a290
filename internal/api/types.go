package api

import (
	"time"

	"github.com/matheus3301/msgcore/internal/model"
)

// Requests and responses of the Core service. They travel as
// structpb.Struct values shaped like their JSON encoding.

type UserRequest struct {
	// UserID defaults to the daemon's signed-in user.
	UserID string `json:"user_id,omitempty"`
}

type ConversationRequest struct {
	ConversationID string `json:"conversation_id"`
}

type CreateDirectRequest struct {
	OtherUserID string `json:"other_user_id"`
	// DisplayName overrides the cached profile name of the other user.
	DisplayName string `json:"display_name,omitempty"`
}

type CreateGroupRequest struct {
	ParticipantIDs []string `json:"participant_ids"`
	GroupName      string   `json:"group_name,omitempty"`
	GroupImageURL  *string  `json:"group_image_url,omitempty"`
}

type ListMessagesRequest struct {
	ConversationID string     `json:"conversation_id"`
	Limit          int        `json:"limit,omitempty"`
	Before         *time.Time `json:"before,omitempty"`
}

type SendMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

type RetryMessageRequest struct {
	LocalID string `json:"local_id"`
}

type MarkRequest struct {
	ConversationID string `json:"conversation_id"`
	// MessageIDs may hold server or local ids. MarkRead with no ids marks
	// every message the user has not read yet.
	MessageIDs []string `json:"message_ids,omitempty"`
}

type CompleteActionItemRequest struct {
	ID       string `json:"id"`
	Complete *bool  `json:"complete,omitempty"`
}

type SearchUsersRequest struct {
	Query string `json:"query"`
}

type Empty struct{}

type ConversationsResponse struct {
	Conversations []model.Conversation `json:"conversations"`
}

type ConversationResponse struct {
	Conversation *model.Conversation `json:"conversation"`
}

type MessagesResponse struct {
	Messages []model.Message `json:"messages"`
}

type MessageResponse struct {
	Message *model.Message `json:"message"`
}

type CountResponse struct {
	Count int `json:"count"`
}

type ActionItemsResponse struct {
	Items []model.ActionItem `json:"items"`
}

type ActionItemResponse struct {
	Item *model.ActionItem `json:"item"`
}

type UsersResponse struct {
	Users []model.User `json:"users"`
}

type SyncStatusResponse struct {
	Profile string `json:"profile"`
	UserID  string `json:"user_id"`
	State   string `json:"state"`
	// Pending counts records waiting for a push, by kind.
	Pending map[string]int `json:"pending"`
	// Cursors hold the newest server timestamp applied, by kind.
	Cursors   map[string]time.Time `json:"cursors,omitempty"`
	Observers int                  `json:"observers"`
}

// AppendAIMessageRequest adds one turn to a local AI thread.
type AppendAIMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
	IsFromAI       bool   `json:"is_from_ai"`
}

type AIMessagesResponse struct {
	Messages []model.AIMessage `json:"messages"`
}

type AIMessageResponse struct {
	Message *model.AIMessage `json:"message"`
}
