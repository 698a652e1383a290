// Package client is the typed gRPC client of a running msgcored.
package client

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/matheus3301/msgcore/internal/api"
	"github.com/matheus3301/msgcore/internal/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client talks to the Core service.
type Client struct {
	conn *grpc.ClientConn
}

// New connects to the daemon listening on socketPath.
func New(socketPath string, opts ...grpc.DialOption) (*Client, error) {
	return Dial("unix://"+socketPath, opts...)
}

// Dial connects to target. Without options the connection is insecure,
// which is what a unix socket needs.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, req, resp any) error {
	in, err := api.Encode(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, api.FullMethod(method), in, out); err != nil {
		return err
	}
	return api.Decode(out, resp)
}

// ListConversations returns the signed-in user's conversations, most
// recently active first.
func (c *Client) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	var resp api.ConversationsResponse
	err := c.call(ctx, api.MethodListConversations, &api.UserRequest{}, &resp)
	return resp.Conversations, err
}

// GetConversation returns one conversation.
func (c *Client) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var resp api.ConversationResponse
	err := c.call(ctx, api.MethodGetConversation, &api.ConversationRequest{ConversationID: id}, &resp)
	return resp.Conversation, err
}

// CreateDirectConversation returns the direct conversation with otherUserID,
// creating it if needed.
func (c *Client) CreateDirectConversation(ctx context.Context, otherUserID, displayName string) (*model.Conversation, error) {
	var resp api.ConversationResponse
	err := c.call(ctx, api.MethodCreateDirectConversation,
		&api.CreateDirectRequest{OtherUserID: otherUserID, DisplayName: displayName}, &resp)
	return resp.Conversation, err
}

// CreateGroupConversation creates a group with the signed-in user and
// participantIDs.
func (c *Client) CreateGroupConversation(ctx context.Context, participantIDs []string, name string) (*model.Conversation, error) {
	req := &api.CreateGroupRequest{ParticipantIDs: participantIDs, GroupName: name}
	var resp api.ConversationResponse
	err := c.call(ctx, api.MethodCreateGroupConversation, req, &resp)
	return resp.Conversation, err
}

// ListMessages returns the latest limit messages of a conversation, or the
// latest ones older than before when it is non-zero.
func (c *Client) ListMessages(ctx context.Context, conversationID string, limit int, before time.Time) ([]model.Message, error) {
	req := &api.ListMessagesRequest{ConversationID: conversationID, Limit: limit}
	if !before.IsZero() {
		req.Before = &before
	}
	var resp api.MessagesResponse
	err := c.call(ctx, api.MethodListMessages, req, &resp)
	return resp.Messages, err
}

// SendMessage stores an outgoing message; the daemon pushes it.
func (c *Client) SendMessage(ctx context.Context, conversationID, text string) (*model.Message, error) {
	var resp api.MessageResponse
	err := c.call(ctx, api.MethodSendMessage, &api.SendMessageRequest{ConversationID: conversationID, Text: text}, &resp)
	return resp.Message, err
}

// RetryMessage requeues a failed message.
func (c *Client) RetryMessage(ctx context.Context, localID string) (*model.Message, error) {
	var resp api.MessageResponse
	err := c.call(ctx, api.MethodRetryMessage, &api.RetryMessageRequest{LocalID: localID}, &resp)
	return resp.Message, err
}

// MarkRead marks messages read by the signed-in user; no ids means all
// unread ones.
func (c *Client) MarkRead(ctx context.Context, conversationID string, ids ...string) error {
	return c.call(ctx, api.MethodMarkRead, &api.MarkRequest{ConversationID: conversationID, MessageIDs: ids}, &api.Empty{})
}

// MarkDelivered marks messages delivered to the signed-in user.
func (c *Client) MarkDelivered(ctx context.Context, conversationID string, ids ...string) error {
	return c.call(ctx, api.MethodMarkDelivered, &api.MarkRequest{ConversationID: conversationID, MessageIDs: ids}, &api.Empty{})
}

// UnreadCount returns how many messages of a conversation the signed-in
// user has not read.
func (c *Client) UnreadCount(ctx context.Context, conversationID string) (int, error) {
	var resp api.CountResponse
	err := c.call(ctx, api.MethodUnreadCount, &api.ConversationRequest{ConversationID: conversationID}, &resp)
	return resp.Count, err
}

// ListActionItems returns the action items of a conversation, or of all
// conversations when conversationID is empty.
func (c *Client) ListActionItems(ctx context.Context, conversationID string) ([]model.ActionItem, error) {
	var resp api.ActionItemsResponse
	err := c.call(ctx, api.MethodListActionItems, &api.ConversationRequest{ConversationID: conversationID}, &resp)
	return resp.Items, err
}

// CompleteActionItem sets the completion flag of an action item.
func (c *Client) CompleteActionItem(ctx context.Context, id string, complete bool) (*model.ActionItem, error) {
	var resp api.ActionItemResponse
	err := c.call(ctx, api.MethodCompleteActionItem, &api.CompleteActionItemRequest{ID: id, Complete: &complete}, &resp)
	return resp.Item, err
}

// SearchUsers searches the cached user profiles.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]model.User, error) {
	var resp api.UsersResponse
	err := c.call(ctx, api.MethodSearchUsers, &api.SearchUsersRequest{Query: query}, &resp)
	return resp.Users, err
}

// SyncStatus reports the daemon's RemoteSync state.
func (c *Client) SyncStatus(ctx context.Context) (*api.SyncStatusResponse, error) {
	var resp api.SyncStatusResponse
	if err := c.call(ctx, api.MethodSyncStatus, &api.Empty{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AIMessages returns the turns of a local AI thread in sequence order.
func (c *Client) AIMessages(ctx context.Context, conversationID string) ([]model.AIMessage, error) {
	var resp api.AIMessagesResponse
	err := c.call(ctx, api.MethodListAIMessages, &api.ConversationRequest{ConversationID: conversationID}, &resp)
	return resp.Messages, err
}

// AppendAIMessage adds a turn to a local AI thread, creating the thread on
// first use.
func (c *Client) AppendAIMessage(ctx context.Context, conversationID, text string, fromAI bool) (*model.AIMessage, error) {
	req := &api.AppendAIMessageRequest{ConversationID: conversationID, Text: text, IsFromAI: fromAI}
	var resp api.AIMessageResponse
	err := c.call(ctx, api.MethodAppendAIMessage, req, &resp)
	return resp.Message, err
}

// ClearAIConversation deletes every turn of a local AI thread.
func (c *Client) ClearAIConversation(ctx context.Context, conversationID string) error {
	return c.call(ctx, api.MethodClearAIConversation, &api.ConversationRequest{ConversationID: conversationID}, &api.Empty{})
}

// WatchConversations streams conversation list snapshots until ctx is
// canceled or fn returns an error.
func (c *Client) WatchConversations(ctx context.Context, fn func([]model.Conversation) error) error {
	return watch(ctx, c, api.MethodWatchConversations, &api.UserRequest{}, func(resp *api.ConversationsResponse) error {
		return fn(resp.Conversations)
	})
}

// WatchMessages streams snapshots of a conversation's latest limit messages.
func (c *Client) WatchMessages(ctx context.Context, conversationID string, limit int, fn func([]model.Message) error) error {
	req := &api.ListMessagesRequest{ConversationID: conversationID, Limit: limit}
	return watch(ctx, c, api.MethodWatchMessages, req, func(resp *api.MessagesResponse) error {
		return fn(resp.Messages)
	})
}

func watch[Resp any](ctx context.Context, c *Client, method string, req any, fn func(*Resp) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	desc := &grpc.StreamDesc{StreamName: method, ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, api.FullMethod(method))
	if err != nil {
		return err
	}
	in, err := api.Encode(req)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		out := new(structpb.Struct)
		if err := stream.RecvMsg(out); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		var resp Resp
		if err := api.Decode(out, &resp); err != nil {
			return err
		}
		if err := fn(&resp); err != nil {
			return err
		}
	}
}
