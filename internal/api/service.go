package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/msgcore/internal/model"
	"github.com/matheus3301/msgcore/internal/observe"
	"github.com/matheus3301/msgcore/internal/repository"
	"github.com/matheus3301/msgcore/internal/status"
	"github.com/matheus3301/msgcore/internal/store"
	intsync "github.com/matheus3301/msgcore/internal/sync"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// DefaultMessageLimit is the page size of ListMessages and WatchMessages
// when the request names none.
const DefaultMessageLimit = 50

// Options holds what the Core service is built from.
type Options struct {
	Profile string
	// UserID is the signed-in user; requests act on their behalf.
	UserID string

	Conversations *repository.ConversationRepository
	Messages      *repository.MessageRepository
	ActionItems   *repository.ActionItemRepository
	Users         *repository.UserRepository
	AIChat        *repository.AIChatRepository
	Reconciler    *intsync.Reconciler
	Machine       *status.Machine
	Observer      *observe.Engine
	Logger        *zap.Logger
}

// Service implements CoreServer on top of the repositories.
type Service struct {
	Options
}

// NewService creates the Core service.
func NewService(o Options) *Service {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return &Service{Options: o}
}

var _ CoreServer = (*Service)(nil)

func (s *Service) ListConversations(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, req *UserRequest) (*ConversationsResponse, error) {
		uid, err := s.user(req.UserID)
		if err != nil {
			return nil, err
		}
		convs, err := s.Conversations.ListForUser(ctx, uid)
		return &ConversationsResponse{Conversations: convs}, err
	})
}

func (s *Service) GetConversation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, req *ConversationRequest) (*ConversationResponse, error) {
		c, err := s.Conversations.Get(ctx, req.ConversationID)
		return &ConversationResponse{Conversation: c}, err
	})
}

func (s *Service) CreateDirectConversation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, req *CreateDirectRequest) (*ConversationResponse, error) {
		uid, err := s.user("")
		if err != nil {
			return nil, err
		}
		info, err := s.participant(ctx, req.OtherUserID)
		if err != nil {
			return nil, err
		}
		if req.DisplayName != "" {
			info.DisplayName = req.DisplayName
		}
		c, err := s.Conversations.CreateDirectConversation(ctx, uid, req.OtherUserID, info)
		return &ConversationResponse{Conversation: c}, err
	})
}

func (s *Service) CreateGroupConversation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, req *CreateGroupRequest) (*ConversationResponse, error) {
		uid, err := s.user("")
		if err != nil {
			return nil, err
		}
		infos := make(map[string]model.ParticipantInfo, len(req.ParticipantIDs))
		for _, id := range req.ParticipantIDs {
			if infos[id], err = s.participant(ctx, id); err != nil {
				return nil, err
			}
		}
		c, err := s.Conversations.CreateGroupConversation(ctx, uid, req.ParticipantIDs, infos, req.GroupName, req.GroupImageURL)
		return &ConversationResponse{Conversation: c}, err
	})
}

func (s *Service) ListMessages(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, req *ListMessagesRequest) (*MessagesResponse, error) {
		limit := req.Limit
		if limit <= 0 {
			limit = DefaultMessageLimit
		}
		var msgs []model.Message
		var err error
		if req.Before != nil {
			msgs, err = s.Messages.GetMessagesBefore(ctx, req.ConversationID, *req.Before, limit)
		} else {
			msgs, err = s.Messages.GetMessages(ctx, req.ConversationID, limit)
		}
		return &MessagesResponse{Messages: msgs}, err
	})
}

func (s *Service) SendMessage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, req *SendMessageRequest) (*MessageResponse, error) {
		uid, err := s.user("")
		if err != nil {
			return nil, err
		}
		me, err := s.participant(ctx, uid)
		if err != nil {
			return nil, err
		}
		m, err := s.Messages.SendMessage(ctx, req.ConversationID, req.Text, uid, me.DisplayName)
		return &MessageResponse{Message: m}, err
	})
}

func (s *Service) RetryMessage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, req *RetryMessageRequest) (*MessageResponse, error) {
		m, err := s.Messages.RetryMessage(ctx, req.LocalID)
		return &MessageResponse{Message: m}, err
	})
}

func (s *Service) MarkRead(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, req *MarkRequest) (*Empty, error) {
		uid, err := s.user("")
		if err != nil {
			return nil, err
		}
		ids := req.MessageIDs
		if len(ids) == 0 {
			if ids, err = s.unreadIDs(ctx, req.ConversationID, uid); err != nil {
				return nil, err
			}
		}
		return &Empty{}, s.Messages.MarkMessagesAsRead(ctx, ids, req.ConversationID, uid)
	})
}

func (s *Service) MarkDelivered(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, req *MarkRequest) (*Empty, error) {
		uid, err := s.user("")
		if err != nil {
			return nil, err
		}
		if len(req.MessageIDs) == 0 {
			return nil, fmt.Errorf("%w: no message ids", store.ErrInvalidData)
		}
		return &Empty{}, s.Messages.MarkMessagesAsDelivered(ctx, req.MessageIDs, req.ConversationID, uid)
	})
}

func (s *Service) UnreadCount(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, req *ConversationRequest) (*CountResponse, error) {
		uid, err := s.user("")
		if err != nil {
			return nil, err
		}
		n, err := s.Messages.GetUnreadCount(ctx, req.ConversationID, uid)
		return &CountResponse{Count: n}, err
	})
}

func (s *Service) ListActionItems(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, req *ConversationRequest) (*ActionItemsResponse, error) {
		var items []model.ActionItem
		var err error
		if req.ConversationID == "" {
			items, err = s.ActionItems.FetchAll(ctx)
		} else {
			items, err = s.ActionItems.Fetch(ctx, req.ConversationID)
		}
		return &ActionItemsResponse{Items: items}, err
	})
}

func (s *Service) CompleteActionItem(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, req *CompleteActionItemRequest) (*ActionItemResponse, error) {
		complete := req.Complete == nil || *req.Complete
		item, err := s.ActionItems.UpdateCompletion(ctx, req.ID, complete)
		return &ActionItemResponse{Item: item}, err
	})
}

func (s *Service) SearchUsers(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, req *SearchUsersRequest) (*UsersResponse, error) {
		users, err := s.Users.SearchUsers(ctx, req.Query)
		return &UsersResponse{Users: users}, err
	})
}

func (s *Service) ListAIMessages(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, req *ConversationRequest) (*AIMessagesResponse, error) {
		msgs, err := s.AIChat.Messages(ctx, req.ConversationID)
		return &AIMessagesResponse{Messages: msgs}, err
	})
}

func (s *Service) AppendAIMessage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, req *AppendAIMessageRequest) (*AIMessageResponse, error) {
		if req.ConversationID == "" {
			return nil, fmt.Errorf("%w: no conversation id", store.ErrInvalidData)
		}
		msg, err := s.AIChat.AppendMessage(ctx, req.ConversationID, req.Text, req.IsFromAI)
		return &AIMessageResponse{Message: msg}, err
	})
}

func (s *Service) ClearAIConversation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, req *ConversationRequest) (*Empty, error) {
		return &Empty{}, s.AIChat.ClearConversation(ctx, req.ConversationID)
	})
}

func (s *Service) SyncStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, _ *Empty) (*SyncStatusResponse, error) {
		resp := &SyncStatusResponse{
			Profile: s.Profile,
			UserID:  s.UserID,
			State:   string(s.Machine.Current()),
			Pending: make(map[string]int),
		}
		counts := []struct {
			kind  model.Kind
			count func(context.Context) (int, error)
		}{
			{model.KindUser, pendingCount(s.Users.PendingSync)},
			{model.KindConversation, pendingCount(s.Conversations.PendingSync)},
			{model.KindMessage, pendingCount(s.Messages.PendingSync)},
			{model.KindActionItem, pendingCount(s.ActionItems.PendingSync)},
		}
		for _, c := range counts {
			n, err := c.count(ctx)
			if err != nil {
				return nil, err
			}
			resp.Pending[string(c.kind)] = n
		}
		if s.Reconciler != nil {
			resp.Cursors = make(map[string]time.Time)
			for _, kind := range model.SyncedKinds {
				cur, err := s.Reconciler.Cursor(ctx, kind)
				if err != nil {
					return nil, err
				}
				if !cur.IsZero() {
					resp.Cursors[string(kind)] = cur
				}
			}
		}
		if s.Observer != nil {
			resp.Observers = s.Observer.Active()
		}
		return resp, nil
	})
}

func (s *Service) WatchConversations(in *structpb.Struct, stream grpc.ServerStream) error {
	var req UserRequest
	if err := Decode(in, &req); err != nil {
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	uid, err := s.user(req.UserID)
	if err != nil {
		return toStatus(err)
	}
	for convs := range s.Conversations.ObserveConversations(stream.Context(), uid) {
		if err := send(stream, &ConversationsResponse{Conversations: convs}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) WatchMessages(in *structpb.Struct, stream grpc.ServerStream) error {
	var req ListMessagesRequest
	if err := Decode(in, &req); err != nil {
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	for msgs := range s.Messages.ObserveMessages(stream.Context(), req.ConversationID, limit) {
		if err := send(stream, &MessagesResponse{Messages: msgs}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) user(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if s.UserID == "" {
		return "", fmt.Errorf("%w: no signed-in user", store.ErrInvalidData)
	}
	return s.UserID, nil
}

// participant builds the conversation snapshot of a user from the profile
// cache. Unknown users get an empty snapshot.
func (s *Service) participant(ctx context.Context, id string) (model.ParticipantInfo, error) {
	u, err := s.Users.Get(ctx, id)
	if errors.Is(err, store.ErrEntityNotFound) {
		return model.ParticipantInfo{}, nil
	}
	if err != nil {
		return model.ParticipantInfo{}, err
	}
	return model.ParticipantInfo{DisplayName: u.DisplayName, ProfileImageURL: u.ProfileImageURL}, nil
}

func (s *Service) unreadIDs(ctx context.Context, conversationID, userID string) ([]string, error) {
	msgs, err := s.Messages.GetMessages(ctx, conversationID, 0)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, m := range msgs {
		if m.SenderID != userID && !m.IsReadBy(userID) {
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

func pendingCount[T any](pending func(context.Context, int) ([]T, error)) func(context.Context) (int, error) {
	return func(ctx context.Context) (int, error) {
		recs, err := pending(ctx, 0)
		return len(recs), err
	}
}

// handle decodes a request, runs fn and encodes its response, mapping
// errors to gRPC status codes.
func handle[Req, Resp any](ctx context.Context, in *structpb.Struct, fn func(context.Context, *Req) (*Resp, error)) (*structpb.Struct, error) {
	var req Req
	if err := Decode(in, &req); err != nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	resp, err := fn(ctx, &req)
	if err != nil {
		return nil, toStatus(err)
	}
	return Encode(resp)
}

func send(stream grpc.ServerStream, v any) error {
	out, err := Encode(v)
	if err != nil {
		return toStatus(err)
	}
	return stream.SendMsg(out)
}
