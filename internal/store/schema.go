package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/msgcore/internal/model"
)

var envelopeColumns = []string{"sync_status", "last_sync_attempt", "sync_retry_count", "server_timestamp"}

func withEnvelope(cols ...string) []string {
	return append(cols, envelopeColumns...)
}

func envelopeValues(e *model.SyncEnvelope) []any {
	status := e.SyncStatus
	if status == "" {
		status = model.SyncPending
	}
	return []any{string(status), nullMillis(e.LastSyncAttempt), e.SyncRetryCount, nullMillis(e.ServerTimestamp)}
}

// envelopeRow holds the scan targets of the envelope columns.
type envelopeRow struct {
	status  string
	attempt sql.NullInt64
	retries int
	server  sql.NullInt64
}

func (r *envelopeRow) targets() []any {
	return []any{&r.status, &r.attempt, &r.retries, &r.server}
}

func (r *envelopeRow) envelope() (model.SyncEnvelope, error) {
	status, err := model.ParseSyncStatus(r.status)
	if err != nil {
		return model.SyncEnvelope{}, err
	}
	return model.SyncEnvelope{
		SyncStatus:      status,
		LastSyncAttempt: timePtr(r.attempt),
		SyncRetryCount:  r.retries,
		ServerTimestamp: timePtr(r.server),
	}, nil
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func encodeList(ids []string) (string, error) {
	if len(ids) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(ids)
	return string(b), err
}

func decodeList(s string) ([]string, error) {
	var ids []string
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return ids, nil
}

func scanFailed(table string, err error) error {
	return fmt.Errorf("%w: decode %s row: %v", ErrInvalidData, table, err)
}

var userSchema = Schema[model.User]{
	Name: "users",
	Columns: withEnvelope("id", "email", "display_name", "profile_image_url", "avatar_color_hex",
		"is_online", "last_seen", "created_at", "updated_at"),
	Key: func(u *model.User) string { return u.ID },
	Values: func(u *model.User) ([]any, error) {
		return append([]any{
			u.ID, u.Email, u.DisplayName, nullString(u.ProfileImageURL), nullString(u.AvatarColorHex),
			u.IsOnline, nullMillis(u.LastSeen), u.CreatedAt.UnixMilli(), u.UpdatedAt.UnixMilli(),
		}, envelopeValues(&u.SyncEnvelope)...), nil
	},
	Scan: func(row Scanner) (model.User, error) {
		var (
			u                model.User
			image, color     sql.NullString
			lastSeen         sql.NullInt64
			created, updated int64
			env              envelopeRow
		)
		targets := append([]any{&u.ID, &u.Email, &u.DisplayName, &image, &color,
			&u.IsOnline, &lastSeen, &created, &updated}, env.targets()...)
		if err := row.Scan(targets...); err != nil {
			return u, err
		}
		e, err := env.envelope()
		if err != nil {
			return u, scanFailed("users", err)
		}
		u.ProfileImageURL = stringPtr(image)
		u.AvatarColorHex = stringPtr(color)
		u.LastSeen = timePtr(lastSeen)
		u.CreatedAt = time.UnixMilli(created)
		u.UpdatedAt = time.UnixMilli(updated)
		u.SyncEnvelope = e
		return u, nil
	},
}

var conversationSchema = Schema[model.Conversation]{
	Name: "conversations",
	Columns: withEnvelope("id", "type", "participant_ids", "participant_key", "participants",
		"group_name", "group_image_url", "created_by",
		"last_message_text", "last_message_sender_id", "last_message_sender_name", "last_message_at",
		"created_at", "updated_at"),
	Key: func(c *model.Conversation) string { return c.ID },
	Values: func(c *model.Conversation) ([]any, error) {
		if _, err := model.ParseConversationType(string(c.Type)); err != nil {
			return nil, err
		}
		ids, err := encodeList(c.ParticipantIDs)
		if err != nil {
			return nil, err
		}
		participants := "{}"
		if len(c.Participants) > 0 {
			b, err := json.Marshal(c.Participants)
			if err != nil {
				return nil, err
			}
			participants = string(b)
		}
		var key any
		if k := c.Key(); k != "" {
			key = k
		}
		var lmText, lmSender, lmName, lmAt any
		if lm := c.LastMessage; lm != nil {
			lmText, lmSender, lmName, lmAt = lm.Text, lm.SenderID, lm.SenderName, lm.Timestamp.UnixMilli()
		}
		return append([]any{
			c.ID, string(c.Type), ids, key, participants,
			c.GroupName, nullString(c.GroupImageURL), c.CreatedBy,
			lmText, lmSender, lmName, lmAt,
			c.CreatedAt.UnixMilli(), c.UpdatedAt.UnixMilli(),
		}, envelopeValues(&c.SyncEnvelope)...), nil
	},
	Scan: func(row Scanner) (model.Conversation, error) {
		var (
			c                      model.Conversation
			typ, ids, participants string
			key, groupImage        sql.NullString
			lmText, lmSender       sql.NullString
			lmName                 sql.NullString
			lmAt                   sql.NullInt64
			created, updated       int64
			env                    envelopeRow
		)
		targets := append([]any{&c.ID, &typ, &ids, &key, &participants,
			&c.GroupName, &groupImage, &c.CreatedBy,
			&lmText, &lmSender, &lmName, &lmAt,
			&created, &updated}, env.targets()...)
		if err := row.Scan(targets...); err != nil {
			return c, err
		}
		var err error
		if c.Type, err = model.ParseConversationType(typ); err != nil {
			return c, scanFailed("conversations", err)
		}
		if c.ParticipantIDs, err = decodeList(ids); err != nil {
			return c, scanFailed("conversations", err)
		}
		if err := json.Unmarshal([]byte(participants), &c.Participants); err != nil {
			return c, scanFailed("conversations", err)
		}
		if len(c.Participants) == 0 {
			c.Participants = nil
		}
		if c.SyncEnvelope, err = env.envelope(); err != nil {
			return c, scanFailed("conversations", err)
		}
		c.GroupImageURL = stringPtr(groupImage)
		if lmAt.Valid {
			c.LastMessage = &model.LastMessage{
				Text:       lmText.String,
				SenderID:   lmSender.String,
				SenderName: lmName.String,
				Timestamp:  time.UnixMilli(lmAt.Int64),
			}
		}
		c.CreatedAt = time.UnixMilli(created)
		c.UpdatedAt = time.UnixMilli(updated)
		return c, nil
	},
}

var messageSchema = Schema[model.Message]{
	Name: "messages",
	Columns: withEnvelope("id", "local_id", "conversation_id", "sender_id", "sender_name", "text",
		"timestamp", "status", "read_by", "delivered_to", "created_at", "updated_at"),
	Key: func(m *model.Message) string { return m.ID },
	Values: func(m *model.Message) ([]any, error) {
		switch {
		case m.LocalID == "":
			return nil, fmt.Errorf("missing local id")
		case m.ConversationID == "":
			return nil, fmt.Errorf("missing conversation id")
		case m.SenderID == "":
			return nil, fmt.Errorf("missing sender id")
		}
		if _, err := model.ParseMessageStatus(string(m.Status)); err != nil {
			return nil, err
		}
		readBy, err := encodeList(m.ReadBy)
		if err != nil {
			return nil, err
		}
		deliveredTo, err := encodeList(m.DeliveredTo)
		if err != nil {
			return nil, err
		}
		return append([]any{
			m.ID, m.LocalID, m.ConversationID, m.SenderID, m.SenderName, m.Text,
			m.Timestamp.UnixMilli(), string(m.Status), readBy, deliveredTo,
			m.CreatedAt.UnixMilli(), m.UpdatedAt.UnixMilli(),
		}, envelopeValues(&m.SyncEnvelope)...), nil
	},
	Scan: func(row Scanner) (model.Message, error) {
		var (
			m                         model.Message
			ts, created, updated      int64
			status, readBy, delivered string
			env                       envelopeRow
		)
		targets := append([]any{&m.ID, &m.LocalID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.Text,
			&ts, &status, &readBy, &delivered, &created, &updated}, env.targets()...)
		if err := row.Scan(targets...); err != nil {
			return m, err
		}
		var err error
		if m.Status, err = model.ParseMessageStatus(status); err != nil {
			return m, scanFailed("messages", err)
		}
		if m.ReadBy, err = decodeList(readBy); err != nil {
			return m, scanFailed("messages", err)
		}
		if m.DeliveredTo, err = decodeList(delivered); err != nil {
			return m, scanFailed("messages", err)
		}
		if m.SyncEnvelope, err = env.envelope(); err != nil {
			return m, scanFailed("messages", err)
		}
		m.Timestamp = time.UnixMilli(ts)
		m.CreatedAt = time.UnixMilli(created)
		m.UpdatedAt = time.UnixMilli(updated)
		return m, nil
	},
}

var actionItemSchema = Schema[model.ActionItem]{
	Name: "action_items",
	Columns: withEnvelope("id", "conversation_id", "task", "assignee", "message_id", "extracted_at",
		"is_complete", "completed_at", "deadline", "priority", "created_at", "updated_at"),
	Key: func(a *model.ActionItem) string { return a.ID },
	Values: func(a *model.ActionItem) ([]any, error) {
		if a.ConversationID == "" {
			return nil, fmt.Errorf("missing conversation id")
		}
		if _, err := model.ParsePriority(string(a.Priority)); err != nil {
			return nil, err
		}
		return append([]any{
			a.ID, a.ConversationID, a.Task, nullString(a.Assignee), a.MessageID, a.ExtractedAt.UnixMilli(),
			a.IsComplete, nullMillis(a.CompletedAt), nullMillis(a.Deadline), string(a.Priority),
			a.CreatedAt.UnixMilli(), a.UpdatedAt.UnixMilli(),
		}, envelopeValues(&a.SyncEnvelope)...), nil
	},
	Scan: func(row Scanner) (model.ActionItem, error) {
		var (
			a                   model.ActionItem
			assignee            sql.NullString
			extracted           int64
			completed, deadline sql.NullInt64
			priority            string
			created, updated    int64
			env                 envelopeRow
		)
		targets := append([]any{&a.ID, &a.ConversationID, &a.Task, &assignee, &a.MessageID, &extracted,
			&a.IsComplete, &completed, &deadline, &priority, &created, &updated}, env.targets()...)
		if err := row.Scan(targets...); err != nil {
			return a, err
		}
		var err error
		if a.Priority, err = model.ParsePriority(priority); err != nil {
			return a, scanFailed("action_items", err)
		}
		if a.SyncEnvelope, err = env.envelope(); err != nil {
			return a, scanFailed("action_items", err)
		}
		a.Assignee = stringPtr(assignee)
		a.ExtractedAt = time.UnixMilli(extracted)
		a.CompletedAt = timePtr(completed)
		a.Deadline = timePtr(deadline)
		a.CreatedAt = time.UnixMilli(created)
		a.UpdatedAt = time.UnixMilli(updated)
		return a, nil
	},
}

var aiConversationSchema = Schema[model.AIConversation]{
	Name:    "ai_conversations",
	Columns: []string{"id", "message_count", "created_at", "updated_at"},
	Key:     func(c *model.AIConversation) string { return c.ID },
	Values: func(c *model.AIConversation) ([]any, error) {
		return []any{c.ID, c.MessageCount, c.CreatedAt.UnixMilli(), c.UpdatedAt.UnixMilli()}, nil
	},
	Scan: func(row Scanner) (model.AIConversation, error) {
		var (
			c                model.AIConversation
			created, updated int64
		)
		if err := row.Scan(&c.ID, &c.MessageCount, &created, &updated); err != nil {
			return c, err
		}
		c.CreatedAt = time.UnixMilli(created)
		c.UpdatedAt = time.UnixMilli(updated)
		return c, nil
	},
}

var aiMessageSchema = Schema[model.AIMessage]{
	Name:    "ai_messages",
	Columns: []string{"id", "conversation_id", "sequence_number", "text", "is_from_ai", "timestamp"},
	Key:     func(m *model.AIMessage) string { return m.ID },
	Values: func(m *model.AIMessage) ([]any, error) {
		if m.ConversationID == "" {
			return nil, fmt.Errorf("missing conversation id")
		}
		return []any{m.ID, m.ConversationID, m.SequenceNumber, m.Text, m.IsFromAI, m.Timestamp.UnixMilli()}, nil
	},
	Scan: func(row Scanner) (model.AIMessage, error) {
		var (
			m  model.AIMessage
			ts int64
		)
		if err := row.Scan(&m.ID, &m.ConversationID, &m.SequenceNumber, &m.Text, &m.IsFromAI, &ts); err != nil {
			return m, err
		}
		m.Timestamp = time.UnixMilli(ts)
		return m, nil
	},
}
