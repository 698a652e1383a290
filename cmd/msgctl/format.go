package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/matheus3301/msgcore/internal/api"
	"github.com/matheus3301/msgcore/internal/model"
)

const timeLayout = "2006-01-02 15:04"

func conversationTitle(c *model.Conversation) string {
	if c.Type == model.ConversationGroup && c.GroupName != "" {
		return c.GroupName
	}
	names := make([]string, 0, len(c.Participants))
	for _, id := range c.ParticipantIDs {
		if p, ok := c.Participants[id]; ok && p.DisplayName != "" {
			names = append(names, p.DisplayName)
		}
	}
	if len(names) == 0 {
		return strings.Join(c.ParticipantIDs, ", ")
	}
	return strings.Join(names, ", ")
}

func writeConversations(w io.Writer, convs []model.Conversation) {
	if len(convs) == 0 {
		fmt.Fprintln(w, "No conversations.")
		return
	}
	for i := range convs {
		writeConversationLine(w, &convs[i])
	}
}

func writeConversationLine(w io.Writer, c *model.Conversation) {
	last := ""
	if c.LastMessage != nil {
		last = fmt.Sprintf("%s: %s", c.LastMessage.SenderName, c.LastMessage.Text)
	}
	fmt.Fprintf(w, "%-36s %-6s %-24s %s\n", c.ID, c.Type, conversationTitle(c), last)
}

func writeConversation(w io.Writer, c *model.Conversation) {
	fmt.Fprintf(w, "ID:           %s\n", c.ID)
	fmt.Fprintf(w, "Type:         %s\n", c.Type)
	fmt.Fprintf(w, "Title:        %s\n", conversationTitle(c))
	fmt.Fprintf(w, "Participants: %s\n", strings.Join(c.ParticipantIDs, ", "))
	fmt.Fprintf(w, "Sync:         %s\n", c.SyncStatus)
	if c.LastMessage != nil {
		fmt.Fprintf(w, "Last message: %s %s: %s\n",
			c.LastMessage.Timestamp.Local().Format(timeLayout), c.LastMessage.SenderName, c.LastMessage.Text)
	}
}

func writeMessages(w io.Writer, msgs []model.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, "No messages.")
		return
	}
	for i := range msgs {
		writeMessage(w, &msgs[i])
	}
}

func writeMessage(w io.Writer, m *model.Message) {
	fmt.Fprintf(w, "%s [%s] %s: %s\n", m.Timestamp.Local().Format(timeLayout), m.Status, m.SenderName, m.Text)
}

func writeActionItems(w io.Writer, items []model.ActionItem) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No action items.")
		return
	}
	for i := range items {
		writeActionItem(w, &items[i])
	}
}

func writeActionItem(w io.Writer, a *model.ActionItem) {
	check := " "
	if a.IsComplete {
		check = "x"
	}
	line := fmt.Sprintf("[%s] %-36s %-6s %s", check, a.ID, a.Priority, a.Task)
	if a.Deadline != nil {
		line += " (due " + a.Deadline.Local().Format(timeLayout) + ")"
	}
	fmt.Fprintln(w, line)
}

func writeUsers(w io.Writer, users []model.User) {
	if len(users) == 0 {
		fmt.Fprintln(w, "No users found.")
		return
	}
	for _, u := range users {
		online := "offline"
		if u.IsOnline {
			online = "online"
		}
		fmt.Fprintf(w, "%-36s %-24s %-32s %s\n", u.ID, u.DisplayName, u.Email, online)
	}
}

func writeSyncStatus(w io.Writer, s *api.SyncStatusResponse) {
	fmt.Fprintf(w, "Profile:   %s\n", s.Profile)
	fmt.Fprintf(w, "User:      %s\n", s.UserID)
	fmt.Fprintf(w, "State:     %s\n", s.State)
	fmt.Fprintf(w, "Observers: %d\n", s.Observers)
	fmt.Fprintln(w, "Pending:")
	for _, kind := range sortedKeys(s.Pending) {
		fmt.Fprintf(w, "  %-12s %d\n", kind, s.Pending[kind])
	}
	if len(s.Cursors) > 0 {
		fmt.Fprintln(w, "Cursors:")
		for _, kind := range sortedKeys(s.Cursors) {
			fmt.Fprintf(w, "  %-12s %s\n", kind, s.Cursors[kind].Local().Format(time.RFC3339))
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
