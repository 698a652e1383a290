package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/matheus3301/msgcore/internal/client"
	"github.com/spf13/cobra"
)

func newMessagesCommand(opts *rootOptions) *cobra.Command {
	var (
		limit  int
		before string
	)
	cmd := &cobra.Command{
		Use:   "messages <conversation-id>",
		Short: "List the latest messages of a conversation, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var cutoff time.Time
			if before != "" {
				t, err := time.Parse(time.RFC3339, before)
				if err != nil {
					return fmt.Errorf("invalid --before %q: %w", before, err)
				}
				cutoff = t
			}
			return opts.withClient(cmd, false, func(ctx context.Context, c *client.Client) error {
				msgs, err := c.ListMessages(ctx, args[0], limit, cutoff)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), msgs, func(w io.Writer) { writeMessages(w, msgs) })
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of messages")
	cmd.Flags().StringVar(&before, "before", "", "only messages older than this RFC3339 time")
	return cmd
}

func newSendCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send <conversation-id> <text>...",
		Short: "Queue a message for sending",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args[1:], " ")
			return opts.withClient(cmd, false, func(ctx context.Context, c *client.Client) error {
				msg, err := c.SendMessage(ctx, args[0], text)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), msg, func(w io.Writer) {
					fmt.Fprintf(w, "Queued %s\n", msg.LocalID)
				})
			})
		},
	}
}

func newRetryCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <local-id>",
		Short: "Requeue a message that failed to send",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, false, func(ctx context.Context, c *client.Client) error {
				msg, err := c.RetryMessage(ctx, args[0])
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), msg, func(w io.Writer) {
					fmt.Fprintf(w, "Requeued %s\n", msg.LocalID)
				})
			})
		},
	}
}

func newReadCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "read <conversation-id> [message-id...]",
		Short: "Mark messages read; without ids every unread message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, false, func(ctx context.Context, c *client.Client) error {
				return c.MarkRead(ctx, args[0], args[1:]...)
			})
		},
	}
}

func newDeliveredCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delivered <conversation-id> <message-id>...",
		Short: "Mark messages delivered",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, false, func(ctx context.Context, c *client.Client) error {
				return c.MarkDelivered(ctx, args[0], args[1:]...)
			})
		},
	}
}

func newUnreadCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unread <conversation-id>",
		Short: "Count unread messages in a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, false, func(ctx context.Context, c *client.Client) error {
				n, err := c.UnreadCount(ctx, args[0])
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), map[string]int{"count": n}, func(w io.Writer) {
					fmt.Fprintln(w, n)
				})
			})
		},
	}
}
