package main

import (
	"context"
	"io"

	"github.com/matheus3301/msgcore/internal/client"
	"github.com/spf13/cobra"
)

func newConversationsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"convs"},
		Short:   "List conversations, most recently active first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, false, func(ctx context.Context, c *client.Client) error {
				convs, err := c.ListConversations(ctx)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), convs, func(w io.Writer) { writeConversations(w, convs) })
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Show one conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, false, func(ctx context.Context, c *client.Client) error {
				conv, err := c.GetConversation(ctx, args[0])
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), conv, func(w io.Writer) { writeConversation(w, conv) })
			})
		},
	})

	var displayName string
	direct := &cobra.Command{
		Use:   "direct <user-id>",
		Short: "Open the direct conversation with a user, creating it if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, false, func(ctx context.Context, c *client.Client) error {
				conv, err := c.CreateDirectConversation(ctx, args[0], displayName)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), conv, func(w io.Writer) { writeConversation(w, conv) })
			})
		},
	}
	direct.Flags().StringVar(&displayName, "name", "", "display name for the user when not cached")
	cmd.AddCommand(direct)

	cmd.AddCommand(&cobra.Command{
		Use:   "group <name> <user-id>...",
		Short: "Create a group conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, false, func(ctx context.Context, c *client.Client) error {
				conv, err := c.CreateGroupConversation(ctx, args[1:], args[0])
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), conv, func(w io.Writer) { writeConversation(w, conv) })
			})
		},
	})

	return cmd
}
