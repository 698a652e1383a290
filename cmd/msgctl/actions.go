package main

import (
	"context"
	"io"

	"github.com/matheus3301/msgcore/internal/client"
	"github.com/spf13/cobra"
)

func newActionsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actions",
		Short: "Work with action items extracted from conversations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list [conversation-id]",
		Short: "List action items, of one conversation or of all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var convID string
			if len(args) == 1 {
				convID = args[0]
			}
			return opts.withClient(cmd, false, func(ctx context.Context, c *client.Client) error {
				items, err := c.ListActionItems(ctx, convID)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), items, func(w io.Writer) { writeActionItems(w, items) })
			})
		},
	})

	var undo bool
	complete := &cobra.Command{
		Use:   "complete <action-item-id>",
		Short: "Mark an action item complete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, false, func(ctx context.Context, c *client.Client) error {
				item, err := c.CompleteActionItem(ctx, args[0], !undo)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), item, func(w io.Writer) { writeActionItem(w, item) })
			})
		},
	}
	complete.Flags().BoolVar(&undo, "undo", false, "mark the item incomplete instead")
	cmd.AddCommand(complete)

	return cmd
}
