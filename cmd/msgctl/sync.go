package main

import (
	"context"
	"io"

	"github.com/matheus3301/msgcore/internal/client"
	"github.com/spf13/cobra"
)

func newSyncCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Inspect the sync with the remote service",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show sync state, pending changes and cursors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(cmd, false, func(ctx context.Context, c *client.Client) error {
				st, err := c.SyncStatus(ctx)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), st, func(w io.Writer) { writeSyncStatus(w, st) })
			})
		},
	})
	return cmd
}
