package main

import (
	"context"
	"io"
	"strings"

	"github.com/matheus3301/msgcore/internal/client"
	"github.com/spf13/cobra"
)

func newUsersCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Query cached user profiles",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "search <query>...",
		Short: "Search users by name or email",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return opts.withClient(cmd, false, func(ctx context.Context, c *client.Client) error {
				users, err := c.SearchUsers(ctx, query)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), users, func(w io.Writer) { writeUsers(w, users) })
			})
		},
	})
	return cmd
}
