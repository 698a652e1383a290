package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/matheus3301/msgcore/internal/client"
	"github.com/matheus3301/msgcore/internal/model"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func newWatchCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live snapshots until interrupted",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "conversations",
		Short: "Print the conversation list every time it changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts, func(ctx context.Context, c *client.Client, w io.Writer) error {
				return c.WatchConversations(ctx, func(convs []model.Conversation) error {
					return opts.print(w, convs, func(w io.Writer) {
						fmt.Fprintln(w, "---")
						writeConversations(w, convs)
					})
				})
			})
		},
	})

	var limit int
	messages := &cobra.Command{
		Use:   "messages <conversation-id>",
		Short: "Print the latest messages of a conversation every time they change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts, func(ctx context.Context, c *client.Client, w io.Writer) error {
				return c.WatchMessages(ctx, args[0], limit, func(msgs []model.Message) error {
					return opts.print(w, msgs, func(w io.Writer) {
						fmt.Fprintln(w, "---")
						writeMessages(w, msgs)
					})
				})
			})
		},
	}
	messages.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of messages per snapshot")
	cmd.AddCommand(messages)

	return cmd
}

func runWatch(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, c *client.Client, w io.Writer) error) error {
	return opts.withClient(cmd, true, func(ctx context.Context, c *client.Client) error {
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		err := fn(ctx, c, cmd.OutOrStdout())
		if ctx.Err() != nil && (errors.Is(err, context.Canceled) || status.Code(err) == codes.Canceled) {
			return nil
		}
		return err
	})
}
