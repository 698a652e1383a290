package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/matheus3301/msgcore/internal/client"
	"github.com/matheus3301/msgcore/internal/lock"
	"github.com/matheus3301/msgcore/internal/profile"
	"github.com/spf13/cobra"
)

// rootOptions holds the global flags shared by every command.
type rootOptions struct {
	Profile string
	JSON    bool
	Timeout time.Duration

	// connect opens a client for a profile; replaced in tests.
	connect func(profileName string) (*client.Client, error)
}

// NewRootCommand creates the msgctl command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&rootOptions{connect: connectProfile})
}

func newRootCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "msgctl",
		Short: "Control a running msgcored daemon",
		Long: `msgctl talks to the msgcored daemon of a profile over its unix socket.

It reads conversations and messages from the local store, queues outgoing
messages and reports the state of the sync with the remote service.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Profile, "profile", "", "profile name (overrides config default)")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "timeout for unary calls")

	cmd.AddCommand(newConversationsCommand(opts))
	cmd.AddCommand(newMessagesCommand(opts))
	cmd.AddCommand(newSendCommand(opts))
	cmd.AddCommand(newRetryCommand(opts))
	cmd.AddCommand(newReadCommand(opts))
	cmd.AddCommand(newDeliveredCommand(opts))
	cmd.AddCommand(newUnreadCommand(opts))
	cmd.AddCommand(newActionsCommand(opts))
	cmd.AddCommand(newUsersCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))

	return cmd
}

func connectProfile(profileName string) (*client.Client, error) {
	if _, held, err := lock.Held(profileName); err != nil {
		return nil, err
	} else if !held {
		return nil, fmt.Errorf("no daemon running for profile %q (start it with: msgcored --profile %s)", profileName, profileName)
	}
	c, err := client.New(profile.SocketPath(profileName))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon for profile %q: %w", profileName, err)
	}
	return c, nil
}

// withClient resolves the profile, connects and runs fn. Unary commands get
// the --timeout deadline; streaming ones pass stream=true and run until
// interrupted.
func (o *rootOptions) withClient(cmd *cobra.Command, stream bool, fn func(ctx context.Context, c *client.Client) error) error {
	name := profile.Resolve(o.Profile)
	if err := profile.ValidateName(name); err != nil {
		return err
	}
	c, err := o.connect(name)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if !stream && o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}
	return fn(ctx, c)
}

// print writes v as indented JSON with --json, or runs text otherwise.
func (o *rootOptions) print(w io.Writer, v any, text func(io.Writer)) error {
	if o.JSON {
		return outputJSON(w, v)
	}
	text(w)
	return nil
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	return nil
}
