package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/spf13/cobra"
)

var opts struct {
	Session string
	JSON    bool
	Timeout time.Duration
}

var rootCmd = &cobra.Command{
	Use:           "chatsyncctl",
	Short:         "Control a running chatsyncd session",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.Session, "session", "", "session name (overrides config default)")
	flags.BoolVar(&opts.JSON, "json", false, "output in JSON format")
	flags.DurationVar(&opts.Timeout, "timeout", 20*time.Second, "request timeout")

	rootCmd.AddCommand(
		newStatusCmd(),
		newLoginCmd(),
		newLogoutCmd(),
		newChatsCmd(),
		newMessagesCmd(),
		newSendCmd(),
		newReadCmd(),
		newOpenCmd(),
		newTypingCmd(),
		newFriendsCmd(),
		newSearchCmd(),
		newRefreshCmd(),
		newWatchCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// connect resolves the session and dials its daemon.
func connect() (*api.Client, error) {
	name := session.Resolve(opts.Session)
	if err := session.ValidateName(name); err != nil {
		return nil, err
	}
	c, err := api.Dial(session.SocketPath(name))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon for session %q: %w", name, err)
	}
	return c, nil
}

// call runs one unary method and hands the response to render, or prints it
// as JSON when --json is set.
func call(cmd *cobra.Command, method string, args map[string]any, render func(map[string]any)) error {
	c, err := connect()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	resp, err := c.Call(ctx, method, args)
	if err != nil {
		return err
	}
	if opts.JSON || render == nil {
		outputJSON(resp)
		return nil
	}
	render(resp)
	return nil
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
