package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

// PasswordEnv supplies the login password when --password is not given.
const PasswordEnv = "CHATSYNC_PASSWORD"

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, "Status", nil, func(resp map[string]any) {
				fmt.Printf("Session:  %s\n", text(resp, "session"))
				fmt.Printf("Uptime:   %.0fms\n", resp["uptime_ms"])
				if user, ok := resp["user"].(map[string]any); ok {
					fmt.Printf("User:     %s (%s)\n", text(user, "name"), text(user, "id"))
				} else {
					fmt.Println("User:     not logged in")
				}
				for _, ch := range items(resp, "channels") {
					fmt.Printf("Stream:   %-9s %s\n", text(ch, "name"), text(ch, "state"))
				}
				fmt.Printf("Stored:   %.0f chats, %.0f messages\n", resp["chat_count"], resp["message_count"])
				if e := text(resp, "error"); e != "" {
					fmt.Printf("Error:    %s\n", e)
				}
			})
		},
	}
}

func newLoginCmd() *cobra.Command {
	var flags struct {
		Password string
		Name     string
		Email    string
		Signup   bool
	}
	cmd := &cobra.Command{
		Use:   "login <phone>",
		Short: "Log in, or create an account with --signup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password := flags.Password
			if password == "" {
				password = os.Getenv(PasswordEnv)
			}
			if password == "" {
				return fmt.Errorf("password required: use --password or set %s", PasswordEnv)
			}
			req := map[string]any{
				"phone":    args[0],
				"password": password,
				"name":     flags.Name,
				"email":    flags.Email,
				"signup":   flags.Signup,
			}
			return call(cmd, "Login", req, func(resp map[string]any) {
				user, _ := resp["user"].(map[string]any)
				fmt.Printf("Logged in as %s (%s)\n", text(user, "name"), text(user, "id"))
			})
		},
	}
	cmd.Flags().StringVar(&flags.Password, "password", "", "account password (default $"+PasswordEnv+")")
	cmd.Flags().StringVar(&flags.Name, "name", "", "display name, for --signup")
	cmd.Flags().StringVar(&flags.Email, "email", "", "email, for --signup")
	cmd.Flags().BoolVar(&flags.Signup, "signup", false, "create the account first")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out and wipe the session's cached data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, "Logout", nil, func(map[string]any) {
				fmt.Println("Logged out")
			})
		},
	}
}

func newChatsCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List chats, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, "ListChats", map[string]any{"refresh": refresh}, func(resp map[string]any) {
				active := text(resp, "active_chat")
				for _, ch := range items(resp, "chats") {
					marker := " "
					if text(ch, "id") == active {
						marker = "*"
					}
					var names []string
					for _, p := range items(ch, "participants") {
						names = append(names, text(p, "name"))
					}
					preview := ""
					if last, ok := ch["last_message"].(map[string]any); ok {
						preview = text(last, "text")
					}
					fmt.Printf("%s %-24s %-30s %3.0f  %s\n", marker, text(ch, "id"), strings.Join(names, ", "), ch["unread_count"], preview)
				}
				warn(resp)
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "refetch even if the cached list is fresh")
	return cmd
}

func newMessagesCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "messages <chat-id>",
		Short: "Show the messages of a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"chat_id": args[0], "refresh": refresh}
			return call(cmd, "ListMessages", req, func(resp map[string]any) {
				for _, m := range items(resp, "messages") {
					fmt.Printf("[%s] %s: %s\n", text(m, "created_at"), text(m, "sender"), text(m, "text"))
				}
				if typing, ok := resp["typing"].([]any); ok && len(typing) > 0 {
					fmt.Printf("(%d typing)\n", len(typing))
				}
				warn(resp)
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "refetch even if the cached messages are fresh")
	return cmd
}

func newSendCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "send [chat-id] <text>",
		Short: "Send a message; use --to <user-id> to start a new chat",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"other_user_id": to}
			switch {
			case len(args) == 2:
				req["chat_id"], req["text"] = args[0], args[1]
			case to != "":
				req["text"] = args[0]
			default:
				return errors.New("chat id required unless --to is given")
			}
			return call(cmd, "SendMessage", req, func(resp map[string]any) {
				fmt.Printf("Sent to %s\n", text(resp, "chat_id"))
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient user id for a new chat")
	return cmd
}

func newReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <chat-id>",
		Short: "Mark a chat as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, "ReadChat", map[string]any{"chat_id": args[0]}, func(map[string]any) {})
		},
	}
}

func newOpenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open [chat-id]",
		Short: "Set the active chat; no argument clears it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{}
			if len(args) == 1 {
				req["chat_id"] = args[0]
			}
			return call(cmd, "SetActiveChat", req, func(map[string]any) {})
		},
	}
}

func newTypingCmd() *cobra.Command {
	var stop bool
	cmd := &cobra.Command{
		Use:   "typing <chat-id>",
		Short: "Send a typing signal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, "SendTyping", map[string]any{"chat_id": args[0], "typing": !stop}, func(map[string]any) {})
		},
	}
	cmd.Flags().BoolVar(&stop, "stop", false, "signal that typing stopped")
	return cmd
}

func newFriendsCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "friends",
		Short: "List friends, pending requests and suggestions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, "ListFriends", map[string]any{"refresh": refresh}, func(resp map[string]any) {
				presence, _ := resp["presence"].(map[string]any)
				fmt.Println("Friends:")
				for _, f := range items(resp, "friends") {
					state := "offline"
					if p, ok := presence[text(f, "id")].(map[string]any); ok {
						state = text(p, "status")
					}
					fmt.Printf("  %-12s %-24s %s\n", text(f, "id"), text(f, "name"), state)
				}
				fmt.Println("Requests:")
				for _, r := range items(resp, "requests") {
					from, _ := r["from_user"].(map[string]any)
					fmt.Printf("  %-12s from %s\n", text(r, "id"), text(from, "name"))
				}
				fmt.Println("Suggestions:")
				for _, s := range items(resp, "suggestions") {
					fmt.Printf("  %-12s %s\n", text(s, "id"), text(s, "name"))
				}
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "refetch even if cached lists are fresh")
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <user-id>",
			Short: "Send a friend request",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(cmd, "SendFriendRequest", map[string]any{"user_id": args[0]}, func(map[string]any) {})
			},
		},
		&cobra.Command{
			Use:   "dismiss <user-id>",
			Short: "Hide a friend suggestion",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(cmd, "DismissSuggestion", map[string]any{"user_id": args[0]}, func(map[string]any) {})
			},
		},
		newRespondCmd("accept"),
		newRespondCmd("reject"),
	)
	return cmd
}

func newRespondCmd(action string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <request-id>",
		Short: strings.ToUpper(action[:1]) + action[1:] + " a friend request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"request_id": args[0], "action": action}
			return call(cmd, "RespondFriendRequest", req, func(map[string]any) {})
		},
	}
}

func newSearchCmd() *cobra.Command {
	var flags struct {
		Chat  string
		Limit int
	}
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search stored messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"query": args[0], "chat_id": flags.Chat, "limit": flags.Limit}
			return call(cmd, "SearchMessages", req, func(resp map[string]any) {
				for _, r := range items(resp, "results") {
					fmt.Printf("%-24s %s\n", text(r, "chat_id"), text(r, "snippet"))
				}
			})
		},
	}
	cmd.Flags().StringVar(&flags.Chat, "chat", "", "limit to one chat")
	cmd.Flags().IntVar(&flags.Limit, "limit", 50, "maximum results")
	return cmd
}

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refetch every collection from the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, "Refresh", nil, func(resp map[string]any) {
				for _, e := range list(resp, "errors") {
					fmt.Fprintf(os.Stderr, "warning: %v\n", e)
				}
			})
		},
	}
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [namespace]",
		Short: "Stream daemon events, e.g. cache. or channel.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			namespace := ""
			if len(args) == 1 {
				namespace = args[0]
			}
			c, err := connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err = c.Watch(ctx, namespace, func(evt map[string]any) error {
				if opts.JSON {
					outputJSON(evt)
					return nil
				}
				fmt.Printf("%.0f %-36s %v\n", evt["occurred_at_unix_ms"], text(evt, "kind"), evt["payload"])
				return nil
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
}

func warn(resp map[string]any) {
	if e := text(resp, "error"); e != "" {
		fmt.Fprintf(os.Stderr, "warning: showing cached data: %s\n", e)
	}
}

func text(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func list(m map[string]any, key string) []any {
	v, _ := m[key].([]any)
	return v
}

func items(m map[string]any, key string) []map[string]any {
	var out []map[string]any
	for _, v := range list(m, key) {
		if item, ok := v.(map[string]any); ok {
			out = append(out, item)
		}
	}
	return out
}
