package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/czeful/goalchat/internal/api"
	"github.com/czeful/goalchat/internal/client"
	"github.com/czeful/goalchat/internal/wire"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func friendsCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "friends",
		Short: "List friends with their last known presence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				list, err := c.Friends(ctx, refresh)
				if err != nil {
					return err
				}
				if jsonOut {
					return outputJSON(list)
				}
				if list.Stale {
					fmt.Println("(refresh failed, showing cached list)")
				}
				if len(list.Friends) == 0 {
					fmt.Println("No friends")
					return nil
				}
				for _, f := range list.Friends {
					fmt.Printf("%-8s %-20s %s\n", presenceLabel(f), f.Username, f.ID)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&refresh, "refresh", "r", false, "fetch the list from the API first")
	return cmd
}

func presenceLabel(f api.Friend) string {
	switch {
	case f.Online:
		return "online"
	case f.Status == "":
		return "-"
	default:
		return f.Status
	}
}

func selectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "select <peer-id>",
		Short: "Open the conversation with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				st, err := c.Select(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonOut {
					return outputJSON(st)
				}
				fmt.Printf("Selected %s\n", st.PeerID)
				return nil
			})
		},
	}
}

func messagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "messages",
		Short: "Print the selected conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				st, err := c.Snapshot(ctx)
				if err != nil {
					return err
				}
				return printChat(st)
			})
		},
	}
}

func reloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Fetch the selected conversation's history again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				st, err := c.Reload(ctx)
				if err != nil {
					return err
				}
				return printChat(st)
			})
		},
	}
}

func printChat(st *api.ChatState) error {
	if jsonOut {
		return outputJSON(st)
	}
	if st.PeerID == "" {
		fmt.Println("No conversation selected")
		return nil
	}
	header := st.PeerID
	switch {
	case st.Presence.Typing:
		header += " (typing...)"
	case st.Presence.Online:
		header += " (online)"
	case st.Presence.Known:
		header += " (offline)"
	}
	fmt.Println(header)
	if st.Loading {
		fmt.Println("  loading history...")
	}
	if st.LoadError != "" {
		fmt.Printf("  history failed: %s\n", st.LoadError)
	}
	for _, m := range st.Messages {
		fmt.Println("  " + formatMessage(m, st.PeerID))
	}
	return nil
}

func formatMessage(m wire.Message, peerID string) string {
	who := "me"
	if m.SenderID == peerID {
		who = peerID
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: ", humanize.Time(m.CreatedAt), who)
	if m.Attachment != nil {
		fmt.Fprintf(&b, "<%s %s, %s> %s", m.Type, m.Attachment.Name,
			humanize.Bytes(uint64(max(m.Attachment.SizeBytes, 0))), m.Attachment.URL)
	} else {
		b.WriteString(m.Text)
	}
	if m.Delivery != wire.Confirmed {
		fmt.Fprintf(&b, " (%s)", m.Delivery)
	}
	return b.String()
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [kind-prefix...]",
		Short: "Stream daemon events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			timeout = 0
			return withClient(func(ctx context.Context, c *client.Client) error {
				ctx, stop := signalContext(ctx)
				defer stop()
				err := c.Watch(ctx, args, func(ev *api.Event) {
					if jsonOut {
						_ = outputJSON(ev)
						return
					}
					fmt.Printf("%s %-24s %s\n", ev.OccurredAt.Local().Format("15:04:05.000"), ev.Kind, ev.Payload)
				})
				if ctx.Err() != nil {
					return nil
				}
				return err
			})
		},
	}
}
