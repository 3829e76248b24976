package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/czeful/goalchat/internal/client"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session and connection status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				st, err := c.Status(ctx)
				if err != nil {
					return err
				}
				if jsonOut {
					return outputJSON(st)
				}
				fmt.Printf("Session:  %s\n", st.Session)
				fmt.Printf("State:    %s (since %s)\n", st.State, humanize.Time(st.Since))
				if st.Banner != "" {
					fmt.Printf("Notice:   %s\n", st.Banner)
				}
				if st.LoggedIn {
					fmt.Printf("User:     %s (%s)\n", st.Username, st.UserID)
				} else {
					fmt.Println("User:     not logged in")
				}
				fmt.Printf("Outbox:   %d queued\n", st.OutboxDepth)
				fmt.Printf("Uptime:   %s\n", (time.Duration(st.UptimeMs) * time.Millisecond).Round(time.Second))
				return nil
			})
		},
	}
}

func loginCmd() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a bearer token and connect",
		Long:  "Stores the token in the session database. Without --token the token is read from stdin.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("no token given")
				}
				token = strings.TrimSpace(line)
			}
			return withClient(func(ctx context.Context, c *client.Client) error {
				id, err := c.Login(ctx, token)
				if err != nil {
					return err
				}
				if jsonOut {
					return outputJSON(id)
				}
				fmt.Printf("Logged in as %s (%s)\n", id.Username, id.UserID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "bearer token issued by the chat API")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored token and disconnect",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				if err := c.Logout(ctx); err != nil {
					return err
				}
				fmt.Println("Logged out")
				return nil
			})
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the logged-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				id, err := c.WhoAmI(ctx)
				if err != nil {
					return err
				}
				if jsonOut {
					return outputJSON(id)
				}
				fmt.Printf("%s (%s)\n", id.Username, id.UserID)
				return nil
			})
		},
	}
}
