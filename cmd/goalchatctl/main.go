package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/czeful/goalchat/internal/client"
	"github.com/czeful/goalchat/internal/session"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/status"
)

var (
	sessionFlag string
	jsonOut     bool
	noStart     bool
	timeout     time.Duration
)

func main() {
	root := &cobra.Command{
		Use:           "goalchatctl",
		Short:         "Control a goalchat daemon from the shell",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&sessionFlag, "session", "s", "", "session name (overrides config default)")
	root.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
	root.PersistentFlags().BoolVar(&noStart, "no-start", false, "fail instead of starting goalchatd")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "per-command timeout")

	root.AddCommand(statusCmd(), loginCmd(), logoutCmd(), whoamiCmd())
	root.AddCommand(friendsCmd(), selectCmd(), messagesCmd(), reloadCmd())
	root.AddCommand(typeCmd(), sendCmd(), uploadCmd(), recordCmd(), discardCmd())
	root.AddCommand(watchCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", describe(err))
		os.Exit(1)
	}
}

// withClient connects to the session's daemon, starting it when needed, and
// runs fn with a context bounded by --timeout (unbounded when zero).
func withClient(fn func(ctx context.Context, c *client.Client) error) error {
	sessionName := session.Resolve(sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		return err
	}
	socketPath := session.SocketPath(sessionName)
	if noStart {
		if !client.Probe(socketPath) {
			return fmt.Errorf("no daemon running for session %q", sessionName)
		}
	} else if err := client.EnsureDaemon(sessionName, socketPath, 10*time.Second); err != nil {
		return err
	}

	c, err := client.New(socketPath)
	if err != nil {
		return fmt.Errorf("cannot connect to daemon for session %q: %w", sessionName, err)
	}
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx, c)
}

// describe strips the gRPC envelope from daemon errors.
func describe(err error) string {
	if s, ok := status.FromError(err); ok {
		return fmt.Sprintf("%s (%s)", s.Message(), s.Code())
	}
	return err.Error()
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
