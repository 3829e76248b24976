package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/czeful/goalchat/internal/client"
	"github.com/czeful/goalchat/internal/composer"
	"github.com/czeful/goalchat/internal/wire"
	"github.com/dustin/go-humanize"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func typeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "type <text>",
		Short: "Replace the draft and notify the peer that you are typing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				st, err := c.Keystroke(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				if jsonOut {
					return outputJSON(st)
				}
				fmt.Printf("Draft for %s: %q\n", st.PeerID, st.Draft)
				return nil
			})
		},
	}
}

func sendCmd() *cobra.Command {
	var file, audio string
	cmd := &cobra.Command{
		Use:   "send [text]",
		Short: "Send the draft and any staged attachments",
		Long: "Stages --file and --audio when given, sets the draft from the arguments, " +
			"then sends audio, file and text in that order.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				if audio != "" {
					if err := stage(ctx, c.StageAudio, audio); err != nil {
						return err
					}
				}
				if file != "" {
					if err := stage(ctx, c.StageFile, file); err != nil {
						return err
					}
				}
				if len(args) > 0 {
					if _, err := c.Keystroke(ctx, strings.Join(args, " ")); err != nil {
						return err
					}
				}
				reply, err := c.Send(ctx)
				if err != nil {
					return err
				}
				if jsonOut {
					return outputJSON(reply)
				}
				printSent(reply.Messages)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "attach a file")
	cmd.Flags().StringVarP(&audio, "audio", "a", "", "attach an audio clip")
	return cmd
}

func uploadCmd() *cobra.Command {
	var qr bool
	cmd := &cobra.Command{
		Use:   "upload <path>",
		Short: "Send a file to the selected peer and print its URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				if err := stage(ctx, c.StageFile, args[0]); err != nil {
					return err
				}
				reply, err := c.Send(ctx)
				if err != nil {
					return err
				}
				var url string
				for _, m := range reply.Messages {
					if m.Attachment != nil {
						url = m.Attachment.URL
					}
				}
				if url == "" {
					return errors.New("daemon did not return an attachment")
				}
				if jsonOut {
					return outputJSON(reply)
				}
				fmt.Println(url)
				if qr {
					code, err := qrcode.New(url, qrcode.Medium)
					if err != nil {
						return fmt.Errorf("render qr code: %w", err)
					}
					fmt.Print(code.ToSmallString(false))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&qr, "qr", false, "also print the URL as a QR code")
	return cmd
}

func recordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a voice note with the daemon's recorder",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start recording",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				if err := c.BeginAudio(ctx); err != nil {
					return err
				}
				fmt.Println("Recording... run 'goalchatctl record stop' to finish")
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop recording and stage the clip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				p, err := c.EndAudio(ctx)
				if err != nil {
					return err
				}
				if jsonOut {
					return outputJSON(p)
				}
				fmt.Printf("Staged %s (%s)\n", p.Name, humanize.Bytes(uint64(max(p.Size, 0))))
				return nil
			})
		},
	})
	return cmd
}

func discardCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "discard <file|audio>",
		Short:     "Drop a staged attachment",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(composer.SlotFile), string(composer.SlotAudio)},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				st, err := c.Discard(ctx, composer.Slot(args[0]))
				if err != nil {
					return err
				}
				if jsonOut {
					return outputJSON(st)
				}
				fmt.Printf("Discarded %s\n", args[0])
				return nil
			})
		},
	}
}

func stage(ctx context.Context, fn func(context.Context, string) (*composer.Pending, error), path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	p, err := fn(ctx, abs)
	if err != nil {
		return err
	}
	if !jsonOut {
		fmt.Printf("Staged %s %s (%s, %s)\n", p.Kind, p.Name, p.MimeType, humanize.Bytes(uint64(max(p.Size, 0))))
	}
	return nil
}

func printSent(msgs []wire.Message) {
	for _, m := range msgs {
		switch {
		case m.Attachment != nil:
			fmt.Printf("Sent %s %s [%s]\n", m.Type, m.Attachment.URL, m.Delivery)
		default:
			fmt.Printf("Sent %q [%s]\n", m.Text, m.Delivery)
		}
	}
}
