// Package client talks to a running goalchatd over its Unix socket.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/czeful/goalchat/internal/api"
	"github.com/czeful/goalchat/internal/composer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
)

// Client wraps the gRPC connection to the daemon.
type Client struct {
	conn *grpc.ClientConn
}

// New dials the daemon's Unix domain socket. The connection is lazy; the
// first call fails with codes.Unavailable when no daemon is listening.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(api.CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Status(ctx context.Context) (*api.SessionStatus, error) {
	out := new(api.SessionStatus)
	return out, c.conn.Invoke(ctx, api.SessionStatusMethod, &emptypb.Empty{}, out)
}

func (c *Client) Login(ctx context.Context, token string) (*api.Identity, error) {
	out := new(api.Identity)
	return out, c.conn.Invoke(ctx, api.SessionLoginMethod, &api.LoginRequest{Token: token}, out)
}

func (c *Client) Logout(ctx context.Context) error {
	return c.conn.Invoke(ctx, api.SessionLogoutMethod, &emptypb.Empty{}, &emptypb.Empty{})
}

func (c *Client) WhoAmI(ctx context.Context) (*api.Identity, error) {
	out := new(api.Identity)
	return out, c.conn.Invoke(ctx, api.SessionWhoAmIMethod, &emptypb.Empty{}, out)
}

func (c *Client) Select(ctx context.Context, peerID string) (*api.ChatState, error) {
	out := new(api.ChatState)
	return out, c.conn.Invoke(ctx, api.ChatSelectMethod, &api.SelectRequest{PeerID: peerID}, out)
}

func (c *Client) Reload(ctx context.Context) (*api.ChatState, error) {
	out := new(api.ChatState)
	return out, c.conn.Invoke(ctx, api.ChatReloadMethod, &emptypb.Empty{}, out)
}

func (c *Client) Snapshot(ctx context.Context) (*api.ChatState, error) {
	out := new(api.ChatState)
	return out, c.conn.Invoke(ctx, api.ChatSnapshotMethod, &emptypb.Empty{}, out)
}

func (c *Client) Friends(ctx context.Context, refresh bool) (*api.FriendList, error) {
	out := new(api.FriendList)
	return out, c.conn.Invoke(ctx, api.ChatFriendsMethod, &api.FriendsRequest{Refresh: refresh}, out)
}

func (c *Client) Keystroke(ctx context.Context, text string) (*composer.State, error) {
	out := new(composer.State)
	return out, c.conn.Invoke(ctx, api.ComposerKeystrokeMethod, &api.KeystrokeRequest{Text: text}, out)
}

func (c *Client) StageFile(ctx context.Context, path string) (*composer.Pending, error) {
	out := new(composer.Pending)
	return out, c.conn.Invoke(ctx, api.ComposerStageFileMethod, &api.PathRequest{Path: path}, out)
}

func (c *Client) StageAudio(ctx context.Context, path string) (*composer.Pending, error) {
	out := new(composer.Pending)
	return out, c.conn.Invoke(ctx, api.ComposerStageAudioMethod, &api.PathRequest{Path: path}, out)
}

func (c *Client) BeginAudio(ctx context.Context) error {
	return c.conn.Invoke(ctx, api.ComposerBeginAudioMethod, &emptypb.Empty{}, &emptypb.Empty{})
}

func (c *Client) EndAudio(ctx context.Context) (*composer.Pending, error) {
	out := new(composer.Pending)
	return out, c.conn.Invoke(ctx, api.ComposerEndAudioMethod, &emptypb.Empty{}, out)
}

func (c *Client) Discard(ctx context.Context, slot composer.Slot) (*composer.State, error) {
	out := new(composer.State)
	return out, c.conn.Invoke(ctx, api.ComposerDiscardMethod, &api.DiscardRequest{Slot: slot}, out)
}

func (c *Client) Send(ctx context.Context) (*api.SendReply, error) {
	out := new(api.SendReply)
	return out, c.conn.Invoke(ctx, api.ComposerSendMethod, &emptypb.Empty{}, out)
}

// Watch streams daemon events whose kind starts with one of prefixes (all
// events when none are given) until ctx ends or the stream fails. fn runs on
// the calling goroutine.
func (c *Client) Watch(ctx context.Context, prefixes []string, fn func(*api.Event)) error {
	stream, err := c.conn.NewStream(ctx, api.EventsWatchStream, api.EventsWatchMethod)
	if err != nil {
		return fmt.Errorf("open watch stream: %w", err)
	}
	if err := stream.SendMsg(&api.WatchRequest{Prefixes: prefixes}); err != nil {
		return fmt.Errorf("send watch request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("close watch request: %w", err)
	}
	for {
		evt := new(api.Event)
		if err := stream.RecvMsg(evt); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		fn(evt)
	}
}
