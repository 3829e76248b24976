package api

import (
	"context"
	"errors"
	"os"

	"github.com/czeful/goalchat/internal/auth"
	"github.com/czeful/goalchat/internal/chat"
	"github.com/czeful/goalchat/internal/composer"
	"github.com/czeful/goalchat/internal/conversation"
	"github.com/czeful/goalchat/internal/rest"
	"github.com/czeful/goalchat/internal/transport"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// toStatus maps domain errors onto gRPC codes. The message keeps the full
// wrapped error text.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	return grpcstatus.Error(codeOf(err), err.Error())
}

func codeOf(err error) codes.Code {
	var se *rest.StatusError
	switch {
	case errors.Is(err, composer.ErrNoPeer),
		errors.Is(err, composer.ErrNothingToSend),
		errors.Is(err, composer.ErrRecording),
		errors.Is(err, composer.ErrNotRecording):
		return codes.FailedPrecondition
	case errors.Is(err, chat.ErrEmptyPeer),
		errors.Is(err, auth.ErrNoUserID):
		return codes.InvalidArgument
	case errors.Is(err, composer.ErrSendInProgress),
		errors.Is(err, conversation.ErrStale):
		return codes.Aborted
	case errors.Is(err, rest.ErrUnauthorized),
		errors.Is(err, auth.ErrNoToken),
		errors.Is(err, transport.ErrAuthRejected):
		return codes.Unauthenticated
	case errors.Is(err, rest.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, os.ErrNotExist):
		return codes.NotFound
	case errors.Is(err, transport.ErrClosed),
		errors.Is(err, transport.ErrNotOpen),
		errors.As(err, &se):
		return codes.Unavailable
	}
	return codes.Internal
}
