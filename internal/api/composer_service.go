package api

import (
	"context"
	"path/filepath"

	"github.com/czeful/goalchat/internal/chat"
	"github.com/czeful/goalchat/internal/composer"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
)

// ComposerService implements the Composer service. Paths are resolved on
// the daemon's host, so clients must send absolute paths.
type ComposerService struct {
	view *chat.View
}

// NewComposerService creates a new composer service.
func NewComposerService(view *chat.View) *ComposerService {
	return &ComposerService{view: view}
}

func (s *ComposerService) Keystroke(_ context.Context, req *KeystrokeRequest) (*composer.State, error) {
	if err := s.view.Keystroke(req.Text); err != nil {
		return nil, toStatus(err)
	}
	st := s.view.Snapshot().Composer
	return &st, nil
}

func (s *ComposerService) StageFile(_ context.Context, req *PathRequest) (*composer.Pending, error) {
	if !filepath.IsAbs(req.Path) {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "path %q is not absolute", req.Path)
	}
	p, err := s.view.StageFile(req.Path)
	if err != nil {
		return nil, toStatus(err)
	}
	return &p, nil
}

func (s *ComposerService) StageAudio(_ context.Context, req *PathRequest) (*composer.Pending, error) {
	if !filepath.IsAbs(req.Path) {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "path %q is not absolute", req.Path)
	}
	p, err := s.view.StageAudio(req.Path)
	if err != nil {
		return nil, toStatus(err)
	}
	return &p, nil
}

func (s *ComposerService) BeginAudio(_ context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.view.BeginAudio(); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *ComposerService) EndAudio(_ context.Context, _ *emptypb.Empty) (*composer.Pending, error) {
	p, err := s.view.EndAudio()
	if err != nil {
		return nil, toStatus(err)
	}
	return &p, nil
}

func (s *ComposerService) Discard(_ context.Context, req *DiscardRequest) (*composer.State, error) {
	switch req.Slot {
	case composer.SlotFile, composer.SlotAudio:
	default:
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "unknown slot %q", req.Slot)
	}
	s.view.Discard(req.Slot)
	st := s.view.Snapshot().Composer
	return &st, nil
}

func (s *ComposerService) Send(ctx context.Context, _ *emptypb.Empty) (*SendReply, error) {
	msgs, err := s.view.Send(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SendReply{Messages: msgs}, nil
}
