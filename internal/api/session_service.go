package api

import (
	"context"
	"time"

	"github.com/czeful/goalchat/internal/auth"
	"github.com/czeful/goalchat/internal/status"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
)

// Account owns the daemon's credential.
type Account interface {
	Credential() auth.Credential
	// Login stores token, resolves the identity and reconnects.
	Login(ctx context.Context, token string) (auth.Credential, error)
	Logout() error
}

// Depther reports the number of queued outbound messages.
type Depther interface {
	Depth() int
}

// SessionService implements the Session service.
type SessionService struct {
	sessionName string
	startedAt   time.Time
	machine     *status.Machine
	account     Account
	outbox      Depther
}

// NewSessionService creates a new session service. outbox may be nil.
func NewSessionService(sessionName string, machine *status.Machine, account Account, outbox Depther) *SessionService {
	return &SessionService{
		sessionName: sessionName,
		startedAt:   time.Now(),
		machine:     machine,
		account:     account,
		outbox:      outbox,
	}
}

func (s *SessionService) Status(_ context.Context, _ *emptypb.Empty) (*SessionStatus, error) {
	state, since, attempts := s.machine.Snapshot()
	resp := &SessionStatus{
		Session:  s.sessionName,
		State:    state,
		Since:    since,
		Attempts: attempts,
		Banner:   status.Banner(state),
		UptimeMs: time.Since(s.startedAt).Milliseconds(),
	}
	if s.account != nil {
		cred := s.account.Credential()
		resp.LoggedIn = cred.Token != ""
		resp.UserID = cred.UserID
		resp.Username = cred.Username
	}
	if s.outbox != nil {
		resp.OutboxDepth = s.outbox.Depth()
	}
	return resp, nil
}

func (s *SessionService) Login(ctx context.Context, req *LoginRequest) (*Identity, error) {
	if req.Token == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "token is required")
	}
	cred, err := s.account.Login(ctx, req.Token)
	if err != nil {
		return nil, toStatus(err)
	}
	return &Identity{UserID: cred.UserID, Username: cred.Username}, nil
}

func (s *SessionService) Logout(_ context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.account.Logout(); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *SessionService) WhoAmI(_ context.Context, _ *emptypb.Empty) (*Identity, error) {
	cred := s.account.Credential()
	if cred.Token == "" {
		return nil, grpcstatus.Error(codes.Unauthenticated, "not logged in")
	}
	return &Identity{UserID: cred.UserID, Username: cred.Username}, nil
}
