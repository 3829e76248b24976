package api

import (
	"encoding/json"
	"sync"

	"github.com/czeful/goalchat/internal/bus"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventsService streams bus events to clients.
type EventsService struct {
	bus         *bus.Bus
	sessionName string
	logger      *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewEventsService creates a new events service.
func NewEventsService(b *bus.Bus, sessionName string, logger *zap.Logger) *EventsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventsService{bus: b, sessionName: sessionName, logger: logger, done: make(chan struct{})}
}

func (s *EventsService) Watch(req *WatchRequest, stream EventsWatchServer) error {
	ch, unsub := s.bus.Subscribe(256, req.Prefixes...)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			payload, err := json.Marshal(evt.Payload)
			if err != nil {
				s.logger.Warn("unencodable event payload", zap.String("kind", evt.Kind), zap.Error(err))
				payload = nil
			}
			if err := stream.Send(&Event{
				ID:         uuid.New().String(),
				Session:    s.sessionName,
				Kind:       evt.Kind,
				OccurredAt: evt.Timestamp,
				Payload:    payload,
			}); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		case <-s.done:
			return nil
		}
	}
}

// Close ends every open Watch stream so the server can stop gracefully.
func (s *EventsService) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}
