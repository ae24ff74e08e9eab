package phone

import (
	"context"

	"go.uber.org/zap"

	"github.com/dgnsrekt/sunshine-watchsync/internal/channel"
)

// Service feeds inbound channel messages to the Handler.
type Service struct {
	ch      channel.Channel
	handler *Handler
	logger  *zap.Logger
}

// NewService creates a Service feeding ch's messages to handler.
func NewService(ch channel.Channel, handler *Handler, logger *zap.Logger) *Service {
	return &Service{ch: ch, handler: handler, logger: logger}
}

// Run handles messages until ctx is done or the channel closes its inbox.
func (s *Service) Run(ctx context.Context) {
	msgs := s.ch.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if err := s.handler.OnSyncRequest(ctx, msg); err != nil {
				s.logger.Error("sync request failed",
					zap.String("from", string(msg.From)),
					zap.Error(err),
				)
			}
		}
	}
}
